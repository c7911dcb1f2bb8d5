package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/marty/internal/ir"
	"github.com/roach88/marty/internal/tracelog"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	ID       string // show one record and its nested records
	Type     string
	Store    string
	View     string
	Errors   bool
	TopLevel bool
	Limit    int
	Stats    bool
}

// TraceEntry is one stored record with its log bookkeeping.
type TraceEntry struct {
	ID            string          `json:"id"`
	Seq           int64           `json:"seq"`
	ParentID      string          `json:"parent_id,omitempty"`
	ParentHandler string          `json:"parent_handler,omitempty"`
	Record        *ir.ActionTrace `json:"record"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Records []TraceEntry           `json:"records"`
	Stats   []tracelog.HandlerStat `json:"stats,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Query a trace log",
		Long: `Query the diagnostic records stored in a SQLite trace log.

Without --id, lists records in seq order, narrowed by the filter flags.
With --id, shows that record followed by the records dispatched from
inside its handlers. --stats appends per-handler run and error counts.

Examples:
  marty trace --db ./marty.db
  marty trace --db ./marty.db --type ADD_TODO --top-level
  marty trace --db ./marty.db --store TodoStore --errors
  marty trace --db ./marty.db --id 0190a1b2-... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite trace log (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.ID, "id", "", "show one record and its nested records")
	cmd.Flags().StringVar(&opts.Type, "type", "", "filter by action type")
	cmd.Flags().StringVar(&opts.Store, "store", "", "filter to records where a handler of this store ran")
	cmd.Flags().StringVar(&opts.View, "view", "", "filter to records where this view recomputed")
	cmd.Flags().BoolVar(&opts.Errors, "errors", false, "only records with captured errors")
	cmd.Flags().BoolVar(&opts.TopLevel, "top-level", false, "only records not dispatched from a handler")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of records")
	cmd.Flags().BoolVar(&opts.Stats, "stats", false, "include per-handler statistics")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	tl, err := tracelog.Open(opts.Database, tracelog.WithLogger(logger))
	if err != nil {
		return traceLogError(opts, cmd, ErrCodeDatabase, "failed to open trace log", err)
	}
	defer tl.Close()

	traces, err := queryTraces(ctx, tl, opts)
	if err != nil {
		if errors.Is(err, tracelog.ErrNotFound) {
			return traceLogError(opts, cmd, ErrCodeNotFound, "record not found", err)
		}
		return traceLogError(opts, cmd, ErrCodeDatabase, "failed to query trace log", err)
	}

	result := TraceResult{Records: make([]TraceEntry, 0, len(traces))}
	for _, t := range traces {
		result.Records = append(result.Records, TraceEntry{
			ID:            t.ID,
			Seq:           t.Seq,
			ParentID:      t.ParentID,
			ParentHandler: t.ParentHandler,
			Record:        t,
		})
	}

	if opts.Stats {
		result.Stats, err = tl.HandlerStats(ctx)
		if err != nil {
			return traceLogError(opts, cmd, ErrCodeDatabase, "failed to read handler stats", err)
		}
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd, result, traces)
}

func queryTraces(ctx context.Context, tl *tracelog.Log, opts *TraceOptions) ([]*ir.ActionTrace, error) {
	if opts.ID == "" {
		return tl.List(ctx, tracelog.Filter{
			Type:       opts.Type,
			Store:      opts.Store,
			View:       opts.View,
			ErrorsOnly: opts.Errors,
			TopLevel:   opts.TopLevel,
			Limit:      opts.Limit,
		})
	}

	root, err := tl.Read(ctx, opts.ID)
	if err != nil {
		return nil, err
	}
	traces := []*ir.ActionTrace{root}
	for i := 0; i < len(traces); i++ {
		children, err := tl.Children(ctx, traces[i].ID)
		if err != nil {
			return nil, err
		}
		traces = append(traces, children...)
	}
	return traces, nil
}

// traceLogError reports a trace log failure in the JSON envelope when
// asked to and returns the matching command error.
func traceLogError(opts *TraceOptions, cmd *cobra.Command, code, message string, err error) error {
	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		_ = formatter.Error(code, fmt.Sprintf("%s: %v", message, err), nil)
	}
	return WrapExitError(ExitCommandError, message, err)
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputTraceText outputs the trace result as text.
func outputTraceText(cmd *cobra.Command, result TraceResult, traces []*ir.ActionTrace) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "=== Records ===")
	if len(traces) == 0 {
		fmt.Fprintln(w, "  (no records)")
	}
	for _, t := range traces {
		printTrace(w, t)
	}

	if len(result.Stats) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Handlers ===")
		for _, s := range result.Stats {
			fmt.Fprintf(w, "  %s.%s: %d run(s), %d error(s)\n", s.Store, s.Name, s.Runs, s.Errors)
		}
	}

	return nil
}

// printTrace writes one record: a header line, then a line per handler
// step and per view recompute.
func printTrace(w io.Writer, t *ir.ActionTrace) {
	fmt.Fprintf(w, "[%d] %s %s %s", t.Seq, t.Type, t.Source, formatValue(t.Arguments))
	if !t.Creator.IsZero() {
		fmt.Fprintf(w, " via %s.%s", t.Creator.Name, t.Creator.Action)
	}
	if t.ParentHandler != "" {
		fmt.Fprintf(w, " (from %s)", t.ParentHandler)
	}
	fmt.Fprintln(w)

	for _, h := range t.Handlers {
		fmt.Fprintf(w, "  %s.%s %s → %s", h.Store, h.Name, formatValue(h.State.Before), formatValue(h.State.After))
		if h.Error != nil {
			fmt.Fprintf(w, " ✗ %s: %s", h.Error.Name, h.Error.Message)
		}
		fmt.Fprintln(w)
		for _, v := range h.Views {
			fmt.Fprintf(w, "    view %s", v.Name)
			if v.Error != nil {
				fmt.Fprintf(w, " ✗ %s: %s", v.Error.Name, v.Error.Message)
			}
			fmt.Fprintln(w)
		}
	}
}

// formatValue renders a value as compact JSON with sorted keys.
func formatValue(v ir.Value) string {
	if v == nil {
		return "null"
	}
	data, err := ir.MarshalValue(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(data)
}
