package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/marty/internal/diagnostics"
	"github.com/roach88/marty/internal/harness"
	"github.com/roach88/marty/internal/ir"
	"github.com/roach88/marty/internal/tracelog"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Args        string
	AppName     string
	Database    string
	Nested      string
	Diagnostics bool
}

// InvokeResult is the JSON payload of the invoke command.
type InvokeResult struct {
	Call   string            `json:"call"`
	Result ir.Value          `json:"result"`
	Error  string            `json:"error,omitempty"`
	Traces []*ir.ActionTrace `json:"traces"`
	States ir.Object         `json:"states"`
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <cue-path> <Creators.method>",
		Short: "Call one action creator method on a fresh app",
		Long: `Build an app, call one action creator method with the given
arguments and print the resulting records and store states.

With diagnostics on (the default) handler errors are captured into the
records and the call succeeds. With --diagnostics=false the first
handler error aborts the dispatch and is reported.

Example:
  marty invoke ./testdata/apps/todos.cue TodoActions.add --args '["milk"]'
  marty invoke ./testdata/apps/todos.cue TodoActions.explode --diagnostics=false`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return invokeAction(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Args, "args", "[]", "method arguments as a JSON array")
	cmd.Flags().StringVar(&opts.AppName, "app", "", "app to build when the path declares several")
	cmd.Flags().StringVar(&opts.Database, "db", "", "append records to this SQLite trace log")
	cmd.Flags().StringVar(&opts.Nested, "nested", "", "nested action policy (sibling|suppressed)")
	cmd.Flags().BoolVar(&opts.Diagnostics, "diagnostics", true, "record diagnostics and capture handler errors")

	return cmd
}

func invokeAction(opts *InvokeOptions, path, call string, cmd *cobra.Command) error {
	creatorName, method, ok := harness.FlowStep{Call: call}.Split()
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("call must be \"Creators.method\", got %q", call))
	}

	args, err := parseArgs(opts.Args)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --args", err)
	}

	policy, err := diagnostics.ParseNestedPolicy(opts.Nested)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --nested", err)
	}

	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	app, err := buildApp(path, opts.AppName, logger,
		diagnostics.WithEnabled(opts.Diagnostics),
		diagnostics.WithNestedPolicy(policy),
	)
	if err != nil {
		return err
	}
	defer app.Dispose()

	rec := app.NewRecorder()
	defer rec.Dispose()
	if opts.Database != "" {
		tl, err := tracelog.Open(opts.Database, tracelog.WithLogger(logger))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open trace log", err)
		}
		defer tl.Close()
		unsubscribe := app.Diagnostics().Subscribe(tl)
		defer unsubscribe()
	}

	out, callErr := app.Call(creatorName, method, args...)
	if out == nil {
		out = ir.Null{}
	}
	result := InvokeResult{
		Call:   call,
		Result: out,
		Traces: rec.All(),
		States: app.States(),
	}
	if callErr != nil {
		result.Error = callErr.Error()
	}

	if opts.Format == "json" {
		var traceID string
		if len(result.Traces) > 0 {
			traceID = result.Traces[0].ID
		}
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		if err := formatter.SuccessTraced(result, traceID); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s(%s) → %s\n\n", call, opts.Args, formatValue(result.Result))
		for _, t := range result.Traces {
			printTrace(w, t)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== States ===")
		for _, name := range result.States.SortedKeys() {
			fmt.Fprintf(w, "  %s: %s\n", name, formatValue(result.States[name]))
		}
	}

	if callErr != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("%s failed", call), callErr)
	}
	return nil
}

// parseArgs decodes a JSON array into IR values. Non-integral numbers
// are rejected.
func parseArgs(raw string) ([]ir.Value, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var decoded []any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("expected a JSON array: %w", err)
	}
	args := make([]ir.Value, len(decoded))
	for i, a := range decoded {
		v, err := ir.FromGo(a)
		if err != nil {
			return nil, fmt.Errorf("args[%d]: %w", i, err)
		}
		args[i] = v
	}
	return args, nil
}
