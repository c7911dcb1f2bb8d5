package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/marty/internal/diagnostics"
	"github.com/roach88/marty/internal/marty"
	"github.com/roach88/marty/internal/tracelog"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	AppName  string
	Nested   string
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <cue-path>",
		Short: "Replay a trace log against an app and verify determinism",
		Long: `Re-dispatch every top-level action stored in a trace log against a
freshly built app and compare the records it produces with the stored
ones, nested records included. Records are compared by digest, so IDs
and sequence numbers may differ.

The log should hold one session recorded from the app's initial state.

Exit codes:
  0 - Every replayed action matched
  1 - At least one action diverged
  2 - Command error (app or trace log not found, etc.)

Examples:
  marty replay --db ./marty.db ./testdata/apps/todos.cue
  marty replay --db ./marty.db ./apps --app todos --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite trace log (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.AppName, "app", "", "app to build when the path declares several")
	cmd.Flags().StringVar(&opts.Nested, "nested", "", "nested action policy the log was recorded with (sibling|suppressed)")

	return cmd
}

func runReplay(opts *ReplayOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	policy, err := diagnostics.ParseNestedPolicy(opts.Nested)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --nested", err)
	}

	app, err := buildApp(path, opts.AppName, logger,
		diagnostics.WithEnabled(true),
		diagnostics.WithNestedPolicy(policy),
	)
	if err != nil {
		return err
	}
	defer app.Dispose()

	tl, err := tracelog.Open(opts.Database, tracelog.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open trace log", err)
	}
	defer tl.Close()

	rec := app.NewRecorder()
	defer rec.Dispose()

	result, err := tl.Replay(ctx, app.Dispatcher(), rec)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}

	if opts.Format == "json" {
		if err := outputReplayJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
	} else {
		outputReplayText(cmd.OutOrStdout(), result)
	}

	if len(result.Diverged) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d action(s) diverged", len(result.Diverged)))
	}
	return nil
}

// buildApp compiles the named app at path and builds it.
func buildApp(path, name string, logger *slog.Logger, tracerOpts ...diagnostics.Option) (*marty.App, error) {
	loadResult, loadErrors := LoadApps(path, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return nil, WrapExitError(ExitCommandError, "failed to load app", loadErrors[0])
	}
	spec, err := loadResult.App(name)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to select app", err)
	}

	app, err := marty.Build(spec,
		marty.WithLogger(logger),
		marty.WithDiagnostics(tracerOpts...),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build app", err)
	}
	return app, nil
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(w io.Writer, result tracelog.ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}
	if len(result.Diverged) > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_REPLAY_DIVERGED",
			Message: fmt.Sprintf("%d action(s) diverged", len(result.Diverged)),
		}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputReplayText outputs the replay result as text.
func outputReplayText(w io.Writer, result tracelog.ReplayResult) {
	if result.Replayed == 0 {
		fmt.Fprintln(w, "No actions found in trace log.")
		return
	}

	for _, d := range result.Diverged {
		fmt.Fprintf(w, "✗ [%d] %s: %s\n", d.Seq, d.Type, d.Reason)
	}

	fmt.Fprintf(w, "Replay Summary: %d replayed, %d matched, %d diverged\n",
		result.Replayed, result.Matched, len(result.Diverged))

	if len(result.Diverged) == 0 {
		fmt.Fprintln(w, "✓ Replay is deterministic")
	}
}
