package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/marty/internal/harness"
	"github.com/roach88/marty/internal/ir"
	"github.com/roach88/marty/internal/tracelog"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string // optional trace log
}

// RunResult is the JSON payload of the run command.
type RunResult struct {
	Scenario string               `json:"scenario"`
	Pass     bool                 `json:"pass"`
	Errors   []string             `json:"errors,omitempty"`
	Steps    []harness.StepResult `json:"steps"`
	Records  int                  `json:"records"`
	Traces   []*ir.ActionTrace    `json:"traces"`
	States   ir.Object            `json:"states"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run one scenario and print its records",
		Long: `Run a scenario file: build its app, call each flow step through the
action creators and print the diagnostic records produced.

With --db every record is also appended to a SQLite trace log that
the trace and replay commands can read.

Example:
  marty run ./testdata/scenarios/todo_add.yaml
  marty run --db ./marty.db ./testdata/scenarios/todo_add.yaml --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite trace log")

	return cmd
}

// newLogger returns a text logger on w, at debug level when verbose.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger := newLogger(opts.RootOptions, formatter.GetErrWriter())

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	runOpts := []harness.Option{harness.WithLogger(logger)}
	if opts.Database != "" {
		logger.Debug("opening trace log", "path", opts.Database)
		tl, err := tracelog.Open(opts.Database, tracelog.WithLogger(logger))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open trace log", err)
		}
		defer func() {
			if closeErr := tl.Close(); closeErr != nil {
				logger.Error("error closing trace log", "error", closeErr)
			}
		}()
		runOpts = append(runOpts, harness.WithSink(tl))
	}

	result, err := harness.Run(scenario, runOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario setup failed", err)
	}

	out := RunResult{
		Scenario: scenario.Name,
		Pass:     result.Pass,
		Errors:   result.Errors,
		Steps:    result.Steps,
		Records:  len(result.Traces),
		Traces:   result.Traces,
		States:   result.States,
	}

	if formatter.Format == "json" {
		if err := formatter.Success(out); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		mark := "✓"
		if !result.Pass {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s: %d step(s), %d record(s)\n\n", mark, scenario.Name, len(result.Steps), len(result.Traces))
		for _, t := range result.Traces {
			printTrace(w, t)
		}
		for _, e := range result.Errors {
			fmt.Fprintf(w, "\n%s\n", e)
		}
		if opts.Database != "" {
			fmt.Fprintf(w, "\nRecords appended to %s\n", opts.Database)
		}
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}
