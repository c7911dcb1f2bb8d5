package harness

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/marty/internal/compiler"
	"github.com/roach88/marty/internal/diagnostics"
	"github.com/roach88/marty/internal/ir"
	"github.com/roach88/marty/internal/marty"
	"github.com/roach88/marty/internal/testutil"
)

type runConfig struct {
	logger *slog.Logger
	sinks  []diagnostics.Sink
}

// Option configures a scenario run.
type Option func(*runConfig)

// WithLogger sets the logger for the app under test. Runs are silent by
// default.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = l
	}
}

// WithSink subscribes s to the app's tracer for the duration of the run,
// e.g. a tracelog.Log to persist the records.
func WithSink(s diagnostics.Sink) Option {
	return func(c *runConfig) {
		c.sinks = append(c.sinks, s)
	}
}

// Run loads the scenario's application and executes the scenario.
//
// The returned error is reserved for setup failures (load, compile, build,
// argument conversion). Failed flow steps and assertions are reported in
// Result.Errors with Pass=false.
func Run(s *Scenario, opts ...Option) (*Result, error) {
	if err := validateScenario(s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	spec, err := compiler.LoadApp(s.App, s.AppName)
	if err != nil {
		return nil, fmt.Errorf("load app: %w", err)
	}
	return RunApp(spec, s, opts...)
}

// RunApp executes the scenario against an already compiled application.
// s.App is ignored.
func RunApp(spec *ir.AppSpec, s *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	policy, err := diagnostics.ParseNestedPolicy(s.Nested)
	if err != nil {
		return nil, err
	}

	appOpts := []marty.Option{
		marty.WithLogger(cfg.logger),
		marty.WithDiagnostics(
			diagnostics.WithEnabled(s.DiagnosticsEnabled()),
			diagnostics.WithNestedPolicy(policy),
			diagnostics.WithSequencer(testutil.NewDeterministicClock()),
			diagnostics.WithIDGenerator(testutil.NewSequentialIDGenerator("trace")),
		),
	}
	if s.MaxDepth > 0 {
		appOpts = append(appOpts, marty.WithMaxDepth(s.MaxDepth))
	}

	app, err := marty.Build(spec, appOpts...)
	if err != nil {
		return nil, err
	}
	defer app.Dispose()

	rec := app.NewRecorder()
	for _, sink := range cfg.sinks {
		unsubscribe := app.Diagnostics().Subscribe(sink)
		defer unsubscribe()
	}

	result := NewResult()

	for i, step := range s.Flow {
		creatorName, method, ok := step.Split()
		if !ok {
			return nil, fmt.Errorf("flow[%d]: malformed call %q", i, step.Call)
		}
		args, err := convertArgs(step.Args)
		if err != nil {
			return nil, fmt.Errorf("flow[%d]: %w", i, err)
		}

		out, callErr := app.Call(creatorName, method, args...)
		sr := StepResult{Call: step.Call, Result: out}
		if callErr != nil {
			sr.Error = callErr.Error()
		}
		result.Steps = append(result.Steps, sr)

		switch {
		case step.ExpectError == "" && callErr != nil:
			result.AddError(fmt.Sprintf("flow[%d] %s: unexpected error: %v", i, step.Call, callErr))
		case step.ExpectError != "" && callErr == nil:
			result.AddError(fmt.Sprintf("flow[%d] %s: expected error containing %q, got none", i, step.Call, step.ExpectError))
		case step.ExpectError != "" && !strings.Contains(callErr.Error(), step.ExpectError):
			result.AddError(fmt.Sprintf("flow[%d] %s: expected error containing %q, got %v", i, step.Call, step.ExpectError, callErr))
		}
	}

	result.Traces = rec.All()
	result.States = app.States()
	for _, name := range app.ViewNames() {
		c, ok := app.Component(name)
		if !ok {
			continue
		}
		result.Views[name] = ViewResult{Renders: c.Renders(), State: c.Last()}
	}

	for _, msg := range EvaluateAssertions(result, s.Assertions) {
		result.AddError(msg)
	}

	cfg.logger.Debug("scenario complete",
		"scenario", s.Name,
		"pass", result.Pass,
		"traces", len(result.Traces),
	)
	return result, nil
}

// convertArgs converts YAML-decoded arguments into ir values.
func convertArgs(args []any) ([]ir.Value, error) {
	out := make([]ir.Value, 0, len(args))
	for i, a := range args {
		v, err := ir.FromGo(a)
		if err != nil {
			return nil, fmt.Errorf("args[%d]: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
