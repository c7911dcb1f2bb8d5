package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/marty/internal/diagnostics"
)

// Scenario defines a scenario test: an application, a flow of creator
// calls and assertions over the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// App is the CUE file or directory declaring the application.
	// Relative paths are resolved against the scenario file.
	App string `yaml:"app"`

	// AppName selects one app when App declares several.
	AppName string `yaml:"app_name,omitempty"`

	// Diagnostics enables the tracer. Defaults to true; when false handler
	// errors propagate to the caller and nothing is recorded.
	Diagnostics *bool `yaml:"diagnostics,omitempty"`

	// Nested is the nested dispatch policy: "sibling" (default) or
	// "suppressed".
	Nested string `yaml:"nested,omitempty"`

	// MaxDepth overrides the dispatcher's re-entrant depth limit.
	MaxDepth int `yaml:"max_depth,omitempty"`

	// Flow is the sequence of creator calls.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the traces, states and views after the flow.
	Assertions []Assertion `yaml:"assertions"`
}

// DiagnosticsEnabled reports whether the scenario runs with tracing on.
func (s *Scenario) DiagnosticsEnabled() bool {
	return s.Diagnostics == nil || *s.Diagnostics
}

// FlowStep is one creator method call.
type FlowStep struct {
	// Call is "CreatorsName.method".
	Call string `yaml:"call"`

	// Args are converted to ir values; fractional numbers are rejected.
	Args []any `yaml:"args,omitempty"`

	// ExpectError, when set, requires the call to fail with an error whose
	// message contains it.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Split returns the creator and method names of the call.
func (f FlowStep) Split() (creatorName, method string, ok bool) {
	i := strings.LastIndex(f.Call, ".")
	if i <= 0 || i == len(f.Call)-1 {
		return "", "", false
	}
	return f.Call[:i], f.Call[i+1:], true
}

// Assertion validates traces, states or views.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Action is the action type (trace_contains, trace_count, handler_error).
	Action string `yaml:"action,omitempty"`

	// Args are the exact expected action arguments (trace_contains).
	Args []any `yaml:"args,omitempty"`

	// Source is the expected action source (trace_contains).
	Source string `yaml:"source,omitempty"`

	// Creator is the expected attribution "Name.method" (trace_contains).
	Creator string `yaml:"creator,omitempty"`

	// Parent is the issuing handler "Store.handler" of a nested record
	// (trace_contains).
	Parent string `yaml:"parent,omitempty"`

	// Actions is the expected action order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Count is the expected number of records or renders
	// (trace_count, view_count).
	Count int `yaml:"count,omitempty"`

	// Store names a store (handler_error, final_state).
	Store string `yaml:"store,omitempty"`

	// Handler names a handler of Store (handler_error).
	Handler string `yaml:"handler,omitempty"`

	// Message must be contained in the captured error (handler_error).
	Message string `yaml:"message,omitempty"`

	// View names a view (view_count, view_state).
	View string `yaml:"view,omitempty"`

	// Expect is the expected state (final_state, view_state).
	Expect any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertHandlerError  = "handler_error"
	AssertViewCount     = "view_count"
	AssertFinalState    = "final_state"
	AssertViewState     = "view_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// A relative App path is resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.App != "" && !filepath.IsAbs(scenario.App) {
		scenario.App = filepath.Join(filepath.Dir(path), scenario.App)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if _, err := os.Stat(scenario.App); err != nil {
		return nil, fmt.Errorf("invalid scenario: app not found: %s", scenario.App)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
// It does not touch the filesystem.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.App == "" {
		return fmt.Errorf("app is required")
	}

	if _, err := diagnostics.ParseNestedPolicy(s.Nested); err != nil {
		return fmt.Errorf("nested: %w", err)
	}

	if s.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be non-negative")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if _, _, ok := step.Split(); !ok {
			return fmt.Errorf("flow[%d]: call must be \"Creators.method\", got %q", i, step.Call)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertHandlerError:
		if a.Store == "" {
			return fmt.Errorf("assertions[%d]: store is required for handler_error", index)
		}
	case AssertViewCount:
		if a.View == "" {
			return fmt.Errorf("assertions[%d]: view is required for view_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for view_count", index)
		}
	case AssertFinalState:
		if a.Store == "" {
			return fmt.Errorf("assertions[%d]: store is required for final_state", index)
		}
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertViewState:
		if a.View == "" {
			return fmt.Errorf("assertions[%d]: view is required for view_state", index)
		}
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for view_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
