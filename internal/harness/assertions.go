package harness

import (
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/marty/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string            // Assertion type for categorization
	Expected string            // Human-readable expected outcome
	Actual   string            // Human-readable actual outcome
	Diff     string            // go-cmp diff (-expected +actual), if any
	Traces   []*ir.ActionTrace // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if e.Diff != "" {
		fmt.Fprintf(&buf, "  Diff (-expected +actual):\n%s", e.Diff)
	}

	if len(e.Traces) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, t := range e.Traces {
			fmt.Fprintf(&buf, "  [%d] %s %s", t.Seq, t.Type, formatValue(t.Arguments))
			if t.ParentHandler != "" {
				fmt.Fprintf(&buf, " (from %s)", t.ParentHandler)
			}
			buf.WriteString("\n")
		}
	}

	return buf.String()
}

func formatValue(v ir.Value) string {
	data, err := ir.MarshalValue(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// assertTraceContains checks that a record matches the action type and
// every optional constraint of the assertion.
func assertTraceContains(traces []*ir.ActionTrace, assertion Assertion) error {
	var wantArgs ir.Value
	if assertion.Args != nil {
		converted, err := ir.FromGo(assertion.Args)
		if err != nil {
			return fmt.Errorf("trace_contains: args: %w", err)
		}
		wantArgs = converted
	}

	for _, t := range traces {
		if t.Type != assertion.Action {
			continue
		}
		if wantArgs != nil && !ir.Equal(wantArgs, t.Arguments) {
			continue
		}
		if assertion.Source != "" && string(t.Source) != assertion.Source {
			continue
		}
		if assertion.Creator != "" && t.Creator.Name+"."+t.Creator.Action != assertion.Creator {
			continue
		}
		if assertion.Parent != "" && t.ParentHandler != assertion.Parent {
			continue
		}
		return nil
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describeContains(assertion),
		Actual:   "not found in trace",
		Traces:   traces,
	}
}

func describeContains(a Assertion) string {
	var parts []string
	parts = append(parts, "action "+a.Action)
	if a.Args != nil {
		parts = append(parts, fmt.Sprintf("args %v", a.Args))
	}
	if a.Source != "" {
		parts = append(parts, "source "+a.Source)
	}
	if a.Creator != "" {
		parts = append(parts, "creator "+a.Creator)
	}
	if a.Parent != "" {
		parts = append(parts, "parent "+a.Parent)
	}
	return strings.Join(parts, ", ")
}

// assertTraceOrder checks that actions first appear in the given order.
// Actions don't need to be consecutive.
func assertTraceOrder(traces []*ir.ActionTrace, assertion Assertion) error {
	positions := make(map[string]int)
	for i, t := range traces {
		if _, seen := positions[t.Type]; !seen {
			positions[t.Type] = i + 1
		}
	}

	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Traces:   traces,
			}
		}
	}

	for i := 1; i < len(assertion.Actions); i++ {
		prev := assertion.Actions[i-1]
		curr := assertion.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Traces: traces,
			}
		}
	}

	return nil
}

// assertTraceCount checks the action was recorded exactly Count times.
func assertTraceCount(traces []*ir.ActionTrace, assertion Assertion) error {
	count := 0
	for _, t := range traces {
		if t.Type == assertion.Action {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Traces:   traces,
		}
	}
	return nil
}

// assertHandlerError checks that a matching handler step captured an error.
func assertHandlerError(traces []*ir.ActionTrace, assertion Assertion) error {
	var captured []string
	for _, t := range traces {
		if assertion.Action != "" && t.Type != assertion.Action {
			continue
		}
		for _, h := range t.Handlers {
			if h.Store != assertion.Store || h.Error == nil {
				continue
			}
			if assertion.Handler != "" && h.Name != assertion.Handler {
				continue
			}
			if strings.Contains(h.Error.Message, assertion.Message) {
				return nil
			}
			captured = append(captured, h.Error.Message)
		}
	}

	expected := "error in store " + assertion.Store
	if assertion.Handler != "" {
		expected += " handler " + assertion.Handler
	}
	if assertion.Message != "" {
		expected += fmt.Sprintf(" containing %q", assertion.Message)
	}
	actual := "no error captured"
	if len(captured) > 0 {
		actual = fmt.Sprintf("captured %q", captured)
	}
	return &AssertionError{
		Type:     AssertHandlerError,
		Expected: expected,
		Actual:   actual,
		Traces:   traces,
	}
}

// assertViewCount checks the number of component re-renders.
func assertViewCount(views map[string]ViewResult, assertion Assertion) error {
	v, ok := views[assertion.View]
	if !ok {
		return &AssertionError{
			Type:     AssertViewCount,
			Expected: fmt.Sprintf("view %s", assertion.View),
			Actual:   "view not found",
		}
	}
	if v.Renders != assertion.Count {
		return &AssertionError{
			Type:     AssertViewCount,
			Expected: fmt.Sprintf("%d renders of %s", assertion.Count, assertion.View),
			Actual:   fmt.Sprintf("%d renders", v.Renders),
		}
	}
	return nil
}

// assertStateEquals compares an expected YAML value with an actual state
// and reports a go-cmp diff on mismatch.
func assertStateEquals(kind, name string, expected any, actual ir.Value, found bool) error {
	if !found {
		return &AssertionError{
			Type:     kind,
			Expected: name,
			Actual:   "not found",
		}
	}

	want, err := ir.FromGo(expected)
	if err != nil {
		return fmt.Errorf("%s: expect: %w", kind, err)
	}

	if ir.Equal(want, actual) {
		return nil
	}
	return &AssertionError{
		Type:     kind,
		Expected: fmt.Sprintf("%s = %s", name, formatValue(want)),
		Actual:   fmt.Sprintf("%s = %s", name, formatValue(actual)),
		Diff:     cmp.Diff(ir.ToGo(want), ir.ToGo(actual)),
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Traces, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Traces, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Traces, assertion)
		case AssertHandlerError:
			err = assertHandlerError(result.Traces, assertion)
		case AssertViewCount:
			err = assertViewCount(result.Views, assertion)
		case AssertFinalState:
			state, ok := result.States[assertion.Store]
			err = assertStateEquals(AssertFinalState, assertion.Store, assertion.Expect, state, ok)
		case AssertViewState:
			v, ok := result.Views[assertion.View]
			err = assertStateEquals(AssertViewState, assertion.View, assertion.Expect, v.State, ok)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
