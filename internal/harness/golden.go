package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/marty/internal/ir"
)

// TraceSnapshot captures the records and final store states of a scenario
// execution. It serializes to canonical JSON for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string
	Traces       []*ir.ActionTrace
	States       ir.Object
}

// Value returns the snapshot's canonical structure: each record's ToJSON
// form plus its id, seq and, for nested records, parent links.
func (s *TraceSnapshot) Value() ir.Object {
	traces := make(ir.Array, 0, len(s.Traces))
	for _, t := range s.Traces {
		entry := t.ToJSON()
		entry["id"] = ir.String(t.ID)
		entry["seq"] = ir.Int(t.Seq)
		if t.ParentID != "" {
			entry["parent_id"] = ir.String(t.ParentID)
			entry["parent_handler"] = ir.String(t.ParentHandler)
		}
		traces = append(traces, entry)
	}

	states := s.States
	if states == nil {
		states = ir.Object{}
	}
	return ir.Object{
		"scenario": ir.String(s.ScenarioName),
		"states":   states,
		"traces":   traces,
	}
}

// MarshalCanonical serializes the snapshot as canonical JSON.
func (s *TraceSnapshot) MarshalCanonical() ([]byte, error) {
	return ir.MarshalCanonical(s.Value())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can inspect it further. Scenario failures
// (Pass=false) are not test failures here; golden mismatches are.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against the golden file named
// scenarioName without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Traces:       result.Traces,
		States:       result.States,
	}
	data, err := snapshot.MarshalCanonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
