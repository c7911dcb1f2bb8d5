package harness

import "github.com/roach88/marty/internal/ir"

// StepResult is the outcome of one flow step.
type StepResult struct {
	Call   string   `json:"call"`
	Result ir.Value `json:"result,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// ViewResult is the final condition of a view's headless component.
type ViewResult struct {
	Renders int       `json:"renders"`
	State   ir.Object `json:"state"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every flow step behaved as expected and every
	// assertion held.
	Pass bool `json:"pass"`

	// Traces holds every recorded action in seq order.
	Traces []*ir.ActionTrace `json:"traces"`

	// Steps holds one entry per flow step.
	Steps []StepResult `json:"steps"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// States maps store name to final state.
	States ir.Object `json:"states"`

	// Views maps view name to its component's final condition.
	Views map[string]ViewResult `json:"views"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Traces: []*ir.ActionTrace{},
		Steps:  []StepResult{},
		Errors: []string{},
		States: ir.Object{},
		Views:  make(map[string]ViewResult),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
