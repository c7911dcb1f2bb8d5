package dispatcher

import "github.com/roach88/marty/internal/ir"

// HandlerInfo describes one handler step.
type HandlerInfo struct {
	Store   string
	Handler string
	Action  ir.Action
	Depth   int

	// Snapshot returns the store's live state. Implementations clone it.
	Snapshot func() ir.Value
}

// Hooks observes a dispatch. The dispatcher calls ActionStarted once per
// action, Handler once per matching registration and ActionCompleted once
// the last handler returned, even on failure.
type Hooks interface {
	ActionStarted(action ir.Action, creator ir.Creator, depth int)

	// Handler runs the step. The returned error aborts the dispatch; an
	// implementation that isolates failures captures run's error and
	// returns nil.
	Handler(info HandlerInfo, run func() error) error

	ActionCompleted(action ir.Action, depth int)
}

// NopHooks records nothing and propagates handler errors.
type NopHooks struct{}

func (NopHooks) ActionStarted(ir.Action, ir.Creator, int) {}

func (NopHooks) Handler(_ HandlerInfo, run func() error) error { return run() }

func (NopHooks) ActionCompleted(ir.Action, int) {}

var _ Hooks = NopHooks{}
