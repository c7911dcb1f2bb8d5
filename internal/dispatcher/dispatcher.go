package dispatcher

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/marty/internal/ir"
)

// Token identifies a registration. Tokens are never reused.
type Token int64

// HandlerFunc handles one action on behalf of a store.
type HandlerFunc func(action ir.Action) error

// Registration binds a store handler to one action type.
type Registration struct {
	Store      string
	Handler    string
	ActionType string

	// Snapshot returns the owning store's live state for diagnostics.
	Snapshot func() ir.Value

	Fn HandlerFunc
}

type entry struct {
	token Token
	reg   Registration
}

// Dispatcher routes actions to registered handlers.
//
// INVARIANTS:
//   - Handlers for one action type run in registration order
//   - Registrations made during a dispatch do not see the running action
//   - A handler unregistered during a dispatch is skipped if not yet run
type Dispatcher struct {
	mu      sync.Mutex
	entries []entry
	active  map[Token]bool
	next    Token

	hooks  Hooks
	guard  *depthGuard
	logger *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHooks installs observation hooks. Default: NopHooks.
func WithHooks(h Hooks) Option {
	return func(d *Dispatcher) {
		if h != nil {
			d.hooks = h
		}
	}
}

// WithMaxDepth sets the re-entrant dispatch limit.
//
// Default: 100 (DefaultMaxDepth).
// Use WithMaxDepth(2) for testing depth enforcement.
func WithMaxDepth(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.guard = newDepthGuard(n)
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		active: make(map[Token]bool),
		hooks:  NopHooks{},
		guard:  newDepthGuard(DefaultMaxDepth),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetHooks replaces the hooks. Used when the tracer is created after the
// dispatcher.
func (d *Dispatcher) SetHooks(h Hooks) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h == nil {
		h = NopHooks{}
	}
	d.hooks = h
}

// Register adds a handler and returns its token.
// Safe from any goroutine.
func (d *Dispatcher) Register(reg Registration) Token {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.next++
	tok := d.next
	d.entries = append(d.entries, entry{token: tok, reg: reg})
	d.active[tok] = true

	d.logger.Debug("handler registered",
		"token", tok,
		"store", reg.Store,
		"handler", reg.Handler,
		"action", reg.ActionType,
	)
	return tok
}

// Unregister removes a registration. Returns false if the token is
// unknown or already removed.
func (d *Dispatcher) Unregister(tok Token) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active[tok] {
		return false
	}
	delete(d.active, tok)
	for i, e := range d.entries {
		if e.token == tok {
			d.entries = append(d.entries[:i:i], d.entries[i+1:]...)
			break
		}
	}
	return true
}

// Handlers returns "Store.handler" for every registration of actionType,
// in dispatch order.
func (d *Dispatcher) Handlers(actionType string) []string {
	var out []string
	for _, e := range d.matching(actionType) {
		out = append(out, e.reg.Store+"."+e.reg.Handler)
	}
	return out
}

// Depth returns the current nesting depth. Zero outside a dispatch.
func (d *Dispatcher) Depth() int {
	return d.guard.Depth()
}

func (d *Dispatcher) matching(actionType string) []entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []entry
	for _, e := range d.entries {
		if e.reg.ActionType == actionType {
			out = append(out, e)
		}
	}
	return out
}

func (d *Dispatcher) isActive(tok Token) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active[tok]
}

func (d *Dispatcher) currentHooks() Hooks {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hooks
}

// Dispatch delivers action to every handler registered for its type.
//
// creator attributes the action to the action creator method that issued
// it; pass the zero Creator for direct dispatches.
//
// Returns the first handler error when the hooks propagate errors, and a
// DispatchDepthExceeded error when the chain is too deep. Either way the
// hooks observe ActionCompleted for every action they saw start.
func (d *Dispatcher) Dispatch(action ir.Action, creator ir.Creator) error {
	if err := action.Validate(); err != nil {
		return err
	}

	depth, err := d.guard.enter(action.Type)
	if err != nil {
		d.logger.Error("dispatch depth exceeded",
			"action", action.Type,
			"depth", depth,
			"event", "depth_exceeded",
		)
		return err
	}
	defer d.guard.leave()

	hooks := d.currentHooks()

	d.logger.Debug("dispatch started",
		"action", action.Type,
		"source", action.Source,
		"creator", creator.Name,
		"method", creator.Action,
		"depth", depth,
	)

	hooks.ActionStarted(action, creator, depth)
	defer hooks.ActionCompleted(action, depth)

	for _, e := range d.matching(action.Type) {
		if !d.isActive(e.token) {
			continue
		}

		reg := e.reg
		info := HandlerInfo{
			Store:    reg.Store,
			Handler:  reg.Handler,
			Action:   action,
			Depth:    depth,
			Snapshot: reg.Snapshot,
		}
		run := func() error {
			return d.invoke(reg, action)
		}

		if err := hooks.Handler(info, run); err != nil {
			return fmt.Errorf("dispatch %s: %w", action.Type, err)
		}
	}

	return nil
}

// invoke runs one handler, converting panics and plain errors into
// HandlerExecutionError. Depth violations keep their kind.
func (d *Dispatcher) invoke(reg Registration, action ir.Action) (err error) {
	op := reg.Store + "." + reg.Handler

	defer func() {
		if r := recover(); r != nil {
			err = ir.Errorf(ir.KindHandlerExecution, op, "panic: %v", r)
		}
		if err != nil {
			d.logger.Warn("handler failed",
				"store", reg.Store,
				"handler", reg.Handler,
				"action", action.Type,
				"error", err,
			)
		}
	}()

	if reg.Fn == nil {
		return nil
	}
	if err := reg.Fn(action); err != nil {
		if ir.IsDispatchDepthExceeded(err) {
			return err
		}
		return ir.WrapError(ir.KindHandlerExecution, op, err)
	}
	return nil
}
