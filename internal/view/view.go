// Package view binds component state to stores.
//
// A StateMixin derives a component's state from one or more stores and
// re-renders the component whenever a bound store reports a change.
package view

import (
	"log/slog"
	"sync"

	"github.com/roach88/marty/internal/ir"
	"github.com/roach88/marty/internal/store"
)

// Component is the rendering side of a view. SetState re-renders with the
// new derived state.
type Component interface {
	SetState(state ir.Object) error
}

// ComponentFunc adapts a function to Component.
type ComponentFunc func(state ir.Object) error

func (f ComponentFunc) SetState(state ir.Object) error { return f(state) }

// Hooks brackets every recompute. diagnostics.Tracer implements it.
type Hooks interface {
	View(name string, state func() ir.Value, recompute func() error) error
}

// NopHooks runs the recompute bare.
type NopHooks struct{}

func (NopHooks) View(_ string, _ func() ir.Value, recompute func() error) error {
	return recompute()
}

// Binding maps a state key to a store.
type Binding struct {
	Key   string
	Store *store.Store

	// Select derives the key's value from the store state. Nil uses the
	// whole state.
	Select func(state ir.Value) (ir.Value, error)
}

// Config declares a view.
type Config struct {
	Name     string
	Bindings []Binding
	Hooks    Hooks
	Logger   *slog.Logger
}

// StateMixin keeps a component's derived state in sync with its stores.
type StateMixin struct {
	mu        sync.Mutex
	name      string
	bindings  []Binding
	hooks     Hooks
	logger    *slog.Logger
	component Component
	subs      []*store.Subscription
	state     ir.Object
}

// CreateStateMixin validates the bindings. Nothing is subscribed until
// Attach.
func CreateStateMixin(cfg Config) (*StateMixin, error) {
	if cfg.Name == "" {
		return nil, ir.Errorf(ir.KindConfiguration, "create view", "view name is empty")
	}

	seen := make(map[string]bool, len(cfg.Bindings))
	for _, b := range cfg.Bindings {
		if b.Key == "" {
			return nil, ir.Errorf(ir.KindConfiguration, cfg.Name, "binding with empty key")
		}
		if seen[b.Key] {
			return nil, ir.Errorf(ir.KindConfiguration, cfg.Name, "duplicate binding key %q", b.Key)
		}
		seen[b.Key] = true
		if b.Store == nil {
			return nil, ir.Errorf(ir.KindConfiguration, cfg.Name, "binding %q has no store", b.Key)
		}
		if b.Store.Disposed() {
			return nil, ir.Errorf(ir.KindConfiguration, cfg.Name, "binding %q refers to disposed store %q", b.Key, b.Store.Name())
		}
	}

	m := &StateMixin{
		name:     cfg.Name,
		bindings: append([]Binding(nil), cfg.Bindings...),
		hooks:    cfg.Hooks,
		logger:   cfg.Logger,
		state:    ir.Object{},
	}
	if m.hooks == nil {
		m.hooks = NopHooks{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m, nil
}

// Name returns the view's display name.
func (m *StateMixin) Name() string {
	return m.name
}

// Attach subscribes to every bound store and returns the initial derived
// state. A store bound under several keys is subscribed once.
func (m *StateMixin) Attach(c Component) (ir.Object, error) {
	m.mu.Lock()
	if m.component != nil {
		m.mu.Unlock()
		return nil, ir.Errorf(ir.KindConfiguration, m.name, "view is already attached")
	}
	m.mu.Unlock()

	initial, err := m.compute()
	if err != nil {
		return nil, err
	}

	var subs []*store.Subscription
	subscribed := make(map[*store.Store]bool)
	for _, b := range m.bindings {
		if subscribed[b.Store] {
			continue
		}
		subscribed[b.Store] = true
		sub, err := b.Store.AddChangeListener(m.onChange)
		if err != nil {
			for _, s := range subs {
				s.Dispose()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}

	m.mu.Lock()
	m.component = c
	m.subs = subs
	m.state = initial
	m.mu.Unlock()

	m.logger.Debug("view attached", "view", m.name, "stores", len(subs))
	return ir.CloneObject(initial), nil
}

// Detach unsubscribes. No recompute happens afterwards. Idempotent.
func (m *StateMixin) Detach() {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.component = nil
	m.mu.Unlock()

	for _, s := range subs {
		s.Dispose()
	}
}

// Attached reports whether a component is attached.
func (m *StateMixin) Attached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.component != nil
}

// State returns a copy of the current derived state.
func (m *StateMixin) State() ir.Object {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ir.CloneObject(m.state)
}

func (m *StateMixin) live() ir.Value {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *StateMixin) onChange() error {
	return m.hooks.View(m.name, m.live, m.refresh)
}

// refresh recomputes the full mapping and re-renders. On failure the
// previous derived state is kept.
func (m *StateMixin) refresh() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ir.Errorf(ir.KindViewRecompute, m.name, "panic: %v", r)
		}
	}()

	m.mu.Lock()
	c := m.component
	m.mu.Unlock()
	if c == nil {
		return nil
	}

	next, err := m.compute()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.state = next
	m.mu.Unlock()

	if err := c.SetState(ir.CloneObject(next)); err != nil {
		return ir.WrapError(ir.KindViewRecompute, m.name, err)
	}
	return nil
}

// compute derives {key: store state} for every binding, in binding order.
// A panicking Select becomes a ViewRecomputeError.
func (m *StateMixin) compute() (_ ir.Object, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ir.Errorf(ir.KindViewRecompute, m.name, "panic: %v", r)
		}
	}()

	out := make(ir.Object, len(m.bindings))
	for _, b := range m.bindings {
		v := b.Store.State()
		if b.Select != nil {
			selected, err := b.Select(v)
			if err != nil {
				return nil, ir.WrapError(ir.KindViewRecompute, m.name+"."+b.Key, err)
			}
			v = ir.Clone(selected)
		}
		out[b.Key] = v
	}
	return out, nil
}
