// Package store implements Flux stores: named state containers whose
// handlers are registered with the dispatcher.
package store

import (
	"log/slog"
	"sync"

	"github.com/roach88/marty/internal/dispatcher"
	"github.com/roach88/marty/internal/ir"
)

// Registrar is the part of the dispatcher a store needs.
type Registrar interface {
	Register(reg dispatcher.Registration) dispatcher.Token
	Unregister(tok dispatcher.Token) bool
}

// HandlerFunc handles one action. args are private clones of the action
// arguments.
type HandlerFunc func(tx *Tx, args ...ir.Value) error

// Handler maps action types to a handler function.
type Handler struct {
	Name  string
	Types []string
	Fn    HandlerFunc
}

// Config declares a store.
type Config struct {
	Name     string
	Handlers []Handler

	// GetInitialState runs once at construction. Nil means an empty object.
	GetInitialState func() ir.Value

	Logger *slog.Logger
}

// Listener is notified when a handler calls HasChanged.
type Listener func() error

// Store holds one piece of application state.
//
// State is only reachable for writing through the Tx handed to handlers;
// State() hands out clones.
type Store struct {
	mu        sync.Mutex
	name      string
	state     ir.Value
	d         Registrar
	tokens    []dispatcher.Token
	listeners []*Subscription
	nextSub   int
	disposed  bool
	logger    *slog.Logger
}

// New creates a store and registers its handlers with d in declaration
// order.
func New(d Registrar, cfg Config) (*Store, error) {
	if d == nil {
		return nil, ir.Errorf(ir.KindConfiguration, "create store", "store %q has no dispatcher", cfg.Name)
	}
	if cfg.Name == "" {
		return nil, ir.Errorf(ir.KindConfiguration, "create store", "store name is empty")
	}
	for _, h := range cfg.Handlers {
		if h.Name == "" || h.Fn == nil {
			return nil, ir.Errorf(ir.KindConfiguration, "create store", "store %q has a handler without name or function", cfg.Name)
		}
		if len(h.Types) == 0 {
			return nil, ir.Errorf(ir.KindConfiguration, "create store", "store %q handler %q handles no action types", cfg.Name, h.Name)
		}
	}

	s := &Store{
		name:   cfg.Name,
		d:      d,
		logger: cfg.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	if cfg.GetInitialState != nil {
		s.state = ir.Clone(cfg.GetInitialState())
	} else {
		s.state = ir.Object{}
	}

	for _, h := range cfg.Handlers {
		for _, actionType := range h.Types {
			s.tokens = append(s.tokens, d.Register(dispatcher.Registration{
				Store:      s.name,
				Handler:    h.Name,
				ActionType: actionType,
				Snapshot:   s.live,
				Fn:         s.bind(h.Fn),
			}))
		}
	}

	s.logger.Debug("store created", "store", s.name, "registrations", len(s.tokens))
	return s, nil
}

// bind adapts a handler to the dispatcher. The Tx is invalidated when the
// handler returns.
func (s *Store) bind(fn HandlerFunc) dispatcher.HandlerFunc {
	return func(action ir.Action) error {
		tx := &Tx{store: s, action: action}
		defer tx.close()

		args := make([]ir.Value, len(action.Arguments))
		for i, a := range action.Arguments {
			args[i] = ir.Clone(a)
		}
		return fn(tx, args...)
	}
}

// Name returns the store's display name.
func (s *Store) Name() string {
	return s.name
}

// State returns a deep copy of the current state.
func (s *Store) State() ir.Value {
	return ir.Clone(s.live())
}

func (s *Store) live() ir.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Store) setState(v ir.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v == nil {
		v = ir.Null{}
	}
	s.state = v
}

// Disposed reports whether Dispose has been called.
func (s *Store) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// AddChangeListener subscribes fn to change notifications. Listeners run
// in subscription order.
func (s *Store) AddChangeListener(fn Listener) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return nil, ir.Errorf(ir.KindConfiguration, s.name, "store %q is disposed", s.name)
	}
	s.nextSub++
	sub := &Subscription{store: s, id: s.nextSub, fn: fn}
	s.listeners = append(s.listeners, sub)
	return sub, nil
}

// ListenerCount returns the number of active listeners.
func (s *Store) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// notify calls every listener in order and stops at the first error.
func (s *Store) notify() error {
	s.mu.Lock()
	listeners := make([]*Subscription, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, sub := range listeners {
		if !sub.active() {
			continue
		}
		if err := sub.fn(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) removeListener(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.listeners {
		if sub.id == id {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}

// Dispose unregisters every handler and drops every listener. Idempotent.
func (s *Store) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	tokens := s.tokens
	s.tokens = nil
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	for _, tok := range tokens {
		s.d.Unregister(tok)
	}
	for _, sub := range listeners {
		sub.markDisposed()
	}
	s.logger.Debug("store disposed", "store", s.name)
}

// Subscription is a change listener registration.
type Subscription struct {
	mu       sync.Mutex
	store    *Store
	id       int
	fn       Listener
	disposed bool
}

// Dispose removes the listener. Idempotent.
func (sub *Subscription) Dispose() {
	if sub.markDisposed() {
		sub.store.removeListener(sub.id)
	}
}

func (sub *Subscription) markDisposed() bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.disposed {
		return false
	}
	sub.disposed = true
	return true
}

func (sub *Subscription) active() bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return !sub.disposed
}
