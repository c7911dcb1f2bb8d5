// Package marty wires a dispatcher, a tracer, stores, action creators and
// views into one application.
package marty

import (
	"log/slog"
	"sync"

	"github.com/roach88/marty/internal/creator"
	"github.com/roach88/marty/internal/diagnostics"
	"github.com/roach88/marty/internal/dispatcher"
	"github.com/roach88/marty/internal/ir"
	"github.com/roach88/marty/internal/store"
	"github.com/roach88/marty/internal/view"
)

// App owns one dispatcher and one tracer. Every store, creator and view
// created through it shares them.
type App struct {
	mu         sync.Mutex
	name       string
	dispatcher *dispatcher.Dispatcher
	tracer     *diagnostics.Tracer
	logger     *slog.Logger

	stores     map[string]*store.Store
	storeOrder []string
	creators   map[string]*creator.ActionCreators
	views      map[string]*view.StateMixin
	viewOrder  []string
	components map[string]*HeadlessComponent
	disposed   bool
}

type options struct {
	name      string
	maxDepth  int
	logger    *slog.Logger
	tracerOps []diagnostics.Option
}

// Option configures an App.
type Option func(*options)

// WithName sets the application name used in logs.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithMaxDepth sets the dispatcher's re-entrant depth limit.
func WithMaxDepth(n int) Option {
	return func(o *options) {
		o.maxDepth = n
	}
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithDiagnostics passes options to the tracer, e.g.
// diagnostics.WithEnabled(true) or diagnostics.WithNestedPolicy.
func WithDiagnostics(opts ...diagnostics.Option) Option {
	return func(o *options) {
		o.tracerOps = append(o.tracerOps, opts...)
	}
}

// New creates an App. The tracer starts disabled unless enabled through
// WithDiagnostics.
func New(opts ...Option) *App {
	o := options{name: "app", maxDepth: dispatcher.DefaultMaxDepth}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	tracer := diagnostics.New(append([]diagnostics.Option{diagnostics.WithLogger(o.logger)}, o.tracerOps...)...)
	d := dispatcher.New(
		dispatcher.WithHooks(tracer),
		dispatcher.WithMaxDepth(o.maxDepth),
		dispatcher.WithLogger(o.logger),
	)

	return &App{
		name:       o.name,
		dispatcher: d,
		tracer:     tracer,
		logger:     o.logger,
		stores:     make(map[string]*store.Store),
		creators:   make(map[string]*creator.ActionCreators),
		views:      make(map[string]*view.StateMixin),
		components: make(map[string]*HeadlessComponent),
	}
}

// Name returns the application name.
func (a *App) Name() string {
	return a.name
}

// Dispatcher returns the shared dispatcher.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatcher
}

// Diagnostics returns the shared tracer.
func (a *App) Diagnostics() *diagnostics.Tracer {
	return a.tracer
}

// NewRecorder returns a recorder subscribed to the tracer.
func (a *App) NewRecorder() *diagnostics.Recorder {
	return a.tracer.NewRecorder()
}

// Dispatch dispatches an action without creator attribution.
func (a *App) Dispatch(action ir.Action) error {
	return a.dispatcher.Dispatch(action, ir.Creator{})
}

func (a *App) checkOpen(op string) error {
	if a.disposed {
		return ir.Errorf(ir.KindConfiguration, op, "app %q is disposed", a.name)
	}
	return nil
}

// CreateStore creates a store registered with the app's dispatcher.
// Store names are unique per app.
func (a *App) CreateStore(cfg store.Config) (*store.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkOpen("create store"); err != nil {
		return nil, err
	}
	if _, exists := a.stores[cfg.Name]; exists {
		return nil, ir.Errorf(ir.KindConfiguration, "create store", "store %q already exists", cfg.Name)
	}
	if cfg.Logger == nil {
		cfg.Logger = a.logger
	}

	s, err := store.New(a.dispatcher, cfg)
	if err != nil {
		return nil, err
	}
	a.stores[cfg.Name] = s
	a.storeOrder = append(a.storeOrder, cfg.Name)
	return s, nil
}

// CreateActionCreators creates an action creators object dispatching
// through the app's dispatcher unless cfg names another one.
func (a *App) CreateActionCreators(cfg creator.Config) (*creator.ActionCreators, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkOpen("create action creators"); err != nil {
		return nil, err
	}
	if _, exists := a.creators[cfg.Name]; exists {
		return nil, ir.Errorf(ir.KindConfiguration, "create action creators", "action creators %q already exist", cfg.Name)
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = a.dispatcher
	}

	ac, err := creator.New(cfg)
	if err != nil {
		return nil, err
	}
	a.creators[cfg.Name] = ac
	return ac, nil
}

// Binding binds a state key to a store by name.
type Binding struct {
	Key    string
	Store  string
	Select func(state ir.Value) (ir.Value, error)
}

// CreateStateMixin creates a view whose recomputes are traced. An unknown
// store name is a configuration error.
func (a *App) CreateStateMixin(name string, bindings ...Binding) (*view.StateMixin, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkOpen("create view"); err != nil {
		return nil, err
	}
	if _, exists := a.views[name]; exists {
		return nil, ir.Errorf(ir.KindConfiguration, "create view", "view %q already exists", name)
	}

	resolved := make([]view.Binding, 0, len(bindings))
	for _, b := range bindings {
		s, ok := a.stores[b.Store]
		if !ok {
			return nil, ir.Errorf(ir.KindConfiguration, name, "binding %q refers to unknown store %q", b.Key, b.Store)
		}
		resolved = append(resolved, view.Binding{Key: b.Key, Store: s, Select: b.Select})
	}

	m, err := view.CreateStateMixin(view.Config{
		Name:     name,
		Bindings: resolved,
		Hooks:    a.tracer,
		Logger:   a.logger,
	})
	if err != nil {
		return nil, err
	}
	a.views[name] = m
	a.viewOrder = append(a.viewOrder, name)
	return m, nil
}

// Store returns the store with the given name.
func (a *App) Store(name string) (*store.Store, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.stores[name]
	return s, ok
}

// StoreNames returns store names in creation order.
func (a *App) StoreNames() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.storeOrder...)
}

// Creators returns the action creators with the given name.
func (a *App) Creators(name string) (*creator.ActionCreators, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ac, ok := a.creators[name]
	return ac, ok
}

// View returns the view with the given name.
func (a *App) View(name string) (*view.StateMixin, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.views[name]
	return m, ok
}

// ViewNames returns view names in creation order.
func (a *App) ViewNames() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.viewOrder...)
}

// Component returns the headless component attached to a view by Build.
func (a *App) Component(view string) (*HeadlessComponent, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.components[view]
	return c, ok
}

// States returns {storeName: state} for every store.
func (a *App) States() ir.Object {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(ir.Object, len(a.stores))
	for name, s := range a.stores {
		out[name] = s.State()
	}
	return out
}

// Dispose detaches every view, disposes every store and the tracer.
// Idempotent.
func (a *App) Dispose() {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return
	}
	a.disposed = true
	views := a.views
	stores := a.stores
	a.mu.Unlock()

	for _, m := range views {
		m.Detach()
	}
	for _, s := range stores {
		s.Dispose()
	}
	a.tracer.Dispose()
	a.logger.Debug("app disposed", "app", a.name)
}
