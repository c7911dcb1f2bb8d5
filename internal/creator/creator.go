// Package creator implements action creators: named method sets that
// dispatch actions on behalf of the application.
package creator

import (
	"slices"

	"github.com/roach88/marty/internal/ir"
)

// Dispatcher is the part of the dispatcher action creators need.
type Dispatcher interface {
	Dispatch(action ir.Action, creator ir.Creator) error
}

// Func is an action creator method. ctx dispatches on the method's behalf
// and attributes every action to it.
type Func func(ctx *Context, args ...ir.Value) (ir.Value, error)

// Config declares an action creators object.
//
// Methods are merged first, then each mixin in order; a later definition
// of the same name wins.
type Config struct {
	Name       string
	Dispatcher Dispatcher
	Methods    map[string]Func
	Mixins     []map[string]Func
}

// ActionCreators is an aggregated set of methods.
type ActionCreators struct {
	name       string
	dispatcher Dispatcher
	methods    map[string]Func
}

// New merges the methods and mixins. A missing dispatcher is not an error
// here; dispatching without one fails at call time.
func New(cfg Config) (*ActionCreators, error) {
	if cfg.Name == "" {
		return nil, ir.Errorf(ir.KindConfiguration, "create action creators", "name is empty")
	}

	methods := make(map[string]Func, len(cfg.Methods))
	merge := func(src map[string]Func) error {
		for name, fn := range src {
			if name == "" || fn == nil {
				return ir.Errorf(ir.KindConfiguration, cfg.Name, "method %q has no function", name)
			}
			methods[name] = fn
		}
		return nil
	}
	if err := merge(cfg.Methods); err != nil {
		return nil, err
	}
	for _, mixin := range cfg.Mixins {
		if err := merge(mixin); err != nil {
			return nil, err
		}
	}

	return &ActionCreators{
		name:       cfg.Name,
		dispatcher: cfg.Dispatcher,
		methods:    methods,
	}, nil
}

// Name returns the display name used in trace attribution.
func (ac *ActionCreators) Name() string {
	return ac.name
}

// Has reports whether method exists.
func (ac *ActionCreators) Has(method string) bool {
	_, ok := ac.methods[method]
	return ok
}

// Methods returns the method names, sorted.
func (ac *ActionCreators) Methods() []string {
	names := make([]string, 0, len(ac.methods))
	for name := range ac.methods {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Call invokes method with args.
func (ac *ActionCreators) Call(method string, args ...ir.Value) (ir.Value, error) {
	fn, ok := ac.methods[method]
	if !ok {
		return nil, ir.Errorf(ir.KindConfiguration, ac.name, "unknown method %q", method)
	}

	cloned := make(ir.Array, len(args))
	for i, a := range args {
		cloned[i] = ir.Clone(a)
	}
	ctx := &Context{creators: ac, method: method, args: cloned}
	return fn(ctx, args...)
}

// Context is the explicit receiver of a method call.
type Context struct {
	creators *ActionCreators
	method   string
	args     ir.Array
}

// Method returns the name of the running method.
func (c *Context) Method() string {
	return c.method
}

// Creators returns the aggregate the method belongs to, for calling
// sibling methods.
func (c *Context) Creators() *ActionCreators {
	return c.creators
}

// Attribution returns the creator attribution of actions dispatched from
// this call.
func (c *Context) Attribution() ir.Creator {
	return ir.Creator{
		Name:      c.creators.name,
		Action:    c.method,
		Arguments: ir.Clone(c.args).(ir.Array),
	}
}

// Dispatch dispatches a VIEW action.
func (c *Context) Dispatch(actionType string, args ...ir.Value) error {
	return c.dispatch(actionType, ir.SourceView, args)
}

// DispatchViewAction dispatches an action caused by user interaction.
func (c *Context) DispatchViewAction(actionType string, args ...ir.Value) error {
	return c.dispatch(actionType, ir.SourceView, args)
}

// DispatchServerAction dispatches an action caused by a server response.
func (c *Context) DispatchServerAction(actionType string, args ...ir.Value) error {
	return c.dispatch(actionType, ir.SourceServer, args)
}

func (c *Context) dispatch(actionType string, source ir.Source, args []ir.Value) error {
	d := c.creators.dispatcher
	if d == nil {
		return ir.Errorf(ir.KindConfiguration, c.creators.name+"."+c.method,
			"cannot dispatch %s: action creators have no dispatcher", actionType)
	}
	return d.Dispatch(ir.NewAction(actionType, source, args...), c.Attribution())
}
