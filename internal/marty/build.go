package marty

import (
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/marty/internal/creator"
	"github.com/roach88/marty/internal/ir"
	"github.com/roach88/marty/internal/store"
)

// HeadlessComponent is the component Build attaches to every view. It
// keeps the last rendered state and counts renders.
type HeadlessComponent struct {
	mu      sync.Mutex
	renders int
	last    ir.Object
}

// SetState implements view.Component.
func (c *HeadlessComponent) SetState(state ir.Object) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renders++
	c.last = state
	return nil
}

// Renders returns how many times the component re-rendered.
func (c *HeadlessComponent) Renders() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renders
}

// Last returns the last rendered state, or the initial state before any
// render.
func (c *HeadlessComponent) Last() ir.Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ir.CloneObject(c.last)
}

// Build turns a compiled application into a live App: stores in
// declaration order, creators whose methods dispatch their declared action,
// and views attached to headless components.
func Build(spec *ir.AppSpec, opts ...Option) (*App, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("build %s: %w", spec.Name, err)
	}

	app := New(append([]Option{WithName(spec.Name)}, opts...)...)

	for _, ss := range spec.Stores {
		if _, err := app.CreateStore(storeConfig(app, ss)); err != nil {
			app.Dispose()
			return nil, fmt.Errorf("build store %s: %w", ss.Name, err)
		}
	}

	for _, cs := range spec.Creators {
		methods := make(map[string]creator.Func, len(cs.Methods))
		for _, ms := range cs.Methods {
			methods[ms.Name] = methodFunc(ms)
		}
		if _, err := app.CreateActionCreators(creator.Config{Name: cs.Name, Methods: methods}); err != nil {
			app.Dispose()
			return nil, fmt.Errorf("build creators %s: %w", cs.Name, err)
		}
	}

	for _, vs := range spec.Views {
		bindings := make([]Binding, 0, len(vs.Bindings))
		for _, b := range vs.Bindings {
			bindings = append(bindings, Binding{Key: b.Key, Store: b.Store})
		}
		m, err := app.CreateStateMixin(vs.Name, bindings...)
		if err != nil {
			app.Dispose()
			return nil, fmt.Errorf("build view %s: %w", vs.Name, err)
		}

		c := &HeadlessComponent{}
		initial, err := m.Attach(c)
		if err != nil {
			app.Dispose()
			return nil, fmt.Errorf("attach view %s: %w", vs.Name, err)
		}
		c.last = initial

		app.mu.Lock()
		app.components[vs.Name] = c
		app.mu.Unlock()
	}

	app.logger.Info("app built",
		"app", spec.Name,
		"stores", len(spec.Stores),
		"creators", len(spec.Creators),
		"views", len(spec.Views),
	)
	return app, nil
}

// Call invokes a creator method by name.
func (a *App) Call(creatorName, method string, args ...ir.Value) (ir.Value, error) {
	ac, ok := a.Creators(creatorName)
	if !ok {
		return nil, ir.Errorf(ir.KindConfiguration, "call", "unknown action creators %q", creatorName)
	}
	return ac.Call(method, args...)
}

func methodFunc(ms ir.MethodSpec) creator.Func {
	return func(ctx *creator.Context, args ...ir.Value) (ir.Value, error) {
		if ms.Source == ir.SourceServer {
			return nil, ctx.DispatchServerAction(ms.Action, args...)
		}
		return nil, ctx.DispatchViewAction(ms.Action, args...)
	}
}

func storeConfig(app *App, ss ir.StoreSpec) store.Config {
	initial := ss.InitialState
	if initial == nil {
		initial = ir.Object{}
	}

	handlers := make([]store.Handler, 0, len(ss.Handlers))
	for _, hs := range ss.Handlers {
		handlers = append(handlers, store.Handler{
			Name:  hs.Name,
			Types: hs.Types,
			Fn:    handlerFunc(app, hs),
		})
	}

	return store.Config{
		Name:            ss.Name,
		Handlers:        handlers,
		GetInitialState: func() ir.Value { return ir.Clone(initial) },
	}
}

// handlerFunc runs the declared ops in order against live state and
// notifies when the handler is declared with notify.
func handlerFunc(app *App, hs ir.HandlerSpec) store.HandlerFunc {
	return func(tx *store.Tx, args ...ir.Value) error {
		argv := ir.NewArray(args...)
		for i, op := range hs.Ops {
			if err := applyOp(app, tx, op, argv); err != nil {
				return fmt.Errorf("op[%d] %s: %w", i, op.Op, err)
			}
		}
		if hs.Notify {
			return tx.HasChanged()
		}
		return nil
	}
}

var errNotObject = errors.New("state is not an object")

func applyOp(app *App, tx *store.Tx, op ir.OpSpec, args ir.Array) error {
	switch op.Op {
	case ir.OpSet:
		if len(op.Path) == 0 {
			tx.SetState(op.Operand(args))
			return nil
		}
		root, err := rootObject(tx)
		if err != nil {
			return err
		}
		return setPath(root, op.Path, op.Operand(args))

	case ir.OpMerge:
		patch, ok := op.Operand(args).(ir.Object)
		if !ok {
			return fmt.Errorf("merge operand is not an object")
		}
		root, err := rootObject(tx)
		if err != nil {
			return err
		}
		target := root
		if len(op.Path) > 0 {
			target, err = objectAt(root, op.Path)
			if err != nil {
				return err
			}
		}
		for k, v := range patch {
			target[k] = v
		}
		return nil

	case ir.OpPush:
		root, err := rootObject(tx)
		if err != nil {
			return err
		}
		if len(op.Path) == 0 {
			return fmt.Errorf("push needs a path")
		}
		var arr ir.Array
		switch cur := getPath(root, op.Path).(type) {
		case nil, ir.Null:
			arr = ir.Array{}
		case ir.Array:
			arr = cur
		default:
			return fmt.Errorf("push target %v is %s, not array", op.Path, ir.KindOf(cur))
		}
		return setPath(root, op.Path, append(arr, op.Operand(args)))

	case ir.OpUnset:
		root, err := rootObject(tx)
		if err != nil {
			return err
		}
		parent := root
		if len(op.Path) > 1 {
			parent, err = objectAt(root, op.Path[:len(op.Path)-1])
			if err != nil {
				return err
			}
		}
		delete(parent, op.Path[len(op.Path)-1])
		return nil

	case ir.OpIncrement:
		root, err := rootObject(tx)
		if err != nil {
			return err
		}
		by := op.By
		if by == 0 {
			by = 1
		}
		var n ir.Int
		switch cur := getPath(root, op.Path).(type) {
		case nil, ir.Null:
		case ir.Int:
			n = cur
		default:
			return fmt.Errorf("increment target %v is %s, not int", op.Path, ir.KindOf(cur))
		}
		return setPath(root, op.Path, n+ir.Int(by))

	case ir.OpFail:
		return errors.New(op.Message)

	case ir.OpDispatch:
		payload := []ir.Value(args)
		if op.Arg != nil || op.Value != nil {
			payload = []ir.Value{op.Operand(args)}
		}
		return app.dispatcher.Dispatch(ir.NewAction(op.Action, op.Source, payload...), ir.Creator{})

	default:
		return fmt.Errorf("unknown op %q", op.Op)
	}
}

// rootObject returns the live state object, replacing a null state with
// an empty object.
func rootObject(tx *store.Tx) (ir.Object, error) {
	switch st := tx.State().(type) {
	case ir.Object:
		return st, nil
	case nil, ir.Null:
		obj := ir.Object{}
		tx.SetState(obj)
		return obj, nil
	default:
		return nil, errNotObject
	}
}

func getPath(root ir.Object, path []string) ir.Value {
	var cur ir.Value = root
	for _, key := range path {
		obj, ok := cur.(ir.Object)
		if !ok {
			return nil
		}
		cur = obj[key]
	}
	return cur
}

// objectAt walks path, creating missing intermediate objects.
func objectAt(root ir.Object, path []string) (ir.Object, error) {
	cur := root
	for i, key := range path {
		switch next := cur[key].(type) {
		case ir.Object:
			cur = next
		case nil, ir.Null:
			obj := ir.Object{}
			cur[key] = obj
			cur = obj
		default:
			return nil, fmt.Errorf("path %v: %s is %s, not object", path, path[i], ir.KindOf(next))
		}
	}
	return cur, nil
}

func setPath(root ir.Object, path []string, v ir.Value) error {
	parent, err := objectAt(root, path[:len(path)-1])
	if err != nil {
		return err
	}
	parent[path[len(path)-1]] = v
	return nil
}
