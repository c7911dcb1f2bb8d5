package marty

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/marty/internal/creator"
	"github.com/roach88/marty/internal/diagnostics"
	"github.com/roach88/marty/internal/ir"
	"github.com/roach88/marty/internal/store"
	"github.com/roach88/marty/internal/testutil"
	"github.com/roach88/marty/internal/view"
)

const receiveFoo = "RECEIVE_FOO"

type fooApp struct {
	app      *App
	actions  *diagnostics.Recorder
	creators *creator.ActionCreators
	store    *store.Store
}

// newFooApp builds a store holding a list of foos, an addFoo creator and
// two views bound to the store under different keys.
func newFooApp(t *testing.T, opts ...Option) *fooApp {
	t.Helper()

	app := New(append([]Option{WithDiagnostics(
		diagnostics.WithSequencer(testutil.NewDeterministicClock()),
		diagnostics.WithIDGenerator(testutil.NewSequentialIDGenerator("trace")),
	)}, opts...)...)
	t.Cleanup(app.Dispose)

	restore := app.Diagnostics().Enable()
	t.Cleanup(restore)

	actions := app.NewRecorder()
	t.Cleanup(actions.Dispose)

	s, err := app.CreateStore(store.Config{
		Name:            "Foo Store",
		GetInitialState: func() ir.Value { return ir.Array{} },
		Handlers: []store.Handler{{
			Name:  "receiveFoo",
			Types: []string{receiveFoo},
			Fn: func(tx *store.Tx, args ...ir.Value) error {
				tx.SetState(append(tx.State().(ir.Array), args[0]))
				return tx.HasChanged()
			},
		}},
	})
	require.NoError(t, err)

	ac, err := app.CreateActionCreators(creator.Config{
		Name: "FooActions",
		Methods: map[string]creator.Func{
			"addFoo": func(ctx *creator.Context, args ...ir.Value) (ir.Value, error) {
				return nil, ctx.DispatchViewAction(receiveFoo, args...)
			},
		},
	})
	require.NoError(t, err)

	for _, v := range []struct{ name, key string }{{"Foos", "foos"}, {"Bars", "bars"}} {
		m, err := app.CreateStateMixin(v.name, Binding{Key: v.key, Store: "Foo Store"})
		require.NoError(t, err)
		_, err = m.Attach(view.ComponentFunc(func(ir.Object) error { return nil }))
		require.NoError(t, err)
	}

	return &fooApp{app: app, actions: actions, creators: ac, store: s}
}

func TestTraceOfAddFoo(t *testing.T) {
	f := newFooApp(t)

	_, err := f.creators.Call("addFoo", ir.Object{"bar": ir.String("baz")})
	require.NoError(t, err)

	first := f.actions.First()
	require.NotNil(t, first)

	got, err := json.Marshal(first)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"type": "RECEIVE_FOO",
		"source": "VIEW",
		"arguments": [{"bar": "baz"}],
		"creator": {
			"name": "FooActions",
			"type": "ActionCreator",
			"action": "addFoo",
			"arguments": [{"bar": "baz"}]
		},
		"handlers": [{
			"store": "Foo Store",
			"type": "Store",
			"name": "receiveFoo",
			"error": null,
			"state": {"before": [], "after": [{"bar": "baz"}]},
			"views": [{
				"name": "Foos",
				"error": null,
				"state": {"before": {"foos": []}, "after": {"foos": [{"bar": "baz"}]}}
			}, {
				"name": "Bars",
				"error": null,
				"state": {"before": {"bars": []}, "after": {"bars": [{"bar": "baz"}]}}
			}]
		}]
	}`, string(got))
}

func TestHandlerErrorLeavesOtherHandlersRunning(t *testing.T) {
	f := newFooApp(t)
	_, err := f.app.CreateStore(store.Config{
		Name: "Broken Store",
		Handlers: []store.Handler{{
			Name:  "explode",
			Types: []string{receiveFoo},
			Fn: func(*store.Tx, ...ir.Value) error {
				return assert.AnError
			},
		}},
	})
	require.NoError(t, err)

	_, err = f.creators.Call("addFoo", ir.Int(1))
	require.NoError(t, err)

	rec := f.actions.Latest()
	require.Len(t, rec.Handlers, 2)
	assert.Nil(t, rec.Handlers[0].Error)
	require.NotNil(t, rec.Handlers[1].Error)
	assert.Equal(t, "HandlerExecutionError", rec.Handlers[1].Error.Name)
	assert.Equal(t, ir.Array{ir.Int(1)}, f.store.State())
}

func TestFailFastWhenDiagnosticsDisabled(t *testing.T) {
	f := newFooApp(t)
	f.app.Diagnostics().SetEnabled(false)

	_, err := f.app.CreateStore(store.Config{
		Name: "Broken Store",
		Handlers: []store.Handler{{
			Name:  "explode",
			Types: []string{receiveFoo},
			Fn:    func(*store.Tx, ...ir.Value) error { return assert.AnError },
		}},
	})
	require.NoError(t, err)

	_, err = f.creators.Call("addFoo", ir.Int(1))
	require.Error(t, err)
	assert.True(t, ir.IsHandlerExecutionError(err))
	assert.Equal(t, 0, f.actions.Len())
}

func TestCreateStateMixinUnknownStore(t *testing.T) {
	app := New()
	t.Cleanup(app.Dispose)

	_, err := app.CreateStateMixin("Orphan", Binding{Key: "x", Store: "Nope"})
	require.Error(t, err)
	assert.True(t, ir.IsConfigurationError(err))
}

func TestDuplicateNames(t *testing.T) {
	f := newFooApp(t)

	_, err := f.app.CreateStore(store.Config{Name: "Foo Store"})
	assert.True(t, ir.IsConfigurationError(err))

	_, err = f.app.CreateActionCreators(creator.Config{Name: "FooActions"})
	assert.True(t, ir.IsConfigurationError(err))

	_, err = f.app.CreateStateMixin("Foos", Binding{Key: "foos", Store: "Foo Store"})
	assert.True(t, ir.IsConfigurationError(err))
}

func TestLookups(t *testing.T) {
	f := newFooApp(t)

	s, ok := f.app.Store("Foo Store")
	require.True(t, ok)
	assert.Same(t, f.store, s)

	_, ok = f.app.Creators("FooActions")
	assert.True(t, ok)
	_, ok = f.app.View("Bars")
	assert.True(t, ok)

	assert.Equal(t, []string{"Foo Store"}, f.app.StoreNames())
	assert.Equal(t, []string{"Foos", "Bars"}, f.app.ViewNames())
	assert.Equal(t, ir.Object{"Foo Store": ir.Array{}}, f.app.States())
}

func TestDisposeApp(t *testing.T) {
	f := newFooApp(t)
	f.app.Dispose()
	f.app.Dispose()

	assert.True(t, f.store.Disposed())
	assert.False(t, f.app.Diagnostics().Enabled())

	_, err := f.app.CreateStore(store.Config{Name: "Late"})
	assert.True(t, ir.IsConfigurationError(err))
}

func TestMaxDepthOption(t *testing.T) {
	app := New(WithMaxDepth(2))
	t.Cleanup(app.Dispose)

	_, err := app.CreateStore(store.Config{
		Name: "Echo",
		Handlers: []store.Handler{{
			Name:  "echo",
			Types: []string{"PING"},
			Fn: func(tx *store.Tx, _ ...ir.Value) error {
				return app.Dispatch(tx.Action())
			},
		}},
	})
	require.NoError(t, err)

	err = app.Dispatch(ir.NewAction("PING", ir.SourceView))
	require.Error(t, err)
	assert.True(t, ir.IsDispatchDepthExceeded(err))
}
