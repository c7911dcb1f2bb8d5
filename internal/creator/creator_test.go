package creator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/roach88/marty/internal/ir"
)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(action ir.Action, creator ir.Creator) error {
	return m.Called(action, creator).Error(0)
}

func constant(v ir.Value) Func {
	return func(*Context, ...ir.Value) (ir.Value, error) { return v, nil }
}

func TestMixinsCompose(t *testing.T) {
	ac, err := New(Config{
		Name:   "Composed",
		Mixins: []map[string]Func{
			{"foo": constant(ir.String("bar"))},
			{"bar": constant(ir.String("baz"))},
		},
	})
	require.NoError(t, err)

	got, err := ac.Call("foo")
	require.NoError(t, err)
	assert.Equal(t, ir.String("bar"), got)

	got, err = ac.Call("bar")
	require.NoError(t, err)
	assert.Equal(t, ir.String("baz"), got)

	assert.Equal(t, []string{"bar", "foo"}, ac.Methods())
}

func TestLaterDefinitionWins(t *testing.T) {
	ac, err := New(Config{
		Name:    "Override",
		Methods: map[string]Func{"x": constant(ir.Int(1))},
		Mixins: []map[string]Func{
			{"x": constant(ir.Int(2))},
			{"x": constant(ir.Int(3))},
		},
	})
	require.NoError(t, err)

	got, err := ac.Call("x")
	require.NoError(t, err)
	assert.Equal(t, ir.Int(3), got)
}

func TestDispatchAttribution(t *testing.T) {
	d := &mockDispatcher{}
	foo := ir.Object{"bar": ir.String("baz")}

	d.On("Dispatch",
		ir.Action{Type: "RECEIVE_FOO", Arguments: ir.Array{foo}, Source: ir.SourceView},
		ir.Creator{Name: "TestActionCreators", Action: "addFoo", Arguments: ir.Array{foo}},
	).Return(nil).Once()

	ac, err := New(Config{
		Name:       "TestActionCreators",
		Dispatcher: d,
		Methods: map[string]Func{
			"addFoo": func(ctx *Context, args ...ir.Value) (ir.Value, error) {
				return nil, ctx.DispatchViewAction("RECEIVE_FOO", args...)
			},
		},
	})
	require.NoError(t, err)

	_, err = ac.Call("addFoo", foo)
	require.NoError(t, err)
	d.AssertExpectations(t)
}

func TestDispatchSources(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Dispatch", mock.MatchedBy(func(a ir.Action) bool {
		return a.Type == "SERVER_ONE" && a.Source == ir.SourceServer
	}), mock.Anything).Return(nil).Once()
	d.On("Dispatch", mock.MatchedBy(func(a ir.Action) bool {
		return a.Type == "PLAIN" && a.Source == ir.SourceView
	}), mock.Anything).Return(nil).Once()

	ac, err := New(Config{
		Name:       "Sources",
		Dispatcher: d,
		Methods: map[string]Func{
			"load": func(ctx *Context, _ ...ir.Value) (ir.Value, error) {
				if err := ctx.DispatchServerAction("SERVER_ONE"); err != nil {
					return nil, err
				}
				return nil, ctx.Dispatch("PLAIN")
			},
		},
	})
	require.NoError(t, err)

	_, err = ac.Call("load")
	require.NoError(t, err)
	d.AssertExpectations(t)
}

func TestDispatchWithoutDispatcher(t *testing.T) {
	ac, err := New(Config{
		Name: "Orphan",
		Methods: map[string]Func{
			"go": func(ctx *Context, _ ...ir.Value) (ir.Value, error) {
				return nil, ctx.Dispatch("X")
			},
		},
	})
	require.NoError(t, err)

	_, err = ac.Call("go")
	require.Error(t, err)
	assert.True(t, ir.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "Orphan.go")
}

func TestUnknownMethod(t *testing.T) {
	ac, err := New(Config{Name: "Empty"})
	require.NoError(t, err)

	assert.False(t, ac.Has("nope"))
	_, err = ac.Call("nope")
	assert.True(t, ir.IsConfigurationError(err))
}

func TestAttributionIsolatedFromCallerMutation(t *testing.T) {
	var attribution ir.Creator
	ac, err := New(Config{
		Name: "Iso",
		Methods: map[string]Func{
			"m": func(ctx *Context, args ...ir.Value) (ir.Value, error) {
				args[0].(ir.Object)["k"] = ir.String("mutated")
				attribution = ctx.Attribution()
				return nil, nil
			},
		},
	})
	require.NoError(t, err)

	_, err = ac.Call("m", ir.Object{"k": ir.String("orig")})
	require.NoError(t, err)
	assert.Equal(t, ir.Array{ir.Object{"k": ir.String("orig")}}, attribution.Arguments)
	assert.Equal(t, "Iso", attribution.Name)
	assert.Equal(t, "m", attribution.Action)
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	assert.True(t, ir.IsConfigurationError(err))

	_, err = New(Config{Name: "X", Methods: map[string]Func{"m": nil}})
	assert.True(t, ir.IsConfigurationError(err))
}
