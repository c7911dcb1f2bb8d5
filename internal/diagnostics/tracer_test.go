package diagnostics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/marty/internal/dispatcher"
	"github.com/roach88/marty/internal/ir"
	"github.com/roach88/marty/internal/store"
	"github.com/roach88/marty/internal/testutil"
	"github.com/roach88/marty/internal/view"
)

type fixture struct {
	d        *dispatcher.Dispatcher
	tracer   *Tracer
	recorder *Recorder
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	base := []Option{
		WithSequencer(testutil.NewDeterministicClock()),
		WithIDGenerator(testutil.NewSequentialIDGenerator("trace")),
	}
	tracer := New(append(base, opts...)...)
	f := &fixture{
		d:      dispatcher.New(dispatcher.WithHooks(tracer)),
		tracer: tracer,
	}
	f.recorder = tracer.NewRecorder()
	t.Cleanup(f.recorder.Dispose)
	return f
}

func (f *fixture) listStore(t *testing.T, name, actionType string) *store.Store {
	t.Helper()
	s, err := store.New(f.d, store.Config{
		Name:            name,
		GetInitialState: func() ir.Value { return ir.Object{"items": ir.Array{}} },
		Handlers: []store.Handler{{
			Name:  "add",
			Types: []string{actionType},
			Fn: func(tx *store.Tx, args ...ir.Value) error {
				st := tx.Object()
				st["items"] = append(st["items"].(ir.Array), args...)
				return tx.HasChanged()
			},
		}},
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) failingStore(t *testing.T, name, actionType string) *store.Store {
	t.Helper()
	s, err := store.New(f.d, store.Config{
		Name:            name,
		GetInitialState: func() ir.Value { return ir.Int(0) },
		Handlers: []store.Handler{{
			Name:  "fail",
			Types: []string{actionType},
			Fn: func(*store.Tx, ...ir.Value) error {
				return errors.New("boom")
			},
		}},
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) bind(t *testing.T, name string, bindings ...view.Binding) *view.StateMixin {
	t.Helper()
	m, err := view.CreateStateMixin(view.Config{Name: name, Bindings: bindings, Hooks: f.tracer})
	require.NoError(t, err)
	_, err = m.Attach(view.ComponentFunc(func(ir.Object) error { return nil }))
	require.NoError(t, err)
	return m
}

func (f *fixture) dispatch(t *testing.T, actionType string, args ...ir.Value) {
	t.Helper()
	require.NoError(t, f.d.Dispatch(ir.NewAction(actionType, ir.SourceView, args...), ir.Creator{}))
}

func TestDisabledTracerRecordsNothing(t *testing.T) {
	f := newFixture(t)
	f.listStore(t, "A", "ADD")

	f.dispatch(t, "ADD", ir.Int(1))
	assert.Equal(t, 0, f.recorder.Len())
	assert.Nil(t, f.recorder.First())
	assert.Nil(t, f.recorder.Latest())
}

func TestDisabledTracerPropagatesErrors(t *testing.T) {
	f := newFixture(t)
	f.failingStore(t, "Bad", "X")

	err := f.d.Dispatch(ir.NewAction("X", ir.SourceView), ir.Creator{})
	require.Error(t, err)
	assert.True(t, ir.IsHandlerExecutionError(err))
}

func TestHandlerSnapshots(t *testing.T) {
	f := newFixture(t, WithEnabled(true))
	f.listStore(t, "A", "ADD")

	f.dispatch(t, "ADD", ir.String("x"))

	rec := f.recorder.Latest()
	require.NotNil(t, rec)
	assert.Equal(t, "trace-1", rec.ID)
	assert.Equal(t, int64(1), rec.Seq)
	require.Len(t, rec.Handlers, 1)

	h := rec.Handlers[0]
	assert.Equal(t, "A", h.Store)
	assert.Equal(t, "add", h.Name)
	assert.Nil(t, h.Error)
	assert.Equal(t, ir.Object{"items": ir.Array{}}, h.State.Before)
	assert.Equal(t, ir.Object{"items": ir.Array{ir.String("x")}}, h.State.After)
	assert.Empty(t, h.Views)
}

func TestHandlersInRegistrationOrder(t *testing.T) {
	f := newFixture(t, WithEnabled(true))
	f.listStore(t, "First", "ADD")
	f.listStore(t, "Other", "OTHER")
	f.listStore(t, "Second", "ADD")

	f.dispatch(t, "ADD", ir.Int(1))

	rec := f.recorder.Latest()
	require.Len(t, rec.Handlers, 2)
	assert.Equal(t, "First", rec.Handlers[0].Store)
	assert.Equal(t, "Second", rec.Handlers[1].Store)
}

func TestErrorIsolation(t *testing.T) {
	f := newFixture(t, WithEnabled(true))
	f.failingStore(t, "Bad", "X")
	good := f.listStore(t, "Good", "X")

	f.dispatch(t, "X", ir.Int(7))

	rec := f.recorder.Latest()
	require.Len(t, rec.Handlers, 2)
	assert.Equal(t, &ir.TraceError{Name: "HandlerExecutionError", Message: "boom"}, rec.Handlers[0].Error)
	assert.Equal(t, ir.Int(0), rec.Handlers[0].State.Before)
	assert.Equal(t, ir.Int(0), rec.Handlers[0].State.After)
	assert.Nil(t, rec.Handlers[1].Error)
	assert.Equal(t, ir.Object{"items": ir.Array{ir.Int(7)}}, good.State())
	assert.True(t, rec.HasErrors())
}

func TestPanicCapturedWhenEnabled(t *testing.T) {
	f := newFixture(t, WithEnabled(true))
	_, err := store.New(f.d, store.Config{
		Name: "Explosive",
		Handlers: []store.Handler{{
			Name:  "explode",
			Types: []string{"X"},
			Fn:    func(*store.Tx, ...ir.Value) error { panic("kaboom") },
		}},
	})
	require.NoError(t, err)

	f.dispatch(t, "X")
	h := f.recorder.Latest().Handlers[0]
	require.NotNil(t, h.Error)
	assert.Equal(t, "HandlerExecutionError", h.Error.Name)
	assert.Equal(t, "panic: kaboom", h.Error.Message)
}

func TestTwoDispatchesTwoRecords(t *testing.T) {
	f := newFixture(t, WithEnabled(true))
	f.listStore(t, "A", "ADD")

	f.dispatch(t, "ADD", ir.Int(1))
	f.dispatch(t, "ADD", ir.Int(2))

	require.Equal(t, 2, f.recorder.Len())
	first, latest := f.recorder.First(), f.recorder.Latest()
	assert.NotEqual(t, first.ID, latest.ID)
	assert.Equal(t, ir.Array{ir.Int(1)}, first.Arguments)
	assert.Equal(t, ir.Array{ir.Int(2)}, latest.Arguments)
	assert.Equal(t, latest.Handlers[0].State.Before, first.Handlers[0].State.After)
}

func TestSnapshotsSurviveLaterMutation(t *testing.T) {
	f := newFixture(t, WithEnabled(true))
	s := f.listStore(t, "A", "ADD")

	f.dispatch(t, "ADD", ir.Object{"v": ir.Int(1)})
	first := f.recorder.First()
	before := ir.Clone(first.Handlers[0].State.After)

	f.dispatch(t, "ADD", ir.Object{"v": ir.Int(2)})
	assert.True(t, ir.Equal(before, first.Handlers[0].State.After))
	assert.Len(t, s.State().(ir.Object)["items"], 2)
}

func TestViewsAttachToHandler(t *testing.T) {
	f := newFixture(t, WithEnabled(true))
	a := f.listStore(t, "A", "ADD")
	b := f.listStore(t, "B", "OTHER")
	f.bind(t, "ViewA", view.Binding{Key: "a", Store: a})
	f.bind(t, "ViewB", view.Binding{Key: "b", Store: b})
	f.bind(t, "ViewAB", view.Binding{Key: "a", Store: a}, view.Binding{Key: "b", Store: b})

	f.dispatch(t, "ADD", ir.Int(1))

	h := f.recorder.Latest().Handlers[0]
	require.Len(t, h.Views, 2)
	assert.Equal(t, "ViewA", h.Views[0].Name)
	assert.Equal(t, "ViewAB", h.Views[1].Name)
	assert.Equal(t, ir.Object{"a": ir.Object{"items": ir.Array{}}}, h.Views[0].State.Before)
	assert.Equal(t, ir.Object{"a": ir.Object{"items": ir.Array{ir.Int(1)}}}, h.Views[0].State.After)
}

func TestViewErrorCaptured(t *testing.T) {
	f := newFixture(t, WithEnabled(true))
	a := f.listStore(t, "A", "ADD")

	m, err := view.CreateStateMixin(view.Config{Name: "Broken", Hooks: f.tracer, Bindings: []view.Binding{{Key: "a", Store: a}}})
	require.NoError(t, err)
	_, err = m.Attach(view.ComponentFunc(func(ir.Object) error { return errors.New("render failed") }))
	require.NoError(t, err)
	f.bind(t, "Fine", view.Binding{Key: "a", Store: a})

	f.dispatch(t, "ADD", ir.Int(1))

	h := f.recorder.Latest().Handlers[0]
	assert.Nil(t, h.Error)
	require.Len(t, h.Views, 2)
	assert.Equal(t, &ir.TraceError{Name: "ViewRecomputeError", Message: "render failed"}, h.Views[0].Error)
	assert.Nil(t, h.Views[1].Error)
}

func TestRepeatedHasChangedAppendsViews(t *testing.T) {
	f := newFixture(t, WithEnabled(true))
	s, err := store.New(f.d, store.Config{
		Name:            "Twice",
		GetInitialState: func() ir.Value { return ir.Int(0) },
		Handlers: []store.Handler{{
			Name:  "twice",
			Types: []string{"TWICE"},
			Fn: func(tx *store.Tx, _ ...ir.Value) error {
				tx.SetState(ir.Int(1))
				if err := tx.HasChanged(); err != nil {
					return err
				}
				tx.SetState(ir.Int(2))
				return tx.HasChanged()
			},
		}},
	})
	require.NoError(t, err)
	f.bind(t, "V", view.Binding{Key: "n", Store: s})

	f.dispatch(t, "TWICE")

	views := f.recorder.Latest().Handlers[0].Views
	require.Len(t, views, 2)
	assert.Equal(t, ir.Object{"n": ir.Int(1)}, views[0].State.After)
	assert.Equal(t, ir.Object{"n": ir.Int(2)}, views[1].State.After)
}

func nestingStores(t *testing.T, f *fixture) {
	t.Helper()
	_, err := store.New(f.d, store.Config{
		Name: "Outer",
		Handlers: []store.Handler{{
			Name:  "relay",
			Types: []string{"OUTER"},
			Fn: func(tx *store.Tx, args ...ir.Value) error {
				return f.d.Dispatch(ir.NewAction("INNER", ir.SourceServer, args...), ir.Creator{})
			},
		}},
	})
	require.NoError(t, err)
	f.listStore(t, "Inner", "INNER")
}

func TestNestedSibling(t *testing.T) {
	f := newFixture(t, WithEnabled(true))
	nestingStores(t, f)

	f.dispatch(t, "OUTER", ir.Int(1))

	all := f.recorder.All()
	require.Len(t, all, 2)
	outer, inner := all[0], all[1]
	assert.Equal(t, "OUTER", outer.Type)
	assert.Equal(t, "INNER", inner.Type)
	assert.Equal(t, outer.ID, inner.ParentID)
	assert.Equal(t, "Outer.relay", inner.ParentHandler)
	assert.Empty(t, outer.ParentID)
	assert.Equal(t, ir.SourceServer, inner.Source)

	assert.Same(t, outer, f.recorder.First())
	assert.Same(t, outer, f.recorder.Latest(), "outer completes last")
}

func TestNestedSuppressed(t *testing.T) {
	f := newFixture(t, WithEnabled(true), WithNestedPolicy(NestedSuppressed))
	nestingStores(t, f)

	f.dispatch(t, "OUTER", ir.Int(1))

	require.Equal(t, 1, f.recorder.Len())
	rec := f.recorder.Latest()
	assert.Equal(t, "OUTER", rec.Type)
	require.Len(t, rec.Handlers, 1)
	assert.Equal(t, "relay", rec.Handlers[0].Name)
}

func relayStore(t *testing.T, f *fixture, name, from string, to ...string) {
	t.Helper()
	_, err := store.New(f.d, store.Config{
		Name: name,
		Handlers: []store.Handler{{
			Name:  "relay",
			Types: []string{from},
			Fn: func(*store.Tx, ...ir.Value) error {
				for _, typ := range to {
					if err := f.d.Dispatch(ir.NewAction(typ, ir.SourceServer), ir.Creator{}); err != nil {
						return err
					}
				}
				return nil
			},
		}},
	})
	require.NoError(t, err)
}

func TestNestedSuppressedReportsInnerError(t *testing.T) {
	f := newFixture(t, WithEnabled(true), WithNestedPolicy(NestedSuppressed))
	relayStore(t, f, "Outer", "OUTER", "INNER")
	f.failingStore(t, "Inner", "INNER")

	f.dispatch(t, "OUTER")

	require.Equal(t, 1, f.recorder.Len())
	rec := f.recorder.Latest()
	assert.True(t, rec.HasErrors())
	require.Len(t, rec.Handlers, 1)
	assert.Equal(t, &ir.TraceError{
		Name:    "HandlerExecutionError",
		Message: "nested INNER: Inner.fail: boom",
	}, rec.Handlers[0].Error)
}

func TestNestedSuppressedKeepsFirstInnerError(t *testing.T) {
	f := newFixture(t, WithEnabled(true), WithNestedPolicy(NestedSuppressed))
	relayStore(t, f, "Outer", "OUTER", "MIDDLE")
	relayStore(t, f, "Middle", "MIDDLE", "FIRST", "SECOND")
	f.failingStore(t, "First", "FIRST")
	f.failingStore(t, "Second", "SECOND")

	f.dispatch(t, "OUTER")

	require.Equal(t, 1, f.recorder.Len())
	h := f.recorder.Latest().Handlers[0]
	require.NotNil(t, h.Error)
	assert.Equal(t, "nested FIRST: First.fail: boom", h.Error.Message)
}

func TestNestedSuppressedReportsInnerViewError(t *testing.T) {
	f := newFixture(t, WithEnabled(true), WithNestedPolicy(NestedSuppressed))
	relayStore(t, f, "Outer", "OUTER", "INNER")
	inner := f.listStore(t, "Inner", "INNER")

	m, err := view.CreateStateMixin(view.Config{Name: "Broken", Hooks: f.tracer, Bindings: []view.Binding{{Key: "i", Store: inner}}})
	require.NoError(t, err)
	_, err = m.Attach(view.ComponentFunc(func(ir.Object) error { return errors.New("render failed") }))
	require.NoError(t, err)

	f.dispatch(t, "OUTER")

	h := f.recorder.Latest().Handlers[0]
	assert.Empty(t, h.Views)
	assert.Equal(t, &ir.TraceError{
		Name:    "ViewRecomputeError",
		Message: "nested INNER: Broken: render failed",
	}, h.Error)
}

func TestEnableRestore(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.tracer.Enabled())

	restore := f.tracer.Enable()
	assert.True(t, f.tracer.Enabled())
	restore()
	assert.False(t, f.tracer.Enabled())
}

func TestSubscribeUnsubscribe(t *testing.T) {
	f := newFixture(t, WithEnabled(true))
	f.listStore(t, "A", "ADD")

	var got []string
	unsubscribe := f.tracer.Subscribe(SinkFunc(func(tr *ir.ActionTrace) {
		got = append(got, tr.Type)
	}))
	f.tracer.Subscribe(SinkFunc(func(*ir.ActionTrace) { panic("bad sink") }))

	f.dispatch(t, "ADD", ir.Int(1))
	unsubscribe()
	unsubscribe()
	f.dispatch(t, "ADD", ir.Int(2))

	assert.Equal(t, []string{"ADD"}, got)
	assert.Equal(t, 2, f.recorder.Len())
}

func TestRecorderDispose(t *testing.T) {
	f := newFixture(t, WithEnabled(true))
	f.listStore(t, "A", "ADD")

	f.dispatch(t, "ADD", ir.Int(1))
	f.recorder.Dispose()
	f.dispatch(t, "ADD", ir.Int(2))

	assert.Equal(t, 0, f.recorder.Len())
}

func TestRecorderByType(t *testing.T) {
	f := newFixture(t, WithEnabled(true))
	f.listStore(t, "A", "ADD")
	f.listStore(t, "B", "OTHER")

	f.dispatch(t, "ADD", ir.Int(1))
	f.dispatch(t, "OTHER", ir.Int(2))
	f.dispatch(t, "ADD", ir.Int(3))

	adds := f.recorder.ByType("ADD")
	require.Len(t, adds, 2)
	assert.Less(t, adds[0].Seq, adds[1].Seq)

	f.recorder.Reset()
	assert.Equal(t, 0, f.recorder.Len())
}

func TestParseNestedPolicy(t *testing.T) {
	p, err := ParseNestedPolicy("")
	require.NoError(t, err)
	assert.Equal(t, NestedSibling, p)

	p, err = ParseNestedPolicy("suppressed")
	require.NoError(t, err)
	assert.Equal(t, NestedSuppressed, p)
	assert.Equal(t, "suppressed", p.String())

	_, err = ParseNestedPolicy("flat")
	assert.True(t, ir.IsConfigurationError(err))
}

func TestDisposeStopsTracing(t *testing.T) {
	f := newFixture(t, WithEnabled(true))
	f.listStore(t, "A", "ADD")

	f.tracer.Dispose()
	f.dispatch(t, "ADD", ir.Int(1))
	assert.False(t, f.tracer.Enabled())
	assert.Equal(t, 0, f.recorder.Len())
}
