package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/marty/internal/dispatcher"
	"github.com/roach88/marty/internal/ir"
)

// NestedPolicy decides how an action dispatched from inside a handler is
// recorded.
type NestedPolicy int

const (
	// NestedSibling records a nested action as its own record, linked to
	// the issuing record and handler through ParentID and ParentHandler.
	NestedSibling NestedPolicy = iota

	// NestedSuppressed records only top-level actions. Nested handlers
	// still run with error isolation but leave no entries of their own; the
	// first error they capture is reported on the enclosing recorded
	// handler.
	NestedSuppressed
)

func (p NestedPolicy) String() string {
	if p == NestedSuppressed {
		return "suppressed"
	}
	return "sibling"
}

// ParseNestedPolicy parses "sibling" or "suppressed". Empty means sibling.
func ParseNestedPolicy(s string) (NestedPolicy, error) {
	switch s {
	case "", "sibling":
		return NestedSibling, nil
	case "suppressed":
		return NestedSuppressed, nil
	default:
		return 0, ir.Errorf(ir.KindConfiguration, "nested policy", "unknown nested policy %q (want sibling or suppressed)", s)
	}
}

// frame is the tracer state of one in-flight action.
//
// State machine per action:
//
//	ACTION_STARTED -> (HANDLER_RUNNING -> VIEW_RUNNING*)* -> ACTION_COMPLETE
//
// current is the index of the running handler in record.Handlers, -1 when
// no handler is running.
type frame struct {
	traced  bool
	record  *ir.ActionTrace
	current int

	// runningHandler is "Store.handler" of the running step, kept even when
	// record is nil so nested actions can still name their parent.
	runningHandler string

	// host is the nearest recording ancestor of a suppressed frame.
	host       *frame
	actionType string

	action  spanContext
	handler spanContext
}

func (f *frame) recording() bool {
	return f.record != nil
}

// Tracer builds one nested trace record per dispatched action.
//
// Tracer implements dispatcher.Hooks and view.Hooks. While enabled it
// snapshots state around every handler and view step, captures their
// errors instead of propagating them and delivers each finalized record to
// its sinks. While disabled it records nothing and errors propagate.
//
// Thread-safety: configuration and subscription are safe from any
// goroutine. The frame stack belongs to the single dispatch chain.
type Tracer struct {
	mu      sync.Mutex
	enabled bool
	policy  NestedPolicy
	frames  []*frame
	sinks   map[int]Sink
	sinkSeq int
	seq     Sequencer
	ids     IDGenerator
	logger  *slog.Logger
	metrics *Metrics
	otel    trace.Tracer
	rootCtx context.Context
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithNestedPolicy sets the nested action policy. Default: NestedSibling.
func WithNestedPolicy(p NestedPolicy) Option {
	return func(t *Tracer) {
		t.policy = p
	}
}

// WithEnabled sets the initial enabled state. Default: disabled.
func WithEnabled(enabled bool) Option {
	return func(t *Tracer) {
		t.enabled = enabled
	}
}

// WithSequencer sets the seq source. Default: NewClock().
func WithSequencer(s Sequencer) Option {
	return func(t *Tracer) {
		if s != nil {
			t.seq = s
		}
	}
}

// WithIDGenerator sets the record ID source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(t *Tracer) {
		if g != nil {
			t.ids = g
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracer) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics. Default: none.
func WithMetrics(m *Metrics) Option {
	return func(t *Tracer) {
		t.metrics = m
	}
}

// WithTracerProvider sets the OpenTelemetry provider spans are created
// from. Default: the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(t *Tracer) {
		if tp != nil {
			t.otel = tp.Tracer(instrumentationName)
		}
	}
}

// WithContext sets the parent context of top-level action spans.
func WithContext(ctx context.Context) Option {
	return func(t *Tracer) {
		if ctx != nil {
			t.rootCtx = ctx
		}
	}
}

// New creates a disabled Tracer.
func New(opts ...Option) *Tracer {
	t := &Tracer{
		policy:  NestedSibling,
		sinks:   make(map[int]Sink),
		seq:     NewClock(),
		ids:     UUIDv7Generator{},
		logger:  slog.Default(),
		otel:    otel.Tracer(instrumentationName),
		rootCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ dispatcher.Hooks = (*Tracer)(nil)

// SetEnabled turns tracing on or off. Takes effect at the next action
// start; an in-flight action keeps the mode it started with.
func (t *Tracer) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

// Enabled reports whether tracing is on.
func (t *Tracer) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Enable turns tracing on and returns a func restoring the previous state.
//
//	defer tracer.Enable()()
func (t *Tracer) Enable() (restore func()) {
	t.mu.Lock()
	prev := t.enabled
	t.enabled = true
	t.mu.Unlock()

	return func() { t.SetEnabled(prev) }
}

// Policy returns the nested action policy.
func (t *Tracer) Policy() NestedPolicy {
	return t.policy
}

// Subscribe registers a sink for finalized records. Sinks are called in
// subscription order.
func (t *Tracer) Subscribe(s Sink) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sinkSeq++
	id := t.sinkSeq
	t.sinks[id] = s

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.sinks, id)
		})
	}
}

// NewRecorder returns a Recorder subscribed to this tracer.
func (t *Tracer) NewRecorder() *Recorder {
	r := NewRecorder()
	r.unsubscribe = t.Subscribe(r)
	return r
}

// Dispose drops every sink and disables the tracer. Idempotent.
func (t *Tracer) Dispose() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = false
	t.sinks = make(map[int]Sink)
}

func (t *Tracer) top() *frame {
	if len(t.frames) == 0 {
		return nil
	}
	return t.frames[len(t.frames)-1]
}

// ActionStarted pushes a frame for the action. Implements dispatcher.Hooks.
func (t *Tracer) ActionStarted(action ir.Action, creator ir.Creator, depth int) {
	t.mu.Lock()
	enabled := t.enabled
	parent := t.top()
	t.mu.Unlock()

	f := &frame{current: -1, actionType: action.Type}
	if !enabled {
		t.push(f)
		return
	}
	f.traced = true

	parentCtx := t.rootCtx
	if parent != nil && parent.handler.ctx != nil {
		parentCtx = parent.handler.ctx
	}
	f.action = t.startActionSpan(parentCtx, action, creator, depth)
	t.metrics.actionStarted(action.Type, string(action.Source), depth)

	nested := parent != nil && parent.traced
	if nested && t.policy == NestedSuppressed {
		f.host = parent.host
		if parent.recording() {
			f.host = parent
		}
		t.push(f)
		return
	}

	rec := &ir.ActionTrace{
		ID:        t.ids.Generate(),
		Seq:       t.seq.Next(),
		Type:      action.Type,
		Source:    action.Source,
		Arguments: cloneArgs(action.Arguments),
		Creator: ir.Creator{
			Name:      creator.Name,
			Action:    creator.Action,
			Arguments: cloneArgs(creator.Arguments),
		},
		Handlers: []ir.HandlerTrace{},
	}
	if nested {
		rec.ParentHandler = parent.runningHandler
		if parent.record != nil {
			rec.ParentID = parent.record.ID
		}
	}
	f.record = rec
	t.push(f)
}

// Handler runs one handler step. Implements dispatcher.Hooks.
func (t *Tracer) Handler(info dispatcher.HandlerInfo, run func() error) error {
	f := t.currentFrame()
	if f == nil || !f.traced {
		return run()
	}

	name := info.Store + "." + info.Handler
	f.runningHandler = name
	f.handler = t.startHandlerSpan(f.action.ctx, info.Store, info.Handler)

	idx := -1
	if f.recording() {
		f.record.Handlers = append(f.record.Handlers, ir.HandlerTrace{
			Store: info.Store,
			Name:  info.Handler,
			State: ir.StateChange{Before: snapshot(info.Snapshot)},
			Views: []ir.ViewTrace{},
		})
		idx = len(f.record.Handlers) - 1
		f.current = idx
	}

	err := run()

	if idx >= 0 {
		h := &f.record.Handlers[idx]
		h.State.After = snapshot(info.Snapshot)
		if err != nil {
			h.Error = ir.NewTraceError(err)
		}
	} else if err != nil {
		t.foldSuppressed(f, name, err)
	}
	if err != nil {
		t.metrics.handlerFailed(info.Store, info.Handler)
		t.logger.Warn("handler error captured",
			"action", info.Action.Type,
			"store", info.Store,
			"handler", info.Handler,
			"error", err,
		)
	}

	f.handler.end(err)
	f.handler = spanContext{}
	f.current = -1
	f.runningHandler = ""
	return nil
}

// View runs one view recompute step. Implements view.Hooks.
//
// Outside a traced handler the step runs bare and its error propagates.
func (t *Tracer) View(name string, state func() ir.Value, fn func() error) error {
	f := t.currentFrame()
	if f == nil || !f.traced || f.runningHandler == "" {
		return fn()
	}

	sc := t.startViewSpan(f.handler.ctx, name)

	var before ir.Value
	if f.recording() && f.current >= 0 {
		before = snapshot(state)
	}

	err := fn()

	if f.recording() && f.current >= 0 {
		h := &f.record.Handlers[f.current]
		h.Views = append(h.Views, ir.ViewTrace{
			Name:  name,
			Error: ir.NewTraceError(err),
			State: ir.StateChange{Before: before, After: snapshot(state)},
		})
	} else if err != nil {
		t.foldSuppressed(f, name, err)
	}
	if err != nil {
		t.metrics.viewFailed(name)
		t.logger.Warn("view error captured",
			"view", name,
			"handler", f.runningHandler,
			"error", err,
		)
	}

	sc.end(err)
	return nil
}

// ActionCompleted pops the frame and delivers its record. Implements
// dispatcher.Hooks.
func (t *Tracer) ActionCompleted(action ir.Action, depth int) {
	t.mu.Lock()
	if len(t.frames) == 0 {
		t.mu.Unlock()
		t.logger.Error("action completed without a frame", "action", action.Type, "depth", depth)
		return
	}
	f := t.frames[len(t.frames)-1]
	t.frames = t.frames[:len(t.frames)-1]

	sinks := make([]Sink, 0, len(t.sinks))
	for id := 1; id <= t.sinkSeq; id++ {
		if s, ok := t.sinks[id]; ok {
			sinks = append(sinks, s)
		}
	}
	t.mu.Unlock()

	if !f.traced {
		return
	}

	var actionErr error
	if f.recording() && f.record.HasErrors() {
		actionErr = ir.Errorf(ir.KindHandlerExecution, action.Type, "action completed with captured errors")
	}
	f.action.end(actionErr)

	if !f.recording() {
		return
	}

	t.logger.Debug("trace recorded",
		"id", f.record.ID,
		"seq", f.record.Seq,
		"action", f.record.Type,
		"handlers", len(f.record.Handlers),
		"parent_id", f.record.ParentID,
	)
	for _, s := range sinks {
		SafeRecord(s, f.record)
	}
}

// foldSuppressed reports an error captured in a suppressed frame on the
// host's running handler. The host's own error and an earlier folded error
// take precedence.
func (t *Tracer) foldSuppressed(f *frame, step string, err error) {
	host := f.host
	if host == nil || host.current < 0 {
		return
	}
	h := &host.record.Handlers[host.current]
	if h.Error != nil {
		return
	}
	te := ir.NewTraceError(err)
	te.Message = fmt.Sprintf("nested %s: %s: %s", f.actionType, step, te.Message)
	h.Error = te
}

func (t *Tracer) push(f *frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = append(t.frames, f)
}

func (t *Tracer) currentFrame() *frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.top()
}

// snapshot clones the live state so later mutation cannot reach the
// record.
func snapshot(state func() ir.Value) ir.Value {
	if state == nil {
		return ir.Null{}
	}
	return ir.Clone(state())
}

func cloneArgs(args ir.Array) ir.Array {
	if args == nil {
		return ir.Array{}
	}
	return ir.Clone(args).(ir.Array)
}
