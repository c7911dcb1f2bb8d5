// Package diagnostics builds one trace record per dispatched action.
//
// The Tracer plugs into the dispatcher as its Hooks and into views as their
// view.Hooks. For every action it keeps a frame on a stack and fills in the
// record as handlers and views run:
//
//	action -> creator -> handlers[] -> views[]
//
// Each handler and view step is bracketed by deep-cloned before/after
// snapshots. Errors are captured into the step instead of propagating, so
// one failing handler never hides the others.
//
// Finalized records go to Sinks. Recorder is the in-memory sink tests and
// the CLI read from; tracelog.Store persists records to SQLite.
//
// An enabled tracer also emits one OpenTelemetry span per action with
// child spans per handler and view, and updates Prometheus metrics when
// configured with WithMetrics.
package diagnostics
