// Package dispatcher implements the central action dispatcher.
//
// A dispatched action is delivered synchronously to every handler
// registered for its type, in registration order. Handlers may dispatch
// again; the nested dispatch runs to completion depth-first before the
// outer handler continues.
//
// ARCHITECTURE:
//
// Single Logical Thread:
// One dispatch chain runs on the caller's goroutine from start to finish.
// Registration is guarded by a mutex and may happen from any goroutine, but
// concurrent Dispatch calls are not supported.
//
// Hooks:
// Every action start, handler step and action completion goes through the
// Hooks interface. The hooks decide the failure policy:
//   - NopHooks propagate the first handler error (fail-fast)
//   - diagnostics.Tracer captures errors into the trace and continues
//
// Termination:
// Re-entrant chains are bounded by a maximum depth (DefaultMaxDepth).
// Exceeding it fails the offending Dispatch with DispatchDepthExceeded.
package dispatcher
