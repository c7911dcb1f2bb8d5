// Package tracelog provides SQLite-backed durable storage for action traces.
//
// The log is append-only with three tables:
//   - actions: one row per trace record, with its canonical JSON
//   - handlers: one row per handler step, indexed by store
//   - views: one row per view recompute caused by a handler
//
// # Ordering
//
// All reads order by seq ASC, id ASC COLLATE BINARY. Seq comes from the
// tracer's logical clock, so ordering never depends on wall time.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// A Log is a diagnostics sink: subscribe it to a tracer and every finalized
// record is written in one transaction.
package tracelog
