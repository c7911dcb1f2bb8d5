// Package harness runs scenario tests against compiled Marty applications.
//
// A scenario names a CUE application, calls action creator methods in
// order, and asserts on the recorded action traces, the final store states
// and the state of every view.
//
// # Scenario Format
//
//	name: add_todo
//	description: "Adding a todo notifies the list view"
//	app: ../apps/todos.cue      # file or directory, relative to the scenario
//	app_name: todos             # optional when the file declares one app
//	diagnostics: true           # default true; false propagates handler errors
//	nested: sibling             # sibling | suppressed
//	flow:
//	  - call: TodoActions.add
//	    args: ["milk"]
//	  - call: TodoActions.explode
//	    expect_error: boom      # the call must fail with this substring
//	assertions:
//	  - type: trace_count
//	    action: ADD_TODO
//	    count: 1
//	  - type: final_state
//	    store: TodoStore
//	    expect: {items: ["milk"], count: 1}
//
// # Assertion Types
//
//   - trace_contains: a record with the action type (and optional args,
//     source, creator "Name.method" and parent "Store.handler") exists
//   - trace_order: the action types first appear in the given order
//   - trace_count: the action type was recorded exactly count times
//   - handler_error: a handler of store (optionally named handler, for
//     action) captured an error whose message contains message
//   - view_count: the view's component re-rendered exactly count times
//   - final_state: the store's final state equals expect
//   - view_state: the view's last rendered state equals expect
//
// # Deterministic Testing
//
// Every run uses testutil.DeterministicClock for seq and
// testutil.SequentialIDGenerator for record IDs ("trace-1", "trace-2"...),
// so traces are reproducible and can be compared against golden files.
package harness
