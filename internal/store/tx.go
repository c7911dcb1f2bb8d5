package store

import (
	"sync/atomic"

	"github.com/roach88/marty/internal/ir"
)

// Tx is the handle a handler receives. It is only valid during the
// handler call.
type Tx struct {
	store  *Store
	action ir.Action
	closed atomic.Bool
}

func (tx *Tx) close() {
	tx.closed.Store(true)
}

// State returns the live state. Objects and arrays may be mutated in
// place; listeners only learn about it through HasChanged.
func (tx *Tx) State() ir.Value {
	return tx.store.live()
}

// Object returns the live state as an object, or nil if it is not one.
func (tx *Tx) Object() ir.Object {
	obj, _ := tx.store.live().(ir.Object)
	return obj
}

// SetState replaces the state. Ignored once the handler has returned.
func (tx *Tx) SetState(v ir.Value) {
	if tx.closed.Load() {
		tx.store.logger.Warn("SetState after handler returned", "store", tx.store.name, "action", tx.action.Type)
		return
	}
	tx.store.setState(v)
}

// HasChanged notifies change listeners synchronously, in subscription
// order. It returns the first listener error.
func (tx *Tx) HasChanged() error {
	if tx.closed.Load() {
		return ir.Errorf(ir.KindConfiguration, tx.store.name, "HasChanged called after handler returned")
	}
	return tx.store.notify()
}

// Store returns the store the handler belongs to.
func (tx *Tx) Store() *Store {
	return tx.store
}

// Action returns the action being handled.
func (tx *Tx) Action() ir.Action {
	return tx.action
}
