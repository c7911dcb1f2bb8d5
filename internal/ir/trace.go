package ir

import (
	"encoding/json"
	"fmt"
)

// StateChange holds the before and after snapshots of one step.
// Both are deep clones taken by the tracer.
type StateChange struct {
	Before Value
	After  Value
}

func (sc StateChange) value() Object {
	return Object{
		"before": Clone(sc.Before),
		"after":  Clone(sc.After),
	}
}

// ViewTrace records one view recompute caused by a handler.
type ViewTrace struct {
	Name  string
	Error *TraceError
	State StateChange
}

// HandlerTrace records one store handler invocation.
type HandlerTrace struct {
	Store string
	Name  string
	Error *TraceError
	State StateChange

	// Views lists recomputes of views bound to Store, in binding order.
	Views []ViewTrace
}

// ActionTrace is the root diagnostic record of one dispatched action.
type ActionTrace struct {
	// ID is a UUIDv7 assigned by the tracer.
	ID string

	// Seq orders records by dispatch start within a tracer.
	Seq int64

	// ParentID and ParentHandler link a nested dispatch to the record and
	// handler that issued it. Empty for top-level actions.
	ParentID      string
	ParentHandler string

	Type      string
	Source    Source
	Arguments Array
	Creator   Creator
	Handlers  []HandlerTrace
}

// ToJSON returns the record's serialized structure:
//
//	{type, source, arguments,
//	 creator: {name, type: "ActionCreator", action, arguments},
//	 handlers: [{store, type: "Store", name, error, state: {before, after},
//	             views: [{name, error, state: {before, after}}]}]}
//
// Bookkeeping fields (ID, Seq, parent links) are not part of it.
func (t *ActionTrace) ToJSON() Object {
	handlers := make(Array, 0, len(t.Handlers))
	for _, h := range t.Handlers {
		views := make(Array, 0, len(h.Views))
		for _, v := range h.Views {
			views = append(views, Object{
				"name":  String(v.Name),
				"error": v.Error.Value(),
				"state": v.State.value(),
			})
		}
		handlers = append(handlers, Object{
			"store": String(h.Store),
			"type":  String("Store"),
			"name":  String(h.Name),
			"error": h.Error.Value(),
			"state": h.State.value(),
			"views": views,
		})
	}

	return Object{
		"type":      String(t.Type),
		"source":    String(string(t.Source)),
		"arguments": cloneArray(t.Arguments),
		"creator":   t.Creator.Value(),
		"handlers":  handlers,
	}
}

// MarshalJSON emits the ToJSON structure.
func (t *ActionTrace) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.ToJSON())
}

// HasErrors reports whether any handler or view step captured an error.
func (t *ActionTrace) HasErrors() bool {
	for _, h := range t.Handlers {
		if h.Error != nil {
			return true
		}
		for _, v := range h.Views {
			if v.Error != nil {
				return true
			}
		}
	}
	return false
}

// Action returns the dispatched action this record describes.
func (t *ActionTrace) Action() Action {
	return Action{Type: t.Type, Arguments: cloneArray(t.Arguments), Source: t.Source}
}

// ParseActionTrace rebuilds a record from its ToJSON structure.
// Bookkeeping fields are left empty.
func ParseActionTrace(obj Object) (*ActionTrace, error) {
	t := &ActionTrace{}

	var err error
	if t.Type, err = stringField(obj, "type"); err != nil {
		return nil, err
	}
	src, err := stringField(obj, "source")
	if err != nil {
		return nil, err
	}
	if t.Source, err = ParseSource(src); err != nil {
		return nil, err
	}
	if t.Arguments, err = arrayField(obj, "arguments"); err != nil {
		return nil, err
	}

	if c, ok := obj["creator"].(Object); ok {
		if t.Creator.Name, err = stringField(c, "name"); err != nil {
			return nil, fmt.Errorf("creator: %w", err)
		}
		if t.Creator.Action, err = stringField(c, "action"); err != nil {
			return nil, fmt.Errorf("creator: %w", err)
		}
		if t.Creator.Arguments, err = arrayField(c, "arguments"); err != nil {
			return nil, fmt.Errorf("creator: %w", err)
		}
	}

	handlers, err := arrayField(obj, "handlers")
	if err != nil {
		return nil, err
	}
	for i, raw := range handlers {
		h, ok := raw.(Object)
		if !ok {
			return nil, fmt.Errorf("handlers[%d]: expected object, got %s", i, KindOf(raw))
		}
		ht, err := parseHandlerTrace(h)
		if err != nil {
			return nil, fmt.Errorf("handlers[%d]: %w", i, err)
		}
		t.Handlers = append(t.Handlers, ht)
	}
	return t, nil
}

func parseHandlerTrace(h Object) (HandlerTrace, error) {
	var ht HandlerTrace
	var err error
	if ht.Store, err = stringField(h, "store"); err != nil {
		return ht, err
	}
	if ht.Name, err = stringField(h, "name"); err != nil {
		return ht, err
	}
	if ht.Error, err = traceErrorField(h); err != nil {
		return ht, err
	}
	if ht.State, err = stateField(h); err != nil {
		return ht, err
	}

	views, err := arrayField(h, "views")
	if err != nil {
		return ht, err
	}
	for i, raw := range views {
		v, ok := raw.(Object)
		if !ok {
			return ht, fmt.Errorf("views[%d]: expected object, got %s", i, KindOf(raw))
		}
		var vt ViewTrace
		if vt.Name, err = stringField(v, "name"); err != nil {
			return ht, fmt.Errorf("views[%d]: %w", i, err)
		}
		if vt.Error, err = traceErrorField(v); err != nil {
			return ht, fmt.Errorf("views[%d]: %w", i, err)
		}
		if vt.State, err = stateField(v); err != nil {
			return ht, fmt.Errorf("views[%d]: %w", i, err)
		}
		ht.Views = append(ht.Views, vt)
	}
	return ht, nil
}

func stringField(obj Object, key string) (string, error) {
	s, ok := obj[key].(String)
	if !ok {
		return "", fmt.Errorf("field %q: expected string, got %s", key, KindOf(obj[key]))
	}
	return string(s), nil
}

func arrayField(obj Object, key string) (Array, error) {
	switch v := obj[key].(type) {
	case Array:
		return v, nil
	case nil, Null:
		return Array{}, nil
	default:
		return nil, fmt.Errorf("field %q: expected array, got %s", key, KindOf(v))
	}
}

func traceErrorField(obj Object) (*TraceError, error) {
	switch v := obj["error"].(type) {
	case nil, Null:
		return nil, nil
	case Object:
		name, err := stringField(v, "name")
		if err != nil {
			return nil, fmt.Errorf("error: %w", err)
		}
		msg, err := stringField(v, "message")
		if err != nil {
			return nil, fmt.Errorf("error: %w", err)
		}
		return &TraceError{Name: name, Message: msg}, nil
	default:
		return nil, fmt.Errorf("field \"error\": expected object or null, got %s", KindOf(v))
	}
}

func stateField(obj Object) (StateChange, error) {
	st, ok := obj["state"].(Object)
	if !ok {
		return StateChange{}, fmt.Errorf("field \"state\": expected object, got %s", KindOf(obj["state"]))
	}
	return StateChange{Before: Clone(st["before"]), After: Clone(st["after"])}, nil
}
