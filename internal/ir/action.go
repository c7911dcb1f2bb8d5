package ir

import (
	"encoding/json"
	"fmt"
)

// Source records where an action originated.
type Source string

const (
	// SourceView marks actions triggered by user interaction.
	SourceView Source = "VIEW"

	// SourceServer marks actions triggered by server responses.
	SourceServer Source = "SERVER"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceView || s == SourceServer
}

// ParseSource parses "VIEW" or "SERVER". Empty defaults to VIEW.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case "":
		return SourceView, nil
	case SourceView, SourceServer:
		return Source(s), nil
	default:
		return "", fmt.Errorf("invalid action source %q (want VIEW or SERVER)", s)
	}
}

// Action is a dispatched action. Immutable once dispatched.
type Action struct {
	Type      string `json:"type"`
	Arguments Array  `json:"arguments"`
	Source    Source `json:"source"`
}

// NewAction builds an action, cloning args so later caller mutation
// cannot reach the dispatched action.
func NewAction(actionType string, source Source, args ...Value) Action {
	cloned := make(Array, len(args))
	for i, a := range args {
		cloned[i] = Clone(a)
	}
	return Action{Type: actionType, Arguments: cloned, Source: source}
}

// Validate checks the action is dispatchable.
func (a Action) Validate() error {
	if a.Type == "" {
		return Errorf(KindConfiguration, "dispatch", "action type is empty")
	}
	if !a.Source.Valid() {
		return Errorf(KindConfiguration, "dispatch", "action %q has invalid source %q", a.Type, a.Source)
	}
	return nil
}

// Creator attributes an action to the action creator method that
// dispatched it.
type Creator struct {
	// Name is the action creators object's display name.
	Name string `json:"name"`

	// Action is the method name that was called.
	Action string `json:"action"`

	// Arguments are the arguments the method was called with.
	Arguments Array `json:"arguments"`
}

// IsZero reports whether no attribution is present.
func (c Creator) IsZero() bool {
	return c.Name == "" && c.Action == "" && len(c.Arguments) == 0
}

// Value returns the trace form of the attribution.
func (c Creator) Value() Value {
	if c.IsZero() {
		return Null{}
	}
	return Object{
		"name":      String(c.Name),
		"type":      String("ActionCreator"),
		"action":    String(c.Action),
		"arguments": cloneArray(c.Arguments),
	}
}

// MarshalJSON emits the trace form.
func (c Creator) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Value())
}

func cloneArray(arr Array) Array {
	if arr == nil {
		return Array{}
	}
	return Clone(arr).(Array)
}
