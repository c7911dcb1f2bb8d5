package ir

import "fmt"

// AppSpec is a compiled declarative application: stores with ordered
// handlers, action creators and views.
type AppSpec struct {
	Name     string        `json:"name"`
	Stores   []StoreSpec   `json:"stores"`
	Creators []CreatorSpec `json:"creators"`
	Views    []ViewSpec    `json:"views"`
}

// StoreSpec declares one store.
type StoreSpec struct {
	Name         string        `json:"name"`
	InitialState Value         `json:"initial_state"`
	Handlers     []HandlerSpec `json:"handlers"`
}

// HandlerSpec declares one handler. Ops run in order against live state;
// Notify calls HasChanged after the last op.
type HandlerSpec struct {
	Name   string   `json:"name"`
	Types  []string `json:"types"`
	Ops    []OpSpec `json:"ops"`
	Notify bool     `json:"notify"`
}

// OpKind names a declarative state operation.
type OpKind string

const (
	OpPush      OpKind = "push"
	OpSet       OpKind = "set"
	OpMerge     OpKind = "merge"
	OpUnset     OpKind = "unset"
	OpIncrement OpKind = "increment"
	OpFail      OpKind = "fail"
	OpDispatch  OpKind = "dispatch"
)

// Valid reports whether k is a known op.
func (k OpKind) Valid() bool {
	switch k {
	case OpPush, OpSet, OpMerge, OpUnset, OpIncrement, OpFail, OpDispatch:
		return true
	}
	return false
}

// OpSpec is one declarative state operation.
//
// Path addresses a location inside an object state; an empty path is the
// state root. The operand is Value, or the handler argument at index Arg
// when Arg is set.
type OpSpec struct {
	Op      OpKind   `json:"op"`
	Path    []string `json:"path,omitempty"`
	Value   Value    `json:"value,omitempty"`
	Arg     *int     `json:"arg,omitempty"`
	By      int64    `json:"by,omitempty"`
	Message string   `json:"message,omitempty"`
	Action  string   `json:"action,omitempty"`
	Source  Source   `json:"source,omitempty"`
}

// Operand resolves the op's operand against handler arguments.
// A missing argument resolves to Null.
func (o OpSpec) Operand(args Array) Value {
	if o.Arg != nil {
		if *o.Arg < len(args) {
			return Clone(args[*o.Arg])
		}
		return Null{}
	}
	return Clone(o.Value)
}

// CreatorSpec declares an action creators object.
type CreatorSpec struct {
	Name    string       `json:"name"`
	Methods []MethodSpec `json:"methods"`
}

// MethodSpec maps a creator method to the action it dispatches.
type MethodSpec struct {
	Name   string `json:"name"`
	Action string `json:"action"`
	Source Source `json:"source"`
}

// ViewSpec declares a view and its ordered store bindings.
type ViewSpec struct {
	Name     string        `json:"name"`
	Bindings []BindingSpec `json:"bindings"`
}

// BindingSpec binds a state key to a store.
type BindingSpec struct {
	Key   string `json:"key"`
	Store string `json:"store"`
}

// Store returns the store spec with the given name.
func (a *AppSpec) Store(name string) (*StoreSpec, bool) {
	for i := range a.Stores {
		if a.Stores[i].Name == name {
			return &a.Stores[i], true
		}
	}
	return nil, false
}

// Creator returns the creator spec with the given name.
func (a *AppSpec) Creator(name string) (*CreatorSpec, bool) {
	for i := range a.Creators {
		if a.Creators[i].Name == name {
			return &a.Creators[i], true
		}
	}
	return nil, false
}

// Validate checks cross references: unique names, known ops, bindings
// that name declared stores and methods with valid sources.
func (a *AppSpec) Validate() error {
	stores := make(map[string]bool, len(a.Stores))
	for _, s := range a.Stores {
		if s.Name == "" {
			return Errorf(KindConfiguration, "validate", "store with empty name")
		}
		if stores[s.Name] {
			return Errorf(KindConfiguration, "validate", "duplicate store %q", s.Name)
		}
		stores[s.Name] = true
		for _, h := range s.Handlers {
			if len(h.Types) == 0 {
				return Errorf(KindConfiguration, "validate", "store %q handler %q has no action types", s.Name, h.Name)
			}
			for i, op := range h.Ops {
				if err := op.validate(); err != nil {
					return Errorf(KindConfiguration, "validate", "store %q handler %q op[%d]: %v", s.Name, h.Name, i, err)
				}
			}
		}
	}

	creators := make(map[string]bool, len(a.Creators))
	for _, c := range a.Creators {
		if creators[c.Name] {
			return Errorf(KindConfiguration, "validate", "duplicate creator %q", c.Name)
		}
		creators[c.Name] = true
		for _, m := range c.Methods {
			if m.Action == "" {
				return Errorf(KindConfiguration, "validate", "creator %q method %q has no action", c.Name, m.Name)
			}
			if !m.Source.Valid() {
				return Errorf(KindConfiguration, "validate", "creator %q method %q has invalid source %q", c.Name, m.Name, m.Source)
			}
		}
	}

	views := make(map[string]bool, len(a.Views))
	for _, v := range a.Views {
		if views[v.Name] {
			return Errorf(KindConfiguration, "validate", "duplicate view %q", v.Name)
		}
		views[v.Name] = true
		for _, b := range v.Bindings {
			if !stores[b.Store] {
				return Errorf(KindConfiguration, "validate", "view %q binds %q to unknown store %q", v.Name, b.Key, b.Store)
			}
		}
	}
	return nil
}

func (o OpSpec) validate() error {
	if !o.Op.Valid() {
		return fmt.Errorf("unknown op %q", o.Op)
	}
	switch o.Op {
	case OpDispatch:
		if o.Action == "" {
			return fmt.Errorf("dispatch op needs an action")
		}
		if !o.Source.Valid() {
			return fmt.Errorf("dispatch op has invalid source %q", o.Source)
		}
	case OpUnset, OpIncrement:
		if len(o.Path) == 0 {
			return fmt.Errorf("%s op needs a path", o.Op)
		}
	case OpFail:
		if o.Message == "" {
			return fmt.Errorf("fail op needs a message")
		}
	}
	return nil
}
