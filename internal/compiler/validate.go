package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/marty/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedIRType = "E100" // unsupported IR type for validation

	// Store errors (E101-E109)
	ErrStoreNameEmpty   = "E101" // store name is required
	ErrHandlerNoTypes   = "E102" // handler must handle at least one action type
	ErrInvalidOp        = "E103" // unknown op or missing op field
	ErrInvalidSource    = "E104" // source must be VIEW or SERVER
	ErrDuplicateName    = "E105" // duplicate store/handler/creator/method/view name
	ErrFloatForbidden   = "E106" // float values not allowed
	ErrInitialNotObject = "E107" // path ops need an object initial state
	ErrMethodNoAction   = "E108" // creator method must name an action
	ErrEmptyActionType  = "E109" // action type is empty

	// View errors (E110-E119)
	ErrUnknownStore    = "E110" // binding refers to an undeclared store
	ErrDuplicateKey    = "E111" // binding key used twice in one view
	ErrEmptyBindingKey = "E112" // binding key is empty
	ErrViewNoBindings  = "E113" // view binds nothing
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates a compiled app against schema rules.
// Returns all errors found (does not fail-fast).
func Validate(v any) []ValidationError {
	switch spec := v.(type) {
	case *ir.AppSpec:
		return validateAppSpec(spec)
	case ir.AppSpec:
		return validateAppSpec(&spec)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported IR type: %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

func validateAppSpec(spec *ir.AppSpec) []ValidationError {
	var errs []ValidationError

	storeNames := make(map[string]bool)
	for i, store := range spec.Stores {
		field := fmt.Sprintf("stores[%d]", i)

		// E101: store name is required
		if strings.TrimSpace(store.Name) == "" {
			errs = append(errs, ValidationError{
				Field:   field + ".name",
				Message: "store name is required and must be non-empty",
				Code:    ErrStoreNameEmpty,
			})
		}

		// E105: duplicate store name
		if storeNames[store.Name] {
			errs = append(errs, ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("duplicate store name: %q", store.Name),
				Code:    ErrDuplicateName,
			})
		}
		storeNames[store.Name] = true

		errs = append(errs, validateStore(field, store)...)
	}

	creatorNames := make(map[string]bool)
	for i, creator := range spec.Creators {
		field := fmt.Sprintf("creators[%d]", i)

		if creatorNames[creator.Name] {
			errs = append(errs, ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("duplicate creator name: %q", creator.Name),
				Code:    ErrDuplicateName,
			})
		}
		creatorNames[creator.Name] = true

		methodNames := make(map[string]bool)
		for j, method := range creator.Methods {
			mfield := fmt.Sprintf("%s.methods[%d]", field, j)
			if methodNames[method.Name] {
				errs = append(errs, ValidationError{
					Field:   mfield + ".name",
					Message: fmt.Sprintf("duplicate method name: %q", method.Name),
					Code:    ErrDuplicateName,
				})
			}
			methodNames[method.Name] = true

			// E108: method must name an action
			if strings.TrimSpace(method.Action) == "" {
				errs = append(errs, ValidationError{
					Field:   mfield + ".action",
					Message: fmt.Sprintf("method %q must name the action it dispatches", method.Name),
					Code:    ErrMethodNoAction,
				})
			}

			// E104: source
			if !method.Source.Valid() {
				errs = append(errs, ValidationError{
					Field:   mfield + ".source",
					Message: fmt.Sprintf("invalid source %q, must be \"VIEW\" or \"SERVER\"", method.Source),
					Code:    ErrInvalidSource,
				})
			}
		}
	}

	viewNames := make(map[string]bool)
	for i, view := range spec.Views {
		field := fmt.Sprintf("views[%d]", i)

		if viewNames[view.Name] {
			errs = append(errs, ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("duplicate view name: %q", view.Name),
				Code:    ErrDuplicateName,
			})
		}
		viewNames[view.Name] = true

		// E113: view binds nothing
		if len(view.Bindings) == 0 {
			errs = append(errs, ValidationError{
				Field:   field + ".bindings",
				Message: fmt.Sprintf("view %q has no bindings", view.Name),
				Code:    ErrViewNoBindings,
			})
		}

		keys := make(map[string]bool)
		for j, b := range view.Bindings {
			bfield := fmt.Sprintf("%s.bindings[%d]", field, j)

			if strings.TrimSpace(b.Key) == "" {
				errs = append(errs, ValidationError{
					Field:   bfield + ".key",
					Message: "binding key is required",
					Code:    ErrEmptyBindingKey,
				})
			}
			if keys[b.Key] {
				errs = append(errs, ValidationError{
					Field:   bfield + ".key",
					Message: fmt.Sprintf("duplicate binding key %q in view %q", b.Key, view.Name),
					Code:    ErrDuplicateKey,
				})
			}
			keys[b.Key] = true

			// E110: binding must refer to a declared store
			if !storeNames[b.Store] {
				errs = append(errs, ValidationError{
					Field:   bfield + ".store",
					Message: fmt.Sprintf("view %q binds %q to undeclared store %q", view.Name, b.Key, b.Store),
					Code:    ErrUnknownStore,
				})
			}
		}
	}

	return errs
}

func validateStore(field string, store ir.StoreSpec) []ValidationError {
	var errs []ValidationError

	_, objectState := store.InitialState.(ir.Object)
	if store.InitialState == nil {
		objectState = true
	}

	handlerNames := make(map[string]bool)
	for i, h := range store.Handlers {
		hfield := fmt.Sprintf("%s.handlers[%d]", field, i)

		if handlerNames[h.Name] {
			errs = append(errs, ValidationError{
				Field:   hfield + ".name",
				Message: fmt.Sprintf("duplicate handler name: %q", h.Name),
				Code:    ErrDuplicateName,
			})
		}
		handlerNames[h.Name] = true

		// E102: handler must handle something
		if len(h.Types) == 0 {
			errs = append(errs, ValidationError{
				Field:   hfield + ".types",
				Message: fmt.Sprintf("handler %q handles no action types", h.Name),
				Code:    ErrHandlerNoTypes,
			})
		}
		for j, t := range h.Types {
			if strings.TrimSpace(t) == "" {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.types[%d]", hfield, j),
					Message: "action type is empty",
					Code:    ErrEmptyActionType,
				})
			}
		}

		for j, op := range h.Ops {
			errs = append(errs, validateOp(fmt.Sprintf("%s.ops[%d]", hfield, j), op, objectState)...)
		}
	}

	return errs
}

func validateOp(field string, op ir.OpSpec, objectState bool) []ValidationError {
	var errs []ValidationError

	if !op.Op.Valid() {
		return []ValidationError{{
			Field:   field + ".op",
			Message: fmt.Sprintf("unknown op %q", op.Op),
			Code:    ErrInvalidOp,
		}}
	}

	switch op.Op {
	case ir.OpDispatch:
		if strings.TrimSpace(op.Action) == "" {
			errs = append(errs, ValidationError{
				Field:   field + ".action",
				Message: "dispatch op needs an action",
				Code:    ErrInvalidOp,
			})
		}
		if !op.Source.Valid() {
			errs = append(errs, ValidationError{
				Field:   field + ".source",
				Message: fmt.Sprintf("invalid source %q, must be \"VIEW\" or \"SERVER\"", op.Source),
				Code:    ErrInvalidSource,
			})
		}
	case ir.OpFail:
		if strings.TrimSpace(op.Message) == "" {
			errs = append(errs, ValidationError{
				Field:   field + ".message",
				Message: "fail op needs a message",
				Code:    ErrInvalidOp,
			})
		}
	case ir.OpPush, ir.OpUnset, ir.OpIncrement:
		if len(op.Path) == 0 {
			errs = append(errs, ValidationError{
				Field:   field + ".path",
				Message: fmt.Sprintf("%s op needs a path", op.Op),
				Code:    ErrInvalidOp,
			})
		}
	}

	// E107: path ops on a non-object state fail at dispatch time
	if (len(op.Path) > 0 || op.Op == ir.OpMerge) && !objectState {
		errs = append(errs, ValidationError{
			Field:   field + ".path",
			Message: fmt.Sprintf("%s op addresses a path but the initial state is not an object", op.Op),
			Code:    ErrInitialNotObject,
		})
	}

	return errs
}
