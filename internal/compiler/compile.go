package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/marty/internal/ir"
)

// CompileApp parses a CUE value into an AppSpec.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the app struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`app: todos: { stores: ... }`)
//	spec, err := CompileApp(v.LookupPath(cue.ParsePath("app.todos")))
//
// Stores, handlers, creators, methods, views and bindings keep their CUE
// declaration order.
func CompileApp(v cue.Value) (*ir.AppSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.AppSpec{
		Stores:   []ir.StoreSpec{},
		Creators: []ir.CreatorSpec{},
		Views:    []ir.ViewSpec{},
	}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = labels[len(labels)-1].String()
	}
	if nameVal := v.LookupPath(cue.ParsePath("name")); nameVal.Exists() {
		name, err := nameVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		spec.Name = name
	}

	var err error
	if spec.Stores, err = parseStores(v); err != nil {
		return nil, err
	}
	if spec.Creators, err = parseCreators(v); err != nil {
		return nil, err
	}
	if spec.Views, err = parseViews(v); err != nil {
		return nil, err
	}

	if len(spec.Stores) == 0 {
		return nil, &CompileError{
			Field:   "stores",
			Message: "at least one store is required",
			Pos:     v.Pos(),
		}
	}

	return spec, nil
}

// parseStores extracts store definitions in declaration order.
func parseStores(v cue.Value) ([]ir.StoreSpec, error) {
	stores := []ir.StoreSpec{}

	storesVal := v.LookupPath(cue.ParsePath("stores"))
	if !storesVal.Exists() {
		return stores, nil
	}

	iter, err := storesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		storeName := iter.Label()
		storeValue := iter.Value()

		store := ir.StoreSpec{
			Name:         storeName,
			InitialState: ir.Object{},
			Handlers:     []ir.HandlerSpec{},
		}

		initialVal := storeValue.LookupPath(cue.ParsePath("initial"))
		if initialVal.Exists() {
			initial, err := extractValue(initialVal, fmt.Sprintf("stores.%s.initial", storeName))
			if err != nil {
				return nil, err
			}
			store.InitialState = initial
		}

		handlersVal := storeValue.LookupPath(cue.ParsePath("handlers"))
		if handlersVal.Exists() {
			handlerIter, err := handlersVal.Fields()
			if err != nil {
				return nil, formatCUEError(err)
			}
			for handlerIter.Next() {
				handler, err := parseHandler(storeName, handlerIter.Label(), handlerIter.Value())
				if err != nil {
					return nil, err
				}
				store.Handlers = append(store.Handlers, handler)
			}
		}

		stores = append(stores, store)
	}

	return stores, nil
}

// parseHandler parses one handler: the action types it handles, its ops
// and whether it notifies listeners.
func parseHandler(storeName, name string, v cue.Value) (ir.HandlerSpec, error) {
	field := fmt.Sprintf("stores.%s.handlers.%s", storeName, name)
	handler := ir.HandlerSpec{
		Name: name,
		Ops:  []ir.OpSpec{},
	}

	onVal := v.LookupPath(cue.ParsePath("on"))
	if !onVal.Exists() {
		return handler, &CompileError{
			Field:   field + ".on",
			Message: "handler must name at least one action type",
			Pos:     v.Pos(),
		}
	}
	types, err := stringOrList(onVal)
	if err != nil {
		return handler, err
	}
	handler.Types = types

	opsVal := v.LookupPath(cue.ParsePath("ops"))
	if opsVal.Exists() {
		opIter, err := opsVal.List()
		if err != nil {
			return handler, formatCUEError(err)
		}
		for i := 0; opIter.Next(); i++ {
			op, err := parseOp(fmt.Sprintf("%s.ops[%d]", field, i), opIter.Value())
			if err != nil {
				return handler, err
			}
			handler.Ops = append(handler.Ops, op)
		}
	}

	notifyVal := v.LookupPath(cue.ParsePath("notify"))
	if notifyVal.Exists() {
		notify, err := notifyVal.Bool()
		if err != nil {
			return handler, formatCUEError(err)
		}
		handler.Notify = notify
	}

	return handler, nil
}

// parseOp parses a single declarative op.
func parseOp(field string, v cue.Value) (ir.OpSpec, error) {
	var op ir.OpSpec

	kind, err := v.LookupPath(cue.ParsePath("op")).String()
	if err != nil {
		return op, &CompileError{
			Field:   field + ".op",
			Message: "op kind is required",
			Pos:     v.Pos(),
		}
	}
	op.Op = ir.OpKind(kind)
	if !op.Op.Valid() {
		return op, &CompileError{
			Field:   field + ".op",
			Message: fmt.Sprintf("unknown op %q", kind),
			Pos:     v.Pos(),
		}
	}

	if pathVal := v.LookupPath(cue.ParsePath("path")); pathVal.Exists() {
		path, err := pathVal.String()
		if err != nil {
			return op, formatCUEError(err)
		}
		op.Path = splitPath(path)
	}

	if valueVal := v.LookupPath(cue.ParsePath("value")); valueVal.Exists() {
		value, err := extractValue(valueVal, field+".value")
		if err != nil {
			return op, err
		}
		op.Value = value
	}

	if argVal := v.LookupPath(cue.ParsePath("arg")); argVal.Exists() {
		arg, err := argVal.Int64()
		if err != nil {
			return op, formatCUEError(err)
		}
		if arg < 0 {
			return op, &CompileError{
				Field:   field + ".arg",
				Message: "argument index must not be negative",
				Pos:     argVal.Pos(),
			}
		}
		n := int(arg)
		op.Arg = &n
	}

	if byVal := v.LookupPath(cue.ParsePath("by")); byVal.Exists() {
		by, err := byVal.Int64()
		if err != nil {
			return op, &CompileError{
				Field:   field + ".by",
				Message: "increment step must be an int (floats are forbidden)",
				Pos:     byVal.Pos(),
			}
		}
		op.By = by
	}

	if msgVal := v.LookupPath(cue.ParsePath("message")); msgVal.Exists() {
		if op.Message, err = msgVal.String(); err != nil {
			return op, formatCUEError(err)
		}
	}

	if actionVal := v.LookupPath(cue.ParsePath("action")); actionVal.Exists() {
		if op.Action, err = actionVal.String(); err != nil {
			return op, formatCUEError(err)
		}
	}

	if op.Op == ir.OpDispatch {
		source, err := parseSource(field, v)
		if err != nil {
			return op, err
		}
		op.Source = source
	}

	return op, nil
}

// parseCreators extracts action creators. Each method maps to the action
// type it dispatches and an optional source (VIEW by default).
func parseCreators(v cue.Value) ([]ir.CreatorSpec, error) {
	creators := []ir.CreatorSpec{}

	creatorsVal := v.LookupPath(cue.ParsePath("creators"))
	if !creatorsVal.Exists() {
		return creators, nil
	}

	iter, err := creatorsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		creatorName := iter.Label()
		creator := ir.CreatorSpec{
			Name:    creatorName,
			Methods: []ir.MethodSpec{},
		}

		methodIter, err := iter.Value().Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for methodIter.Next() {
			field := fmt.Sprintf("creators.%s.%s", creatorName, methodIter.Label())
			method, err := parseMethod(field, methodIter.Label(), methodIter.Value())
			if err != nil {
				return nil, err
			}
			creator.Methods = append(creator.Methods, method)
		}

		creators = append(creators, creator)
	}

	return creators, nil
}

// parseMethod accepts the short form `add: "ADD_TODO"` or the struct form
// `add: {action: "ADD_TODO", source: "SERVER"}`.
func parseMethod(field, name string, v cue.Value) (ir.MethodSpec, error) {
	method := ir.MethodSpec{Name: name, Source: ir.SourceView}

	if action, err := v.String(); err == nil {
		method.Action = action
		return method, nil
	}

	actionVal := v.LookupPath(cue.ParsePath("action"))
	if !actionVal.Exists() {
		return method, &CompileError{
			Field:   field + ".action",
			Message: "method must name the action it dispatches",
			Pos:     v.Pos(),
		}
	}
	action, err := actionVal.String()
	if err != nil {
		return method, formatCUEError(err)
	}
	method.Action = action

	source, err := parseSource(field, v)
	if err != nil {
		return method, err
	}
	method.Source = source

	return method, nil
}

// parseViews extracts views. A view is an ordered struct of
// key: store name.
func parseViews(v cue.Value) ([]ir.ViewSpec, error) {
	views := []ir.ViewSpec{}

	viewsVal := v.LookupPath(cue.ParsePath("views"))
	if !viewsVal.Exists() {
		return views, nil
	}

	iter, err := viewsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		view := ir.ViewSpec{
			Name:     iter.Label(),
			Bindings: []ir.BindingSpec{},
		}

		bindingIter, err := iter.Value().Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for bindingIter.Next() {
			storeName, err := bindingIter.Value().String()
			if err != nil {
				return nil, &CompileError{
					Field:   fmt.Sprintf("views.%s.%s", view.Name, bindingIter.Label()),
					Message: "binding must name a store",
					Pos:     bindingIter.Value().Pos(),
				}
			}
			view.Bindings = append(view.Bindings, ir.BindingSpec{
				Key:   bindingIter.Label(),
				Store: storeName,
			})
		}

		views = append(views, view)
	}

	return views, nil
}

func parseSource(field string, v cue.Value) (ir.Source, error) {
	sourceVal := v.LookupPath(cue.ParsePath("source"))
	if !sourceVal.Exists() {
		return ir.SourceView, nil
	}
	raw, err := sourceVal.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	source, err := ir.ParseSource(raw)
	if err != nil {
		return "", &CompileError{
			Field:   field + ".source",
			Message: fmt.Sprintf("source must be VIEW or SERVER, got %q", raw),
			Pos:     sourceVal.Pos(),
		}
	}
	return source, nil
}

// stringOrList accepts "A" or ["A", "B"].
func stringOrList(v cue.Value) ([]string, error) {
	if s, err := v.String(); err == nil {
		return []string{s}, nil
	}

	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// extractValue converts a concrete CUE value to an ir.Value by way of its
// JSON form. Floats are forbidden.
func extractValue(v cue.Value, field string) (ir.Value, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	value, err := ir.UnmarshalValue(data)
	if err != nil {
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unsupported value: %v (floats are forbidden, use int)", err),
			Pos:     v.Pos(),
		}
	}
	return value, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
