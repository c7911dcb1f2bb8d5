package ir

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes errors raised by the dispatch core.
// The kind string is also the `name` of an error in a trace record.
type ErrorKind string

const (
	// KindConfiguration covers setup mistakes: binding to a missing or
	// disposed store, dispatching from creators without a dispatcher,
	// duplicate names.
	KindConfiguration ErrorKind = "ConfigurationError"

	// KindHandlerExecution is a store handler that returned an error or
	// panicked.
	KindHandlerExecution ErrorKind = "HandlerExecutionError"

	// KindViewRecompute is a view whose derived-state recompute or
	// re-render failed.
	KindViewRecompute ErrorKind = "ViewRecomputeError"

	// KindDispatchDepthExceeded is a re-entrant dispatch chain deeper than
	// the dispatcher allows.
	KindDispatchDepthExceeded ErrorKind = "DispatchDepthExceeded"
)

// Error is the typed error carried through the dispatcher, stores, views
// and the tracer.
type Error struct {
	// Kind identifies the error category.
	Kind ErrorKind

	// Op names the operation that failed, e.g. "Foos.receiveFoo".
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Detail returns the message without kind or op decoration.
func (e *Error) Detail() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Errorf creates an Error with a formatted message.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps cause as an Error of the given kind.
// If cause already is an Error of the same kind it is returned unchanged.
func WrapError(kind ErrorKind, op string, cause error) *Error {
	var existing *Error
	if errors.As(cause, &existing) && existing.Kind == kind {
		return existing
	}
	return &Error{Kind: kind, Op: op, Err: cause}
}

// ErrorKindOf returns the kind of the first Error in err's chain.
func ErrorKindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// isKind walks every Error in the chain, so a depth violation wrapped in a
// handler failure still matches.
func isKind(err error, kind ErrorKind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// IsConfigurationError reports whether err is a configuration error.
func IsConfigurationError(err error) bool {
	return isKind(err, KindConfiguration)
}

// IsHandlerExecutionError reports whether err is a handler failure.
func IsHandlerExecutionError(err error) bool {
	return isKind(err, KindHandlerExecution)
}

// IsViewRecomputeError reports whether err is a view recompute failure.
func IsViewRecomputeError(err error) bool {
	return isKind(err, KindViewRecompute)
}

// IsDispatchDepthExceeded reports whether err is a depth violation.
func IsDispatchDepthExceeded(err error) bool {
	return isKind(err, KindDispatchDepthExceeded)
}

// TraceError is the serialized form of an error captured in a trace.
type TraceError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// NewTraceError converts err into its trace form. Nil yields nil.
// Typed errors keep their kind as the name; anything else is "Error".
func NewTraceError(err error) *TraceError {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &TraceError{Name: string(e.Kind), Message: e.Detail()}
	}
	return &TraceError{Name: "Error", Message: err.Error()}
}

// Value returns the trace form as a value; nil becomes Null.
func (te *TraceError) Value() Value {
	if te == nil {
		return Null{}
	}
	return Object{
		"name":    String(te.Name),
		"message": String(te.Message),
	}
}
