package types

import (
	"errors"
	"fmt"
)

// ErrorKind is a stable string identifying a failure class. Kinds travel
// over the wire in error events and are matched by retry policy, so they
// must never be renamed.
type ErrorKind string

const (
	KindTargetNotFound  ErrorKind = "TargetNotFound"
	KindTimeout         ErrorKind = "Timeout"
	KindNavigation      ErrorKind = "Navigation"
	KindDriver          ErrorKind = "Driver"
	KindCancelled       ErrorKind = "Cancelled"
	KindBusy            ErrorKind = "Busy"
	KindResourceInit    ErrorKind = "ResourceInit"
	KindMissingVariable ErrorKind = "MissingVariable"
	KindUnrecognized    ErrorKind = "Unrecognized"
	KindAmbiguous       ErrorKind = "Ambiguous"
	KindReservedName    ErrorKind = "ReservedName"
	KindInvalidName     ErrorKind = "InvalidName"
	KindSchemaMismatch  ErrorKind = "SchemaMismatch"
	KindSessionUnknown  ErrorKind = "SessionUnknown"
	KindUnknownMessage  ErrorKind = "UnknownMessage"
	KindNotFound        ErrorKind = "NotFound"
)

// Error is the typed error carried across package boundaries. Context holds
// diagnostic payload surfaced to clients (scored candidates, missing variable
// names, target attempt logs).
type Error struct {
	Kind    ErrorKind
	Message string
	Context map[string]interface{}
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// NewError creates a typed error.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates a typed error wrapping an underlying cause.
func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), wrapped: err}
}

// WithContext attaches a diagnostic field and returns the same error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// KindOf returns the ErrorKind of err, unwrapping as needed. Errors outside
// the taxonomy map to KindDriver for worker faults handled at call sites.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// IsRetryable reports whether a failure kind may be retried within a step.
func IsRetryable(kind ErrorKind) bool {
	return kind == KindTimeout || kind == KindTargetNotFound
}
