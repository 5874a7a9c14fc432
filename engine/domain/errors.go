package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure surfaced by the engine wraps exactly one of
// these so callers can branch with errors.Is.
var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrConfiguration    = errors.New("configuration error")
	ErrUpstream         = errors.New("upstream error")
)

// Field-level validation failures. They are reported as ErrInvalidParameter.
var (
	ErrEmptyQuestion = errors.New("question is empty")
	ErrEmptyDocID    = errors.New("doc id is empty")
	ErrMissingSource = errors.New("metadata source is missing")
)

// Error carries the kind of a failure together with the operation that
// produced it.
type Error struct {
	Kind error  // one of ErrInvalidParameter, ErrConfiguration, ErrUpstream
	Op   string // e.g. "llm.embed"
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Error()
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	default:
		return msg
	}
}

// Unwrap exposes both the kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// InvalidParameterf reports a caller-supplied value that is out of range.
func InvalidParameterf(op, format string, args ...any) error {
	return &Error{Kind: ErrInvalidParameter, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Configurationf reports missing or inconsistent configuration.
func Configurationf(op, format string, args ...any) error {
	return &Error{Kind: ErrConfiguration, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Upstream wraps a failure of an external capability.
func Upstream(op string, err error) error {
	return &Error{Kind: ErrUpstream, Op: op, Err: err}
}

// Upstreamf reports an external capability that answered with something unusable.
func Upstreamf(op, format string, args ...any) error {
	return &Error{Kind: ErrUpstream, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the error kind carried by err, or nil if none.
func KindOf(err error) error {
	for _, k := range []error{ErrInvalidParameter, ErrConfiguration, ErrUpstream} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// ValidationError wraps a field-level sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() []error { return []error{e.Wrapped, ErrInvalidParameter} }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
