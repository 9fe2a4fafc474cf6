package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so the orchestrator can decide whether an
// attempt may be retried. The taxonomy is closed: anything not produced by
// contextmesh itself is classified via ClassifyError.
type ErrorKind string

const (
	// ErrorKindValidation marks malformed definitions, requests or workflow
	// steps. Never retried; surfaced immediately with no side effects.
	ErrorKindValidation ErrorKind = "validation"

	// ErrorKindTransient marks timeouts, rate limits and server-side
	// failures. Retried with exponential backoff up to the attempt budget.
	ErrorKindTransient ErrorKind = "transient"

	// ErrorKindSchema marks generated content failing the optional response
	// schema check. Surfaced, not retried.
	ErrorKindSchema ErrorKind = "schema"

	// ErrorKindInternal marks faults in the engine itself (e.g. a panicking
	// event listener). Caught at the boundary and converted to a failure
	// result so a single fault cannot abort unrelated work.
	ErrorKindInternal ErrorKind = "internal"
)

// ValidationError reports a structurally invalid input value.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError constructs a ValidationError for a named field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %q: %s", e.Field, e.Message)
}

// TransientError wraps a retryable failure such as a timeout, a rate-limit
// signal or a 5xx-equivalent server response.
type TransientError struct {
	Reason string // "timeout", "rate_limit", "server"
	Err    error
}

// NewTransientError wraps err as retryable with a machine-readable reason.
func NewTransientError(reason string, err error) *TransientError {
	return &TransientError{Reason: reason, Err: err}
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transient failure (%s)", e.Reason)
	}
	return fmt.Sprintf("transient failure (%s): %v", e.Reason, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *TransientError) Unwrap() error { return e.Err }

// SchemaError reports generated content that failed the response schema check.
type SchemaError struct {
	Err error
}

// Error implements the error interface.
func (e *SchemaError) Error() string { return fmt.Sprintf("response schema violation: %v", e.Err) }

// Unwrap exposes the underlying validation failure.
func (e *SchemaError) Unwrap() error { return e.Err }

// InternalError reports a fault in the engine itself, typically a recovered
// panic from a listener or processor.
type InternalError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *InternalError) Error() string { return fmt.Sprintf("internal error in %s: %v", e.Op, e.Err) }

// Unwrap exposes the underlying cause.
func (e *InternalError) Unwrap() error { return e.Err }

// ClassifyError maps any error onto the taxonomy. Typed errors keep their
// kind; untyped timeouts and temporary network errors are treated as
// transient; everything else is internal.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return ErrorKindValidation
	}
	var se *SchemaError
	if errors.As(err, &se) {
		return ErrorKindSchema
	}
	var te *TransientError
	if errors.As(err, &te) {
		return ErrorKindTransient
	}

	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return ErrorKindTransient
	}
	var tempErr interface{ Temporary() bool }
	if errors.As(err, &tempErr) && tempErr.Temporary() {
		return ErrorKindTransient
	}

	return ErrorKindInternal
}

// IsRetryable reports whether the orchestrator may re-attempt after err.
func IsRetryable(err error) bool { return ClassifyError(err) == ErrorKindTransient }

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return ClassifyError(err) == ErrorKindValidation }

// IsSchema reports whether err is a response schema violation.
func IsSchema(err error) bool { return ClassifyError(err) == ErrorKindSchema }
