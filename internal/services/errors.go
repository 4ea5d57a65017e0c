package services

import "fmt"

// The billing engine's error taxonomy. Validation and authorization errors
// are raised before any external call; conflict errors before any state
// mutation. Processor and consistency errors carry enough context for the
// caller to retry safely.

// ValidationError rejects malformed input: non-positive amounts,
// unsupported methods, missing descriptions.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// AuthorizationError rejects a caller who is neither the record's member
// nor a chapter admin.
type AuthorizationError struct {
	Msg string
}

func (e *AuthorizationError) Error() string { return e.Msg }

func NewAuthorizationError(format string, args ...interface{}) *AuthorizationError {
	return &AuthorizationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string { return e.Resource + " not found" }

func NewNotFoundError(resource string) *NotFoundError {
	return &NotFoundError{Resource: resource}
}

// ConflictError rejects an operation the current state does not permit:
// zero balance, an authorization already processing, a plan already active,
// a duplicate payment reference.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

func NewConflictError(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// ProcessorError wraps a failure reported by the external payment
// processor. Retryable with the same idempotency key.
type ProcessorError struct {
	Op  string
	Err error
}

func (e *ProcessorError) Error() string { return fmt.Sprintf("processor %s: %v", e.Op, e.Err) }
func (e *ProcessorError) Unwrap() error { return e.Err }

func NewProcessorError(op string, err error) *ProcessorError {
	return &ProcessorError{Op: op, Err: err}
}

// ConsistencyError reports that local persistence failed after an external
// call succeeded. The manager issues a compensating cancel before
// surfacing it, so no authorization exists externally without a local row.
type ConsistencyError struct {
	Msg string
	Err error
}

func (e *ConsistencyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}
func (e *ConsistencyError) Unwrap() error { return e.Err }

func NewConsistencyError(msg string, err error) *ConsistencyError {
	return &ConsistencyError{Msg: msg, Err: err}
}
