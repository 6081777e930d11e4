package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the coordination core.
type ErrorCode string

// State store error codes
const (
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrKeyNotFound      ErrorCode = "KEY_NOT_FOUND"
)

// Service registry error codes
const (
	ErrServiceUnreachable ErrorCode = "SERVICE_UNREACHABLE"
	ErrServiceCallFailed  ErrorCode = "SERVICE_CALL_FAILED"
	ErrServiceNotFound    ErrorCode = "SERVICE_NOT_FOUND"
	ErrCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
	ErrTimeout            ErrorCode = "TIMEOUT"
)

// Agent error codes
const (
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrAgentBusy         ErrorCode = "AGENT_BUSY"
	ErrEmbeddingFailed   ErrorCode = "EMBEDDING_FAILED"
)

// Workflow error codes
const (
	ErrValidation         ErrorCode = "VALIDATION_ERROR"
	ErrRiskLimitExceeded  ErrorCode = "RISK_LIMIT_EXCEEDED"
	ErrWorkflowStepFailed ErrorCode = "WORKFLOW_STEP_FAILED"
	ErrWorkflowUnknown    ErrorCode = "WORKFLOW_UNKNOWN_KIND"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Service   string    `json:"service,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code, so callers can
// match taxonomy members with errors.Is regardless of the wrapped cause.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// NewError creates a new Error with the given code and message.
// Store-unavailable and timeout errors are retryable by default.
func NewError(code ErrorCode, message string) *Error {
	e := &Error{Code: code, Message: message}
	switch code {
	case ErrStoreUnavailable, ErrTimeout:
		e.Retryable = true
	}
	return e
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new Error wrapping cause.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return NewError(code, message).WithCause(cause)
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithService sets the originating service id.
func (e *Error) WithService(service string) *Error {
	e.Service = service
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// CodeOf extracts the error code from an error, or "" when err carries none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given error code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
