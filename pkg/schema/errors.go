package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeOperationLoad     = "OPERATION_LOAD_ERROR"
	ErrCodeUnknownOperation  = "UNKNOWN_OPERATION"
	ErrCodeDuplicateNode     = "DUPLICATE_NODE"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodePointerResolution = "POINTER_RESOLUTION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeAssertionFailed   = "ASSERTION_FAILED"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeStore             = "STORE_ERROR"
)

// GraphError is the structured error type for all graph operations.
type GraphError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Node    string         `json:"node,omitempty"`
	Cause   error          `json:"-"`
}

func (e *GraphError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.Node, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *GraphError) Unwrap() error {
	return e.Cause
}

// NewError creates a new GraphError.
func NewError(code, message string) *GraphError {
	return &GraphError{Code: code, Message: message}
}

// NewErrorf creates a new GraphError with a formatted message.
func NewErrorf(code, format string, args ...any) *GraphError {
	return &GraphError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node name to the error.
func (e *GraphError) WithNode(node string) *GraphError {
	e.Node = node
	return e
}

// WithCause attaches an underlying cause.
func (e *GraphError) WithCause(err error) *GraphError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *GraphError) WithDetails(details map[string]any) *GraphError {
	e.Details = details
	return e
}

// IsCode reports whether err, or any error it wraps, is a GraphError with the given code.
func IsCode(err error, code string) bool {
	var gErr *GraphError
	for err != nil {
		if !errors.As(err, &gErr) {
			return false
		}
		if gErr.Code == code {
			return true
		}
		err = gErr.Cause
	}
	return false
}
