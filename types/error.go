package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Execution error codes
const (
	ErrProvider          ErrorCode = "PROVIDER_ERROR"
	ErrRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrBudgetExceeded    ErrorCode = "BUDGET_EXCEEDED"
	ErrCacheMiss         ErrorCode = "CACHE_MISS"
	ErrModelNotSupported ErrorCode = "MODEL_NOT_SUPPORTED"
)

// Orchestration error codes
const (
	ErrNoEligibleAgent  ErrorCode = "NO_ELIGIBLE_AGENT"
	ErrDependencyFailed ErrorCode = "DEPENDENCY_FAILED"
	ErrTaskTimeout      ErrorCode = "TASK_TIMEOUT"
	ErrTaskCancelled    ErrorCode = "TASK_CANCELLED"
)

// General error codes
const (
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	HTTPStatus  int       `json:"http_status,omitempty"`
	Retryable   bool      `json:"retryable"`
	Provider    string    `json:"provider,omitempty"`
	TaskID      string    `json:"task_id,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Cause       error     `json:"-"`
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

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithTask sets the task the error belongs to.
func (e *Error) WithTask(taskID string) *Error {
	e.TaskID = taskID
	return e
}

// WithExecution sets the execution the error belongs to.
func (e *Error) WithExecution(executionID string) *Error {
	e.ExecutionID = executionID
	return e
}

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// NewProviderError builds a provider failure. Retryability depends on the transport outcome.
func NewProviderError(provider, message string, retryable bool) *Error {
	return NewError(ErrProvider, message).WithProvider(provider).WithRetryable(retryable).
		WithHTTPStatus(http.StatusBadGateway)
}

// NewRateLimitError builds a local admission denial.
func NewRateLimitError(message string) *Error {
	return NewError(ErrRateLimitExceeded, message).WithHTTPStatus(http.StatusTooManyRequests)
}

// NewBudgetError builds a budget denial.
func NewBudgetError(message string) *Error {
	return NewError(ErrBudgetExceeded, message).WithHTTPStatus(http.StatusPaymentRequired)
}

// NewValidationError builds a caller input error.
func NewValidationError(message string) *Error {
	return NewError(ErrValidation, message).WithHTTPStatus(http.StatusBadRequest)
}

// NewNotFoundError builds a lookup failure.
func NewNotFoundError(message string) *Error {
	return NewError(ErrNotFound, message).WithHTTPStatus(http.StatusNotFound)
}
