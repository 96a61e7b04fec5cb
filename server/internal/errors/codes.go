package errors

import (
	"fmt"
)

// ErrorCode represents a specific error type for session operations.
type ErrorCode string

const (
	// ErrCodeUnauthorized indicates authentication failure.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrCodeForbidden indicates the principal lacks entitlement.
	ErrCodeForbidden ErrorCode = "FORBIDDEN"
	// ErrCodeRateLimitExceeded indicates rate limit has been exceeded.
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeNotFound indicates the requested session does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeNotReady indicates the session exists but is not terminal yet.
	ErrCodeNotReady ErrorCode = "NOT_READY"
	// ErrCodeStepFailed indicates a pipeline step errored.
	ErrCodeStepFailed ErrorCode = "STEP_FAILED"
	// ErrCodeContextCanceled indicates the operation was canceled.
	ErrCodeContextCanceled ErrorCode = "CONTEXT_CANCELED"
	// ErrCodeTimeout indicates the operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeInternal indicates an unexpected internal failure.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// SessionError represents a structured error for session operations.
type SessionError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *SessionError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *SessionError) WithContext(key string, value interface{}) *SessionError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// GetCode returns the error code.
func (e *SessionError) GetCode() ErrorCode {
	return e.Code
}

// Convenience constructors for common error types.

// Unauthorized creates an unauthorized error.
func Unauthorized(msg string) *SessionError {
	return &SessionError{Code: ErrCodeUnauthorized, Message: msg}
}

// Forbidden creates a forbidden error.
func Forbidden(msg string) *SessionError {
	return &SessionError{Code: ErrCodeForbidden, Message: msg}
}

// RateLimitExceeded creates a rate limit exceeded error.
func RateLimitExceeded(msg string) *SessionError {
	return &SessionError{Code: ErrCodeRateLimitExceeded, Message: msg}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *SessionError {
	return &SessionError{Code: ErrCodeInvalidArgument, Message: msg}
}

// NotFound creates a not found error for the given session identifier.
func NotFound(sessionUID string) *SessionError {
	return &SessionError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("session not found: %s", sessionUID),
	}
}

// NotReady creates a not ready error. This is a state, not a failure.
func NotReady(sessionUID string) *SessionError {
	return &SessionError{
		Code:    ErrCodeNotReady,
		Message: fmt.Sprintf("session not completed yet: %s", sessionUID),
	}
}

// StepFailed creates a step failed error.
func StepFailed(step string, cause error) *SessionError {
	return &SessionError{
		Code:    ErrCodeStepFailed,
		Message: fmt.Sprintf("step failed: %s", step),
		Cause:   cause,
	}
}

// ContextCanceled creates a context canceled error.
func ContextCanceled(cause error) *SessionError {
	return &SessionError{Code: ErrCodeContextCanceled, Message: "operation canceled", Cause: cause}
}

// Timeout creates a timeout error.
func Timeout(msg string) *SessionError {
	return &SessionError{Code: ErrCodeTimeout, Message: msg}
}

// Internal creates an internal error.
func Internal(msg string, cause error) *SessionError {
	return &SessionError{Code: ErrCodeInternal, Message: msg, Cause: cause}
}

// Wrap wraps an existing error with additional context.
func Wrap(cause error, code ErrorCode, msg string) *SessionError {
	return &SessionError{Code: code, Message: msg, Cause: cause}
}

// IsCode checks if an error is of a specific code.
func IsCode(err error, code ErrorCode) bool {
	if sessErr, ok := err.(*SessionError); ok {
		return sessErr.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the error is not a SessionError.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	if sessErr, ok := err.(*SessionError); ok {
		return sessErr.Code
	}
	return defaultCode
}
