package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	ErrCodeForbidden ErrorCode = "FORBIDDEN"

	// Validation
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired   ErrorCode = "MISSING_REQUIRED"
	ErrCodeInvalidExpiration ErrorCode = "INVALID_EXPIRATION"

	// Resource
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeUnknownPage     ErrorCode = "UNKNOWN_PAGE"
	ErrCodeUnknownAction   ErrorCode = "UNKNOWN_ACTION"
	ErrCodeConflict        ErrorCode = "CONFLICT"

	// Internal
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
	ErrCodeSchemaMismatch ErrorCode = "SCHEMA_MISMATCH"
	ErrCodeStore          ErrorCode = "STORE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

func SessionNotFound(id string) *AppError {
	return New(ErrCodeSessionNotFound, fmt.Sprintf("Session %s not found", id))
}

func UnknownPage(name string) *AppError {
	return New(ErrCodeUnknownPage, fmt.Sprintf("Unknown page: %s", name))
}

func UnknownAction(page, action string) *AppError {
	return New(ErrCodeUnknownAction, fmt.Sprintf("Page %s has no action %s", page, action))
}

func Conflict(message string) *AppError {
	return New(ErrCodeConflict, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func InvalidExpiration(reason string) *AppError {
	return New(ErrCodeInvalidExpiration, fmt.Sprintf("Invalid expiration: %s", reason))
}

func SchemaMismatch(message string) *AppError {
	return New(ErrCodeSchemaMismatch, message)
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Store(op string, cause error) *AppError {
	return Wrap(ErrCodeStore, fmt.Sprintf("Record store error: %s", op), cause)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
