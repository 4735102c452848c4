// Package apperror defines the error kinds the HTTP layer knows how to map.
//
// Services return *AppError values; handlers use errors.Is against the
// sentinels below to pick a status code, and never look at the message text.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrUnsupported  = errors.New("unsupported")
	ErrExecution    = errors.New("execution failed")
	ErrUnauthorized = errors.New("unauthorized")
)

type AppError struct {
	Err     error  // sentinel kind
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Stage   string // Optional: build or run, for execution failures
	cause   error
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the underlying cause, so errors.Is and
// errors.As see through to either.
func (e *AppError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.cause}
}

// Kind is the short, stable name of the sentinel, used in response bodies.
func (e *AppError) Kind() string {
	switch {
	case errors.Is(e.Err, ErrNotFound):
		return "not_found"
	case errors.Is(e.Err, ErrValidation):
		return "validation_error"
	case errors.Is(e.Err, ErrUnsupported):
		return "unsupported_language"
	case errors.Is(e.Err, ErrExecution):
		return "execution_error"
	case errors.Is(e.Err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "internal_error"
	}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Unsupported reports a language tag with no registered executor.
func Unsupported(language string) *AppError {
	return &AppError{
		Err:     ErrUnsupported,
		Message: fmt.Sprintf("unsupported language: %s", language),
		Field:   "language",
	}
}

// ExecutionFailed carries the diagnostic text of a failed build or run
// verbatim as its message.
func ExecutionFailed(stage, diagnostic string, cause error) *AppError {
	return &AppError{
		Err:     ErrExecution,
		Message: diagnostic,
		Stage:   stage,
		cause:   cause,
	}
}

// Unauthorized returns an AppError for a missing or bad credential.
// HTTP handlers map this to 401 Unauthorized.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}
