// Package errors provides structured errors that carry a category, a client
// message and log context, and map onto HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType is the category of an error. It selects the HTTP status, the log
// level and the metric label.
type ErrorType string

const (
	TypeValidation  ErrorType = "validation"
	TypeForbidden   ErrorType = "forbidden"
	TypeNotFound    ErrorType = "not_found"
	TypeConflict    ErrorType = "conflict"
	TypeInternal    ErrorType = "internal"
	TypeExternal    ErrorType = "external"
	TypeUnavailable ErrorType = "unavailable"
)

var statusByType = map[ErrorType]int{
	TypeValidation:  http.StatusBadRequest,
	TypeForbidden:   http.StatusForbidden,
	TypeNotFound:    http.StatusNotFound,
	TypeConflict:    http.StatusConflict,
	TypeInternal:    http.StatusInternalServerError,
	TypeExternal:    http.StatusBadGateway,
	TypeUnavailable: http.StatusServiceUnavailable,
}

type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the status code for the error type; unknown types are 500.
func (e *Error) HTTPStatus() int {
	if status, ok := statusByType[e.Type]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause, Context: make(map[string]any)}
}

func ValidationError(message string) *Error { return newError(TypeValidation, message, nil) }

func ForbiddenError(message string, cause error) *Error {
	return newError(TypeForbidden, message, cause)
}

func NotFoundError(message string) *Error { return newError(TypeNotFound, message, nil) }

func ConflictError(message string, cause error) *Error {
	return newError(TypeConflict, message, cause)
}

func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

// ExternalError reports a failing downstream dependency (HTTP 502).
func ExternalError(message string, cause error) *Error {
	return newError(TypeExternal, message, cause)
}

// UnavailableError reports a temporarily unavailable capability (HTTP 503).
func UnavailableError(message string, cause error) *Error {
	return newError(TypeUnavailable, message, cause)
}

// WithContext adds a log field to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrorResponse is the JSON body sent to clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Message, Type: e.Type, Context: e.Context}
}

// AsStructuredError returns the *Error in err's chain, or wraps err as an
// internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}
	return InternalError("internal server error", err)
}
