// Package errors carries the coded errors the intake endpoints render as
// {status, message, error_code} bodies.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation         = NewError("VALIDATION_ERROR", "invalid request", http.StatusBadRequest)
	ErrPayloadTooLarge    = NewError("PAYLOAD_TOO_LARGE", "request body too large", http.StatusRequestEntityTooLarge)
	ErrServiceUnavailable = NewError("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable)
	ErrInternal           = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
)

// Error is immutable; the With* methods return modified copies so the
// package sentinels can be shared.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]interface{}
	Cause   error
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: map[string]interface{}{},
	}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.message(), e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.message())
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any error with the same code, so a customised copy still
// satisfies errors.Is against its sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// message prefers a caller-supplied message over the generic one.
func (e *Error) message() string {
	if msg, ok := e.Details["message"].(string); ok && msg != "" {
		return msg
	}
	return e.Message
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithMessage(message string) *Error {
	return e.WithDetail("message", message)
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	err.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		err.Details[k] = v
	}
	err.Details[key] = value
	return &err
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// ToErrorResponse renders the {status, message, error_code} body. Errors
// without a code are reported as internal so their text never leaks.
func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal
	}
	return map[string]interface{}{
		"status":     "error",
		"message":    appErr.message(),
		"error_code": appErr.Code,
	}
}
