// Package errors defines the sentinel errors shared by the search engine and
// its HTTP surface, plus structured error types that carry enough context
// (field, offending value) to reproduce a failure.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrIndexNotFound = errors.New("index not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidQuery  = errors.New("invalid query")
	ErrInvalidInput  = errors.New("invalid input")
	ErrIndexClosed   = errors.New("index closed")
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrInternal      = errors.New("internal error")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// FieldError reports a value that could not be analysed for a declared field.
// It unwraps to ErrInvalidInput.
type FieldError struct {
	Field string
	Value any
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q value %v: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() []error {
	return []error{ErrInvalidInput, e.Err}
}

// QueryError reports a malformed query expression. It unwraps to
// ErrInvalidQuery.
type QueryError struct {
	Kind   string
	Field  string
	Value  any
	Reason string
}

func (e *QueryError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("invalid query: %s on field %q (value %v): %s", e.Kind, e.Field, e.Value, e.Reason)
	}
	if e.Field != "" {
		return fmt.Sprintf("invalid query: %s on field %q: %s", e.Kind, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid query: %s: %s", e.Kind, e.Reason)
}

func (e *QueryError) Unwrap() error {
	return ErrInvalidQuery
}

// InvalidQuery builds a QueryError.
func InvalidQuery(kind, field string, value any, reason string) *QueryError {
	return &QueryError{Kind: kind, Field: field, Value: value, Reason: reason}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrIndexNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidQuery), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrIndexClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
