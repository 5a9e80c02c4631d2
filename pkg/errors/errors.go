// Package errors defines the sentinel error taxonomy of the query-execution
// core and an AppError wrapper that attaches a human-readable message and an
// HTTP status code for a transport layer to map onto responses.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrMalformedQuery        = errors.New("malformed query")
	ErrUnknownField          = errors.New("unknown field")
	ErrTypeMismatch          = errors.New("type mismatch")
	ErrDocumentNotFound      = errors.New("document not found")
	ErrConflictingPagination = errors.New("conflicting pagination modes")
	ErrScrollExpired         = errors.New("scroll context expired")
	ErrScrollNotFound        = errors.New("scroll context not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrInternal              = errors.New("internal error")
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

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrScrollNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrMalformedQuery),
		errors.Is(err, ErrUnknownField),
		errors.Is(err, ErrTypeMismatch),
		errors.Is(err, ErrConflictingPagination),
		errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrScrollExpired):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
