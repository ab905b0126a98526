// Package apperr holds the error taxonomy shared by the orchestrator, the auth gate
// and the HTTP layer.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("conflict")
	ErrUnauthenticated = errors.New("could not validate credentials")
	ErrTokenExpired    = errors.New("token has expired")
	ErrNotFound        = errors.New("not found")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrAgentInvocation = errors.New("agent invocation failed")
	ErrInternal        = errors.New("internal error")
)

// Error carries a user-facing detail alongside one of the sentinels above.
type Error struct {
	Kind   error
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.Error() + ": " + e.Detail + ": " + e.Err.Error()
	}
	if e.Detail != "" {
		return e.Kind.Error() + ": " + e.Detail
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func New(kind error, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

func Wrap(kind error, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

func Validation(detail string) *Error { return New(ErrValidation, detail) }

func NotFound(detail string) *Error { return New(ErrNotFound, detail) }

func Conflict(detail string) *Error { return New(ErrConflict, detail) }

// Status maps an error to its HTTP status code.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Detail returns the message that is safe to show to a caller. Internal failures
// collapse to a generic text.
func Detail(err error) string {
	if Status(err) == http.StatusInternalServerError {
		if errors.Is(err, ErrAgentInvocation) {
			return "The agent could not process the request"
		}
		return "Internal server error"
	}
	var e *Error
	if errors.As(err, &e) && e.Detail != "" {
		return e.Detail
	}
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "Token has expired"
	case errors.Is(err, ErrUnauthenticated):
		return "Could not validate credentials"
	}
	return err.Error()
}
