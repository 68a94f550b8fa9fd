// Package apperr classifies errors that flow through the orchestrator.
//
// An *Error is an application error: an expected precondition violation such
// as bad input, a missing entity or a forbidden action. It carries a short
// title, an optional human readable detail and the HTTP status family the
// caller should map it to. It never carries a stack trace.
//
// Every other error is unclassified. Unclassified errors are logged in full by
// whoever handles them and surfaced to callers only as UnknownReason.
package apperr

import (
	"errors"
	"net/http"
)

// UnknownReason is the message surfaced for unclassified errors.
const UnknownReason = "Unknown error"

// Error is an expected, user-facing error.
type Error struct {
	// Status is the HTTP status code the error maps to.
	Status int
	// Title is a short summary, e.g. "User not found".
	Title string
	// Detail is an optional human readable explanation.
	Detail string
	// Err is an optional underlying cause, reachable via errors.Is/As.
	Err error
}

// New creates an application error.
func New(status int, title, detail string) *Error {
	return &Error{Status: status, Title: title, Detail: detail}
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Title
	}
	return e.Title + ": " + e.Detail
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Message returns the text shown to users: the detail when present,
// otherwise the title.
func (e *Error) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Title
}

// WithCause returns a copy of e wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	c := *e
	c.Err = cause
	return &c
}

// BadRequest reports malformed input.
func BadRequest(detail string) *Error {
	return New(http.StatusBadRequest, "Bad request", detail)
}

// NotFound reports a missing entity.
func NotFound(title, detail string) *Error {
	return New(http.StatusNotFound, title, detail)
}

// Forbidden reports an action the caller may not perform.
func Forbidden(detail string) *Error {
	return New(http.StatusForbidden, "Forbidden", detail)
}

// Conflict reports an entity that already exists or a conflicting request.
func Conflict(title, detail string) *Error {
	return New(http.StatusConflict, title, detail)
}

// As returns the application error in err's chain, if any.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsApplication returns true if err is, or wraps, an application error.
func IsApplication(err error) bool {
	_, ok := As(err)
	return ok
}

// Reason returns the message for a failure: the application error's message
// when present, otherwise UnknownReason. It returns "" for a nil error.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := As(err); ok {
		return appErr.Message()
	}
	return UnknownReason
}

// StatusCode returns the HTTP status for err: the application error's status,
// or 500 for unclassified errors.
func StatusCode(err error) int {
	if appErr, ok := As(err); ok && appErr.Status != 0 {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
