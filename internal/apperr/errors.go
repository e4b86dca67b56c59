// Package apperr defines the typed errors returned by ledger services.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for the caller.
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindAuthorization Kind = "AUTHORIZATION"
	KindNotFound      Kind = "NOT_FOUND"
	KindConflict      Kind = "CONFLICT"
	KindState         Kind = "STATE"
)

// HTTPStatus maps the kind to a response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindState:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified ledger error. Details carries the figures a caller
// needs to correct the request (current totals, requested amount).
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Sentinels for errors.Is checks by kind.
var (
	ErrValidation    = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrAuthorization = &Error{Kind: KindAuthorization, Message: "not authorized"}
	ErrNotFound      = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConflict      = &Error{Kind: KindConflict, Message: "conflict"}
	ErrState         = &Error{Kind: KindState, Message: "invalid state"}
)

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithDetails creates an error carrying detail fields.
func WithDetails(kind Kind, message string, details map[string]string) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Validation is shorthand for New(KindValidation, message).
func Validation(message string) *Error { return New(KindValidation, message) }

// Unauthorized is shorthand for New(KindAuthorization, message).
func Unauthorized(message string) *Error { return New(KindAuthorization, message) }

// NotFound is shorthand for New(KindNotFound, message).
func NotFound(message string) *Error { return New(KindNotFound, message) }

// Conflict is shorthand for WithDetails(KindConflict, message, details).
func Conflict(message string, details map[string]string) *Error {
	return WithDetails(KindConflict, message, details)
}

// State is shorthand for New(KindState, message).
func State(message string) *Error { return New(KindState, message) }

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}
