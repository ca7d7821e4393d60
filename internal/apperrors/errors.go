// Package apperrors defines the typed failures returned by the access-control
// core. Transport layers translate a failure's Kind into a status code.
package apperrors

import (
	"errors"
	"net/http"
	"strings"
)

// Kind is a machine-readable failure category.
type Kind string

const (
	KindValidation      Kind = "VALIDATION_FAILED"
	KindConflict        Kind = "CONFLICT"
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindForbidden       Kind = "FORBIDDEN"
	KindNotFound        Kind = "NOT_FOUND"
	KindStore           Kind = "STORE_FAILURE"
)

// HTTPStatus maps the kind to its HTTP status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Reason refines a Kind. Unauthenticated and Forbidden failures always carry one.
type Reason string

const (
	ReasonMissingCredentials Reason = "MISSING_CREDENTIALS"
	ReasonMalformed          Reason = "MALFORMED"
	ReasonExpired            Reason = "EXPIRED"
	ReasonSubjectGone        Reason = "SUBJECT_GONE"
	ReasonInvalidCredentials Reason = "INVALID_CREDENTIALS"
	ReasonInsufficientRole   Reason = "INSUFFICIENT_ROLE"
	ReasonNotOwner           Reason = "NOT_OWNER"
)

// Error is a typed failure with a human-readable message.
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	// Details lists every individual violation of a validation failure.
	Details []string
	Cause   error
}

func (e *Error) Error() string {
	if len(e.Details) > 0 {
		return e.Message + ": " + strings.Join(e.Details, ", ")
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Kind, and on Reason when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Reason == "" || e.Reason == t.Reason
}

// New creates a failure with a kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithReason creates a failure with a kind, reason and message.
func WithReason(kind Kind, reason Reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

// Wrap creates a failure that wraps an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Validation aggregates validation messages into one failure.
func Validation(details []string) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: "validation failed",
		Details: append([]string(nil), details...),
	}
}

// Unauthenticated creates a 401-class failure with a reason.
func Unauthenticated(reason Reason, message string) *Error {
	return WithReason(KindUnauthenticated, reason, message)
}

// Forbidden creates a 403-class failure with a reason.
func Forbidden(reason Reason, message string) *Error {
	return WithReason(KindForbidden, reason, message)
}

// NotFound creates a 404-class failure.
func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

// Store wraps a storage collaborator failure.
func Store(message string, cause error) *Error {
	return Wrap(KindStore, message, cause)
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or KindStore for untyped errors.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindStore
}

// ReasonOf returns the Reason of err, or an empty reason.
func ReasonOf(err error) Reason {
	if appErr, ok := As(err); ok {
		return appErr.Reason
	}
	return ""
}
