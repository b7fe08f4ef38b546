// Package errors defines the typed failures returned by the escrow engine.
// Callers branch on Kind; Code narrows to a specific condition.
package errors

import (
	stderrors "errors"
	"net/http"
)

// Kind is the category of a domain failure.
type Kind string

const (
	KindNotFound          Kind = "NOT_FOUND"
	KindForbidden         Kind = "FORBIDDEN"
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	KindValidationFailed  Kind = "VALIDATION_FAILED"
	KindAlreadyResolved   Kind = "ALREADY_RESOLVED"
)

// HTTPStatus maps a kind to its transport status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidTransition:
		return http.StatusBadRequest
	case KindValidationFailed:
		return http.StatusUnprocessableEntity
	case KindAlreadyResolved:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// DomainError is a failure the caller can act on.
type DomainError struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *DomainError) Error() string {
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches targets of the same kind. A target with a Code also has to
// carry the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

// New creates a domain error.
func New(kind Kind, code, message string) *DomainError {
	return &DomainError{Kind: kind, Code: code, Message: message}
}

// Wrap creates a domain error that keeps cause in the chain.
func Wrap(kind Kind, code, message string, cause error) *DomainError {
	return &DomainError{Kind: kind, Code: code, Message: message, Cause: cause}
}

// With returns a copy of e carrying a more specific message.
func (e *DomainError) With(message string) *DomainError {
	return &DomainError{Kind: e.Kind, Code: e.Code, Message: message, Cause: e.Cause}
}

// KindOf returns the kind of the first domain error in err's chain.
func KindOf(err error) (Kind, bool) {
	var de *DomainError
	if stderrors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}

// CodeOf returns the code of the first domain error in err's chain.
func CodeOf(err error) string {
	var de *DomainError
	if stderrors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Kind-level sentinels for errors.Is.
var (
	ErrNotFound          = &DomainError{Kind: KindNotFound, Message: "not found"}
	ErrForbidden         = &DomainError{Kind: KindForbidden, Message: "forbidden"}
	ErrInvalidTransition = &DomainError{Kind: KindInvalidTransition, Message: "invalid transition"}
	ErrValidationFailed  = &DomainError{Kind: KindValidationFailed, Message: "validation failed"}
	ErrAlreadyResolved   = &DomainError{Kind: KindAlreadyResolved, Message: "already resolved"}
)
