// Package apperrors defines the typed error taxonomy shared by the auth,
// permission, sync and webhook layers, and its mapping onto HTTP statuses.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping and retry decisions
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindConflict       Kind = "conflict"
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindRateLimited    Kind = "rate_limited"
	KindInternal       Kind = "internal"
)

// Error is a classified application error
type Error struct {
	Kind    Kind
	Message string

	// RequiredPermissions and RequiredRoles are set on authorization failures
	RequiredPermissions []string
	RequiredRoles       []string

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Authentication returns a 401-class error
func Authentication(message string) *Error {
	return &Error{Kind: KindAuthentication, Message: message}
}

// Authorization returns a 403-class error listing the missing permissions
func Authorization(message string, requiredPermissions ...string) *Error {
	return &Error{Kind: KindAuthorization, Message: message, RequiredPermissions: requiredPermissions}
}

// RoleRequired returns a 403-class error listing the accepted roles
func RoleRequired(message string, roles ...string) *Error {
	return &Error{Kind: KindAuthorization, Message: message, RequiredRoles: roles}
}

// Conflict returns a 409-class error
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// Validation returns a 422-class error
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// NotFound returns a 404-class error
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// RateLimited returns a 429-class error
func RateLimited(message string) *Error {
	return &Error{Kind: KindRateLimited, Message: message}
}

// Internal returns a 500-class error
func Internal(message string) *Error {
	return &Error{Kind: KindInternal, Message: message}
}

// Wrap attaches a cause to the error and returns it
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// KindOf returns the kind of the first classified error in the chain,
// or KindInternal when the chain carries none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries a classified error of the given kind
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// As extracts the classified error from the chain
func As(err error) (*Error, bool) {
	var appErr *Error
	ok := errors.As(err, &appErr)
	return appErr, ok
}

// HTTPStatus maps an error onto the status code it should produce
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch KindOf(err) {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
