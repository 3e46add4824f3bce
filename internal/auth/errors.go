// Package auth issues and verifies bearer tokens for the user service.
package auth

import (
	"errors"
	"net/http"
)

// Authentication errors.
var (
	// ErrMissingToken indicates the Authorization header is absent.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidAuthorizationHeader indicates the Authorization header is malformed.
	ErrInvalidAuthorizationHeader = errors.New("invalid authorization header")

	// ErrInvalidToken indicates the token is malformed, badly signed or expired.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrAccessDenied indicates the caller's role is not allowed.
	ErrAccessDenied = errors.New("access denied")

	// ErrMissingSecret indicates the token manager has no signing key.
	ErrMissingSecret = errors.New("jwt secret is required")
)

// AuthError pairs an authentication error with its HTTP status.
type AuthError struct {
	Err        error
	HTTPStatus int
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError maps err to an AuthError with the matching status code.
func NewAuthError(err error) *AuthError {
	switch {
	case errors.Is(err, ErrAccessDenied):
		return &AuthError{Err: ErrAccessDenied, HTTPStatus: http.StatusForbidden}
	case errors.Is(err, ErrMissingToken):
		return &AuthError{Err: ErrMissingToken, HTTPStatus: http.StatusUnauthorized}
	case errors.Is(err, ErrInvalidAuthorizationHeader):
		return &AuthError{Err: ErrInvalidAuthorizationHeader, HTTPStatus: http.StatusUnauthorized}
	default:
		return &AuthError{Err: ErrInvalidToken, HTTPStatus: http.StatusUnauthorized}
	}
}
