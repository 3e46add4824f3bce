// Package domain contains the core business entities for the user service.
package domain

import (
	"errors"
	"fmt"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (database, network, etc.).

var (
	// ===========================================
	// User Errors
	// ===========================================

	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates a user with the same nickname/email exists.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountLocked indicates the account is locked after repeated failed logins.
	ErrAccountLocked = errors.New("account is locked")

	// ErrInvalidVerificationToken indicates the email verification token does not match.
	ErrInvalidVerificationToken = errors.New("invalid verification token")

	// ErrInvalidRole indicates an unknown or unassignable role.
	ErrInvalidRole = errors.New("invalid role")

	// ErrInvalidNickname indicates the nickname is empty or too long.
	ErrInvalidNickname = errors.New("nickname must be between 1 and 64 characters")

	// ErrInvalidEmail indicates the email address is malformed.
	ErrInvalidEmail = errors.New("invalid email address")

	// ===========================================
	// Authorization Errors
	// ===========================================

	// ErrAccessDenied indicates the user does not have permission.
	ErrAccessDenied = errors.New("access denied")
)

// DomainError wraps a domain error with additional context.
type DomainError struct {
	// Err is the underlying domain error.
	Err error

	// Message provides additional context.
	Message string

	// Resource identifies the affected resource (e.g., user id, email).
	Resource string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Message, e.Resource)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError with context.
func NewDomainError(err error, message, resource string) *DomainError {
	return &DomainError{
		Err:      err,
		Message:  message,
		Resource: resource,
	}
}

// ConflictField names the unique identity field that collided.
type ConflictField string

const (
	ConflictEmail    ConflictField = "email"
	ConflictNickname ConflictField = "nickname"
)

// ConflictError reports a uniqueness violation on an identity field.
// It matches ErrUserAlreadyExists with errors.Is.
type ConflictError struct {
	Field ConflictField
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	if e.Field == "" {
		return ErrUserAlreadyExists.Error()
	}
	return fmt.Sprintf("%s: %s is already taken", ErrUserAlreadyExists.Error(), e.Field)
}

// Unwrap returns ErrUserAlreadyExists.
func (e *ConflictError) Unwrap() error {
	return ErrUserAlreadyExists
}
