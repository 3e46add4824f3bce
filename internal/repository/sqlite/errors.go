package sqlite

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/prn-tf/user-service/internal/domain"
)

// Error handling utilities for SQLite.

// isUniqueViolation checks if an error is a unique constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// SQLite unique constraint error message
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed: UNIQUE")
}

// conflictFromError maps a unique violation on users to a *domain.ConflictError.
// It returns nil for any other error.
func conflictFromError(err error) error {
	if !isUniqueViolation(err) {
		return nil
	}
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "users.email"):
		return &domain.ConflictError{Field: domain.ConflictEmail}
	case strings.Contains(errStr, "users.nickname"):
		return &domain.ConflictError{Field: domain.ConflictNickname}
	default:
		return &domain.ConflictError{}
	}
}

// isNoRows checks if an error indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
