// Package service provides business logic services for the user service.
package service

import "errors"

// Common service errors. Domain rule violations are returned as the
// domain package's errors; these cover service-level conditions.
var (
	// ErrUploadInProgress indicates another profile picture upload for the
	// same user holds the lock.
	ErrUploadInProgress = errors.New("a profile picture upload is already in progress")

	// ErrInternalError wraps infrastructure failures.
	ErrInternalError = errors.New("internal server error")
)
