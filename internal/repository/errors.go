package repository

import "errors"

// Repository errors
var (
	// ErrUnsupportedDriver indicates no opener is registered for the configured driver.
	ErrUnsupportedDriver = errors.New("unsupported database driver")
)
