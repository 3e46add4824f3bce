// Package picture implements the profile picture ingestion rules: upload
// candidate validation and normalization to a fixed-size opaque image.
package picture

import (
	"fmt"
	"io"
	"strings"
)

// Defaults for profile picture ingestion.
const (
	DefaultMaxSize = 10 * 1024 * 1024 // 10MB
	DefaultWidth   = 200
	DefaultHeight  = 200
	DefaultQuality = 85
)

// DefaultExtensions are the extensions accepted when none are configured.
var DefaultExtensions = []string{"jpg", "jpeg", "png"}

// Candidate is an uploaded file before validation.
type Candidate struct {
	// Filename is the client-declared name. Only the final extension matters.
	Filename string

	// Size is the declared content length. Negative means unknown.
	Size int64

	// Body streams the file content.
	Body io.Reader
}

// RejectReason classifies why a candidate was rejected.
type RejectReason string

const (
	ReasonMissingExtension RejectReason = "missing_extension"
	ReasonExtension        RejectReason = "unsupported_extension"
	ReasonTooLarge         RejectReason = "too_large"
)

// Decision is the outcome of validating a candidate.
type Decision struct {
	Accepted bool
	Reason   RejectReason

	// Extension is the normalized (lowercase) extension of the filename.
	Extension string
}

// Err converts a rejection into a *ValidationError. It returns nil when accepted.
func (d Decision) Err() error {
	if d.Accepted {
		return nil
	}
	return &ValidationError{Reason: d.Reason, Extension: d.Extension}
}

// ValidationError reports a rejected upload candidate.
type ValidationError struct {
	Reason    RejectReason
	Extension string
	Limit     int64
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonMissingExtension:
		return "invalid file: filename has no extension"
	case ReasonExtension:
		return fmt.Sprintf("invalid file: extension %q is not allowed", e.Extension)
	case ReasonTooLarge:
		if e.Limit > 0 {
			return fmt.Sprintf("invalid file: exceeds maximum size of %d bytes", e.Limit)
		}
		return "invalid file: exceeds maximum size"
	default:
		return "invalid file"
	}
}

// Validator decides whether an upload candidate is acceptable based on its
// filename and declared size. It has no side effects.
type Validator struct {
	allowed map[string]bool
	maxSize int64
}

// NewValidator creates a validator. Empty extensions or a non-positive
// maxSize fall back to the defaults.
func NewValidator(extensions []string, maxSize int64) *Validator {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		allowed[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))] = true
	}

	return &Validator{allowed: allowed, maxSize: maxSize}
}

// MaxSize returns the configured size limit in bytes.
func (v *Validator) MaxSize() int64 {
	return v.maxSize
}

// Validate checks filename and declared size. The size is checked first so
// an oversized file is reported as such regardless of its extension.
func (v *Validator) Validate(filename string, size int64) Decision {
	ext := Extension(filename)

	if size > v.maxSize {
		return Decision{Reason: ReasonTooLarge, Extension: ext}
	}
	if ext == "" {
		return Decision{Reason: ReasonMissingExtension}
	}
	if !v.allowed[ext] {
		return Decision{Reason: ReasonExtension, Extension: ext}
	}

	return Decision{Accepted: true, Extension: ext}
}

// TooLarge returns the error reported when the actual content exceeds the limit.
func (v *Validator) TooLarge(ext string) *ValidationError {
	return &ValidationError{Reason: ReasonTooLarge, Extension: ext, Limit: v.maxSize}
}

// Extension returns the lowercase final dot segment of filename, or "" if
// there is none. Directory components are ignored.
func Extension(filename string) string {
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}
	i := strings.LastIndexByte(filename, '.')
	if i < 0 || i == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[i+1:])
}
