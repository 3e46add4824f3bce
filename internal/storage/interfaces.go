// Package storage provides the object store used for profile pictures.
// Objects live in a single S3-compatible bucket (MinIO in development) and
// are addressed by keys derived from the owning user's ID.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ObjectStore defines the operations the profile picture workflow needs
// from an object store.
type ObjectStore interface {
	// Put writes body under key and returns the object's public URL.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - key: Object key within the configured bucket
	//   - body: Complete object content
	//   - contentType: MIME type stored with the object
	//
	// Returns:
	//   - url: Publicly resolvable URL of the stored object
	//   - err: ErrNotConfigured if there is no client, *UploadError on store failure
	Put(ctx context.Context, key string, body []byte, contentType string) (url string, err error)

	// BucketExists reports whether the configured bucket exists.
	BucketExists(ctx context.Context) (bool, error)

	// EnsureBucket creates the configured bucket if it does not exist.
	EnsureBucket(ctx context.Context) error
}

// ErrNotConfigured indicates that no object store client is available.
// It is an operator problem, not a client one.
var ErrNotConfigured = errors.New("object store is not configured")

// UploadError reports a failure returned by the object store.
// It may be transient; no retry is attempted by the store itself.
type UploadError struct {
	// Op is the store operation that failed (e.g. "put", "head_bucket").
	Op string

	// Key is the object key or bucket name involved.
	Key string

	// Err is the underlying SDK error.
	Err error
}

// Error implements the error interface.
func (e *UploadError) Error() string {
	return fmt.Sprintf("object store %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *UploadError) Unwrap() error {
	return e.Err
}
