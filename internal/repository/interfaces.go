// Package repository defines data access interfaces for the user service.
// These interfaces abstract database operations, allowing for different implementations
// (PostgreSQL, SQLite, in-memory for testing) while keeping the service layer clean.
package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/prn-tf/user-service/internal/domain"
)

// =============================================================================
// User Repository
// =============================================================================

// UserRepository defines the interface for user data access.
type UserRepository interface {
	// Create inserts a new user. When no user exists yet, the user is
	// promoted with domain.User.PromoteToFirstUser before the insert; the
	// count and the insert happen atomically with respect to other Create
	// calls. Unique violations are returned as *domain.ConflictError.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)

	// GetByEmail retrieves a user by email.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// GetByNickname retrieves a user by nickname.
	GetByNickname(ctx context.Context, nickname string) (*domain.User, error)

	// Update writes every mutable field of an existing user.
	Update(ctx context.Context, user *domain.User) error

	// UpdateLoginState writes only the lockout and login bookkeeping of a
	// user: failed attempts, lock flag, last login and updated_at.
	UpdateLoginState(ctx context.Context, user *domain.User) error

	// UpdateProfilePicture sets the profile picture URL of a user.
	UpdateProfilePicture(ctx context.Context, id uuid.UUID, url string) error

	// List returns users with pagination, newest first.
	List(ctx context.Context, opts ListOptions) (*ListResult[domain.User], error)

	// Count returns the number of users.
	Count(ctx context.Context) (int64, error)

	// ExistsByNickname checks if a user with the given nickname exists.
	ExistsByNickname(ctx context.Context, nickname string) (bool, error)

	// ExistsByEmail checks if a user with the given email exists.
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// =============================================================================
// Common Types
// =============================================================================

// Pagination bounds.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ListOptions contains common options for list operations.
type ListOptions struct {
	// Offset is the number of records to skip.
	Offset int

	// Limit is the maximum number of records to return.
	Limit int
}

// Normalize clamps the options to valid bounds.
func (o ListOptions) Normalize() ListOptions {
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	return o
}

// ListResult is a generic paginated list result.
type ListResult[T any] struct {
	// Items is the list of items.
	Items []*T

	// Total is the total number of items (without pagination).
	Total int64

	// Offset is the current offset.
	Offset int

	// Limit is the current limit.
	Limit int
}
