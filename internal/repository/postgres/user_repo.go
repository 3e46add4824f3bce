package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prn-tf/user-service/internal/domain"
	"github.com/prn-tf/user-service/internal/repository"
)

// firstUserLockKey is the advisory lock serialising user creation.
const firstUserLockKey int64 = 0x75736572 // "user"

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

const userColumns = `
	id, nickname, email, first_name, last_name, bio, github_profile_url,
	linkedin_profile_url, password_hash, role, email_verified, verification_token,
	is_locked, failed_login_attempts, last_login_at, profile_picture_url,
	created_at, updated_at`

// userRepository implements repository.UserRepository for PostgreSQL.
type userRepository struct {
	db *DB
}

// NewUserRepository creates a new PostgreSQL user repository.
func NewUserRepository(db *DB) repository.UserRepository {
	return &userRepository{db: db}
}

// Create creates a new user. A transaction-scoped advisory lock makes the
// count and the insert atomic with respect to concurrent registrations.
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	return r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, firstUserLockKey); err != nil {
			return fmt.Errorf("failed to acquire user creation lock: %w", err)
		}

		var count int64
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
			return fmt.Errorf("failed to count users: %w", err)
		}
		if count == 0 {
			user.PromoteToFirstUser()
		}

		query := `INSERT INTO users (` + userColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

		_, err := tx.Exec(ctx, query,
			user.ID,
			user.Nickname,
			user.Email,
			user.FirstName,
			user.LastName,
			user.Bio,
			user.GitHubProfileURL,
			user.LinkedInProfileURL,
			user.PasswordHash,
			string(user.Role),
			user.EmailVerified,
			user.VerificationToken,
			user.IsLocked,
			user.FailedLoginAttempts,
			user.LastLoginAt,
			user.ProfilePictureURL,
			user.CreatedAt,
			user.UpdatedAt,
		)
		if err != nil {
			if conflict := conflictFromError(err); conflict != nil {
				return conflict
			}
			return fmt.Errorf("failed to create user: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a user by ID.
func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.getOne(ctx, "id", id)
}

// GetByEmail retrieves a user by email.
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
}

// GetByNickname retrieves a user by nickname.
func (r *userRepository) GetByNickname(ctx context.Context, nickname string) (*domain.User, error) {
	return r.getOne(ctx, "nickname", nickname)
}

// getOne loads a single user by a unique column. column is never user input.
func (r *userRepository) getOne(ctx context.Context, column string, value any) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = $1`

	user, err := scanUser(r.db.Pool.QueryRow(ctx, query, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by %s: %w", column, err)
	}
	return user, nil
}

// Update updates an existing user.
func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	user.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE users
		SET nickname = $1, email = $2, first_name = $3, last_name = $4, bio = $5,
		    github_profile_url = $6, linkedin_profile_url = $7, password_hash = $8,
		    role = $9, email_verified = $10, verification_token = $11, is_locked = $12,
		    failed_login_attempts = $13, last_login_at = $14, profile_picture_url = $15,
		    updated_at = $16
		WHERE id = $17
	`

	tag, err := r.db.Pool.Exec(ctx, query,
		user.Nickname,
		user.Email,
		user.FirstName,
		user.LastName,
		user.Bio,
		user.GitHubProfileURL,
		user.LinkedInProfileURL,
		user.PasswordHash,
		string(user.Role),
		user.EmailVerified,
		user.VerificationToken,
		user.IsLocked,
		user.FailedLoginAttempts,
		user.LastLoginAt,
		user.ProfilePictureURL,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		if conflict := conflictFromError(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("failed to update user: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// UpdateLoginState writes the login bookkeeping columns of a user.
func (r *userRepository) UpdateLoginState(ctx context.Context, user *domain.User) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE users
		SET failed_login_attempts = $1, is_locked = $2, last_login_at = $3, updated_at = $4
		WHERE id = $5`,
		user.FailedLoginAttempts, user.IsLocked, user.LastLoginAt, user.UpdatedAt, user.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update login state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// UpdateProfilePicture sets the profile picture URL.
func (r *userRepository) UpdateProfilePicture(ctx context.Context, id uuid.UUID, url string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET profile_picture_url = $1, updated_at = $2 WHERE id = $3`,
		url, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile picture: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// List returns users with pagination.
func (r *userRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.User], error) {
	opts = opts.Normalize()

	total, err := r.Count(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + userColumns + `
		FROM users
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Pool.Query(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]*domain.User, 0, opts.Limit)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return &repository.ListResult[domain.User]{
		Items:  users,
		Total:  total,
		Offset: opts.Offset,
		Limit:  opts.Limit,
	}, nil
}

// Count returns the number of users.
func (r *userRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return total, nil
}

// ExistsByNickname checks if a user with the given nickname exists.
func (r *userRepository) ExistsByNickname(ctx context.Context, nickname string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE nickname = $1)`, nickname).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check nickname existence: %w", err)
	}
	return exists, nil
}

// ExistsByEmail checks if a user with the given email exists.
func (r *userRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`,
		strings.ToLower(strings.TrimSpace(email))).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email existence: %w", err)
	}
	return exists, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	user := &domain.User{}
	var role string

	err := row.Scan(
		&user.ID,
		&user.Nickname,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.Bio,
		&user.GitHubProfileURL,
		&user.LinkedInProfileURL,
		&user.PasswordHash,
		&role,
		&user.EmailVerified,
		&user.VerificationToken,
		&user.IsLocked,
		&user.FailedLoginAttempts,
		&user.LastLoginAt,
		&user.ProfilePictureURL,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Role = domain.Role(role)
	return user, nil
}

// conflictFromError maps a unique violation on users to a *domain.ConflictError.
func conflictFromError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return nil
	}
	switch pgErr.ConstraintName {
	case "users_email_key":
		return &domain.ConflictError{Field: domain.ConflictEmail}
	case "users_nickname_key":
		return &domain.ConflictError{Field: domain.ConflictNickname}
	default:
		return &domain.ConflictError{}
	}
}

// Ensure userRepository implements repository.UserRepository.
var _ repository.UserRepository = (*userRepository)(nil)
