package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/user-service/internal/domain"
	"github.com/prn-tf/user-service/internal/repository"
)

// timeFormat is fixed-width so that stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const userColumns = `
	id, nickname, email, first_name, last_name, bio, github_profile_url,
	linkedin_profile_url, password_hash, role, email_verified, verification_token,
	is_locked, failed_login_attempts, last_login_at, profile_picture_url,
	created_at, updated_at`

// userRepository implements repository.UserRepository for SQLite.
type userRepository struct {
	db *DB
}

// NewUserRepository creates a new SQLite user repository.
func NewUserRepository(db *DB) repository.UserRepository {
	return &userRepository{db: db}
}

// Create creates a new user. The count and insert share one IMMEDIATE
// transaction, so the write lock is held from the count onwards.
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var count int64
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
			return fmt.Errorf("failed to count users: %w", err)
		}
		if count == 0 {
			user.PromoteToFirstUser()
		}

		query := `INSERT INTO users (` + userColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

		_, err := tx.ExecContext(ctx, query,
			user.ID.String(),
			user.Nickname,
			user.Email,
			user.FirstName,
			user.LastName,
			user.Bio,
			user.GitHubProfileURL,
			user.LinkedInProfileURL,
			user.PasswordHash,
			string(user.Role),
			boolToInt(user.EmailVerified),
			user.VerificationToken,
			boolToInt(user.IsLocked),
			user.FailedLoginAttempts,
			formatNullTime(user.LastLoginAt),
			user.ProfilePictureURL,
			user.CreatedAt.UTC().Format(timeFormat),
			user.UpdatedAt.UTC().Format(timeFormat),
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
	return r.getOne(ctx, "id", id.String())
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
func (r *userRepository) getOne(ctx context.Context, column, value string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = ?`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, value))
	if err != nil {
		if isNoRows(err) {
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
		SET nickname = ?, email = ?, first_name = ?, last_name = ?, bio = ?,
		    github_profile_url = ?, linkedin_profile_url = ?, password_hash = ?,
		    role = ?, email_verified = ?, verification_token = ?, is_locked = ?,
		    failed_login_attempts = ?, last_login_at = ?, profile_picture_url = ?,
		    updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		user.Nickname,
		user.Email,
		user.FirstName,
		user.LastName,
		user.Bio,
		user.GitHubProfileURL,
		user.LinkedInProfileURL,
		user.PasswordHash,
		string(user.Role),
		boolToInt(user.EmailVerified),
		user.VerificationToken,
		boolToInt(user.IsLocked),
		user.FailedLoginAttempts,
		formatNullTime(user.LastLoginAt),
		user.ProfilePictureURL,
		user.UpdatedAt.Format(timeFormat),
		user.ID.String(),
	)
	if err != nil {
		if conflict := conflictFromError(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("failed to update user: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrUserNotFound
	}

	return nil
}

// UpdateLoginState writes the login bookkeeping columns of a user.
func (r *userRepository) UpdateLoginState(ctx context.Context, user *domain.User) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		SET failed_login_attempts = ?, is_locked = ?, last_login_at = ?, updated_at = ?
		WHERE id = ?`,
		user.FailedLoginAttempts,
		boolToInt(user.IsLocked),
		formatNullTime(user.LastLoginAt),
		user.UpdatedAt.Format(timeFormat),
		user.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update login state: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// UpdateProfilePicture sets the profile picture URL.
func (r *userRepository) UpdateProfilePicture(ctx context.Context, id uuid.UUID, url string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET profile_picture_url = ?, updated_at = ? WHERE id = ?`,
		url, time.Now().UTC().Format(timeFormat), id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update profile picture: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
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
		LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, opts.Limit, opts.Offset)
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
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return total, nil
}

// ExistsByNickname checks if a user with the given nickname exists.
func (r *userRepository) ExistsByNickname(ctx context.Context, nickname string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE nickname = ?`, nickname).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check nickname existence: %w", err)
	}
	return count > 0, nil
}

// ExistsByEmail checks if a user with the given email exists.
func (r *userRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email))).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check email existence: %w", err)
	}
	return count > 0, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	user := &domain.User{}
	var (
		id, role                string
		emailVerified, isLocked int
		lastLoginAt             sql.NullString
		createdAt, updatedAt    string
	)

	err := row.Scan(
		&id,
		&user.Nickname,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.Bio,
		&user.GitHubProfileURL,
		&user.LinkedInProfileURL,
		&user.PasswordHash,
		&role,
		&emailVerified,
		&user.VerificationToken,
		&isLocked,
		&user.FailedLoginAttempts,
		&lastLoginAt,
		&user.ProfilePictureURL,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", id, err)
	}
	user.Role = domain.Role(role)
	user.EmailVerified = emailVerified != 0
	user.IsLocked = isLocked != 0
	user.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	user.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	if lastLoginAt.Valid {
		if t, err := time.Parse(timeFormat, lastLoginAt.String); err == nil {
			user.LastLoginAt = &t
		}
	}

	return user, nil
}

// boolToInt converts a boolean to an integer (SQLite doesn't have native boolean).
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// formatNullTime converts an optional timestamp to a nullable column value.
func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeFormat), Valid: true}
}

// Ensure userRepository implements repository.UserRepository.
var _ repository.UserRepository = (*userRepository)(nil)
