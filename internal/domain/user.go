// Package domain contains the core business entities for the user service.
// These are plain Go structs representing users, roles and the rules that
// govern their lifecycle.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the authorization level of a user.
type Role string

const (
	// RoleAnonymous is the implicit role of unauthenticated callers.
	// It is never assigned to a stored user.
	RoleAnonymous Role = "ANONYMOUS"

	// RoleAuthenticated is the default role for registered users.
	RoleAuthenticated Role = "AUTHENTICATED"

	// RoleManager can list users and unlock accounts.
	RoleManager Role = "MANAGER"

	// RoleAdmin has full control, including role changes.
	RoleAdmin Role = "ADMIN"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAnonymous, RoleAuthenticated, RoleManager, RoleAdmin:
		return true
	}
	return false
}

// Assignable reports whether r may be stored on a user record.
func (r Role) Assignable() bool {
	return r.Valid() && r != RoleAnonymous
}

// String implements fmt.Stringer.
func (r Role) String() string {
	return string(r)
}

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", NewDomainError(ErrInvalidRole, "unknown role", s)
	}
	return r, nil
}

// User represents a registered account.
type User struct {
	// ID is the unique identifier for the user.
	ID uuid.UUID `json:"id"`

	// Nickname is the unique public handle.
	Nickname string `json:"nickname"`

	// Email is the unique email address used for login.
	Email string `json:"email"`

	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
	Bio                string `json:"bio,omitempty"`
	GitHubProfileURL   string `json:"github_profile_url,omitempty"`
	LinkedInProfileURL string `json:"linkedin_profile_url,omitempty"`

	// PasswordHash is the bcrypt hash of the user's password.
	// This should never be exposed in API responses.
	PasswordHash string `json:"-"`

	// Role controls what the user may do.
	Role Role `json:"role"`

	// EmailVerified is set once the verification token has been redeemed.
	EmailVerified bool `json:"email_verified"`

	// VerificationToken is the outstanding email verification token, if any.
	VerificationToken string `json:"-"`

	// IsLocked blocks login until an admin or manager unlocks the account.
	IsLocked bool `json:"is_locked"`

	// FailedLoginAttempts counts consecutive failed logins.
	FailedLoginAttempts int `json:"-"`

	// LastLoginAt is the time of the last successful login.
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`

	// ProfilePictureURL references the stored, normalized profile picture.
	// Re-uploads overwrite it; the previous object is left in the store.
	ProfilePictureURL string `json:"profile_picture_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUser creates a new User with default values.
// The role is AUTHENTICATED and the email is unverified; the repository
// promotes the very first account with PromoteToFirstUser.
func NewUser(nickname, email, passwordHash string) *User {
	now := time.Now().UTC()
	return &User{
		ID:           uuid.New(),
		Nickname:     nickname,
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: passwordHash,
		Role:         RoleAuthenticated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// PromoteToFirstUser applies the first-account policy: the user becomes an
// admin with a verified email and no outstanding verification token.
func (u *User) PromoteToFirstUser() {
	u.Role = RoleAdmin
	u.EmailVerified = true
	u.VerificationToken = ""
}

// CanAuthenticate returns true if the user is allowed to log in.
func (u *User) CanAuthenticate() bool {
	return !u.IsLocked
}

// HasAnyRole reports whether the user holds one of the given roles.
func (u *User) HasAnyRole(roles ...Role) bool {
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

// RecordFailedLogin increments the failure counter and locks the account
// once maxAttempts is reached. It returns true if the account became locked.
func (u *User) RecordFailedLogin(maxAttempts int) bool {
	u.FailedLoginAttempts++
	u.UpdatedAt = time.Now().UTC()
	if maxAttempts > 0 && u.FailedLoginAttempts >= maxAttempts && !u.IsLocked {
		u.IsLocked = true
		return true
	}
	return false
}

// RecordSuccessfulLogin resets the failure counter and stamps the login time.
func (u *User) RecordSuccessfulLogin(at time.Time) {
	at = at.UTC()
	u.FailedLoginAttempts = 0
	u.LastLoginAt = &at
	u.UpdatedAt = at
}

// Unlock clears the lock and the failure counter.
func (u *User) Unlock() {
	u.IsLocked = false
	u.FailedLoginAttempts = 0
	u.UpdatedAt = time.Now().UTC()
}

// ProfileUpdate is a partial update of the editable profile fields.
// Nil fields are left unchanged.
type ProfileUpdate struct {
	Nickname           *string `json:"nickname,omitempty"`
	FirstName          *string `json:"first_name,omitempty"`
	LastName           *string `json:"last_name,omitempty"`
	Bio                *string `json:"bio,omitempty"`
	GitHubProfileURL   *string `json:"github_profile_url,omitempty"`
	LinkedInProfileURL *string `json:"linkedin_profile_url,omitempty"`
}

// Apply copies the set fields onto u.
func (p ProfileUpdate) Apply(u *User) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&u.Nickname, p.Nickname)
	set(&u.FirstName, p.FirstName)
	set(&u.LastName, p.LastName)
	set(&u.Bio, p.Bio)
	set(&u.GitHubProfileURL, p.GitHubProfileURL)
	set(&u.LinkedInProfileURL, p.LinkedInProfileURL)
	u.UpdatedAt = time.Now().UTC()
}
