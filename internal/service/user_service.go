package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/user-service/internal/auth"
	"github.com/prn-tf/user-service/internal/domain"
	"github.com/prn-tf/user-service/internal/metrics"
	"github.com/prn-tf/user-service/internal/pkg/crypto"
	"github.com/prn-tf/user-service/internal/repository"
)

// MaxNicknameLength bounds nicknames in runes.
const MaxNicknameLength = 64

// Login results used as the metrics label.
const (
	loginSuccess = "success"
	loginInvalid = "invalid"
	loginLocked  = "locked"
)

// UserServiceConfig holds the user lifecycle settings.
type UserServiceConfig struct {
	BcryptCost       int
	MaxLoginAttempts int
}

// UserService handles user management operations.
type UserService struct {
	userRepo repository.UserRepository
	tokens   *auth.TokenManager
	metrics  *metrics.Metrics
	cfg      UserServiceConfig
	logger   zerolog.Logger
	now      func() time.Time
}

// NewUserService creates a new UserService. m may be nil.
func NewUserService(
	userRepo repository.UserRepository,
	tokens *auth.TokenManager,
	m *metrics.Metrics,
	cfg UserServiceConfig,
	logger zerolog.Logger,
) *UserService {
	return &UserService{
		userRepo: userRepo,
		tokens:   tokens,
		metrics:  m,
		cfg:      cfg,
		logger:   logger.With().Str("service", "user").Logger(),
		now:      time.Now,
	}
}

// =============================================================================
// Input/Output Structs
// =============================================================================

// RegisterInput contains the data needed to register a new user.
type RegisterInput struct {
	Nickname  string `json:"nickname"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// LoginOutput contains the authenticated user and the issued token.
type LoginOutput struct {
	User  *domain.User
	Token *auth.Token
}

// ListUsersInput contains pagination options for listing users.
type ListUsersInput struct {
	Limit  int
	Offset int
}

// ListUsersOutput contains the result of listing users.
type ListUsersOutput struct {
	Users      []*domain.User `json:"users"`
	TotalCount int64          `json:"total_count"`
	Limit      int            `json:"limit"`
	Offset     int            `json:"offset"`
}

// =============================================================================
// Operations
// =============================================================================

// Register creates a new account. The first account ever created becomes an
// admin with a verified email; every other account starts unverified with a
// verification token.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	nickname := strings.TrimSpace(input.Nickname)
	if err := validateNickname(nickname); err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := domain.ValidatePassword(input.Password); err != nil {
		return nil, err
	}

	exists, err := s.userRepo.ExistsByNickname(ctx, nickname)
	if err != nil {
		return nil, s.internal(err, "failed to check nickname existence")
	}
	if exists {
		return nil, &domain.ConflictError{Field: domain.ConflictNickname}
	}

	exists, err = s.userRepo.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, s.internal(err, "failed to check email existence")
	}
	if exists {
		return nil, &domain.ConflictError{Field: domain.ConflictEmail}
	}

	passwordHash, err := crypto.HashPassword(input.Password, s.cfg.BcryptCost)
	if err != nil {
		return nil, s.internal(err, "failed to hash password")
	}

	token, err := crypto.GenerateVerificationToken()
	if err != nil {
		return nil, s.internal(err, "failed to generate verification token")
	}

	user := domain.NewUser(nickname, email, passwordHash)
	user.FirstName = strings.TrimSpace(input.FirstName)
	user.LastName = strings.TrimSpace(input.LastName)
	user.VerificationToken = token

	// Create promotes the user when it is the first one.
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrUserAlreadyExists) {
			return nil, err
		}
		return nil, s.internal(err, "failed to create user")
	}

	s.metrics.RecordRegistration()

	s.logger.Info().
		Str("user_id", user.ID.String()).
		Str("nickname", user.Nickname).
		Str("role", user.Role.String()).
		Bool("email_verified", user.EmailVerified).
		Msg("user registered")

	if !user.EmailVerified {
		s.logger.Debug().
			Str("user_id", user.ID.String()).
			Str("verification_token", user.VerificationToken).
			Msg("email verification token issued")
	}

	return user, nil
}

// Login verifies credentials and issues an access token. Each failed
// attempt is counted; reaching the configured maximum locks the account.
func (s *UserService) Login(ctx context.Context, email, password string) (*LoginOutput, error) {
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			s.logger.Debug().Str("email", email).Msg("user not found during authentication")
			s.metrics.RecordLogin(loginInvalid)
			return nil, domain.ErrInvalidCredentials
		}
		return nil, s.internal(err, "failed to load user for login")
	}

	if !user.CanAuthenticate() {
		s.logger.Debug().Str("user_id", user.ID.String()).Msg("locked user attempted authentication")
		s.metrics.RecordLogin(loginLocked)
		return nil, domain.ErrAccountLocked
	}

	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		if !errors.Is(err, crypto.ErrPasswordMismatch) {
			return nil, s.internal(err, "failed to verify password")
		}

		locked := user.RecordFailedLogin(s.cfg.MaxLoginAttempts)
		if err := s.userRepo.UpdateLoginState(ctx, user); err != nil {
			return nil, s.internal(err, "failed to record failed login")
		}

		if locked {
			s.logger.Warn().
				Str("user_id", user.ID.String()).
				Int("failed_attempts", user.FailedLoginAttempts).
				Msg("account locked after repeated failed logins")
			s.metrics.RecordLogin(loginLocked)
			return nil, domain.ErrAccountLocked
		}

		s.logger.Debug().
			Str("user_id", user.ID.String()).
			Int("failed_attempts", user.FailedLoginAttempts).
			Msg("invalid password during authentication")
		s.metrics.RecordLogin(loginInvalid)
		return nil, domain.ErrInvalidCredentials
	}

	user.RecordSuccessfulLogin(s.now())
	if err := s.userRepo.UpdateLoginState(ctx, user); err != nil {
		return nil, s.internal(err, "failed to record login")
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, s.internal(err, "failed to issue token")
	}

	s.metrics.RecordLogin(loginSuccess)
	s.logger.Info().Str("user_id", user.ID.String()).Msg("user authenticated")

	return &LoginOutput{User: user, Token: token}, nil
}

// VerifyEmail redeems a verification token. Verifying an already verified
// account is a no-op.
func (s *UserService) VerifyEmail(ctx context.Context, id uuid.UUID, token string) error {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if user.EmailVerified {
		return nil
	}

	if user.VerificationToken == "" || token == "" ||
		subtle.ConstantTimeCompare([]byte(user.VerificationToken), []byte(token)) != 1 {
		return domain.ErrInvalidVerificationToken
	}

	user.EmailVerified = true
	user.VerificationToken = ""

	if err := s.userRepo.Update(ctx, user); err != nil {
		return s.internal(err, "failed to mark email verified")
	}

	s.logger.Info().Str("user_id", user.ID.String()).Msg("email verified")
	return nil
}

// GetByID retrieves a user by ID.
func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, s.internal(err, "failed to get user")
	}
	return user, nil
}

// UpdateProfile applies a partial profile update.
func (s *UserService) UpdateProfile(ctx context.Context, id uuid.UUID, update domain.ProfileUpdate) (*domain.User, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.Nickname != nil {
		nickname := strings.TrimSpace(*update.Nickname)
		if err := validateNickname(nickname); err != nil {
			return nil, err
		}
		if nickname != user.Nickname {
			exists, err := s.userRepo.ExistsByNickname(ctx, nickname)
			if err != nil {
				return nil, s.internal(err, "failed to check nickname existence")
			}
			if exists {
				return nil, &domain.ConflictError{Field: domain.ConflictNickname}
			}
		}
	}

	update.Apply(user)

	if err := s.userRepo.Update(ctx, user); err != nil {
		if errors.Is(err, domain.ErrUserAlreadyExists) || errors.Is(err, domain.ErrUserNotFound) {
			return nil, err
		}
		return nil, s.internal(err, "failed to update profile")
	}

	s.logger.Info().Str("user_id", user.ID.String()).Msg("profile updated")
	return user, nil
}

// ChangeRole assigns a new role. ANONYMOUS cannot be assigned.
func (s *UserService) ChangeRole(ctx context.Context, id uuid.UUID, role string) (*domain.User, error) {
	parsed, err := domain.ParseRole(role)
	if err != nil {
		return nil, err
	}
	if !parsed.Assignable() {
		return nil, domain.NewDomainError(domain.ErrInvalidRole, "role cannot be assigned", role)
	}

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	previous := user.Role
	user.Role = parsed

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, s.internal(err, "failed to change role")
	}

	s.logger.Info().
		Str("user_id", user.ID.String()).
		Str("from", previous.String()).
		Str("to", parsed.String()).
		Msg("user role changed")

	return user, nil
}

// Unlock clears the lock and failure counter of an account.
func (s *UserService) Unlock(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	user.Unlock()

	if err := s.userRepo.UpdateLoginState(ctx, user); err != nil {
		return nil, s.internal(err, "failed to unlock user")
	}

	s.logger.Info().Str("user_id", user.ID.String()).Msg("user unlocked")
	return user, nil
}

// List returns users with pagination.
func (s *UserService) List(ctx context.Context, input ListUsersInput) (*ListUsersOutput, error) {
	result, err := s.userRepo.List(ctx, repository.ListOptions{
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return nil, s.internal(err, "failed to list users")
	}

	return &ListUsersOutput{
		Users:      result.Items,
		TotalCount: result.Total,
		Limit:      result.Limit,
		Offset:     result.Offset,
	}, nil
}

// internal logs an infrastructure failure and wraps it in ErrInternalError.
func (s *UserService) internal(err error, msg string) error {
	s.logger.Error().Err(err).Msg(msg)
	return fmt.Errorf("%w: %s: %v", ErrInternalError, msg, err)
}

func validateNickname(nickname string) error {
	n := utf8.RuneCountInString(nickname)
	if n == 0 || n > MaxNicknameLength {
		return domain.NewDomainError(domain.ErrInvalidNickname, "rejected nickname", nickname)
	}
	return nil
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return domain.NewDomainError(domain.ErrInvalidEmail, "not a bare address", email)
	}
	return nil
}
