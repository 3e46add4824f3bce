package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/user-service/internal/lock"
	"github.com/prn-tf/user-service/internal/metrics"
	"github.com/prn-tf/user-service/internal/picture"
	"github.com/prn-tf/user-service/internal/repository"
	"github.com/prn-tf/user-service/internal/storage"
)

// DefaultUploadLockTTL bounds how long one upload may hold the per-user lock.
const DefaultUploadLockTTL = 30 * time.Second

// UploadState is a step of the profile picture workflow.
type UploadState string

const (
	StateReceived   UploadState = "received"
	StateValidated  UploadState = "validated"
	StateNormalized UploadState = "normalized"
	StateUploaded   UploadState = "uploaded"
	StateLinked     UploadState = "linked"
	StateFailed     UploadState = "failed"
)

// FailureReason names the step a failed upload stopped at.
type FailureReason string

const (
	FailureConcurrent    FailureReason = "concurrent"
	FailureLock          FailureReason = "lock"
	FailureValidation    FailureReason = "validation"
	FailureStaging       FailureReason = "staging"
	FailureNormalization FailureReason = "normalization"
	FailureConfiguration FailureReason = "configuration"
	FailureUpload        FailureReason = "upload"
	FailureLink          FailureReason = "link"
)

// UploadResult is returned for every upload attempt.
type UploadResult struct {
	// State is StateLinked on success and StateFailed otherwise.
	State UploadState `json:"state"`

	// Reached is the last state entered before the outcome.
	Reached UploadState `json:"-"`

	// URL is the stored picture URL, set only when linked.
	URL string `json:"profile_picture_url,omitempty"`
}

// UploadFailure is the error of a failed upload. Err is the component error
// (*picture.ValidationError, *picture.NormalizationError,
// storage.ErrNotConfigured, *storage.UploadError, ...).
type UploadFailure struct {
	Reason FailureReason
	Err    error
}

// Error implements the error interface.
func (e *UploadFailure) Error() string {
	return fmt.Sprintf("profile picture %s failed: %v", e.Reason, e.Err)
}

// Unwrap returns the component error.
func (e *UploadFailure) Unwrap() error {
	return e.Err
}

// ProfilePictureConfig holds the workflow settings.
type ProfilePictureConfig struct {
	// TempDir is where uploads are staged. Empty means os.TempDir().
	TempDir string

	// LockTTL bounds the per-user upload lock.
	LockTTL time.Duration
}

// ProfilePictureService runs the upload workflow:
// Received → Validated → Normalized → Uploaded → Linked.
type ProfilePictureService struct {
	userRepo   repository.UserRepository
	store      storage.ObjectStore
	validator  *picture.Validator
	normalizer *picture.Normalizer
	locker     lock.Locker
	metrics    *metrics.Metrics
	cfg        ProfilePictureConfig
	logger     zerolog.Logger
}

// NewProfilePictureService creates a new ProfilePictureService.
// store may be nil, in which case every upload fails with a configuration
// error. locker defaults to a no-op locker and m may be nil.
func NewProfilePictureService(
	userRepo repository.UserRepository,
	store storage.ObjectStore,
	validator *picture.Validator,
	normalizer *picture.Normalizer,
	locker lock.Locker,
	m *metrics.Metrics,
	cfg ProfilePictureConfig,
	logger zerolog.Logger,
) *ProfilePictureService {
	if locker == nil {
		locker = lock.NewNoOpLocker()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultUploadLockTTL
	}
	return &ProfilePictureService{
		userRepo:   userRepo,
		store:      store,
		validator:  validator,
		normalizer: normalizer,
		locker:     locker,
		metrics:    m,
		cfg:        cfg,
		logger:     logger.With().Str("service", "profile_picture").Logger(),
	}
}

// Upload validates, normalizes and stores a profile picture and links its
// URL to the user. The user record is only touched in the final step.
func (s *ProfilePictureService) Upload(ctx context.Context, userID uuid.UUID, candidate picture.Candidate) (*UploadResult, error) {
	start := time.Now()
	logger := s.logger.With().
		Str("user_id", userID.String()).
		Str("filename", candidate.Filename).
		Logger()

	lockKey := lock.Keys.ProfilePicture(userID)
	acquired, err := s.locker.Acquire(ctx, lockKey, s.cfg.LockTTL)
	if err != nil {
		return s.fail(logger, start, &UploadResult{Reached: StateReceived}, &UploadFailure{
			Reason: FailureLock,
			Err:    fmt.Errorf("%w: acquire upload lock: %v", ErrInternalError, err),
		})
	}
	if !acquired {
		return s.fail(logger, start, &UploadResult{Reached: StateReceived}, &UploadFailure{
			Reason: FailureConcurrent,
			Err:    ErrUploadInProgress,
		})
	}
	defer func() {
		if _, err := s.locker.Release(context.WithoutCancel(ctx), lockKey); err != nil {
			logger.Warn().Err(err).Msg("failed to release upload lock")
		}
	}()

	result, failure := s.run(ctx, userID, candidate, logger)
	if failure != nil {
		return s.fail(logger, start, result, failure)
	}

	s.metrics.RecordUpload(metrics.OutcomeSuccess, time.Since(start))
	logger.Info().
		Str("url", result.URL).
		Dur("duration", time.Since(start)).
		Msg("profile picture updated")

	return result, nil
}

// run executes the workflow steps. The staging file is removed on every path.
func (s *ProfilePictureService) run(ctx context.Context, userID uuid.UUID, candidate picture.Candidate, logger zerolog.Logger) (*UploadResult, *UploadFailure) {
	result := &UploadResult{State: StateReceived, Reached: StateReceived}

	// Validated
	decision := s.validator.Validate(candidate.Filename, candidate.Size)
	if !decision.Accepted {
		return result, &UploadFailure{Reason: FailureValidation, Err: decision.Err()}
	}
	format, ok := picture.FormatFromExtension(decision.Extension)
	if !ok {
		return result, &UploadFailure{Reason: FailureValidation, Err: &picture.ValidationError{
			Reason:    picture.ReasonExtension,
			Extension: decision.Extension,
		}}
	}

	data, failure := s.stage(candidate, decision.Extension, logger)
	if failure != nil {
		return result, failure
	}
	result.Reached = StateValidated

	// Normalized
	normalized, err := s.normalizer.Normalize(data, format)
	if err != nil {
		return result, &UploadFailure{Reason: FailureNormalization, Err: err}
	}
	result.Reached = StateNormalized
	logger.Debug().
		Int("orientation", normalized.Orientation).
		Int("bytes", len(normalized.Data)).
		Msg("profile picture normalized")

	// Uploaded
	if s.store == nil {
		return result, &UploadFailure{Reason: FailureConfiguration, Err: storage.ErrNotConfigured}
	}
	key := storage.ProfilePictureKey(userID, decision.Extension)
	url, err := s.store.Put(ctx, key, normalized.Data, normalized.Format.ContentType())
	if err != nil {
		if errors.Is(err, storage.ErrNotConfigured) {
			return result, &UploadFailure{Reason: FailureConfiguration, Err: err}
		}
		return result, &UploadFailure{Reason: FailureUpload, Err: err}
	}
	result.Reached = StateUploaded

	// Linked
	if err := s.userRepo.UpdateProfilePicture(ctx, userID, url); err != nil {
		return result, &UploadFailure{Reason: FailureLink, Err: err}
	}
	result.Reached = StateLinked
	result.State = StateLinked
	result.URL = url

	return result, nil
}

// stage copies the body to a scratch file, enforcing the size limit on the
// bytes actually received, and returns the staged content.
func (s *ProfilePictureService) stage(candidate picture.Candidate, ext string, logger zerolog.Logger) ([]byte, *UploadFailure) {
	if candidate.Body == nil {
		return nil, &UploadFailure{Reason: FailureStaging, Err: errors.New("empty upload body")}
	}

	f, err := os.CreateTemp(s.cfg.TempDir, "profile-picture-*."+ext)
	if err != nil {
		return nil, &UploadFailure{Reason: FailureStaging, Err: fmt.Errorf("create scratch file: %w", err)}
	}
	defer func() {
		_ = f.Close()
		if err := os.Remove(f.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Str("path", f.Name()).Msg("failed to remove scratch file")
		}
	}()

	maxSize := s.validator.MaxSize()
	n, err := io.Copy(f, io.LimitReader(candidate.Body, maxSize+1))
	if err != nil {
		return nil, &UploadFailure{Reason: FailureStaging, Err: fmt.Errorf("write scratch file: %w", err)}
	}
	if n > maxSize {
		return nil, &UploadFailure{Reason: FailureValidation, Err: s.validator.TooLarge(ext)}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, &UploadFailure{Reason: FailureStaging, Err: fmt.Errorf("rewind scratch file: %w", err)}
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, &UploadFailure{Reason: FailureStaging, Err: fmt.Errorf("read scratch file: %w", err)}
	}
	return data, nil
}

// fail marks result as failed, records the outcome under the failure reason
// and logs it once: client problems at warn, the rest at error.
func (s *ProfilePictureService) fail(logger zerolog.Logger, start time.Time, result *UploadResult, failure *UploadFailure) (*UploadResult, error) {
	result.State = StateFailed
	s.metrics.RecordUpload(string(failure.Reason), time.Since(start))

	event := logger.Error()
	switch failure.Reason {
	case FailureValidation, FailureNormalization:
		event = logger.Warn()
	case FailureConcurrent:
		event = logger.Debug()
	}
	event.Err(failure.Err).Str("reason", string(failure.Reason)).Msg("profile picture upload failed")

	return result, failure
}
