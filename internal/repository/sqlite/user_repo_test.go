package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/user-service/internal/config"
	"github.com/prn-tf/user-service/internal/domain"
	"github.com/prn-tf/user-service/internal/repository"
)

func newTestDB(t *testing.T, path string) *DB {
	t.Helper()
	db, err := NewDB(context.Background(), DefaultConfig(path), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func newTestRepo(t *testing.T) repository.UserRepository {
	t.Helper()
	return NewUserRepository(newTestDB(t, filepath.Join(t.TempDir(), "users.db")))
}

func newUser(i int) *domain.User {
	return domain.NewUser(fmt.Sprintf("user%d", i), fmt.Sprintf("user%d@example.com", i), "hash")
}

func TestUserRepository_FirstUserIsAdmin(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first := newUser(1)
	first.VerificationToken = "tok"
	require.NoError(t, repo.Create(ctx, first))
	assert.Equal(t, domain.RoleAdmin, first.Role)
	assert.True(t, first.EmailVerified)

	second := newUser(2)
	second.VerificationToken = "tok2"
	require.NoError(t, repo.Create(ctx, second))
	assert.Equal(t, domain.RoleAuthenticated, second.Role)
	assert.False(t, second.EmailVerified)

	stored, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, stored.Role)
	assert.True(t, stored.EmailVerified)
	assert.Empty(t, stored.VerificationToken)

	stored, err = repo.GetByEmail(ctx, "USER2@example.com")
	require.NoError(t, err)
	assert.Equal(t, second.ID, stored.ID)
	assert.Equal(t, "tok2", stored.VerificationToken)
}

func TestUserRepository_ConcurrentFirstUser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.db")
	// Two handles on the same file behave like two processes.
	repos := []repository.UserRepository{
		NewUserRepository(newTestDB(t, path)),
		NewUserRepository(newTestDB(t, path)),
	}
	ctx := context.Background()

	const n = 16
	users := make([]*domain.User, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		users[i] = newUser(i)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repos[i%2].Create(ctx, users[i])
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "create %d", i)
	}

	result, err := repos[0].List(ctx, repository.ListOptions{Limit: 100})
	require.NoError(t, err)
	require.Len(t, result.Items, n)

	admins := 0
	for _, u := range result.Items {
		if u.Role == domain.RoleAdmin {
			admins++
			assert.True(t, u.EmailVerified)
		}
	}
	assert.Equal(t, 1, admins, "exactly one user may be created as first user")
}

func TestUserRepository_Conflicts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newUser(1)))

	dupEmail := domain.NewUser("other", "user1@example.com", "hash")
	err := repo.Create(ctx, dupEmail)
	var conflict *domain.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, domain.ConflictEmail, conflict.Field)
	assert.ErrorIs(t, err, domain.ErrUserAlreadyExists)

	dupNick := domain.NewUser("user1", "other@example.com", "hash")
	err = repo.Create(ctx, dupNick)
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, domain.ConflictNickname, conflict.Field)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "no row may be persisted on conflict")

	// Update into a taken nickname.
	u2 := newUser(2)
	require.NoError(t, repo.Create(ctx, u2))
	u2.Nickname = "user1"
	err = repo.Update(ctx, u2)
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, domain.ConflictNickname, conflict.Field)
}

func TestUserRepository_UpdateAndProfilePicture(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	u := newUser(1)
	require.NoError(t, repo.Create(ctx, u))

	u.Bio = "hello"
	u.Role = domain.RoleManager
	u.IsLocked = true
	u.FailedLoginAttempts = 3
	now := time.Now().UTC().Truncate(time.Microsecond)
	u.LastLoginAt = &now
	require.NoError(t, repo.Update(ctx, u))

	require.NoError(t, repo.UpdateProfilePicture(ctx, u.ID, "http://minio:9000/avatars/x.png"))

	stored, err := repo.GetByNickname(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, "hello", stored.Bio)
	assert.Equal(t, domain.RoleManager, stored.Role)
	assert.True(t, stored.IsLocked)
	assert.Equal(t, 3, stored.FailedLoginAttempts)
	require.NotNil(t, stored.LastLoginAt)
	assert.True(t, now.Equal(*stored.LastLoginAt))
	assert.Equal(t, "http://minio:9000/avatars/x.png", stored.ProfilePictureURL)

	assert.ErrorIs(t, repo.UpdateProfilePicture(ctx, uuid.New(), "x"), domain.ErrUserNotFound)

	missing := newUser(9)
	assert.ErrorIs(t, repo.Update(ctx, missing), domain.ErrUserNotFound)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestUserRepository_UpdateLoginStateKeepsOtherColumns(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	u := newUser(1)
	require.NoError(t, repo.Create(ctx, u))

	// Loaded before the picture is linked.
	stale, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)

	require.NoError(t, repo.UpdateProfilePicture(ctx, u.ID, "http://minio:9000/avatars/new.png"))

	stale.Bio = "ignored"
	stale.RecordFailedLogin(1)
	require.NoError(t, repo.UpdateLoginState(ctx, stale))

	stored, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "http://minio:9000/avatars/new.png", stored.ProfilePictureURL)
	assert.Empty(t, stored.Bio)
	assert.True(t, stored.IsLocked)
	assert.Equal(t, 1, stored.FailedLoginAttempts)

	now := time.Now().UTC().Truncate(time.Millisecond)
	stored.Unlock()
	stored.RecordSuccessfulLogin(now)
	require.NoError(t, repo.UpdateLoginState(ctx, stored))

	stored, err = repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsLocked)
	assert.Zero(t, stored.FailedLoginAttempts)
	require.NotNil(t, stored.LastLoginAt)
	assert.True(t, now.Equal(*stored.LastLoginAt))

	assert.ErrorIs(t, repo.UpdateLoginState(ctx, newUser(9)), domain.ErrUserNotFound)
}

func TestUserRepository_ListAndExists(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, newUser(i)))
	}

	page, err := repo.List(ctx, repository.ListOptions{Offset: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.Total)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.Limit)

	// Newest first.
	all, err := repo.List(ctx, repository.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, repository.DefaultListLimit, all.Limit)
	assert.Equal(t, "user4", all.Items[0].Nickname)

	ok, err := repo.ExistsByNickname(ctx, "user3")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ExistsByEmail(ctx, "USER3@EXAMPLE.COM")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ExistsByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpen(t *testing.T) {
	cfg := config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "nested", "users.db")}

	repos, db, err := Open(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Health(context.Background()))
	// Migrating twice is a no-op.
	require.NoError(t, db.Migrate(context.Background()))

	count, err := repos.User.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestConfigDSN(t *testing.T) {
	dsn := DefaultConfig("/tmp/x.db").DSN()
	assert.Contains(t, dsn, "/tmp/x.db?")
	assert.Contains(t, dsn, "_txlock=immediate")
	assert.Contains(t, dsn, "busy_timeout%285000%29")
}
