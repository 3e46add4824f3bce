package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/prn-tf/user-service/internal/domain"
	"github.com/prn-tf/user-service/internal/repository"
	"github.com/prn-tf/user-service/internal/storage"
)

// =============================================================================
// In-memory UserRepository
// =============================================================================

// MockUserRepository is an in-memory repository.UserRepository that applies
// the first-user rule and the uniqueness constraints like the real stores.
type MockUserRepository struct {
	mu    sync.Mutex
	users map[uuid.UUID]*domain.User

	updateErr  error
	pictureErr error
}

func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{users: make(map[uuid.UUID]*domain.User)}
}

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == user.Email {
			return &domain.ConflictError{Field: domain.ConflictEmail}
		}
		if u.Nickname == user.Nickname {
			return &domain.ConflictError{Field: domain.ConflictNickname}
		}
	}
	if len(m.users) == 0 {
		user.PromoteToFirstUser()
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return m.find(func(u *domain.User) bool { return u.Email == strings.ToLower(strings.TrimSpace(email)) })
}

func (m *MockUserRepository) GetByNickname(ctx context.Context, nickname string) (*domain.User, error) {
	return m.find(func(u *domain.User) bool { return u.Nickname == nickname })
}

func (m *MockUserRepository) find(match func(*domain.User) bool) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (m *MockUserRepository) Update(ctx context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.users[user.ID]; !ok {
		return domain.ErrUserNotFound
	}
	for id, u := range m.users {
		if id != user.ID && u.Nickname == user.Nickname {
			return &domain.ConflictError{Field: domain.ConflictNickname}
		}
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *MockUserRepository) UpdateLoginState(ctx context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return m.updateErr
	}
	u, ok := m.users[user.ID]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.FailedLoginAttempts = user.FailedLoginAttempts
	u.IsLocked = user.IsLocked
	u.LastLoginAt = user.LastLoginAt
	u.UpdatedAt = user.UpdatedAt
	return nil
}

func (m *MockUserRepository) UpdateProfilePicture(ctx context.Context, id uuid.UUID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pictureErr != nil {
		return m.pictureErr
	}
	u, ok := m.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.ProfilePictureURL = url
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MockUserRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.User], error) {
	opts = opts.Normalize()

	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*domain.User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Nickname < all[j].Nickname })

	end := opts.Offset + opts.Limit
	if opts.Offset > len(all) {
		opts.Offset = len(all)
	}
	if end > len(all) {
		end = len(all)
	}

	return &repository.ListResult[domain.User]{
		Items:  all[opts.Offset:end],
		Total:  int64(len(all)),
		Offset: opts.Offset,
		Limit:  opts.Limit,
	}, nil
}

func (m *MockUserRepository) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.users)), nil
}

func (m *MockUserRepository) ExistsByNickname(ctx context.Context, nickname string) (bool, error) {
	_, err := m.GetByNickname(ctx, nickname)
	return err == nil, nil
}

func (m *MockUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := m.GetByEmail(ctx, email)
	return err == nil, nil
}

// user returns the stored record without copying.
func (m *MockUserRepository) user(id uuid.UUID) *domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

var _ repository.UserRepository = (*MockUserRepository)(nil)

// =============================================================================
// Mock ObjectStore
// =============================================================================

type mockObjectStore struct {
	mock.Mock
}

func (m *mockObjectStore) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	args := m.Called(ctx, key, body, contentType)
	return args.String(0), args.Error(1)
}

func (m *mockObjectStore) BucketExists(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *mockObjectStore) EnsureBucket(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

var _ storage.ObjectStore = (*mockObjectStore)(nil)
