package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/prn-tf/user-service/internal/auth"
	"github.com/prn-tf/user-service/internal/config"
	"github.com/prn-tf/user-service/internal/domain"
	"github.com/prn-tf/user-service/internal/lock"
	"github.com/prn-tf/user-service/internal/metrics"
	"github.com/prn-tf/user-service/internal/picture"
	"github.com/prn-tf/user-service/internal/repository"
	"github.com/prn-tf/user-service/internal/repository/sqlite"
	"github.com/prn-tf/user-service/internal/service"
	"github.com/prn-tf/user-service/internal/storage"
)

const password = "Str0ng!pass"

// fakeStore is an in-memory storage.ObjectStore.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (s *fakeStore) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[key] = body
	return storage.PublicURL("http://minio:9000", "avatars", key), nil
}

func (s *fakeStore) BucketExists(ctx context.Context) (bool, error) { return true, nil }
func (s *fakeStore) EnsureBucket(ctx context.Context) error         { return nil }

type testServer struct {
	handler http.Handler
	repos   *repository.Repositories
	metrics *metrics.Metrics
}

// newTestServer wires the real services over a fresh SQLite database.
// A nil store leaves profile picture storage unconfigured.
func newTestServer(t *testing.T, store storage.ObjectStore) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	repos, db, err := sqlite.Open(ctx, config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "users.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenManager("handler-test-secret", time.Minute)
	require.NoError(t, err)

	m := metrics.New()
	users := service.NewUserService(repos.User, tokens, m, service.UserServiceConfig{
		BcryptCost:       bcrypt.MinCost,
		MaxLoginAttempts: 3,
	}, logger)
	pictures := service.NewProfilePictureService(
		repos.User,
		store,
		picture.NewValidator(nil, 0),
		picture.NewNormalizer(picture.NormalizerConfig{}),
		lock.NewNoOpLocker(),
		m,
		service.ProfilePictureConfig{TempDir: t.TempDir()},
		logger,
	)

	router := NewRouter(RouterConfig{
		UserService:    users,
		PictureService: pictures,
		Tokens:         tokens,
		Health:         db,
		Metrics:        m,
		Logger:         logger,
	})

	return &testServer{handler: router.Handler(), repos: repos, metrics: m}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) upload(t *testing.T, token, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	fw, err := mw.CreateFormFile(FileField, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	return s.postMultipart(t, token, &buf, mw.FormDataContentType())
}

// uploadDeclared sends the file part with an explicit Content-Length header.
func (s *testServer) uploadDeclared(t *testing.T, token, filename string, declared int64, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+FileField+`"; filename="`+filename+`"`)
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Length", strconv.FormatInt(declared, 10))
	pw, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = pw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	return s.postMultipart(t, token, &buf, mw.FormDataContentType())
}

func (s *testServer) postMultipart(t *testing.T, token string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/me/profile-picture", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) register(t *testing.T, nickname string) map[string]any {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/register", "", service.RegisterInput{
		Nickname: nickname,
		Email:    nickname + "@example.com",
		Password: password,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(t, rec)
}

func (s *testServer) login(t *testing.T, nickname string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/login", "", LoginRequest{Email: nickname + "@example.com", Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode(t, rec)["access_token"].(string)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{G: 180, A: 200})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestRegistrationAndRoles(t *testing.T) {
	s := newTestServer(t, &fakeStore{})

	root := s.register(t, "root")
	assert.Equal(t, "ADMIN", root["role"])
	assert.Equal(t, true, root["email_verified"])
	assert.NotContains(t, root, "password_hash")

	bob := s.register(t, "bob")
	assert.Equal(t, "AUTHENTICATED", bob["role"])
	assert.Equal(t, false, bob["email_verified"])
	bobID := bob["id"].(string)

	// Weak password lists every violation.
	rec := s.do(t, http.MethodPost, "/register", "", service.RegisterInput{Nickname: "weak", Email: "weak@example.com", Password: "short1!"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, string(CodeWeakPassword), body["code"])
	assert.Len(t, body["violations"], 2)

	// Duplicate nickname.
	rec = s.do(t, http.MethodPost, "/register", "", service.RegisterInput{Nickname: "bob", Email: "other@example.com", Password: password})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "nickname", decode(t, rec)["field"])

	bobToken := s.login(t, "bob")
	rootToken := s.login(t, "root")

	rec = s.do(t, http.MethodGet, "/me", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", decode(t, rec)["nickname"])

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/me", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/users", bobToken, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPut, "/users/"+bobID+"/role", bobToken, RoleRequest{Role: "ADMIN"}).Code)

	rec = s.do(t, http.MethodGet, "/users?limit=1", rootToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)
	assert.EqualValues(t, 2, list["total_count"])
	assert.Len(t, list["users"], 1)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/users?limit=x", rootToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/users/"+uuid.NewString(), rootToken, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/users/not-a-uuid", rootToken, nil).Code)

	rec = s.do(t, http.MethodPut, "/users/"+bobID+"/role", rootToken, RoleRequest{Role: "manager"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "MANAGER", decode(t, rec)["role"])

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPut, "/users/"+bobID+"/role", rootToken, RoleRequest{Role: "ANONYMOUS"}).Code)

	// The role in the token is fixed at login.
	managerToken := s.login(t, "bob")
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/users/"+bobID, managerToken, nil).Code)

	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/register", "201")))
}

func TestLoginLockoutAndUnlock(t *testing.T) {
	s := newTestServer(t, &fakeStore{})
	s.register(t, "root")
	bob := s.register(t, "bob")
	rootToken := s.login(t, "root")
	bobToken := s.login(t, "bob")

	wrong := LoginRequest{Email: "bob@example.com", Password: "nope"}
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/login", "", wrong).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/login", "", wrong).Code)
	assert.Equal(t, http.StatusLocked, s.do(t, http.MethodPost, "/login", "", wrong).Code)

	right := LoginRequest{Email: "bob@example.com", Password: password}
	assert.Equal(t, http.StatusLocked, s.do(t, http.MethodPost, "/login", "", right).Code)

	// A token issued before the lock no longer works.
	rec := s.do(t, http.MethodGet, "/me", bobToken, nil)
	require.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, string(CodeAccountLocked), decode(t, rec)["code"])
	assert.Equal(t, http.StatusLocked, s.upload(t, bobToken, "face.png", pngBytes(t, 8, 8)).Code)

	rec = s.do(t, http.MethodPost, "/users/"+bob["id"].(string)+"/unlock", rootToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["is_locked"])

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/me", bobToken, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/login", "", right).Code)
}

func TestRemovedAccountToken(t *testing.T) {
	s := newTestServer(t, &fakeStore{})
	s.register(t, "root")

	tokens, err := auth.NewTokenManager("handler-test-secret", time.Minute)
	require.NoError(t, err)
	ghost := &domain.User{ID: uuid.New(), Role: domain.RoleAdmin}
	token, err := tokens.Issue(ghost)
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/me", token.AccessToken, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(CodeUnauthorized), decode(t, rec)["code"])
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/users", token.AccessToken, nil).Code)
}

func TestVerifyEmail(t *testing.T) {
	s := newTestServer(t, &fakeStore{})
	s.register(t, "root")
	bob := s.register(t, "bob")

	id, err := uuid.Parse(bob["id"].(string))
	require.NoError(t, err)
	stored, err := s.repos.User.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotEmpty(t, stored.VerificationToken)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/verify-email/"+id.String()+"/wrong", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/verify-email/"+id.String()+"/"+stored.VerificationToken, "", nil).Code)

	stored, err = s.repos.User.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, stored.EmailVerified)
}

func TestUpdateMe(t *testing.T) {
	s := newTestServer(t, &fakeStore{})
	s.register(t, "root")
	s.register(t, "bob")
	token := s.login(t, "bob")

	rec := s.do(t, http.MethodPut, "/me", token, map[string]string{"bio": "gopher", "first_name": "Bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "gopher", body["bio"])
	assert.Equal(t, "Bob", body["first_name"])

	rec = s.do(t, http.MethodPut, "/me", token, map[string]string{"nickname": "root"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPut, "/me", token, map[string]string{"password_hash": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProfilePictureUpload(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(t, store)
	s.register(t, "root")
	bob := s.register(t, "bob")
	token := s.login(t, "bob")

	rec := s.upload(t, token, "face.png", pngBytes(t, 320, 240))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "linked", body["state"])

	key := bob["id"].(string) + ".png"
	assert.Equal(t, "http://minio:9000/avatars/"+key, body["profile_picture_url"])

	cfg, _, err := image.DecodeConfig(bytes.NewReader(store.objects[key]))
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Width)
	assert.Equal(t, 200, cfg.Height)

	rec = s.do(t, http.MethodGet, "/me", token, nil)
	assert.Equal(t, "http://minio:9000/avatars/"+key, decode(t, rec)["profile_picture_url"])

	tests := []struct {
		name     string
		filename string
		data     []byte
		status   int
		code     ErrorCode
	}{
		{"unsupported extension", "anim.gif", []byte("GIF89a"), http.StatusBadRequest, CodeInvalidFile},
		{"no extension", "avatar", pngBytes(t, 4, 4), http.StatusBadRequest, CodeInvalidFile},
		{"text renamed to jpg", "notes.jpg", []byte("plain text"), http.StatusUnprocessableEntity, CodeInvalidImage},
		{"too large", "big.png", make([]byte, picture.DefaultMaxSize+1), http.StatusRequestEntityTooLarge, CodeFileTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.upload(t, token, tt.filename, tt.data)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, string(tt.code), decode(t, rec)["code"])
		})
	}

	store.err = &storage.UploadError{Op: "put", Key: key, Err: errors.New("connection reset")}
	rec = s.upload(t, token, "face.png", pngBytes(t, 8, 8))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestProfilePictureUpload_DeclaredSize(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(t, store)
	s.register(t, "root")
	token := s.login(t, "root")
	data := pngBytes(t, 8, 8)

	// The declared length alone is enough to reject the part.
	rec := s.uploadDeclared(t, token, "face.png", picture.DefaultMaxSize+1, data)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
	assert.Equal(t, string(CodeFileTooLarge), decode(t, rec)["code"])
	assert.Empty(t, store.objects)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.ProfilePictureUploads.WithLabelValues(string(service.FailureValidation))))

	rec = s.uploadDeclared(t, token, "face.png", int64(len(data)), data)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, store.objects, 1)
}

func TestDeclaredSize(t *testing.T) {
	tests := []struct {
		header string
		want   int64
	}{
		{"", -1},
		{"2048", 2048},
		{"0", 0},
		{"-5", -1},
		{"lots", -1},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			h := make(textproto.MIMEHeader)
			if tt.header != "" {
				h.Set("Content-Length", tt.header)
			}
			assert.Equal(t, tt.want, declaredSize(&multipart.Part{Header: h}))
		})
	}
}

func TestProfilePictureUpload_StoreNotConfigured(t *testing.T) {
	s := newTestServer(t, nil)
	s.register(t, "root")
	token := s.login(t, "root")

	rec := s.upload(t, token, "face.png", pngBytes(t, 8, 8))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, string(CodeStorageUnavailable), decode(t, rec)["code"])
}

func TestProfilePictureUpload_MissingField(t *testing.T) {
	s := newTestServer(t, &fakeStore{})
	s.register(t, "root")
	token := s.login(t, "root")

	req := httptest.NewRequest(http.MethodPost, "/me/profile-picture", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}
