// Package handler provides the HTTP API of the user service.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/prn-tf/user-service/internal/auth"
	"github.com/prn-tf/user-service/internal/domain"
	"github.com/prn-tf/user-service/internal/metrics"
	"github.com/prn-tf/user-service/internal/service"
)

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Router handles HTTP routing for the user API.
type Router struct {
	accounts *service.UserService
	users    *UserHandler
	pictures *PictureHandler
	tokens   *auth.TokenManager
	health   HealthChecker
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	UserService    *service.UserService
	PictureService *service.ProfilePictureService
	Tokens         *auth.TokenManager

	// Health is checked by GET /health. Optional.
	Health HealthChecker

	// Metrics may be nil.
	Metrics *metrics.Metrics

	// MaxUploadSize is the profile picture size limit in bytes.
	MaxUploadSize int64

	Logger zerolog.Logger
}

// NewRouter creates a new Router.
func NewRouter(config RouterConfig) *Router {
	logger := config.Logger.With().Str("component", "router").Logger()
	return &Router{
		accounts: config.UserService,
		users:    NewUserHandler(config.UserService, logger),
		pictures: NewPictureHandler(config.PictureService, config.MaxUploadSize, logger),
		tokens:   config.Tokens,
		health:   config.Health,
		metrics:  config.Metrics,
		logger:   logger,
	}
}

// Handler returns the main HTTP handler.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(rt.logger, rt.metrics))
	r.Use(middleware.Recoverer)

	// Public
	r.Get("/health", rt.handleHealth)
	r.Post("/register", rt.users.Register)
	r.Post("/login", rt.users.Login)
	r.Get("/verify-email/{id}/{token}", rt.users.VerifyEmail)

	// Authenticated
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(rt.tokens, rt.logger))
		r.Use(activeAccount(rt.accounts, rt.logger))

		r.Get("/me", rt.users.Me)
		r.Put("/me", rt.users.UpdateMe)
		r.Post("/me/profile-picture", rt.pictures.Upload)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(domain.RoleAdmin, domain.RoleManager))

			r.Get("/users", rt.users.List)
			r.Get("/users/{id}", rt.users.Get)
			r.Post("/users/{id}/unlock", rt.users.Unlock)
		})

		r.With(auth.RequireRole(domain.RoleAdmin)).Put("/users/{id}/role", rt.users.ChangeRole)
	})

	return r
}

// handleHealth handles health check requests.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	if rt.health != nil {
		if err := rt.health.Health(r.Context()); err != nil {
			rt.logger.Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
