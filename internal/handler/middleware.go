package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/prn-tf/user-service/internal/domain"
	"github.com/prn-tf/user-service/internal/metrics"
	"github.com/prn-tf/user-service/internal/service"
)

// requestLogger logs every request once it has been served and records it
// in the HTTP metrics under its route pattern.
func requestLogger(logger zerolog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			duration := time.Since(start)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			m.RecordHTTPRequest(r.Method, route, status, duration)

			event := logger.Info()
			if status >= http.StatusInternalServerError {
				event = logger.Error()
			}
			event.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", route).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", duration).
				Str("remote_addr", r.RemoteAddr).
				Msg("request served")
		})
	}
}

// activeAccount rejects tokens whose account has since been locked or
// removed. It runs after auth.Middleware.
func activeAccount(users *service.UserService, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := callerID(r)
			if err != nil {
				writeError(w, logger, err)
				return
			}

			user, err := users.GetByID(r.Context(), id)
			if err != nil {
				if errors.Is(err, domain.ErrUserNotFound) {
					err = &APIError{Code: CodeUnauthorized, Message: "account no longer exists", HTTPStatus: http.StatusUnauthorized}
				}
				writeError(w, logger, err)
				return
			}
			if user.IsLocked {
				writeError(w, logger, domain.ErrAccountLocked)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
