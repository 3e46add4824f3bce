// Package main is the entry point for the user service HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prn-tf/user-service/internal/auth"
	"github.com/prn-tf/user-service/internal/config"
	"github.com/prn-tf/user-service/internal/handler"
	"github.com/prn-tf/user-service/internal/lock"
	"github.com/prn-tf/user-service/internal/logging"
	"github.com/prn-tf/user-service/internal/metrics"
	"github.com/prn-tf/user-service/internal/picture"
	"github.com/prn-tf/user-service/internal/repository"
	"github.com/prn-tf/user-service/internal/repository/postgres"
	"github.com/prn-tf/user-service/internal/repository/sqlite"
	"github.com/prn-tf/user-service/internal/service"
	"github.com/prn-tf/user-service/internal/storage"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging, os.Stderr)
	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Msg("starting user service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("user service stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("user service stopped")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	m := metrics.New()

	// Database
	repos, db, err := repository.NewFactory(cfg.Database, logger).
		Register("postgres", postgres.Open).
		Register("sqlite", sqlite.Open).
		Open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	// Upload lock
	locker, closeLocker, err := newLocker(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	// Object store. A nil store leaves uploads failing with a configuration error.
	var store storage.ObjectStore
	if cfg.Storage.S3.Enabled() {
		s3Store, err := storage.NewS3Store(ctx, storage.S3Config{
			Endpoint:        cfg.Storage.S3.Endpoint,
			Region:          cfg.Storage.S3.Region,
			Bucket:          cfg.Storage.S3.Bucket,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
			UseSSL:          cfg.Storage.S3.UseSSL,
		}, m, logger)
		if err != nil {
			return fmt.Errorf("failed to create object store: %w", err)
		}
		if cfg.Storage.S3.CreateBucket {
			if err := s3Store.EnsureBucket(ctx); err != nil {
				// Uploads report the store failure; the rest of the API stays up.
				logger.Warn().Err(err).Str("bucket", s3Store.Bucket()).Msg("failed to ensure bucket")
			}
		}
		store = s3Store
	} else {
		logger.Warn().Msg("object store is not configured; profile picture uploads are disabled")
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	if err != nil {
		return err
	}

	// Services
	users := service.NewUserService(repos.User, tokens, m, service.UserServiceConfig{
		BcryptCost:       cfg.Auth.BcryptCost,
		MaxLoginAttempts: cfg.Auth.MaxLoginAttempts,
	}, logger)

	pictures := service.NewProfilePictureService(
		repos.User,
		store,
		picture.NewValidator(cfg.Upload.AllowedExtensions, cfg.Upload.MaxSize),
		picture.NewNormalizer(picture.NormalizerConfig{
			Width:       cfg.Upload.TargetWidth,
			Height:      cfg.Upload.TargetHeight,
			JPEGQuality: cfg.Upload.JPEGQuality,
		}),
		locker,
		m,
		service.ProfilePictureConfig{
			TempDir: cfg.Storage.TempDir,
			LockTTL: cfg.Upload.LockTTL,
		},
		logger,
	)

	router := handler.NewRouter(handler.RouterConfig{
		UserService:    users,
		PictureService: pictures,
		Tokens:         tokens,
		Health:         db,
		Metrics:        m,
		MaxUploadSize:  cfg.Upload.MaxSize,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, m.Handler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	if metricsServer != nil {
		go func() {
			logger.Info().Str("addr", metricsServer.Addr).Str("path", cfg.Metrics.Path).Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down server")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown failed")
		}
	}

	return serveErr
}

// newLocker returns the Redis locker when Redis is enabled and the
// in-process locker otherwise.
func newLocker(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) (lock.Locker, func(), error) {
	if !cfg.Enabled {
		memory := lock.NewMemoryLocker()
		logger.Info().Msg("using in-memory upload lock")
		return memory, func() { _ = memory.Close() }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr(), err)
	}

	logger.Info().Str("addr", cfg.Addr()).Msg("using redis upload lock")
	return lock.NewRedisLocker(client), func() { _ = client.Close() }, nil
}
