// Package repository provides data access layer for the user service.
// This file contains the factory that opens repositories based on configuration.
package repository

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prn-tf/user-service/internal/config"
)

// Repositories holds all repository instances.
type Repositories struct {
	User UserRepository
}

// Database is the connection behind a set of repositories.
// It satisfies handler.HealthChecker for health endpoints.
type Database interface {
	Ping(ctx context.Context) error
	Health(ctx context.Context) error

	// Migrate applies all pending embedded migrations.
	Migrate(ctx context.Context) error

	Close() error
}

// Opener connects to a database and builds its repositories.
// The postgres and sqlite packages each provide one.
type Opener func(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Repositories, Database, error)

// Factory creates repositories based on configuration.
type Factory struct {
	cfg     config.DatabaseConfig
	logger  zerolog.Logger
	openers map[string]Opener
}

// NewFactory creates a new repository factory.
func NewFactory(cfg config.DatabaseConfig, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:     cfg,
		logger:  logger,
		openers: make(map[string]Opener),
	}
}

// Register makes an opener available for a driver name.
func (f *Factory) Register(driver string, open Opener) *Factory {
	f.openers[driver] = open
	return f
}

// Driver returns the configured database driver.
func (f *Factory) Driver() string {
	return f.cfg.Driver
}

// IsEmbedded returns true if using embedded database.
func (f *Factory) IsEmbedded() bool {
	return f.cfg.IsEmbedded()
}

// Open connects using the opener registered for the configured driver.
func (f *Factory) Open(ctx context.Context) (*Repositories, Database, error) {
	open, ok := f.openers[f.cfg.Driver]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, f.cfg.Driver)
	}

	logger := f.logger.With().Str("driver", f.cfg.Driver).Logger()
	repos, db, err := open(ctx, f.cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s database: %w", f.cfg.Driver, err)
	}
	return repos, db, nil
}
