// Package main is the entry point for the user service database migration tool.
// It applies the schema migrations embedded in the repository packages.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/prn-tf/user-service/internal/config"
	"github.com/prn-tf/user-service/internal/logging"
	"github.com/prn-tf/user-service/internal/repository/postgres"
	"github.com/prn-tf/user-service/internal/repository/sqlite"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	switch command {
	case "version":
		fmt.Printf("User Service Migration Tool\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		return
	case "help", "-h", "--help":
		printUsage()
		return
	case "up", "up-by-one", "down", "status", "db-version":
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, closeFn, err := openProvider(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open migration provider")
		os.Exit(1)
	}
	defer closeFn()

	if err := runCommand(ctx, command, provider, logger); err != nil {
		logger.Error().Err(err).Str("command", command).Msg("migration command failed")
		closeFn()
		os.Exit(1)
	}
}

// openProvider connects to the configured database without applying any
// migrations and returns a goose provider over its embedded migrations.
func openProvider(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*goose.Provider, func(), error) {
	switch cfg.Driver {
	case "postgres":
		db, err := postgres.NewDB(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		provider, closeSQL, err := db.MigrationProvider()
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return provider, func() {
			_ = closeSQL()
			_ = db.Close()
		}, nil

	case "sqlite":
		db, err := sqlite.NewDB(ctx, sqlite.ConfigFromDatabase(cfg), logger)
		if err != nil {
			return nil, nil, err
		}
		provider, err := db.MigrationProvider()
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return provider, func() { _ = db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func runCommand(ctx context.Context, command string, provider *goose.Provider, logger zerolog.Logger) error {
	switch command {
	case "up":
		results, err := provider.Up(ctx)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			logger.Info().Msg("no pending migrations")
		}
		for _, res := range results {
			logResult(logger, res)
		}

	case "up-by-one":
		res, err := provider.UpByOne(ctx)
		if err != nil {
			return err
		}
		logResult(logger, res)

	case "down":
		res, err := provider.Down(ctx)
		if err != nil {
			return err
		}
		logResult(logger, res)

	case "status":
		statuses, err := provider.Status(ctx)
		if err != nil {
			return err
		}
		for _, st := range statuses {
			applied := "-"
			if !st.AppliedAt.IsZero() {
				applied = st.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-8s %-20s %s\n", st.State, applied, st.Source.Path)
		}

	case "db-version":
		version, err := provider.GetDBVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Println(version)
	}
	return nil
}

func logResult(logger zerolog.Logger, res *goose.MigrationResult) {
	logger.Info().
		Int64("version", res.Source.Version).
		Str("direction", res.Direction).
		Dur("duration", res.Duration).
		Msg("migration applied")
}

func printUsage() {
	fmt.Println(`User Service Migration Tool

Usage:
  user-service-migrate [-config path] <command>

Commands:
  up          Apply all pending migrations
  up-by-one   Apply the next pending migration
  down        Roll back the most recent migration
  status      Show the state of every migration
  db-version  Print the current schema version
  version     Print version information
  help        Show this help message

The database is selected by database.driver in the configuration
(USERSVC_DATABASE_DRIVER=postgres|sqlite).

Examples:
  user-service-migrate up
  user-service-migrate -config ./configs/config.yaml status
  USERSVC_DATABASE_DRIVER=sqlite user-service-migrate down`)
}
