// Package main is the entry point for the user service admin CLI.
// It performs account administration directly against the database.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"

	"github.com/prn-tf/user-service/internal/auth"
	"github.com/prn-tf/user-service/internal/config"
	"github.com/prn-tf/user-service/internal/logging"
	"github.com/prn-tf/user-service/internal/repository"
	"github.com/prn-tf/user-service/internal/repository/postgres"
	"github.com/prn-tf/user-service/internal/repository/sqlite"
	"github.com/prn-tf/user-service/internal/service"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var errUsage = errors.New("invalid arguments")

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "version":
		fmt.Printf("User Service Admin CLI\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		return
	case "help", "-h", "--help":
		printUsage()
		return
	case "user":
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runUser(ctx, cfg, args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			printUsage()
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

func runUser(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return errUsage
	}

	logger := logging.New(cfg.Logging, os.Stderr)

	repos, db, err := repository.NewFactory(cfg.Database, logger).
		Register("postgres", postgres.Open).
		Register("sqlite", sqlite.Open).
		Open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	if err != nil {
		return err
	}

	users := service.NewUserService(repos.User, tokens, nil, service.UserServiceConfig{
		BcryptCost:       cfg.Auth.BcryptCost,
		MaxLoginAttempts: cfg.Auth.MaxLoginAttempts,
	}, logger)

	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("user list", flag.ContinueOnError)
		limit := fs.Int("limit", 50, "maximum number of users")
		offset := fs.Int("offset", 0, "number of users to skip")
		if err := fs.Parse(args[1:]); err != nil {
			return errUsage
		}
		out, err := users.List(ctx, service.ListUsersInput{Limit: *limit, Offset: *offset})
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNICKNAME\tEMAIL\tROLE\tVERIFIED\tLOCKED")
		for _, u := range out.Users {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%t\n", u.ID, u.Nickname, u.Email, u.Role, u.EmailVerified, u.IsLocked)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%d of %d users\n", len(out.Users), out.TotalCount)
		return nil

	case "create":
		fs := flag.NewFlagSet("user create", flag.ContinueOnError)
		var input service.RegisterInput
		fs.StringVar(&input.Nickname, "nickname", "", "unique nickname")
		fs.StringVar(&input.Email, "email", "", "unique email address")
		fs.StringVar(&input.Password, "password", "", "password")
		fs.StringVar(&input.FirstName, "first-name", "", "first name")
		fs.StringVar(&input.LastName, "last-name", "", "last name")
		if err := fs.Parse(args[1:]); err != nil {
			return errUsage
		}
		user, err := users.Register(ctx, input)
		if err != nil {
			return err
		}
		return printJSON(user)

	case "get", "unlock", "token":
		if len(args) != 2 {
			return errUsage
		}
		id, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("invalid user id %q: %w", args[1], err)
		}
		switch args[0] {
		case "get":
			user, err := users.GetByID(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(user)
		case "unlock":
			user, err := users.Unlock(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(user)
		default:
			user, err := users.GetByID(ctx, id)
			if err != nil {
				return err
			}
			token, err := tokens.Issue(user)
			if err != nil {
				return err
			}
			return printJSON(token)
		}

	case "role":
		if len(args) != 3 {
			return errUsage
		}
		id, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("invalid user id %q: %w", args[1], err)
		}
		user, err := users.ChangeRole(ctx, id, args[2])
		if err != nil {
			return err
		}
		return printJSON(user)

	default:
		return errUsage
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage() {
	fmt.Println(`User Service Admin CLI

Usage:
  user-service-admin [-config path] <command> [arguments]

Commands:
  user list [-limit n] [-offset n]     List users, newest first
  user get <id>                        Show one user
  user create -nickname n -email e -password p [-first-name f] [-last-name l]
                                       Register a user (the first becomes ADMIN)
  user role <id> <role>                Set role: AUTHENTICATED, MANAGER or ADMIN
  user unlock <id>                     Clear a login lockout
  user token <id>                      Issue an access token for a user
  version                              Print version information
  help                                 Show this help message

Examples:
  user-service-admin user list -limit 20
  user-service-admin user role 7d9f2c1e-4b0a-4f7e-9a51-2e8c3b6d1f40 MANAGER`)
}
