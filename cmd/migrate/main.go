// Command migrate applies or rolls back the PostgreSQL guard store schema.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coachpo/carte/internal/infra/persistence/migrations"
)

const (
	defaultTimeout = 30 * time.Second
	dsnEnv         = "CARTE_GUARD_DSN"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	var (
		dsn     = fs.String("database", os.Getenv(dsnEnv), "PostgreSQL DSN (default: $"+dsnEnv+")")
		dir     = fs.String("path", migrations.EmbeddedSource, "Directory containing SQL migrations, or \"embedded\"")
		timeout = fs.Duration("timeout", defaultTimeout, "Maximum time to wait for database connectivity")
		quiet   = fs.Bool("quiet", false, "Suppress informational logs")
	)
	if err := fs.Parse(argv); err != nil {
		return err
	}

	if strings.TrimSpace(*dsn) == "" {
		return errors.New("-database flag or " + dsnEnv + " is required")
	}
	if strings.TrimSpace(*dir) == "" {
		return errors.New("-path flag is required")
	}

	command, steps, err := parseCommand(fs.Args())
	if err != nil {
		return err
	}

	var logger *log.Logger
	if !*quiet {
		logger = log.New(os.Stdout, "carte-migrate ", log.LstdFlags)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch command {
	case "up":
		return migrations.Apply(ctx, *dsn, *dir, logger)
	default:
		return migrations.Rollback(ctx, *dsn, *dir, steps, logger)
	}
}

func parseCommand(args []string) (string, int, error) {
	if len(args) == 0 {
		return "", 0, errors.New("command required (up|down)")
	}
	switch args[0] {
	case "up":
		return "up", 0, nil
	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return "", 0, fmt.Errorf("invalid down steps %q: %w", args[1], err)
			}
			if n <= 0 {
				return "", 0, fmt.Errorf("down steps must be positive, got %d", n)
			}
			steps = n
		}
		return "down", steps, nil
	default:
		return "", 0, fmt.Errorf("unknown command %q (expected up or down)", args[0])
	}
}
