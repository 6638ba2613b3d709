// Package guardstore persists the once-per-day rating markers.
package guardstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coachpo/carte/errs"
)

// Driver names a guard store backend.
type Driver string

const (
	// DriverMemory keeps markers in process memory; markers do not survive restarts.
	DriverMemory Driver = "memory"
	// DriverFile writes markers to a JSON file.
	DriverFile Driver = "file"
	// DriverSQLite keeps markers in a local SQLite database.
	DriverSQLite Driver = "sqlite"
	// DriverPostgres keeps markers in PostgreSQL.
	DriverPostgres Driver = "postgres"
)

// Store is the durable key/value surface backing the rating guard.
type Store interface {
	Has(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver            Driver
	Path              string
	DSN               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// Open constructs the configured backend. Postgres schema migrations are the
// caller's responsibility.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch Driver(strings.ToLower(strings.TrimSpace(string(cfg.Driver)))) {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverFile:
		store, err := OpenFileStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverSQLite:
		store, err := OpenSQLiteStore(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverPostgres:
		store, err := OpenPostgresStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, errs.New("guardstore/open", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("unsupported guard driver %q", cfg.Driver)))
	}
}

func validateKey(op, key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", errs.New(op, errs.CodeInvalid, errs.WithMessage("guard key required"))
	}
	return trimmed, nil
}

func storageError(op string, err error) error {
	return errs.New(op, errs.CodeStorage, errs.WithCause(err))
}

// splitKey extracts the item id and date from a rated:{item}:{date} key.
// Keys that do not follow the layout return ok=false.
func splitKey(key string) (item string, day time.Time, ok bool) {
	rest, found := strings.CutPrefix(key, "rated:")
	if !found {
		return "", time.Time{}, false
	}
	idx := strings.LastIndex(rest, ":")
	if idx <= 0 {
		return "", time.Time{}, false
	}
	parsed, err := time.Parse(time.DateOnly, rest[idx+1:])
	if err != nil {
		return "", time.Time{}, false
	}
	return rest[:idx], parsed, true
}
