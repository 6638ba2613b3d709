package guardstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/coachpo/carte/errs"
)

const (
	sqliteSchema = `
CREATE TABLE IF NOT EXISTS guard_markers (
    marker_key TEXT PRIMARY KEY,
    item_id    TEXT NOT NULL DEFAULT '',
    rated_on   TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);`
	sqliteHasSQL  = `SELECT EXISTS(SELECT 1 FROM guard_markers WHERE marker_key = ?);`
	sqliteMarkSQL = `INSERT OR IGNORE INTO guard_markers (marker_key, item_id, rated_on, created_at) VALUES (?, ?, ?, ?);`
)

// SQLiteStore keeps markers in a local SQLite database.
type SQLiteStore struct {
	sqlDB *sql.DB
}

// OpenSQLiteStore opens the database at path and ensures the schema exists.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errs.New("guardstore/sqlite-open", errs.CodeInvalid, errs.WithMessage("sqlite path required"))
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, storageError("guardstore/sqlite-open", fmt.Errorf("create guard directory: %w", err))
		}
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storageError("guardstore/sqlite-open", fmt.Errorf("open sqlite db: %w", err))
	}
	// a single connection keeps :memory: databases coherent
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, storageError("guardstore/sqlite-open", fmt.Errorf("ping sqlite db: %w", err))
	}
	if _, err := sqlDB.ExecContext(ctx, sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, storageError("guardstore/sqlite-open", fmt.Errorf("apply schema: %w", err))
	}
	return &SQLiteStore{sqlDB: sqlDB}, nil
}

// Has reports whether the marker exists.
func (s *SQLiteStore) Has(ctx context.Context, key string) (bool, error) {
	trimmed, err := validateKey("guardstore/sqlite-has", key)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := s.sqlDB.QueryRowContext(ctx, sqliteHasSQL, trimmed).Scan(&exists); err != nil {
		return false, storageError("guardstore/sqlite-has", err)
	}
	return exists, nil
}

// Mark records the marker; repeated marks are ignored.
func (s *SQLiteStore) Mark(ctx context.Context, key string) error {
	trimmed, err := validateKey("guardstore/sqlite-mark", key)
	if err != nil {
		return err
	}
	item, day, _ := splitKey(trimmed)
	ratedOn := ""
	if !day.IsZero() {
		ratedOn = day.Format(time.DateOnly)
	}
	if _, err := s.sqlDB.ExecContext(ctx, sqliteMarkSQL, trimmed, item, ratedOn, time.Now().UTC().UnixMilli()); err != nil {
		return storageError("guardstore/sqlite-mark", err)
	}
	return nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}
