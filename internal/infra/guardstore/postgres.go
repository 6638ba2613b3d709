package guardstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/carte/errs"
)

const (
	pgHasSQL  = `SELECT EXISTS(SELECT 1 FROM guard_markers WHERE marker_key = $1);`
	pgMarkSQL = `
INSERT INTO guard_markers (marker_key, item_id, rated_on, created_at)
VALUES ($1, $2, $3::date, NOW())
ON CONFLICT (marker_key) DO NOTHING;
`
)

// PostgresStore keeps markers in the guard_markers table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// OpenPostgresStore builds a pgx pool from cfg and verifies connectivity.
func OpenPostgresStore(ctx context.Context, cfg Config) (*PostgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errs.New("guardstore/postgres-open", errs.CodeInvalid, errs.WithMessage("postgres dsn required"))
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errs.New("guardstore/postgres-open", errs.CodeInvalid, errs.WithCause(err))
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, storageError("guardstore/postgres-open", fmt.Errorf("create pgx pool: %w", err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storageError("guardstore/postgres-open", fmt.Errorf("ping postgres: %w", err))
	}
	observePoolMetrics(pool)
	return &PostgresStore{pool: pool}, nil
}

// Has reports whether the marker exists.
func (s *PostgresStore) Has(ctx context.Context, key string) (bool, error) {
	if s.pool == nil {
		return false, fmt.Errorf("guard store: nil pool")
	}
	trimmed, err := validateKey("guardstore/postgres-has", key)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, pgHasSQL, trimmed).Scan(&exists); err != nil {
		return false, storageError("guardstore/postgres-has", err)
	}
	return exists, nil
}

// Mark records the marker; repeated marks are ignored.
func (s *PostgresStore) Mark(ctx context.Context, key string) error {
	if s.pool == nil {
		return fmt.Errorf("guard store: nil pool")
	}
	trimmed, err := validateKey("guardstore/postgres-mark", key)
	if err != nil {
		return err
	}
	item, day, ok := splitKey(trimmed)
	if !ok {
		return errs.New("guardstore/postgres-mark", errs.CodeInvalid,
			errs.WithMessage("guard key must follow rated:{item}:{date}"))
	}
	if _, err := s.pool.Exec(ctx, pgMarkSQL, trimmed, item, day.Format("2006-01-02")); err != nil {
		return storageError("guardstore/postgres-mark", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
