// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/docfetcher/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "fetch_phase_runs"

// RunStoreConfig controls the Postgres connection pool used for the run ledger.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RunStore appends one row per finished pipeline phase.
type RunStore struct {
	pool  execCloser
	table string
}

// NewRunStore connects to Postgres and makes sure the ledger table exists.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := &RunStore{pool: pool, table: table}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool execCloser, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the ledger table when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id      TEXT        NOT NULL,
	phase       TEXT        NOT NULL,
	site        TEXT        NOT NULL,
	discovered  INTEGER     NOT NULL,
	total       INTEGER     NOT NULL,
	duplicates  INTEGER     NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT      NOT NULL,
	PRIMARY KEY (run_id, phase)
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// RecordPhase inserts (or replaces) the summary row for a run phase.
func (s *RunStore) RecordPhase(ctx context.Context, summary crawler.PhaseSummary) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run store is not configured")
	}
	if summary.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	phase,
	site,
	discovered,
	total,
	duplicates,
	started_at,
	duration_ms
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (run_id, phase) DO UPDATE SET
	discovered = EXCLUDED.discovered,
	total = EXCLUDED.total,
	duplicates = EXCLUDED.duplicates,
	duration_ms = EXCLUDED.duration_ms`, s.table)

	args := []any{
		summary.RunID,
		string(summary.Phase),
		summary.Site,
		summary.Discovered,
		summary.Total,
		summary.Duplicates,
		summary.StartedAt,
		summary.Duration.Milliseconds(),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert phase run: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
