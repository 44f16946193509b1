// Package postgres provides a Postgres-backed crawl state store for
// deployments where several crawler nodes share one database.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/urban-physiology/glossarizer/internal/glossary"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool behind the store.
type Config struct {
	DSN             string
	StateTable      string
	PassTable       string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists crawl state and pass summaries in Postgres. It implements
// both glossary.StateStore and glossary.PassLog.
type Store struct {
	pool       dbPool
	stateTable string
	passTable  string
}

// NewStore connects to Postgres using the provided config and ensures the
// schema exists.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewStoreWithPool(pool, cfg.StateTable, cfg.PassTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for
// testing). It does not touch the schema.
func NewStoreWithPool(pool dbPool, stateTable, passTable string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if stateTable == "" {
		stateTable = "crawl_state"
	}
	if passTable == "" {
		passTable = "pass_log"
	}
	for _, table := range []string{stateTable, passTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &Store{pool: pool, stateTable: stateTable, passTable: passTable}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the state and pass tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	portal       TEXT NOT NULL,
	resource_id  TEXT NOT NULL,
	hash         TEXT NOT NULL DEFAULT '',
	signal       TEXT NOT NULL DEFAULT '',
	last_success TIMESTAMPTZ,
	failures     INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT NOT NULL DEFAULT '',
	descriptor   JSONB,
	updated_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (portal, resource_id)
)`, s.stateTable),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	pass_id     TEXT PRIMARY KEY,
	portal      TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	emitted     INTEGER NOT NULL DEFAULT 0,
	cached      INTEGER NOT NULL DEFAULT 0,
	degraded    INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	issues      JSONB,
	error_text  TEXT NOT NULL DEFAULT ''
)`, s.passTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_portal_started ON %s (portal, started_at DESC)`,
			s.passTable, s.passTable),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// Get retrieves the entry for (portal, resourceID).
func (s *Store) Get(ctx context.Context, portal, resourceID string) (glossary.StateEntry, error) {
	query := fmt.Sprintf(`
SELECT portal, resource_id, hash, signal, last_success, failures, last_error, descriptor, updated_at
FROM %s
WHERE portal = $1 AND resource_id = $2`, s.stateTable)

	var entry glossary.StateEntry
	var lastSuccess *time.Time
	var descriptor []byte
	err := s.pool.QueryRow(ctx, query, portal, resourceID).Scan(
		&entry.Portal,
		&entry.ResourceID,
		&entry.Hash,
		&entry.Signal,
		&lastSuccess,
		&entry.Failures,
		&entry.LastError,
		&descriptor,
		&entry.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return glossary.StateEntry{}, glossary.ErrNotFound
		}
		return glossary.StateEntry{}, fmt.Errorf("failed to get state entry: %w", err)
	}
	if lastSuccess != nil {
		entry.LastSuccess = *lastSuccess
	}
	if len(descriptor) > 0 {
		entry.Descriptor = json.RawMessage(descriptor)
	}
	return entry, nil
}

// Put inserts or updates the entry for its (portal, resource_id) key.
func (s *Store) Put(ctx context.Context, entry glossary.StateEntry) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("state store is not configured")
	}
	if entry.Portal == "" || entry.ResourceID == "" {
		return fmt.Errorf("state entry requires portal and resource id")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	portal,
	resource_id,
	hash,
	signal,
	last_success,
	failures,
	last_error,
	descriptor,
	updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (portal, resource_id) DO UPDATE SET
	hash = EXCLUDED.hash,
	signal = EXCLUDED.signal,
	last_success = EXCLUDED.last_success,
	failures = EXCLUDED.failures,
	last_error = EXCLUDED.last_error,
	descriptor = EXCLUDED.descriptor,
	updated_at = EXCLUDED.updated_at`, s.stateTable)

	args := []any{
		entry.Portal,
		entry.ResourceID,
		entry.Hash,
		entry.Signal,
		nullTime(entry.LastSuccess),
		entry.Failures,
		entry.LastError,
		[]byte(entry.Descriptor),
		entry.UpdatedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert state entry: %w", err)
	}
	return nil
}

// Iterate returns all entries for a portal ordered by resource ID.
func (s *Store) Iterate(ctx context.Context, portal string) ([]glossary.StateEntry, error) {
	query := fmt.Sprintf(`
SELECT portal, resource_id, hash, signal, last_success, failures, last_error, descriptor, updated_at
FROM %s
WHERE portal = $1
ORDER BY resource_id`, s.stateTable)

	rows, err := s.pool.Query(ctx, query, portal)
	if err != nil {
		return nil, fmt.Errorf("failed to list state entries: %w", err)
	}
	defer rows.Close()

	var entries []glossary.StateEntry
	for rows.Next() {
		var entry glossary.StateEntry
		var lastSuccess *time.Time
		var descriptor []byte
		err := rows.Scan(
			&entry.Portal,
			&entry.ResourceID,
			&entry.Hash,
			&entry.Signal,
			&lastSuccess,
			&entry.Failures,
			&entry.LastError,
			&descriptor,
			&entry.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan state row: %w", err)
		}
		if lastSuccess != nil {
			entry.LastSuccess = *lastSuccess
		}
		if len(descriptor) > 0 {
			entry.Descriptor = json.RawMessage(descriptor)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate state entries: %w", err)
	}
	return entries, nil
}

// RecordPass stores a pass summary. Conflicting pass IDs are ignored so a
// retried shutdown path stays idempotent.
func (s *Store) RecordPass(ctx context.Context, rec glossary.PassRecord) error {
	if rec.PassID == "" || rec.Portal == "" {
		return fmt.Errorf("pass record requires pass id and portal")
	}
	var issuesJSON []byte
	if len(rec.Issues) > 0 {
		data, err := json.Marshal(rec.Issues)
		if err != nil {
			return fmt.Errorf("failed to marshal pass issues: %w", err)
		}
		issuesJSON = data
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	pass_id,
	portal,
	started_at,
	finished_at,
	emitted,
	cached,
	degraded,
	failed,
	issues,
	error_text
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (pass_id) DO NOTHING`, s.passTable)

	args := []any{
		rec.PassID,
		rec.Portal,
		rec.Started,
		rec.Finished,
		rec.Emitted,
		rec.Cached,
		rec.Degraded,
		rec.Failed,
		issuesJSON,
		rec.ErrorText,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record pass: %w", err)
	}
	return nil
}

// ListPasses returns pass summaries for a portal, newest first. A
// non-positive limit returns every recorded pass.
func (s *Store) ListPasses(ctx context.Context, portal string, limit int) ([]glossary.PassRecord, error) {
	query := fmt.Sprintf(`
SELECT pass_id, portal, started_at, finished_at, emitted, cached, degraded, failed, issues, error_text
FROM %s
WHERE portal = $1
ORDER BY started_at DESC`, s.passTable)
	args := []any{portal}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list passes: %w", err)
	}
	defer rows.Close()

	var recs []glossary.PassRecord
	for rows.Next() {
		var rec glossary.PassRecord
		var issuesJSON []byte
		err := rows.Scan(
			&rec.PassID,
			&rec.Portal,
			&rec.Started,
			&rec.Finished,
			&rec.Emitted,
			&rec.Cached,
			&rec.Degraded,
			&rec.Failed,
			&issuesJSON,
			&rec.ErrorText,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pass row: %w", err)
		}
		if len(issuesJSON) > 0 {
			if err := json.Unmarshal(issuesJSON, &rec.Issues); err != nil {
				return nil, fmt.Errorf("failed to unmarshal pass issues: %w", err)
			}
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate passes: %w", err)
	}
	return recs, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
