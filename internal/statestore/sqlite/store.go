// Package sqlite provides an embedded, durable crawl state store backed by
// modernc.org/sqlite. It is the default store for single-node crawls: state
// survives restarts without asking operators to run a database server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // database/sql driver registration

	"github.com/urban-physiology/glossarizer/internal/glossary"
)

// jsonNull is the JSON representation of null.
const jsonNull = "null"

const schema = `
CREATE TABLE IF NOT EXISTS crawl_state (
	portal       TEXT NOT NULL,
	resource_id  TEXT NOT NULL,
	hash         TEXT NOT NULL DEFAULT '',
	signal       TEXT NOT NULL DEFAULT '',
	last_success TIMESTAMP,
	failures     INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT NOT NULL DEFAULT '',
	descriptor   TEXT,
	updated_at   TIMESTAMP NOT NULL,
	PRIMARY KEY (portal, resource_id)
);

CREATE TABLE IF NOT EXISTS pass_log (
	pass_id     TEXT PRIMARY KEY,
	portal      TEXT NOT NULL,
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL,
	emitted     INTEGER NOT NULL DEFAULT 0,
	cached      INTEGER NOT NULL DEFAULT 0,
	degraded    INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	issues      TEXT,
	error_text  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS pass_log_portal_started
	ON pass_log (portal, started_at DESC);
`

// Store persists crawl state and pass summaries in a single SQLite file.
// It implements both glossary.StateStore and glossary.PassLog.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the SQLite database at path. The
// parent directory is created when missing. WAL mode keeps concurrent
// portal passes from tripping over each other on the single file.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Get retrieves the entry for (portal, resourceID).
func (s *Store) Get(ctx context.Context, portal, resourceID string) (glossary.StateEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT portal, resource_id, hash, signal, last_success, failures, last_error, descriptor, updated_at
		FROM crawl_state WHERE portal = ? AND resource_id = ?
	`, portal, resourceID)

	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return glossary.StateEntry{}, glossary.ErrNotFound
		}
		return glossary.StateEntry{}, err
	}
	return entry, nil
}

// Put stores or replaces the entry for its (portal, resource_id) key. The
// upsert is a single statement, so concurrent passes over different
// portals never observe a torn entry.
func (s *Store) Put(ctx context.Context, entry glossary.StateEntry) error {
	if entry.Portal == "" || entry.ResourceID == "" {
		return fmt.Errorf("state entry requires portal and resource id")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crawl_state (portal, resource_id, hash, signal, last_success, failures, last_error, descriptor, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(portal, resource_id) DO UPDATE SET
			hash = excluded.hash,
			signal = excluded.signal,
			last_success = excluded.last_success,
			failures = excluded.failures,
			last_error = excluded.last_error,
			descriptor = excluded.descriptor,
			updated_at = excluded.updated_at
	`, entry.Portal, entry.ResourceID, entry.Hash, entry.Signal, nullTime(entry.LastSuccess),
		entry.Failures, entry.LastError, nullJSON(entry.Descriptor), entry.UpdatedAt)

	if err != nil {
		return fmt.Errorf("saving state entry: %w", err)
	}
	return nil
}

// Iterate returns all entries for a portal ordered by resource ID.
func (s *Store) Iterate(ctx context.Context, portal string) ([]glossary.StateEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT portal, resource_id, hash, signal, last_success, failures, last_error, descriptor, updated_at
		FROM crawl_state WHERE portal = ?
		ORDER BY resource_id
	`, portal)
	if err != nil {
		return nil, fmt.Errorf("querying state entries: %w", err)
	}
	defer rows.Close()

	var entries []glossary.StateEntry //nolint:prealloc // size unknown from query
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state entries: %w", err)
	}
	return entries, nil
}

// RecordPass stores a pass summary. Re-recording the same pass ID is a
// no-op, which keeps retried shutdown paths idempotent.
func (s *Store) RecordPass(ctx context.Context, rec glossary.PassRecord) error {
	if rec.PassID == "" || rec.Portal == "" {
		return fmt.Errorf("pass record requires pass id and portal")
	}

	var issuesJSON any
	if len(rec.Issues) > 0 {
		data, err := json.Marshal(rec.Issues)
		if err != nil {
			return fmt.Errorf("marshalling pass issues: %w", err)
		}
		issuesJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pass_log (pass_id, portal, started_at, finished_at, emitted, cached, degraded, failed, issues, error_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pass_id) DO NOTHING
	`, rec.PassID, rec.Portal, rec.Started, rec.Finished,
		rec.Emitted, rec.Cached, rec.Degraded, rec.Failed, issuesJSON, rec.ErrorText)

	if err != nil {
		return fmt.Errorf("saving pass record: %w", err)
	}
	return nil
}

// ListPasses returns pass summaries for a portal, newest first. A
// non-positive limit returns every recorded pass.
func (s *Store) ListPasses(ctx context.Context, portal string, limit int) ([]glossary.PassRecord, error) {
	query := `
		SELECT pass_id, portal, started_at, finished_at, emitted, cached, degraded, failed, issues, error_text
		FROM pass_log WHERE portal = ?
		ORDER BY started_at DESC
	`
	args := []any{portal}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying passes: %w", err)
	}
	defer rows.Close()

	var recs []glossary.PassRecord //nolint:prealloc // size unknown from query
	for rows.Next() {
		rec, err := scanPass(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating passes: %w", err)
	}
	return recs, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (glossary.StateEntry, error) {
	var entry glossary.StateEntry
	var lastSuccess sql.NullTime
	var descriptor sql.NullString

	if err := row.Scan(&entry.Portal, &entry.ResourceID, &entry.Hash, &entry.Signal,
		&lastSuccess, &entry.Failures, &entry.LastError, &descriptor, &entry.UpdatedAt); err != nil {
		return glossary.StateEntry{}, fmt.Errorf("scanning state entry: %w", err)
	}

	if lastSuccess.Valid {
		entry.LastSuccess = lastSuccess.Time
	}
	if descriptor.Valid && descriptor.String != "" && descriptor.String != jsonNull {
		entry.Descriptor = json.RawMessage(descriptor.String)
	}
	return entry, nil
}

func scanPass(row rowScanner) (glossary.PassRecord, error) {
	var rec glossary.PassRecord
	var issuesJSON sql.NullString

	if err := row.Scan(&rec.PassID, &rec.Portal, &rec.Started, &rec.Finished,
		&rec.Emitted, &rec.Cached, &rec.Degraded, &rec.Failed, &issuesJSON, &rec.ErrorText); err != nil {
		return glossary.PassRecord{}, fmt.Errorf("scanning pass record: %w", err)
	}

	if issuesJSON.Valid && issuesJSON.String != "" && issuesJSON.String != jsonNull {
		if err := json.Unmarshal([]byte(issuesJSON.String), &rec.Issues); err != nil {
			return glossary.PassRecord{}, fmt.Errorf("unmarshalling pass issues: %w", err)
		}
	}
	return rec, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullJSON(data json.RawMessage) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
