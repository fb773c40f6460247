// Package history provides an optional WAL-mode SQLite record of action
// invocations. It implements the watch.Recorder interface: every time the
// watcher fires its command, one row lands here with the matched line, the
// exit code, and timing.
//
// The store is telemetry, not state: the watcher never reads it back to
// decide anything, so deleting the database file only loses the record,
// never changes behaviour. Reads happen solely through the status endpoint's
// /history route.
//
// # WAL mode
//
// The database is opened with PRAGMA journal_mode = WAL so the status
// endpoint can read recent rows while the watch loop writes a new one,
// without either blocking the other.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/wyrmiyu/logs2eca/internal/watch"
	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql
)

// Store is a WAL-mode SQLite-backed trigger history. It is safe for
// concurrent use.
type Store struct {
	db    *sql.DB
	count atomic.Int64
}

// ddl is the schema, idempotent so reopening an existing database is safe.
const ddl = `
CREATE TABLE IF NOT EXISTS trigger_history (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    matched_line TEXT    NOT NULL,
    pattern      TEXT    NOT NULL,
    command      TEXT    NOT NULL,
    exit_code    INTEGER NOT NULL,
    duration_ms  INTEGER NOT NULL,
    matched_at   TEXT    NOT NULL,
    recorded_at  TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
`

// Open opens (or creates) the SQLite database at path, enables WAL journal
// mode, and applies the schema. If path is ":memory:", an in-memory database
// is used; suitable for tests, gone on Close.
//
// The trigger counter is seeded from the existing row count so Count is
// accurate immediately after a restart.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %q: %w", path, err)
	}

	// SQLite allows a single writer. One pooled connection keeps concurrent
	// Record and Recent calls from tripping "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: set WAL mode: %w", err)
	}

	// NORMAL synchronous: durable across application crashes. Losing the
	// tail of a telemetry log in an OS crash is acceptable.
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: set synchronous = NORMAL: %w", err)
	}

	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}

	s := &Store{db: db}

	var count int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM trigger_history`).Scan(&count); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: count rows: %w", err)
	}
	s.count.Store(count)

	return s, nil
}

// Record persists one trigger. It implements watch.Recorder. The caller
// supplies everything except ID, which the database assigns.
func (s *Store) Record(ctx context.Context, tr watch.Trigger) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trigger_history (matched_line, pattern, command, exit_code, duration_ms, matched_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tr.MatchedLine,
		tr.Pattern,
		tr.Command,
		tr.ExitCode,
		tr.DurationMS,
		tr.MatchedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}

	s.count.Add(1)
	return nil
}

// Recent returns up to n triggers, newest first. If n ≤ 0, Recent returns nil
// without querying the database.
func (s *Store) Recent(ctx context.Context, n int) ([]watch.Trigger, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, matched_line, pattern, command, exit_code, duration_ms, matched_at
		 FROM   trigger_history
		 ORDER  BY id DESC
		 LIMIT  ?`, n)
	if err != nil {
		return nil, fmt.Errorf("history: recent query: %w", err)
	}
	defer rows.Close()

	var triggers []watch.Trigger
	for rows.Next() {
		var (
			tr    watch.Trigger
			tsStr string
		)
		if err := rows.Scan(
			&tr.ID,
			&tr.MatchedLine,
			&tr.Pattern,
			&tr.Command,
			&tr.ExitCode,
			&tr.DurationMS,
			&tsStr,
		); err != nil {
			return nil, fmt.Errorf("history: recent scan: %w", err)
		}

		// Parse the stored RFC3339Nano timestamp; fall back to RFC3339.
		tr.MatchedAt, err = time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			tr.MatchedAt, _ = time.Parse(time.RFC3339, tsStr)
		}

		triggers = append(triggers, tr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: recent rows: %w", err)
	}
	return triggers, nil
}

// Count returns the number of recorded triggers. It reads an atomic counter
// updated by Record, so it never blocks on the database.
func (s *Store) Count() int64 {
	return s.count.Load()
}

// Close closes the underlying database connection. The store must not be
// used after Close returns.
func (s *Store) Close() error {
	return s.db.Close()
}
