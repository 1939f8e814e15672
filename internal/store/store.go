// Package store provides a SQLite-backed search history. Each session keeps
// its own list of searches and deep research runs, persisted across server
// restarts so the chat layer can recall what a shopper already looked for.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Kind identifies what produced a history entry.
type Kind string

const (
	// KindSearch is a single-category item search.
	KindSearch Kind = "search"
	// KindResearch is a multi-category deep research.
	KindResearch Kind = "research"
)

// Entry is one recorded search.
type Entry struct {
	// Kind is the search mode.
	Kind Kind `json:"kind"`
	// Intent is the shopper's intent.
	Intent string `json:"intent"`
	// Category is the item category searched. Empty for deep research.
	Category string `json:"item_category,omitempty"`
	// CreatedAt is when the entry was persisted.
	CreatedAt time.Time `json:"created_at"`
}

// String renders the entry as a sentence for prompts and logs.
func (e Entry) String() string {
	if e.Kind == KindResearch {
		return fmt.Sprintf("Ran deep research for user intent: %s", e.Intent)
	}
	return fmt.Sprintf("Searched items for user intent: %s, item category: %s", e.Intent, e.Category)
}

// HistoryStore persists and retrieves search history keyed by session ID.
// Implementations must be safe for concurrent use.
type HistoryStore interface {
	// Append persists one entry for the session. CreatedAt is set by the store.
	Append(ctx context.Context, sessionID string, e Entry) error
	// Recent returns the most recent n entries for the session, oldest first.
	// If fewer than n exist, all are returned.
	Recent(ctx context.Context, sessionID string, n int) ([]Entry, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a HistoryStore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns ~/.concierge/history.db, creating the directory if
// needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".concierge")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at path and runs the schema
// migration. Use ":memory:" in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Single writer connection avoids SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS search_history (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   TEXT    NOT NULL,
    kind         TEXT    NOT NULL CHECK(kind IN ('search','research')),
    intent       TEXT    NOT NULL,
    category     TEXT    NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_search_history_session_created
    ON search_history (session_id, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Append persists one entry for the session.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, e Entry) error {
	const q = `INSERT INTO search_history (session_id, kind, intent, category, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, sessionID, string(e.Kind), e.Intent, e.Category, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Recent returns the most recent n entries for the session, oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, sessionID string, n int) ([]Entry, error) {
	const q = `
SELECT kind, intent, category, created_at FROM (
    SELECT id, kind, intent, category, created_at
    FROM   search_history
    WHERE  session_id = ?
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var kind string
		var ts int64
		if err := rows.Scan(&kind, &e.Intent, &e.Category, &ts); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		e.Kind = Kind(kind)
		e.CreatedAt = time.Unix(ts, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return entries, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// Ping reports whether the database is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}
