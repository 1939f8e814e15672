package featurestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// sqliteChunk keeps IN (...) lists under SQLite's bound-parameter limit.
const sqliteChunk = 500

// SQLiteStore is a Store backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLiteStore at path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("featurestore: open %s: %w", path, err)
	}
	// Single connection: one writer, and ":memory:" databases are per-connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS item_attributes (
    item_id  TEXT NOT NULL,
    field    TEXT NOT NULL,
    value    TEXT NOT NULL,
    PRIMARY KEY (item_id, field)
) WITHOUT ROWID;
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("featurestore: migrate: %w", err)
	}
	return nil
}

// FetchAttributes implements Store.
func (s *SQLiteStore) FetchAttributes(ctx context.Context, ids []string, fields []string) (map[string]map[string]string, error) {
	out := make(map[string]map[string]string, len(ids))
	if len(ids) == 0 || len(fields) == 0 {
		return out, nil
	}

	for start := 0; start < len(ids); start += sqliteChunk {
		chunk := ids[start:min(start+sqliteChunk, len(ids))]
		if err := s.fetchChunk(ctx, chunk, fields, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) fetchChunk(ctx context.Context, ids, fields []string, out map[string]map[string]string) error {
	q := `SELECT item_id, field, value FROM item_attributes WHERE item_id IN (` +
		placeholders(len(ids)) + `) AND field IN (` + placeholders(len(fields)) + `)`

	args := make([]any, 0, len(ids)+len(fields))
	for _, id := range ids {
		args = append(args, id)
	}
	for _, f := range fields {
		args = append(args, f)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("featurestore: fetch: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, field, value string
		if err := rows.Scan(&id, &field, &value); err != nil {
			return fmt.Errorf("featurestore: fetch scan: %w", err)
		}
		attrs, ok := out[id]
		if !ok {
			attrs = make(map[string]string, len(fields))
			out[id] = attrs
		}
		attrs[field] = value
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("featurestore: fetch rows: %w", err)
	}
	return nil
}

// Put implements Store. All records are written in one transaction.
func (s *SQLiteStore) Put(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("featurestore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `INSERT INTO item_attributes (item_id, field, value) VALUES (?, ?, ?)
ON CONFLICT (item_id, field) DO UPDATE SET value = excluded.value`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("featurestore: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		for field, value := range r.Attributes {
			if _, err := stmt.ExecContext(ctx, r.ID, field, value); err != nil {
				return fmt.Errorf("featurestore: put %s: %w", r.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("featurestore: commit: %w", err)
	}
	return nil
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("featurestore: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("featurestore: close: %w", err)
	}
	return nil
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
