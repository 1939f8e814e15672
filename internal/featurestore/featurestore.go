// Package featurestore holds per-item catalog attributes (name, description)
// keyed by item ID. The retrieval pipeline bulk-fetches them to enrich index
// hits; ingestion writes them. Two backends are provided: a local SQLite file
// for single-host deployments and Redis hashes for shared ones.
package featurestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Attribute field names.
const (
	FieldName        = "name"
	FieldDescription = "description"
)

// Record is one item's attributes for Put.
type Record struct {
	// ID is the catalog item identifier.
	ID string
	// Attributes maps field name to value.
	Attributes map[string]string
}

// Store is a key-value attribute store. Implementations must be safe for
// concurrent use.
type Store interface {
	// FetchAttributes returns the requested fields for each known ID. IDs
	// absent from the store are absent from the result; fields an item lacks
	// are absent from its inner map.
	FetchAttributes(ctx context.Context, ids []string, fields []string) (map[string]map[string]string, error)
	// Put writes or overwrites the given records.
	Put(ctx context.Context, records []Record) error
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

// DefaultSQLitePath returns ~/.concierge/features.db, creating the directory
// if needed.
func DefaultSQLitePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("featurestore: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".concierge")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("featurestore: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "features.db"), nil
}

// NewFromEnv opens the backend selected by FEATURE_STORE (sqlite or redis,
// default sqlite).
//
//   - sqlite: FEATURE_STORE_PATH, default ~/.concierge/features.db
//   - redis:  REDIS_ADDR (default localhost:6379), REDIS_PASSWORD, REDIS_DB
func NewFromEnv(ctx context.Context) (Store, error) {
	switch backend := os.Getenv("FEATURE_STORE"); backend {
	case "", "sqlite":
		path := os.Getenv("FEATURE_STORE_PATH")
		if path == "" {
			p, err := DefaultSQLitePath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		return OpenSQLite(path)

	case "redis":
		db := 0
		if v := os.Getenv("REDIS_DB"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("featurestore: invalid REDIS_DB %q: %w", v, err)
			}
			db = n
		}
		addr := os.Getenv("REDIS_ADDR")
		if addr == "" {
			addr = "localhost:6379"
		}
		return NewRedisStore(ctx, &RedisConfig{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       db,
		})

	default:
		return nil, fmt.Errorf("featurestore: unknown FEATURE_STORE %q (valid values: sqlite, redis)", backend)
	}
}
