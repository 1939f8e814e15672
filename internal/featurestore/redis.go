package featurestore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string
	// Password is the optional AUTH password.
	Password string
	// DB is the logical database number.
	DB int
	// PoolSize is the connection pool size (0 = go-redis default).
	PoolSize int
	// Prefix is prepended to every item key (default "item:").
	Prefix string
}

// RedisStore is a Store keeping one hash per item at "<prefix><id>".
type RedisStore struct {
	// client is the go-redis client.
	client *redis.Client
	// prefix is the item key prefix.
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg *RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("featurestore: redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "item:"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// key returns the hash key for an item.
func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// FetchAttributes implements Store with one pipelined HMGET per item.
func (s *RedisStore) FetchAttributes(ctx context.Context, ids []string, fields []string) (map[string]map[string]string, error) {
	out := make(map[string]map[string]string, len(ids))
	if len(ids) == 0 || len(fields) == 0 {
		return out, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, s.key(id), fields...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("featurestore: redis fetch: %w", err)
	}

	for i, cmd := range cmds {
		if attrs := hashValues(fields, cmd.Val()); attrs != nil {
			out[ids[i]] = attrs
		}
	}
	return out, nil
}

// hashValues pairs HMGET results with their field names. It returns nil
// when the hash does not exist (every value nil).
func hashValues(fields []string, vals []any) map[string]string {
	var attrs map[string]string
	for j, v := range vals {
		str, ok := v.(string)
		if !ok || j >= len(fields) {
			continue
		}
		if attrs == nil {
			attrs = make(map[string]string, len(fields))
		}
		attrs[fields[j]] = str
	}
	return attrs
}

// Put implements Store with one pipelined HSET per record.
func (s *RedisStore) Put(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, r := range records {
		if len(r.Attributes) == 0 {
			continue
		}
		pairs := make([]any, 0, 2*len(r.Attributes))
		for field, value := range r.Attributes {
			pairs = append(pairs, field, value)
		}
		pipe.HSet(ctx, s.key(r.ID), pairs...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("featurestore: redis put: %w", err)
	}
	return nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("featurestore: redis ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
