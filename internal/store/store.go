// Package store implements the Postgres-backed key/value substrate shared by
// the cache's KV tier, job-state checkpoints, and the rate limiter's
// counters. Adapted from the teacher's internal/persist.go Persister, which
// wrapped a pgxpool.Pool with the same key-prefix-scan access pattern.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned by Get when key has no row, or the row has
// expired.
var ErrNotFound = errors.New("store: key not found")

// Store is the KV substrate every persistence-needing component depends on.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	// Scan returns all non-expired values whose key matches the SQL LIKE
	// pattern, mirroring persist.go's `SELECT value FROM cache WHERE key
	// LIKE $1`.
	Scan(ctx context.Context, likePattern string) (map[string][]byte, error)
}

// PGStore is the production Store backed by a pgxpool.Pool.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps an already-connected pool. Callers own pool's lifecycle.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Schema is the DDL the production deployment applies before first use; kept
// here (rather than a migrations tool the corpus does not carry) as a single
// source of truth, matching the teacher's inline-schema style in persist.go.
const Schema = `
CREATE TABLE IF NOT EXISTS kvstore (
	key TEXT PRIMARY KEY,
	value BYTEA NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS kvstore_expires_at_idx ON kvstore (expires_at);
`

func (s *PGStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM kvstore WHERE key = $1 AND expires_at > now()`, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %q: %w", key, err)
	}
	return value, nil
}

func (s *PGStore) Put(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kvstore (key, value, expires_at)
		VALUES ($1, $2, now() + make_interval(secs => $3))
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`, key, value, ttlSeconds)
	if err != nil {
		return fmt.Errorf("store: put %q: %w", key, err)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM kvstore WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("store: delete %q: %w", key, err)
	}
	return nil
}

func (s *PGStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM kvstore WHERE key LIKE $1`, prefix+"%")
	if err != nil {
		return fmt.Errorf("store: delete prefix %q: %w", prefix, err)
	}
	return nil
}

func (s *PGStore) Scan(ctx context.Context, likePattern string) (map[string][]byte, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM kvstore WHERE key LIKE $1 AND expires_at > now()`, likePattern,
	)
	if err != nil {
		return nil, fmt.Errorf("store: scan %q: %w", likePattern, err)
	}
	defer rows.Close()

	out := map[string][]byte{}
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("store: scan row: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}
