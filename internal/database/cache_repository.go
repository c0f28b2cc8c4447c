package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// CacheRepository is a shared key/value store with TTLs and atomic counters,
// backed by the gateway_cache table so every instance sees the same entries
type CacheRepository struct {
	db *sqlx.DB
}

// NewCacheRepository creates a new cache repository
func NewCacheRepository(db *sqlx.DB) *CacheRepository {
	return &CacheRepository{db: db}
}

// Get returns a live value. Expired rows read as missing.
func (r *CacheRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	query := `SELECT value FROM gateway_cache WHERE key = $1 AND expires_at > NOW()`
	if err := r.db.GetContext(ctx, &value, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read cache key: %w", err)
	}
	return value, true, nil
}

// Set stores value under key for ttl, replacing any previous entry
func (r *CacheRepository) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	query := `
		INSERT INTO gateway_cache (key, value, expires_at)
		VALUES ($1, $2, NOW() + $3 * INTERVAL '1 millisecond')
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at`

	if _, err := r.db.ExecContext(ctx, query, key, value, ttl.Milliseconds()); err != nil {
		return fmt.Errorf("failed to write cache key: %w", err)
	}
	return nil
}

// Incr atomically increments the counter at key and returns the new value.
// A missing or expired counter restarts at 1 with the given ttl.
func (r *CacheRepository) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	query := `
		INSERT INTO gateway_cache (key, value, expires_at)
		VALUES ($1, '1', NOW() + $2 * INTERVAL '1 millisecond')
		ON CONFLICT (key) DO UPDATE SET
			value = CASE
				WHEN gateway_cache.expires_at <= NOW() THEN '1'
				ELSE (gateway_cache.value::bigint + 1)::text
			END,
			expires_at = CASE
				WHEN gateway_cache.expires_at <= NOW() THEN EXCLUDED.expires_at
				ELSE gateway_cache.expires_at
			END
		RETURNING value::bigint`

	var n int64
	if err := r.db.GetContext(ctx, &n, query, key, ttl.Milliseconds()); err != nil {
		return 0, fmt.Errorf("failed to increment cache key: %w", err)
	}
	return n, nil
}

// Expire resets the ttl of an existing key
func (r *CacheRepository) Expire(ctx context.Context, key string, ttl time.Duration) error {
	query := `UPDATE gateway_cache SET expires_at = NOW() + $2 * INTERVAL '1 millisecond' WHERE key = $1`
	if _, err := r.db.ExecContext(ctx, query, key, ttl.Milliseconds()); err != nil {
		return fmt.Errorf("failed to expire cache key: %w", err)
	}
	return nil
}

// Delete removes a key
func (r *CacheRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM gateway_cache WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete cache key: %w", err)
	}
	return nil
}

// DeleteExpired purges expired rows and returns how many were removed
func (r *CacheRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM gateway_cache WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired cache keys: %w", err)
	}
	return result.RowsAffected()
}
