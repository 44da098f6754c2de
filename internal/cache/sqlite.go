package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const createDesignCacheTable = `
CREATE TABLE IF NOT EXISTS design_cache (
	key        TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
`

// SQLiteCache keeps payloads in a local SQLite file so they survive restarts.
// Expiry is lazy, as in MemoryCache: a read past expires_at deletes the row.
type SQLiteCache struct {
	db     *sql.DB
	now    func() time.Time
	hits   atomic.Int64
	misses atomic.Int64
}

// SQLiteStats reports row count and hit/miss counters.
type SQLiteStats struct {
	Entries int64
	Hits    int64
	Misses  int64
}

// NewSQLiteCache opens (or creates) the database at path.
func NewSQLiteCache(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open sqlite: %w", err)
	}
	// database/sql would otherwise give each pooled connection its own
	// ":memory:" database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createDesignCacheTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: migrate sqlite: %w", err)
	}

	return &SQLiteCache{db: db, now: time.Now}, nil
}

func (c *SQLiteCache) Get(ctx context.Context, key string) ([]byte, bool) {
	var (
		payload   []byte
		expiresAt int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM design_cache WHERE key = ?`, key,
	).Scan(&payload, &expiresAt)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.WarnContext(ctx, "cache_get_error",
				slog.String("backend", "sqlite"),
				slog.String("fingerprint", shortFingerprint(key)),
				slog.String("error", err.Error()),
			)
		}
		c.misses.Add(1)
		return nil, false
	}

	if c.now().UnixMilli() > expiresAt {
		if _, err := c.db.ExecContext(ctx,
			`DELETE FROM design_cache WHERE key = ? AND expires_at = ?`, key, expiresAt,
		); err != nil {
			slog.WarnContext(ctx, "cache_evict_error",
				slog.String("backend", "sqlite"),
				slog.String("fingerprint", shortFingerprint(key)),
				slog.String("error", err.Error()),
			)
		}
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return payload, true
}

// Set replaces any existing row. Write failures are logged, not returned.
func (c *SQLiteCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}
	expiresAt := c.now().Add(ttl).UnixMilli()

	if _, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO design_cache (key, payload, expires_at) VALUES (?, ?, ?)`,
		key, value, expiresAt,
	); err != nil {
		slog.WarnContext(ctx, "cache_set_error",
			slog.String("backend", "sqlite"),
			slog.String("fingerprint", shortFingerprint(key)),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (c *SQLiteCache) Delete(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM design_cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache: sqlite delete %s: %w", key, err)
	}
	return nil
}

// Stats returns cache performance counters.
func (c *SQLiteCache) Stats(ctx context.Context) (SQLiteStats, error) {
	var n int64
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM design_cache`).Scan(&n); err != nil {
		return SQLiteStats{}, fmt.Errorf("cache: sqlite stats: %w", err)
	}
	return SQLiteStats{Entries: n, Hits: c.hits.Load(), Misses: c.misses.Load()}, nil
}

// Ping reports whether the database is usable.
func (c *SQLiteCache) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close releases the database handle.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
