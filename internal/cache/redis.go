package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisTimeout = 500 * time.Millisecond
	defaultKeyPrefix    = "decor:design:"
)

// RedisCache keeps encoded design payloads in Redis so every replica answers
// a repeated fingerprint from the same entry. Redis owns expiry.
//
// A Redis outage never fails a design request: reads miss and writes are
// logged and dropped. Only Delete reports errors.
type RedisCache struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	log     *slog.Logger
}

type RedisOption func(*RedisCache)

// WithKeyPrefix namespaces fingerprints, letting several deployments share
// one Redis database.
func WithKeyPrefix(prefix string) RedisOption {
	return func(c *RedisCache) { c.prefix = prefix }
}

// WithRedisTimeout bounds each Redis round trip.
func WithRedisTimeout(d time.Duration) RedisOption {
	return func(c *RedisCache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithRedisLogger(l *slog.Logger) RedisOption {
	return func(c *RedisCache) {
		if l != nil {
			c.log = l
		}
	}
}

// NewRedisCache uses an existing client; the caller closes it.
func NewRedisCache(cli *redis.Client, opts ...RedisOption) *RedisCache {
	c := &RedisCache{
		client:  cli,
		prefix:  defaultKeyPrefix,
		timeout: defaultRedisTimeout,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With(slog.String("backend", "redis"))
	return c
}

// DialRedisCache connects to redisURL and checks it with PING. The returned
// cache owns the client.
func DialRedisCache(ctx context.Context, redisURL string, opts ...RedisOption) (*RedisCache, error) {
	if ctx == nil {
		return nil, errors.New("cache: context must not be nil")
	}
	o, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	cli := redis.NewClient(o)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pingCtx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}
	return NewRedisCache(cli, opts...), nil
}

func (c *RedisCache) entry(fingerprint string) string { return c.prefix + fingerprint }

// Get returns the stored payload for fingerprint.
func (c *RedisCache) Get(ctx context.Context, fingerprint string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := c.client.Get(ctx, c.entry(fingerprint)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false
	case err != nil:
		c.log.WarnContext(ctx, "design_cache_read_failed",
			slog.String("fingerprint", shortFingerprint(fingerprint)),
			slog.String("error", err.Error()),
		)
		return nil, false
	case len(payload) == 0:
		// An empty value is never a valid payload.
		return nil, false
	}
	return payload, true
}

// Set stores payload under fingerprint. Empty payloads are ignored and a
// non-positive ttl falls back to one hour, matching MemoryCache.
func (c *RedisCache) Set(ctx context.Context, fingerprint string, payload []byte, ttl time.Duration) error {
	if len(payload) == 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Set(ctx, c.entry(fingerprint), payload, ttl).Err(); err != nil {
		c.log.WarnContext(ctx, "design_cache_write_failed",
			slog.String("fingerprint", shortFingerprint(fingerprint)),
			slog.Int("bytes", len(payload)),
			slog.Duration("ttl", ttl),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, fingerprint string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Del(ctx, c.entry(fingerprint)).Err(); err != nil {
		return fmt.Errorf("cache: delete %s: %w", shortFingerprint(fingerprint), err)
	}
	return nil
}

// TTL reports how long the entry for fingerprint has left. ok is false when
// there is no entry.
func (c *RedisCache) TTL(ctx context.Context, fingerprint string) (time.Duration, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	d, err := c.client.PTTL(ctx, c.entry(fingerprint)).Result()
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}

// Ping reports whether Redis is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
