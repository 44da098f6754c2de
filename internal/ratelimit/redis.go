package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// minIntervalScript admits a request when at least ARGV[2] ms passed since
// the last admitted one.
// KEYS[1] = Redis key holding the last admitted timestamp (ms)
// ARGV[1] = current unix time in ms
// ARGV[2] = interval in ms
// Returns: 0 if admitted, otherwise the remaining wait in ms.
var minIntervalScript = redis.NewScript(`
		local key      = KEYS[1]
		local now      = tonumber(ARGV[1])
		local interval = tonumber(ARGV[2])

		local last = redis.call('GET', key)
		if last then
			local elapsed = now - tonumber(last)
			if elapsed >= 0 and elapsed < interval then
				return interval - elapsed
			end
		end

		redis.call('SET', key, ARGV[1], 'PX', ARGV[2])
		return 0
`)

const defaultThrottleKey = "decor:throttle:generate"

// RedisInterval shares the interval across every replica pointing at the
// same Redis key.
type RedisInterval struct {
	rdb      *redis.Client
	key      string
	interval time.Duration
	now      func() time.Time
}

// RedisOption configures a RedisInterval.
type RedisOption func(*RedisInterval)

// WithKey overrides the Redis key.
func WithKey(key string) RedisOption {
	return func(r *RedisInterval) {
		if key != "" {
			r.key = key
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RedisOption {
	return func(r *RedisInterval) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRedisInterval returns a Redis-backed Throttle.
func NewRedisInterval(rdb *redis.Client, interval time.Duration, opts ...RedisOption) *RedisInterval {
	if interval <= 0 {
		interval = DefaultInterval
	}
	r := &RedisInterval{rdb: rdb, key: defaultThrottleKey, interval: interval, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Allow admits or rejects the request. When Redis is unreachable the request
// is admitted (graceful degradation).
func (r *RedisInterval) Allow(ctx context.Context) (Decision, error) {
	waitMs, err := minIntervalScript.Run(ctx, r.rdb,
		[]string{r.key},
		r.now().UnixMilli(), r.interval.Milliseconds(),
	).Int64()
	if err != nil {
		return allowed(), nil
	}
	if waitMs > 0 {
		return rejected(time.Duration(waitMs) * time.Millisecond), nil
	}
	return allowed(), nil
}

// Ping reports whether Redis is reachable.
func (r *RedisInterval) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
