// Package cache stores resolved design payloads keyed by request fingerprint.
//
// Backends:
//   - MemoryCache: in-process, lazy expiry, lost on restart (default).
//   - RedisCache : Redis-backed, shared by every replica.
//   - SQLiteCache: single file on disk, survives restarts.
//
// All implement Cache and are interchangeable. Values are opaque bytes; the
// caller owns the encoding.
package cache

import (
	"context"
	"time"
)

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Nop is a Cache that stores nothing. Used when caching is switched off.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Delete(context.Context, string) error { return nil }

// shortFingerprint trims a hex fingerprint for log lines.
func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
