// Package ratelimit enforces a global minimum interval between accepted
// requests, either in-process or shared across replicas through Redis.
package ratelimit

import (
	"context"
	"math"
	"time"
)

// DefaultInterval is the minimum spacing between accepted design requests.
const DefaultInterval = 7 * time.Second

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed || d.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

// Throttle admits at most one request per interval, independent of request
// content. An accepted request starts a new interval.
type Throttle interface {
	Allow(ctx context.Context) (Decision, error)
}

func allowed() Decision { return Decision{Allowed: true} }

func rejected(wait time.Duration) Decision { return Decision{RetryAfter: wait} }
