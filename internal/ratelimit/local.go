package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// LocalInterval is an in-process Throttle backed by a token bucket with a
// burst of one.
type LocalInterval struct {
	lim *rate.Limiter
	now func() time.Time
}

// NewLocalInterval returns a throttle that accepts one request per interval.
// A non-positive interval falls back to DefaultInterval.
func NewLocalInterval(interval time.Duration, now func() time.Time) *LocalInterval {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if now == nil {
		now = time.Now
	}
	return &LocalInterval{lim: rate.NewLimiter(rate.Every(interval), 1), now: now}
}

func (l *LocalInterval) Allow(_ context.Context) (Decision, error) {
	now := l.now()
	r := l.lim.ReserveN(now, 1)
	if !r.OK() {
		return rejected(l.interval()), nil
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return rejected(wait), nil
	}
	return allowed(), nil
}

func (l *LocalInterval) interval() time.Duration {
	return time.Duration(float64(time.Second) / float64(l.lim.Limit()))
}
