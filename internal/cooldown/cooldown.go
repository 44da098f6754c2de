// Package cooldown holds the process-wide switch that keeps upstream calls
// off after a rate-limit or quota failure.
package cooldown

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/karthikvettiyath/Ai-Home-Decor/internal/classify"
)

const (
	// DefaultRetryAfter applies when the upstream gave no retry hint.
	DefaultRetryAfter = 60 * time.Second

	// DailyQuotaMinimum is the shortest cooldown after an exhausted daily quota.
	DailyQuotaMinimum = 6 * time.Hour

	// LogInterval bounds how often a trip is logged.
	LogInterval = 60 * time.Second
)

// Governor is safe for concurrent use. The zero value is not usable; call New.
type Governor struct {
	mu           sync.Mutex
	until        time.Time
	lastLoggedAt time.Time

	model string
	now   func() time.Time
	log   *slog.Logger
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) {
		if now != nil {
			g.now = now
		}
	}
}

// WithLogger sets the logger used for trip warnings.
func WithLogger(l *slog.Logger) Option {
	return func(g *Governor) {
		if l != nil {
			g.log = l
		}
	}
}

// New returns an inactive Governor. model is only used in log lines.
func New(model string, opts ...Option) *Governor {
	g := &Governor{model: model, now: time.Now, log: slog.Default()}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Active reports whether upstream calls must be skipped now.
func (g *Governor) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now().Before(g.until)
}

// Remaining is the time left in the current cooldown, or zero.
func (g *Governor) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d := g.until.Sub(g.now()); d > 0 {
		return d
	}
	return 0
}

// RetryAfterSeconds returns the remaining cooldown rounded up to whole
// seconds (at least 1), or nil when inactive.
func (g *Governor) RetryAfterSeconds() *int {
	d := g.Remaining()
	if d <= 0 {
		return nil
	}
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return &secs
}

// Duration computes the cooldown a verdict calls for.
func Duration(v classify.Verdict) time.Duration {
	d := DefaultRetryAfter
	if v.RetryAfter != nil {
		d = secondsToDuration(*v.RetryAfter)
	}
	if v.Kind == classify.KindQuota && d < DailyQuotaMinimum {
		d = DailyQuotaMinimum
	}
	return d
}

// maxSeconds is the largest whole-second count a time.Duration can hold.
const maxSeconds = math.MaxInt64 / int64(time.Second)

// secondsToDuration saturates instead of overflowing on absurd hints.
func secondsToDuration(secs int) time.Duration {
	if int64(secs) > maxSeconds {
		return time.Duration(maxSeconds) * time.Second
	}
	if secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Trip starts a cooldown sized by the verdict and returns its length.
// Verdicts that are not limits leave the state untouched and return zero.
func (g *Governor) Trip(v classify.Verdict) time.Duration {
	if !v.Limited() {
		return 0
	}
	d := Duration(v)
	g.TripFor(d)
	return d
}

// TripFor starts a cooldown of d from now, replacing any current one.
func (g *Governor) TripFor(d time.Duration) {
	g.mu.Lock()
	now := g.now()
	g.until = now.Add(d)
	shouldLog := now.Sub(g.lastLoggedAt) > LogInterval
	if shouldLog {
		g.lastLoggedAt = now
	}
	g.mu.Unlock()

	if shouldLog {
		g.log.Warn("upstream rate/quota limited, cooling down; set GEMINI_ENABLED=false to silence attempts or configure billing/quotas",
			slog.Int("cooldown_seconds", int(d/time.Second)),
			slog.String("model", g.model),
		)
	}
}

// StateLabel returns "cooling" or "ready" for metrics export.
func (g *Governor) StateLabel() string {
	if g.Active() {
		return "cooling"
	}
	return "ready"
}
