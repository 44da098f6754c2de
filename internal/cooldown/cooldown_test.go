package cooldown

import (
	"bytes"
	"math"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karthikvettiyath/Ai-Home-Decor/internal/classify"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newGovernor(t *testing.T) (*Governor, *clock, *bytes.Buffer) {
	t.Helper()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	return New("gemini-1.5-flash", WithClock(c.Now), WithLogger(log)), c, &buf
}

func secs(n int) *int { return &n }

func TestDuration(t *testing.T) {
	cases := []struct {
		name string
		v    classify.Verdict
		want time.Duration
	}{
		{"rate limit with hint", classify.Verdict{Kind: classify.KindRateLimit, RetryAfter: secs(30)}, 30 * time.Second},
		{"rate limit without hint", classify.Verdict{Kind: classify.KindRateLimit}, 60 * time.Second},
		{"daily quota without hint", classify.Verdict{Kind: classify.KindQuota}, 6 * time.Hour},
		{"daily quota short hint", classify.Verdict{Kind: classify.KindQuota, RetryAfter: secs(45)}, 6 * time.Hour},
		{"hint beyond duration range saturates", classify.Verdict{Kind: classify.KindRateLimit, RetryAfter: secs(math.MaxInt64)}, time.Duration(maxSeconds) * time.Second},
		{"hint just past overflow saturates", classify.Verdict{Kind: classify.KindRateLimit, RetryAfter: secs(9_223_372_037)}, time.Duration(maxSeconds) * time.Second},
		{"daily quota long hint", classify.Verdict{Kind: classify.KindQuota, RetryAfter: secs(30000)}, 30000 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Duration(tc.v))
		})
	}
}

func TestGovernor_TripAndExpire(t *testing.T) {
	g, c, _ := newGovernor(t)
	assert.False(t, g.Active())
	assert.Nil(t, g.RetryAfterSeconds())
	assert.Equal(t, "ready", g.StateLabel())

	d := g.Trip(classify.Verdict{Kind: classify.KindRateLimit, RetryAfter: secs(30)})
	assert.Equal(t, 30*time.Second, d)
	assert.True(t, g.Active())
	assert.Equal(t, "cooling", g.StateLabel())

	c.Advance(10*time.Second + 200*time.Millisecond)
	require.NotNil(t, g.RetryAfterSeconds())
	assert.Equal(t, 20, *g.RetryAfterSeconds(), "19.8s remaining rounds up")

	c.Advance(20 * time.Second)
	assert.False(t, g.Active())
	assert.Zero(t, g.Remaining())
}

func TestGovernor_RetryAfterAtLeastOne(t *testing.T) {
	g, c, _ := newGovernor(t)
	g.TripFor(time.Second)
	c.Advance(999 * time.Millisecond)
	require.NotNil(t, g.RetryAfterSeconds())
	assert.Equal(t, 1, *g.RetryAfterSeconds())
}

func TestGovernor_OtherVerdictIgnored(t *testing.T) {
	g, _, buf := newGovernor(t)
	assert.Zero(t, g.Trip(classify.Verdict{Kind: classify.KindOther}))
	assert.False(t, g.Active())
	assert.Empty(t, buf.String())
}

func TestGovernor_LogsAtMostOncePerMinute(t *testing.T) {
	g, c, buf := newGovernor(t)

	for i := 0; i < 5; i++ {
		g.TripFor(time.Minute)
		c.Advance(5 * time.Second)
	}
	assert.Equal(t, 1, strings.Count(buf.String(), "cooling down"))

	c.Advance(time.Minute)
	g.TripFor(time.Minute)
	assert.Equal(t, 2, strings.Count(buf.String(), "cooling down"))
	assert.Contains(t, buf.String(), `"model":"gemini-1.5-flash"`)
	assert.Contains(t, buf.String(), `"cooldown_seconds":60`)
}

func TestGovernor_HugeRetryHintStillCoolsDown(t *testing.T) {
	g, c, _ := newGovernor(t)

	d := g.Trip(classify.Verdict{Kind: classify.KindRateLimit, RetryAfter: secs(9_223_372_037)})
	assert.Positive(t, d)
	assert.True(t, g.Active())

	c.Advance(365 * 24 * time.Hour)
	assert.True(t, g.Active(), "a saturated cooldown must not wrap around")
	require.NotNil(t, g.RetryAfterSeconds())
	assert.Positive(t, *g.RetryAfterSeconds())
}
