package designer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karthikvettiyath/Ai-Home-Decor/internal/cache"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/cooldown"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/design"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/fallback"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/fingerprint"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/inflight"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/metrics"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/providers"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/providers/providertest"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/upstream"
)

const (
	testModel   = "gemini-1.5-flash"
	conceptJSON = `{"concept":"Sunlit Loft","colorPalette":["Sand #C2B280"],"furniture":["Sofa"],"lighting":"Warm","layout":"Open","decor":"Plants","image":"https://img/1.png"}`
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	svc   *Service
	fake  *providertest.Fake
	cache *cache.MemoryCache
	cool  *cooldown.Governor
	clock *clock
}

type harnessOpt func(*Options)

func disabled(o *Options)     { o.Enabled = false }
func noCredential(o *Options) { o.HasCredential = false }

func newHarness(t *testing.T, fake *providertest.Fake, opts ...harnessOpt) *harness {
	t.Helper()
	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	mem := cache.NewMemoryCache(cache.WithClock(clk.Now))
	cool := cooldown.New(testModel, cooldown.WithClock(clk.Now))

	o := Options{
		Gateway:       upstream.New(fake, testModel),
		Enabled:       true,
		HasCredential: true,
		Cache:         mem,
		Cooldown:      cool,
		Fallback:      fallback.Default(),
		Timeout:       5 * time.Second,
		Metrics:       metrics.New(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return &harness{svc: New(o), fake: fake, cache: mem, cool: cool, clock: clk}
}

func rateLimitErr(retrySeconds int) error {
	return &providers.Error{
		Provider:   "fake",
		StatusCode: 429,
		Status:     "RESOURCE_EXHAUSTED",
		Message:    "Resource has been exhausted",
		Details:    []map[string]any{providers.RetryInfoDetail(retrySeconds)},
	}
}

func dailyQuotaErr() error {
	return &providers.Error{
		Provider:   "fake",
		StatusCode: 429,
		Message:    "You exceeded your current quota",
		Details: []map[string]any{{
			"@type": providers.TypeQuotaFailure,
			"violations": []any{
				map[string]any{"quotaId": "GenerateRequestsPerDayPerProjectPerModel-FreeTier"},
			},
		}},
	}
}

func mustConcept(t *testing.T, p *design.Payload) design.Concept {
	t.Helper()
	c, ok := p.Data.Concept()
	require.True(t, ok, "expected concept data, got %s", p.Data.Kind())
	return c
}

func TestGenerate_Validation(t *testing.T) {
	h := newHarness(t, &providertest.Fake{Text: conceptJSON})

	for _, req := range []design.Request{{}, {Prompt: "   \n\t"}} {
		_, err := h.svc.Generate(context.Background(), req)
		assert.ErrorIs(t, err, ErrValidation)
	}
	assert.Zero(t, h.fake.GenerateCalls())

	res, err := h.svc.Generate(context.Background(), design.Request{Image: "data:image/png;base64,aGVsbG8="})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpstream, res.Outcome)
}

func TestGenerate_UpstreamThenCache(t *testing.T) {
	h := newHarness(t, &providertest.Fake{Text: conceptJSON})
	req := design.Request{Prompt: "a sunlit loft"}

	first, err := h.svc.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, testModel, first.Payload.Source)
	assert.Nil(t, first.Payload.Meta)
	assert.False(t, first.Cached)
	assert.False(t, first.Deduped)
	assert.Equal(t, "Sunlit Loft", mustConcept(t, first.Payload).Concept)
	assert.Equal(t, fingerprint.Of(req.Prompt, req.Image), first.Fingerprint)

	// Outer whitespace does not change the fingerprint.
	second, err := h.svc.Generate(context.Background(), design.Request{Prompt: "  a sunlit loft  "})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, OutcomeCacheHit, second.Outcome)
	assert.Equal(t, first.Payload.Data, second.Payload.Data)
	assert.Equal(t, 1, h.fake.GenerateCalls())
}

func TestGenerate_CacheExpires(t *testing.T) {
	h := newHarness(t, &providertest.Fake{Text: conceptJSON})
	req := design.Request{Prompt: "a sunlit loft"}

	_, err := h.svc.Generate(context.Background(), req)
	require.NoError(t, err)

	h.clock.Advance(DefaultTTL + time.Second)
	res, err := h.svc.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 2, h.fake.GenerateCalls())
}

func TestGenerate_RawTextIsCachedToo(t *testing.T) {
	h := newHarness(t, &providertest.Fake{Text: "Paint the walls a soft sage green."})
	req := design.Request{Prompt: "ideas"}

	res, err := h.svc.Generate(context.Background(), req)
	require.NoError(t, err)
	raw, ok := res.Payload.Data.RawText()
	require.True(t, ok)
	assert.Equal(t, "Paint the walls a soft sage green.", raw)

	again, err := h.svc.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, res.Payload.Data, again.Payload.Data)
}

func TestGenerate_SkipsUpstreamWhenUnavailable(t *testing.T) {
	cases := []struct {
		name        string
		opts        []harnessOpt
		wantEnabled bool
	}{
		{name: "disabled", opts: []harnessOpt{disabled}},
		{name: "no credential", opts: []harnessOpt{noCredential}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, &providertest.Fake{Text: conceptJSON}, tc.opts...)

			res, err := h.svc.Generate(context.Background(), design.Request{Prompt: "cozy bedroom"})
			require.NoError(t, err)

			assert.Zero(t, h.fake.GenerateCalls())
			assert.Equal(t, design.SourceFallback, res.Payload.Source)
			assert.Equal(t, OutcomeFallback, res.Outcome)
			assert.Equal(t, design.SkippedMeta(tc.wantEnabled, testModel, false, nil), res.Payload.Meta)

			c := mustConcept(t, res.Payload)
			assert.Equal(t, "Serene Sanctuary Bedroom", c.Concept)
			assert.Equal(t, fallback.ReasonUnavailable.Note(), c.Note)
		})
	}
}

func TestGenerate_NilGatewayServesFallback(t *testing.T) {
	svc := New(Options{Enabled: true, HasCredential: true})
	res, err := svc.Generate(context.Background(), design.Request{Prompt: "kitchen"})
	require.NoError(t, err)
	assert.Equal(t, design.SourceFallback, res.Payload.Source)
	assert.Equal(t, upstream.DefaultModel, svc.Model())
	assert.False(t, svc.Status().HasCredential)
}

func TestGenerate_RateLimitStartsCooldown(t *testing.T) {
	fake := &providertest.Fake{Err: rateLimitErr(30)}
	h := newHarness(t, fake)

	res, err := h.svc.Generate(context.Background(), design.Request{Prompt: "modern kitchen"})
	require.NoError(t, err)
	assert.Equal(t, design.SourceFallback, res.Payload.Source)
	assert.Equal(t, design.RateLimitedMeta(testModel, 30), res.Payload.Meta)
	c := mustConcept(t, res.Payload)
	assert.Equal(t, "Modern Farmhouse Kitchen", c.Concept)
	assert.Equal(t, fallback.ReasonRateLimited.Note(), c.Note)

	require.True(t, h.cool.Active())
	assert.Equal(t, 30*time.Second, h.cool.Remaining())

	// While cooling, a new prompt never reaches upstream.
	h.clock.Advance(10 * time.Second)
	fake.Set(conceptJSON, nil)
	res, err = h.svc.Generate(context.Background(), design.Request{Prompt: "quiet office"})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.GenerateCalls())
	assert.Equal(t, design.SkippedMeta(true, testModel, true, intPtr(20)), res.Payload.Meta)

	// Once expired, upstream is tried again.
	h.clock.Advance(21 * time.Second)
	res, err = h.svc.Generate(context.Background(), design.Request{Prompt: "bright bathroom"})
	require.NoError(t, err)
	assert.Equal(t, testModel, res.Payload.Source)
	assert.Equal(t, 2, fake.GenerateCalls())
}

func TestGenerate_RateLimitWithoutHintUsesDefault(t *testing.T) {
	h := newHarness(t, &providertest.Fake{Err: errors.New("429 Too Many Requests")})

	res, err := h.svc.Generate(context.Background(), design.Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, design.RateLimitedMeta(testModel, 60), res.Payload.Meta)
	assert.Equal(t, cooldown.DefaultRetryAfter, h.cool.Remaining())
}

func TestGenerate_DailyQuotaCoolsForHours(t *testing.T) {
	h := newHarness(t, &providertest.Fake{Err: dailyQuotaErr()})

	res, err := h.svc.Generate(context.Background(), design.Request{Prompt: "x"})
	require.NoError(t, err)

	// The reported hint stays the default; only the cooldown is extended.
	assert.Equal(t, design.RateLimitedMeta(testModel, 60), res.Payload.Meta)
	assert.Equal(t, cooldown.DailyQuotaMinimum, h.cool.Remaining())
}

func TestGenerate_OtherErrorFallsBackWithoutCooldown(t *testing.T) {
	h := newHarness(t, &providertest.Fake{Err: &providers.Error{Provider: "fake", StatusCode: 500, Message: "internal"}})

	res, err := h.svc.Generate(context.Background(), design.Request{Prompt: "dining room"})
	require.NoError(t, err)
	assert.Equal(t, design.ErrorMeta(testModel), res.Payload.Meta)
	c := mustConcept(t, res.Payload)
	assert.Equal(t, "Elegant Formal Dining", c.Concept)
	assert.Equal(t, fallback.ReasonUpstreamError.Note(), c.Note)
	assert.False(t, h.cool.Active())
}

func TestGenerate_FallbackIsCached(t *testing.T) {
	fake := &providertest.Fake{Err: &providers.Error{Provider: "fake", StatusCode: 500, Message: "internal"}}
	h := newHarness(t, fake)
	req := design.Request{Prompt: "dining room"}

	_, err := h.svc.Generate(context.Background(), req)
	require.NoError(t, err)

	fake.Set(conceptJSON, nil)
	res, err := h.svc.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, design.SourceFallback, res.Payload.Source)
	assert.Equal(t, 1, fake.GenerateCalls())
}

func TestGenerate_UndecodableCacheEntryIsMiss(t *testing.T) {
	h := newHarness(t, &providertest.Fake{Text: conceptJSON})
	req := design.Request{Prompt: "loft"}
	require.NoError(t, h.cache.Set(context.Background(), fingerprint.Of(req.Prompt, ""), []byte("not json"), time.Minute))

	res, err := h.svc.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 1, h.fake.GenerateCalls())
}

func TestGenerate_BurstSharesOneUpstreamCall(t *testing.T) {
	gate := make(chan struct{})
	fake := &providertest.Fake{Text: conceptJSON, Gate: gate}
	h := newHarness(t, fake)
	req := design.Request{Prompt: "burst"}

	const n = 5
	results := make([]*Result, n)
	errs := make([]error, n)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = h.svc.Generate(context.Background(), req)
	}()
	require.Eventually(t, func() bool { return fake.GenerateCalls() == 1 }, time.Second, time.Millisecond)

	for i := 1; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.svc.Generate(context.Background(), req)
		}(i)
	}
	require.Eventually(t, func() bool {
		st := h.svc.Status()
		return st.PendingDesigns == 1 && st.JoinedDesigns == n-1
	}, time.Second, time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, 1, fake.GenerateCalls())
	require.NoError(t, errs[0])
	assert.False(t, results[0].Deduped, "the request that started the work is not marked deduped")
	assert.False(t, results[0].Cached)
	assert.Equal(t, OutcomeUpstream, results[0].Outcome)
	for i := 1; i < n; i++ {
		require.NoError(t, errs[i])
		assert.True(t, results[i].Deduped, "request %d did not join the pending work", i)
		assert.False(t, results[i].Cached, "request %d must not be reported as a cache hit", i)
		assert.Equal(t, OutcomeDeduped, results[i].Outcome)
		assert.Equal(t, results[0].Payload.Data, results[i].Payload.Data)
	}
	assert.Zero(t, h.svc.Status().JoinedDesigns)
	assert.Zero(t, h.svc.Status().PendingDesigns)
}

func TestGenerate_WorkOutlivesCancelledCaller(t *testing.T) {
	gate := make(chan struct{})
	fake := &providertest.Fake{Text: conceptJSON, Gate: gate}
	h := newHarness(t, fake)
	req := design.Request{Prompt: "detached"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Generate(ctx, req)
		done <- err
	}()
	require.Eventually(t, func() bool { return fake.GenerateCalls() == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(gate)
	require.Eventually(t, func() bool { return h.svc.Status().PendingDesigns == 0 }, time.Second, time.Millisecond)

	res, err := h.svc.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, 1, fake.GenerateCalls())
}

type panicProvider struct{ providertest.Fake }

func (*panicProvider) Generate(context.Context, *providers.GenerateRequest) (string, error) {
	panic("provider exploded")
}

func TestGenerate_PanicSurfacesAsError(t *testing.T) {
	svc := New(Options{
		Gateway:       upstream.New(&panicProvider{}, testModel),
		Enabled:       true,
		HasCredential: true,
	})

	_, err := svc.Generate(context.Background(), design.Request{Prompt: "x"})
	var pe *inflight.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Zero(t, svc.Status().PendingDesigns)
}

func TestChat(t *testing.T) {
	t.Run("message required", func(t *testing.T) {
		h := newHarness(t, &providertest.Fake{Text: "hi"})
		_, err := h.svc.Chat(context.Background(), design.ChatRequest{})
		assert.ErrorIs(t, err, ErrMessageRequired)
	})

	t.Run("offline when disabled", func(t *testing.T) {
		h := newHarness(t, &providertest.Fake{Text: "hi"}, disabled)
		res, err := h.svc.Chat(context.Background(), design.ChatRequest{Message: "lighting?"})
		require.NoError(t, err)
		assert.Equal(t, &ChatResult{Reply: OfflineReply, Source: design.SourceFallback}, res)
		assert.Zero(t, h.fake.ChatCalls())
	})

	t.Run("reply from upstream", func(t *testing.T) {
		h := newHarness(t, &providertest.Fake{Text: "Use warm whites."})
		res, err := h.svc.Chat(context.Background(), design.ChatRequest{
			Message: "lighting?",
			History: []design.ChatTurn{{Role: "user", Text: "hi"}, {Role: "ai", Text: "hello"}},
		})
		require.NoError(t, err)
		assert.Equal(t, &ChatResult{Reply: "Use warm whites.", Source: testModel}, res)
		assert.Equal(t, "lighting?", h.fake.LastChat().Message)
	})

	t.Run("rate limit cools for a minute", func(t *testing.T) {
		h := newHarness(t, &providertest.Fake{Err: rateLimitErr(5)})
		res, err := h.svc.Chat(context.Background(), design.ChatRequest{Message: "lighting?"})
		require.NoError(t, err)
		assert.Equal(t, &ChatResult{Reply: BusyReply, Source: design.SourceFallback}, res)
		assert.Equal(t, ChatCooldown, h.cool.Remaining())

		// The cooldown is shared with design generation.
		d, err := h.svc.Generate(context.Background(), design.Request{Prompt: "x"})
		require.NoError(t, err)
		assert.True(t, *d.Payload.Meta.Gemini.Cooldown)
		assert.Zero(t, h.fake.GenerateCalls())
	})

	t.Run("other error", func(t *testing.T) {
		h := newHarness(t, &providertest.Fake{Err: errors.New("connection reset")})
		_, err := h.svc.Chat(context.Background(), design.ChatRequest{Message: "lighting?"})
		assert.ErrorIs(t, err, ErrUpstream)
		assert.False(t, h.cool.Active())
	})
}

func TestStatus(t *testing.T) {
	h := newHarness(t, &providertest.Fake{})
	st := h.svc.Status()
	assert.Equal(t, Status{Provider: "fake", Model: testModel, Enabled: true, HasCredential: true}, st)

	h.cool.TripFor(90 * time.Second)
	st = h.svc.Status()
	assert.True(t, st.Cooldown)
	require.NotNil(t, st.RetryAfterSeconds)
	assert.Equal(t, 90, *st.RetryAfterSeconds)
}

func intPtr(v int) *int { return &v }
