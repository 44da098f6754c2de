// Package designer resolves design and chat requests: it deduplicates and
// caches design work, calls the upstream model when allowed, and degrades
// to the fallback catalog when the upstream is off, cooling down or failing.
package designer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/karthikvettiyath/Ai-Home-Decor/internal/cache"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/classify"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/cooldown"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/design"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/fallback"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/fingerprint"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/inflight"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/metrics"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/upstream"
)

const (
	// DefaultTTL is how long a resolved design stays cached.
	DefaultTTL = 10 * time.Minute

	// ChatCooldown is the fixed cooldown after a chat rate/quota failure.
	ChatCooldown = 60 * time.Second

	// OfflineReply is the chat answer while the upstream cannot be used.
	OfflineReply = "I'm currently in demo mode (offline). If I were fully connected, I'd give you specific advice about that! For now, try generating a full design plan."

	// BusyReply is the chat answer after a rate/quota failure.
	BusyReply = "I'm receiving too many requests right now. Please ask me again in a minute!"
)

// Outcomes reported in Result and used as metric labels.
const (
	OutcomeCacheHit = "cache_hit"
	OutcomeDeduped  = "deduped"
	OutcomeUpstream = "upstream"
	OutcomeFallback = "fallback"
)

var (
	// ErrValidation means neither a prompt nor an image was supplied.
	ErrValidation = errors.New("designer: prompt or image required")
	// ErrMessageRequired means a chat request had no message.
	ErrMessageRequired = errors.New("designer: message required")
	// ErrUpstream wraps chat failures that are not rate or quota limits.
	ErrUpstream = errors.New("designer: upstream error")
)

// Result is a resolved design request.
type Result struct {
	Payload     *design.Payload
	Fingerprint string
	Outcome     string
	Cached      bool
	Deduped     bool
}

// ChatResult is a resolved chat request. Source is the model id or
// design.SourceFallback.
type ChatResult struct {
	Reply  string
	Source string
}

// Status is a point-in-time snapshot used by health endpoints.
type Status struct {
	Provider          string `json:"provider"`
	Model             string `json:"model"`
	Enabled           bool   `json:"enabled"`
	HasCredential     bool   `json:"hasCredential"`
	Cooldown          bool   `json:"cooldown"`
	RetryAfterSeconds *int   `json:"retryAfterSeconds"`
	PendingDesigns    int    `json:"pendingDesigns"`
	JoinedDesigns     int    `json:"joinedDesigns"`
}

// Options wires a Service. Gateway may be nil when no credential is
// configured; every request is then served from the fallback catalog.
type Options struct {
	Gateway       *upstream.Gateway
	Model         string
	Enabled       bool
	HasCredential bool

	Cache      cache.Cache
	TTL        time.Duration
	Classifier classify.Classifier
	Cooldown   *cooldown.Governor
	Fallback   *fallback.Catalog

	// Timeout bounds one upstream call. Default: 60s.
	Timeout time.Duration

	// BaseContext parents detached design work. It is cancelled only at
	// shutdown. Default: context.Background().
	BaseContext context.Context

	Metrics *metrics.Registry
	Logger  *slog.Logger
}

// resolution is what a unit of design work produces.
type resolution struct {
	payload *design.Payload
	outcome string
}

// Service is safe for concurrent use.
type Service struct {
	gw         *upstream.Gateway
	model      string
	enabled    bool
	credential bool

	cache      cache.Cache
	ttl        time.Duration
	classifier classify.Classifier
	cooldown   *cooldown.Governor
	catalog    *fallback.Catalog
	timeout    time.Duration
	baseCtx    context.Context

	group inflight.Group[resolution]

	metrics *metrics.Registry
	log     *slog.Logger
}

// New builds a Service, filling defaults for unset options.
func New(o Options) *Service {
	s := &Service{
		gw:         o.Gateway,
		model:      o.Model,
		enabled:    o.Enabled,
		credential: o.HasCredential && o.Gateway != nil,
		cache:      o.Cache,
		ttl:        o.TTL,
		classifier: o.Classifier,
		cooldown:   o.Cooldown,
		catalog:    o.Fallback,
		timeout:    o.Timeout,
		baseCtx:    o.BaseContext,
		metrics:    o.Metrics,
		log:        o.Logger,
	}
	if s.model == "" {
		if s.gw != nil {
			s.model = s.gw.Model()
		} else {
			s.model = upstream.DefaultModel
		}
	}
	if s.cache == nil {
		s.cache = cache.Nop{}
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.classifier == nil {
		s.classifier = classify.Loose
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.cooldown == nil {
		s.cooldown = cooldown.New(s.model, cooldown.WithLogger(s.log))
	}
	if s.catalog == nil {
		s.catalog = fallback.Default()
	}
	if s.timeout <= 0 {
		s.timeout = 60 * time.Second
	}
	if s.baseCtx == nil {
		s.baseCtx = context.Background()
	}
	return s
}

// Model is the configured upstream model id.
func (s *Service) Model() string { return s.model }

// Status returns a snapshot of the upstream state.
func (s *Service) Status() Status {
	retry := s.cooldown.RetryAfterSeconds()
	st := Status{
		Model:             s.model,
		Enabled:           s.enabled,
		HasCredential:     s.credential,
		Cooldown:          retry != nil,
		RetryAfterSeconds: retry,
		PendingDesigns:    s.group.Len(),
		JoinedDesigns:     s.group.Waiters(),
	}
	if s.gw != nil {
		st.Provider = s.gw.Provider().Name()
	}
	return st
}

// Generate resolves a design request. The returned error is ErrValidation,
// a context error when ctx ends first, or an unexpected internal failure;
// upstream failures never surface here, they become fallback payloads.
func (s *Service) Generate(ctx context.Context, req design.Request) (*Result, error) {
	if strings.TrimSpace(req.Prompt) == "" && req.Image == "" {
		return nil, ErrValidation
	}

	fp := fingerprint.Of(req.Prompt, req.Image)

	if p, ok := s.lookup(ctx, fp); ok {
		s.log.DebugContext(ctx, "cache_hit", slog.String("fingerprint", fp))
		s.metrics.RecordDesignOutcome(OutcomeCacheHit)
		return &Result{Payload: p, Fingerprint: fp, Outcome: OutcomeCacheHit, Cached: true}, nil
	}

	h, started := s.group.Start(fp, func() (resolution, error) {
		return s.resolve(fp, req)
	})
	s.metrics.SetPendingDesigns(s.group.Len())

	res, err := h.Wait(ctx)
	if err != nil {
		return nil, err
	}

	out := &Result{Payload: res.payload, Fingerprint: fp, Outcome: res.outcome}
	switch {
	case !started:
		out.Deduped = true
		out.Outcome = OutcomeDeduped
	case res.outcome == OutcomeCacheHit:
		out.Cached = true
	}
	s.metrics.RecordDesignOutcome(out.Outcome)
	return out, nil
}

// lookup reads and decodes a cached payload. Undecodable entries are misses.
func (s *Service) lookup(ctx context.Context, fp string) (*design.Payload, bool) {
	raw, ok := s.cache.Get(ctx, fp)
	if !ok {
		s.metrics.CacheGetMiss()
		return nil, false
	}
	p, err := design.DecodePayload(raw)
	if err != nil {
		s.log.WarnContext(ctx, "cache_decode_failed",
			slog.String("fingerprint", fp),
			slog.String("error", err.Error()),
		)
		s.metrics.CacheGetMiss()
		return nil, false
	}
	s.metrics.CacheGetHit()
	return p, true
}

// resolve runs detached from the request that started it. The result is
// cached before the in-flight registration is removed.
func (s *Service) resolve(fp string, req design.Request) (resolution, error) {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.timeout)
	defer cancel()

	// A previous leader may have cached the result between our lookup and
	// registration.
	if p, ok := s.lookup(ctx, fp); ok {
		return resolution{payload: p, outcome: OutcomeCacheHit}, nil
	}

	p, outcome := s.produce(ctx, req)

	if raw, err := p.Encode(); err != nil {
		s.log.ErrorContext(ctx, "cache_encode_failed", slog.String("fingerprint", fp), slog.String("error", err.Error()))
		s.metrics.CacheSetError()
	} else if err := s.cache.Set(ctx, fp, raw, s.ttl); err != nil {
		s.log.WarnContext(ctx, "cache_set_failed", slog.String("fingerprint", fp), slog.String("error", err.Error()))
		s.metrics.CacheSetError()
	} else {
		s.metrics.CacheSetOK()
	}

	return resolution{payload: p, outcome: outcome}, nil
}

// upstreamAvailable reports whether a call may be attempted right now, and
// the cooldown hint when it may not.
func (s *Service) upstreamAvailable() (ok bool, retryAfter *int) {
	retryAfter = s.cooldown.RetryAfterSeconds()
	return s.enabled && s.credential && retryAfter == nil, retryAfter
}

func (s *Service) produce(ctx context.Context, req design.Request) (*design.Payload, string) {
	if ok, retryAfter := s.upstreamAvailable(); !ok {
		meta := design.SkippedMeta(s.enabled && s.credential, s.model, retryAfter != nil, retryAfter)
		return s.fallbackPayload(ctx, req.Prompt, fallback.ReasonUnavailable, meta), OutcomeFallback
	}

	start := time.Now()
	data, err := s.gw.Generate(ctx, req.Prompt, req.Image)
	provider := s.gw.Provider().Name()
	if err == nil {
		s.metrics.ObserveUpstreamAttempt(provider, "design", "ok", time.Since(start))
		s.metrics.SetProviderHealth(provider, true)
		return &design.Payload{Source: s.model, Data: data}, OutcomeUpstream
	}

	verdict := s.classifier.Classify(err)
	s.metrics.ObserveUpstreamAttempt(provider, "design", verdict.Kind.String(), time.Since(start))
	s.metrics.RecordError(provider, verdict.Kind.String())

	if verdict.Limited() {
		d := s.cooldown.Trip(verdict)
		s.metrics.RecordCooldownTrip(verdict.Kind.String())
		s.log.DebugContext(ctx, "cooldown_started",
			slog.String("kind", verdict.Kind.String()),
			slog.Duration("cooldown", d),
		)
		meta := design.RateLimitedMeta(s.model, verdict.RetryAfterOr(int(cooldown.DefaultRetryAfter/time.Second)))
		return s.fallbackPayload(ctx, req.Prompt, fallback.ReasonRateLimited, meta), OutcomeFallback
	}

	s.metrics.SetProviderHealth(provider, false)
	s.log.WarnContext(ctx, "upstream_error",
		slog.String("provider", provider),
		slog.String("model", s.model),
		slog.String("error", err.Error()),
	)
	return s.fallbackPayload(ctx, req.Prompt, fallback.ReasonUpstreamError, design.ErrorMeta(s.model)), OutcomeFallback
}

func (s *Service) fallbackPayload(ctx context.Context, prompt string, reason fallback.Reason, meta *design.Meta) *design.Payload {
	concept := s.catalog.Select(prompt, reason)
	s.metrics.RecordFallback(reason.String())
	s.log.DebugContext(ctx, "fallback_served",
		slog.String("reason", reason.String()),
		slog.String("concept", concept.Concept),
	)
	return &design.Payload{
		Source: design.SourceFallback,
		Data:   design.ConceptData(concept),
		Meta:   meta,
	}
}

// Chat answers a chat message. Rate/quota failures and an unavailable
// upstream yield canned replies; other upstream failures wrap ErrUpstream.
func (s *Service) Chat(ctx context.Context, req design.ChatRequest) (*ChatResult, error) {
	if req.Message == "" {
		return nil, ErrMessageRequired
	}

	if ok, _ := s.upstreamAvailable(); !ok {
		s.metrics.RecordChatReply(design.SourceFallback)
		return &ChatResult{Reply: OfflineReply, Source: design.SourceFallback}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	reply, err := s.gw.Chat(ctx, req.Message, req.History)
	provider := s.gw.Provider().Name()
	if err == nil {
		s.metrics.ObserveUpstreamAttempt(provider, "chat", "ok", time.Since(start))
		s.metrics.RecordChatReply("upstream")
		return &ChatResult{Reply: reply, Source: s.model}, nil
	}

	verdict := s.classifier.Classify(err)
	s.metrics.ObserveUpstreamAttempt(provider, "chat", verdict.Kind.String(), time.Since(start))
	s.metrics.RecordError(provider, verdict.Kind.String())
	s.log.ErrorContext(ctx, "chat_upstream_error",
		slog.String("provider", provider),
		slog.String("error", err.Error()),
	)

	if verdict.Limited() {
		s.cooldown.TripFor(ChatCooldown)
		s.metrics.RecordCooldownTrip(verdict.Kind.String())
		s.metrics.RecordChatReply(design.SourceFallback)
		return &ChatResult{Reply: BusyReply, Source: design.SourceFallback}, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
}
