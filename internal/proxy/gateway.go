// Package proxy serves the HTTP API: bearer authentication, the global
// throttle and the JSON envelopes around the designer service.
//
// Handlers never surface upstream failures to clients as errors; the
// designer turns them into fallback designs. Only validation, throttling,
// authentication and unexpected failures produce error envelopes.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/karthikvettiyath/Ai-Home-Decor/internal/auth"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/design"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/designer"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/logger"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/metrics"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/ratelimit"
	"github.com/karthikvettiyath/Ai-Home-Decor/pkg/apierr"
)

const (
	xCacheHIT  = "HIT"
	xCacheMISS = "MISS"

	routeGenerate = "generate_design"
	routeChat     = "chat"
)

// GatewayOptions holds the optional collaborators of a Gateway.
type GatewayOptions struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics is nil-safe; nil disables collection.
	Metrics *metrics.Registry

	// Throttle gates POST /api/generate-design. Nil admits everything.
	Throttle ratelimit.Throttle

	// Verifier authenticates both API routes. Required by Start.
	Verifier auth.Verifier

	// RequestLog receives one summary per API request. Optional.
	RequestLog *logger.Logger

	// Health backs /health and /readiness. Optional.
	Health *HealthChecker

	// CORSOrigins is the allow list; nil or ["*"] allows any origin.
	CORSOrigins []string

	// BaseContext parents every downstream call made by a handler and is
	// cancelled at shutdown. A fasthttp.RequestCtx is not used for this
	// since it only works as a context inside a running server.
	// Default: context.Background().
	BaseContext context.Context
}

// Gateway is the HTTP front of a designer.Service.
type Gateway struct {
	svc         *designer.Service
	throttle    ratelimit.Throttle
	verifier    auth.Verifier
	reqLogger   *logger.Logger
	health      *HealthChecker
	corsOrigins []string
	baseCtx     context.Context

	log     *slog.Logger
	metrics *metrics.Registry
}

// NewGateway wires a Gateway around svc.
func NewGateway(svc *designer.Service, opts GatewayOptions) *Gateway {
	if svc == nil {
		panic("gateway: designer service must not be nil")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Gateway{
		svc:         svc,
		throttle:    opts.Throttle,
		verifier:    opts.Verifier,
		reqLogger:   opts.RequestLog,
		health:      opts.Health,
		corsOrigins: opts.CORSOrigins,
		baseCtx:     baseCtx,
		log:         log,
		metrics:     opts.Metrics,
	}
}

type (
	designResponse struct {
		Success bool `json:"success"`
		*design.Payload
		Cached  bool `json:"cached,omitempty"`
		Deduped bool `json:"deduped,omitempty"`
	}

	chatResponse struct {
		Success bool   `json:"success"`
		Reply   string `json:"reply"`
		Source  string `json:"source"`
	}
)

// handleGenerateDesign serves POST /api/generate-design.
func (g *Gateway) handleGenerateDesign(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	entry := logger.RequestLog{ID: uuid.New(), Route: routeGenerate, UserID: userID(ctx), CreatedAt: start}
	done := g.observe(ctx, routeGenerate, start)
	defer func() {
		done()
		g.logRequest(ctx, &entry, start)
	}()

	reqID, _ := ctx.UserValue("request_id").(string)

	if g.throttle != nil {
		dec, err := g.throttle.Allow(g.baseCtx)
		if err != nil {
			g.log.WarnContext(ctx, "throttle_error",
				slog.String("request_id", reqID),
				slog.String("error", err.Error()),
			)
		}
		if err == nil && !dec.Allowed {
			g.metrics.RecordThrottle("rejected")
			entry.Outcome = "throttled"
			apierr.WriteThrottled(ctx, dec.RetryAfterSeconds())
			return
		}
		g.metrics.RecordThrottle("allowed")
	}

	var req design.Request
	if err := decodeBody(ctx, &req); err != nil {
		entry.Outcome = "invalid"
		apierr.WriteBadRequest(ctx, apierr.MsgInvalidBody)
		return
	}

	res, err := g.svc.Generate(g.baseCtx, req)
	if err != nil {
		if errors.Is(err, designer.ErrValidation) {
			entry.Outcome = "invalid"
			apierr.WriteBadRequest(ctx, apierr.MsgPromptRequired)
			return
		}
		entry.Outcome = "error"
		g.log.ErrorContext(ctx, "generate_design_failed",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()),
		)
		apierr.WriteInternal(ctx, apierr.MsgServerError)
		return
	}

	entry.Fingerprint = res.Fingerprint
	entry.Outcome = res.Outcome
	entry.Source = res.Payload.Source
	entry.Cached = res.Cached
	entry.Deduped = res.Deduped

	if res.Cached {
		ctx.Response.Header.Set("X-Cache", xCacheHIT)
	} else {
		ctx.Response.Header.Set("X-Cache", xCacheMISS)
	}
	writeJSON(ctx, designResponse{
		Success: true,
		Payload: res.Payload,
		Cached:  res.Cached,
		Deduped: res.Deduped,
	})
}

// handleChat serves POST /api/chat.
func (g *Gateway) handleChat(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	entry := logger.RequestLog{ID: uuid.New(), Route: routeChat, UserID: userID(ctx), CreatedAt: start}
	done := g.observe(ctx, routeChat, start)
	defer func() {
		done()
		g.logRequest(ctx, &entry, start)
	}()

	reqID, _ := ctx.UserValue("request_id").(string)

	var req design.ChatRequest
	if err := decodeBody(ctx, &req); err != nil {
		entry.Outcome = "invalid"
		apierr.WriteBadRequest(ctx, apierr.MsgInvalidBody)
		return
	}

	res, err := g.svc.Chat(g.baseCtx, req)
	switch {
	case errors.Is(err, designer.ErrMessageRequired):
		entry.Outcome = "invalid"
		apierr.WriteBadRequest(ctx, apierr.MsgMessageRequired)
		return
	case errors.Is(err, designer.ErrUpstream):
		entry.Outcome = "error"
		apierr.WriteInternal(ctx, apierr.MsgAIError)
		return
	case err != nil:
		entry.Outcome = "error"
		g.log.ErrorContext(ctx, "chat_failed",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()),
		)
		apierr.WriteInternal(ctx, apierr.MsgChatServerError)
		return
	}

	entry.Source = res.Source
	if res.Source == design.SourceFallback {
		entry.Outcome = designer.OutcomeFallback
	} else {
		entry.Outcome = designer.OutcomeUpstream
	}
	writeJSON(ctx, chatResponse{Success: true, Reply: res.Reply, Source: res.Source})
}

// observe starts HTTP metrics for one request and returns the function that
// finishes them.
func (g *Gateway) observe(ctx *fasthttp.RequestCtx, route string, start time.Time) func() {
	reqBytes := len(ctx.PostBody())
	g.metrics.IncInFlight()
	return func() {
		g.metrics.DecInFlight()
		g.metrics.ObserveHTTP(route, ctx.Response.StatusCode(), time.Since(start), reqBytes, len(ctx.Response.Body()))
	}
}

func (g *Gateway) logRequest(ctx *fasthttp.RequestCtx, e *logger.RequestLog, start time.Time) {
	if g.reqLogger == nil {
		return
	}
	e.Status = uint16(ctx.Response.StatusCode())
	e.LatencyMs = uint32(time.Since(start).Milliseconds())
	g.reqLogger.Log(*e)
}

// decodeBody treats an empty body as an empty object.
func decodeBody(ctx *fasthttp.RequestCtx, v any) error {
	body := ctx.PostBody()
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

func userID(ctx *fasthttp.RequestCtx) string {
	if id, ok := ctx.UserValue(userKey).(*auth.Identity); ok && id != nil {
		return id.UID
	}
	return ""
}
