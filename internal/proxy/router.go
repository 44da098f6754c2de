package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/karthikvettiyath/Ai-Home-Decor/pkg/apierr"
)

// RouteHandler is a fasthttp handler function.
type RouteHandler = fasthttp.RequestHandler

// ManagementRoutes holds optional handlers registered next to the API.
type ManagementRoutes struct {
	Metrics RouteHandler
}

const rootBanner = "Backend running successfully"

// Handler builds the full routed handler with its middleware chain.
func (g *Gateway) Handler(mgmt *ManagementRoutes) fasthttp.RequestHandler {
	r := router.New()

	authn := authenticate(g.baseCtx, g.verifier, g.metrics, g.log)

	r.GET("/", g.handleRoot)
	r.GET("/health", g.handleHealth)
	r.GET("/readiness", g.handleReadiness)
	r.POST("/api/generate-design", applyMiddleware(g.handleGenerateDesign, authn))
	r.POST("/api/chat", applyMiddleware(g.handleChat, authn))

	if mgmt != nil && mgmt.Metrics != nil {
		r.GET("/metrics", mgmt.Metrics)
	}

	r.NotFound = func(ctx *fasthttp.RequestCtx) {
		apierr.Write(ctx, fasthttp.StatusNotFound, apierr.MsgNotFound)
	}

	return applyMiddleware(r.Handler,
		recovery(g.log),
		requestID,
		timing,
		corsHandler(g.corsOrigins),
		securityHeaders,
	)
}

// Start listens on addr until ctx is cancelled, then shuts down gracefully.
func (g *Gateway) Start(ctx context.Context, addr string, mgmt *ManagementRoutes) error {
	if g.verifier == nil {
		return errors.New("gateway: no token verifier configured")
	}

	srv := &fasthttp.Server{
		Handler:            g.Handler(mgmt),
		ReadTimeout:        60 * time.Second,
		WriteTimeout:       90 * time.Second,
		MaxRequestBodySize: 10 << 20,
		Name:               "ai-home-decor",
	}

	errCh := make(chan error, 1)
	go func() {
		g.log.Info("http_listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.ShutdownWithContext(shutdownCtx)
	}
}

func (g *Gateway) handleRoot(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("text/plain; charset=utf-8")
	ctx.SetBodyString(rootBanner)
}

type healthResponse struct {
	HealthSnapshot
	Upstream any `json:"upstream"`
}

func (g *Gateway) handleHealth(ctx *fasthttp.RequestCtx) {
	st := g.svc.Status()
	if g.health == nil {
		writeJSON(ctx, healthResponse{HealthSnapshot: HealthSnapshot{Status: "ok"}, Upstream: st})
		return
	}
	writeJSON(ctx, healthResponse{HealthSnapshot: g.health.Snapshot(), Upstream: st})
}

func (g *Gateway) handleReadiness(ctx *fasthttp.RequestCtx) {
	if g.health == nil || g.health.ReadinessOK() {
		writeJSON(ctx, map[string]string{"status": "ok"})
		return
	}
	ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	writeJSON(ctx, map[string]string{"status": "unavailable"})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, err := json.Marshal(v)
	if err != nil {
		apierr.WriteInternal(ctx, apierr.MsgServerError)
		return
	}
	ctx.SetBody(data)
}
