// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra    : Redis, when the cache or the throttle needs it
//  2. initProvider : the generation provider client (optional)
//  3. initServices : metrics, cache, throttle, cooldown, designer
//  4. initAuth     : bearer token verifier
//  5. initGateway  : health checker, HTTP gateway and management routes
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/karthikvettiyath/Ai-Home-Decor/internal/auth"
	decorCache "github.com/karthikvettiyath/Ai-Home-Decor/internal/cache"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/config"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/designer"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/logger"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/metrics"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/providers"
	anthropicprov "github.com/karthikvettiyath/Ai-Home-Decor/internal/providers/anthropic"
	geminiprov "github.com/karthikvettiyath/Ai-Home-Decor/internal/providers/gemini"
	openaiprov "github.com/karthikvettiyath/Ai-Home-Decor/internal/providers/openai"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/proxy"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/ratelimit"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	// Optional external connections: nil when not configured.
	rdb    *redis.Client
	sqlite *decorCache.SQLiteCache

	cache     decorCache.Cache
	throttle  ratelimit.Throttle
	reqLogger *logger.Logger
	prom      *metrics.Registry

	provider providers.Provider
	verifier auth.Verifier
	svc      *designer.Service

	health *proxy.HealthChecker
	mgmt   *proxy.ManagementRoutes
	gw     *proxy.Gateway

	closeOnce sync.Once
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"provider", a.initProvider},
		{"services", a.initServices},
		{"auth", a.initAuth},
		{"gateway", a.initGateway},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or the server
// fails. It closes the app when returning.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	st := a.svc.Status()
	a.log.Info("starting decor backend",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.String("provider", a.cfg.Upstream.Provider),
		slog.String("model", st.Model),
		slog.Bool("upstream_enabled", st.Enabled),
		slog.Bool("has_credential", st.HasCredential),
		slog.String("cache_mode", a.cfg.Cache.Mode),
		slog.String("throttle_mode", a.cfg.Throttle.Mode),
		slog.String("auth_mode", a.cfg.Auth.Mode),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.gw.Start(gctx, addr, a.mgmt)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times and from multiple goroutines.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.health != nil {
			a.health.Close()
		}
		if a.reqLogger != nil {
			if err := a.reqLogger.Close(); err != nil {
				a.log.Error("logger close error", slog.String("error", err.Error()))
			}
		}
		if a.sqlite != nil {
			if err := a.sqlite.Close(); err != nil {
				a.log.Error("sqlite close error", slog.String("error", err.Error()))
			}
		}
		if a.rdb != nil {
			if err := a.rdb.Close(); err != nil {
				a.log.Error("redis close error", slog.String("error", err.Error()))
			}
		}
	})
}

// ── Private helpers ──────────────────────────────────────────────────────────

// connectRedis parses the URL and verifies connectivity with a PING.
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return rdb, nil
}

// redisProbe is a HealthChecker probe reusing the existing client.
func redisProbe(rdb *redis.Client) proxy.Probe {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}

// BuildProvider creates the client for cfg.Upstream.Provider. It returns a
// nil provider and no error when the provider has no credential configured.
func BuildProvider(ctx context.Context, cfg *config.Config) (providers.Provider, error) {
	if !cfg.HasCredential() {
		return nil, nil
	}

	switch cfg.Upstream.Provider {
	case config.ProviderOpenAI:
		return openaiprov.New(cfg.OpenAI.APIKey,
			openaiprov.WithBaseURL(cfg.OpenAI.BaseURL),
			openaiprov.WithTimeout(cfg.Upstream.Timeout),
		), nil

	case config.ProviderAnthropic:
		return anthropicprov.New(cfg.Anthropic.APIKey,
			anthropicprov.WithBaseURL(cfg.Anthropic.BaseURL),
			anthropicprov.WithTimeout(cfg.Upstream.Timeout),
		), nil

	default:
		opts := []geminiprov.Option{
			geminiprov.WithBaseURL(cfg.Gemini.BaseURL),
			geminiprov.WithTimeout(cfg.Upstream.Timeout),
		}
		if cfg.Gemini.APIKey == "" && cfg.VertexAI.Project != "" {
			opts = append(opts, geminiprov.WithVertex(cfg.VertexAI.Project, cfg.VertexAI.Location))
		}
		p, err := geminiprov.New(ctx, cfg.Gemini.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}
