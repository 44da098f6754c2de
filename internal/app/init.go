package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/karthikvettiyath/Ai-Home-Decor/internal/auth"
	decorCache "github.com/karthikvettiyath/Ai-Home-Decor/internal/cache"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/classify"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/cooldown"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/designer"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/fallback"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/logger"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/metrics"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/proxy"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/ratelimit"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/upstream"
)

// initInfra establishes optional external connections. Redis is required
// only when CACHE_MODE=redis or THROTTLE_MODE=redis.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Cache.Mode != "redis" && a.cfg.Throttle.Mode != "redis" {
		return nil
	}

	a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))
	rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	a.rdb = rdb
	a.log.Info("redis connected")
	return nil
}

// initProvider builds the provider client. A missing credential is not an
// error: the service then answers every request from the fallback catalog.
func (a *App) initProvider(ctx context.Context) error {
	p, err := BuildProvider(a.baseCtx, a.cfg)
	if err != nil {
		return fmt.Errorf("provider %s: %w", a.cfg.Upstream.Provider, err)
	}
	a.provider = p

	if p == nil {
		a.log.WarnContext(ctx, "no upstream credential configured; serving fallback designs only",
			slog.String("provider", a.cfg.Upstream.Provider),
		)
		return nil
	}
	a.log.Info("provider loaded",
		slog.String("provider", p.Name()),
		slog.String("model", a.cfg.Upstream.Model),
	)
	return nil
}

// initServices creates metrics, cache, throttle and the designer service.
func (a *App) initServices(ctx context.Context) error {
	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	switch a.cfg.Cache.Mode {
	case "redis":
		a.cache = decorCache.NewRedisCache(a.rdb, decorCache.WithRedisLogger(a.log))
		a.log.Info("cache backend: redis")
	case "sqlite":
		c, err := decorCache.NewSQLiteCache(a.cfg.Cache.SQLitePath)
		if err != nil {
			return err
		}
		a.sqlite = c
		a.cache = c
		a.log.Info("cache backend: sqlite", slog.String("path", a.cfg.Cache.SQLitePath))
	case "memory":
		a.cache = decorCache.NewMemoryCache()
		a.log.Info("cache backend: memory (in-process)")
	case "none":
		a.cache = decorCache.Nop{}
		a.log.Info("cache backend: disabled")
	default:
		return fmt.Errorf("unknown cache mode: %s", a.cfg.Cache.Mode)
	}

	switch a.cfg.Throttle.Mode {
	case "redis":
		a.throttle = ratelimit.NewRedisInterval(a.rdb, a.cfg.Throttle.Interval)
	default:
		a.throttle = ratelimit.NewLocalInterval(a.cfg.Throttle.Interval, nil)
	}
	a.log.Info("throttle enabled",
		slog.String("mode", a.cfg.Throttle.Mode),
		slog.Duration("interval", a.cfg.Throttle.Interval),
	)

	catalog, err := fallback.Load(a.cfg.FallbackCatalog)
	if err != nil {
		return err
	}

	reqLogger, err := logger.New(a.baseCtx, a.log)
	if err != nil {
		return err
	}
	a.reqLogger = reqLogger

	var gw *upstream.Gateway
	if a.provider != nil {
		gw = upstream.New(a.provider, a.cfg.Upstream.Model)
	}

	a.svc = designer.New(designer.Options{
		Gateway:       gw,
		Model:         a.cfg.Upstream.Model,
		Enabled:       a.cfg.Upstream.Enabled,
		HasCredential: a.provider != nil,
		Cache:         a.cache,
		TTL:           a.cfg.Cache.TTL,
		Classifier:    classify.Loose,
		Cooldown:      cooldown.New(a.cfg.Upstream.Model, cooldown.WithLogger(a.log)),
		Fallback:      catalog,
		Timeout:       a.cfg.Upstream.Timeout,
		BaseContext:   a.baseCtx,
		Metrics:       a.prom,
		Logger:        a.log,
	})
	return nil
}

// initAuth selects the token verifier.
func (a *App) initAuth(ctx context.Context) error {
	switch a.cfg.Auth.Mode {
	case "static":
		tokens := auth.ParseStaticTokens(a.cfg.Auth.StaticTokens)
		a.verifier = auth.NewStaticVerifier(tokens)
		a.log.Warn("static token auth enabled; do not use in production", slog.Int("tokens", len(tokens)))
	default:
		v, err := auth.NewFirebaseVerifier(ctx, auth.FirebaseConfig{
			ProjectID:       a.cfg.Auth.FirebaseProjectID,
			CredentialsFile: a.cfg.Auth.FirebaseCredentialsFile,
			CredentialsJSON: a.cfg.Auth.FirebaseServiceAccount,
		})
		if err != nil {
			return err
		}
		a.verifier = v
		a.log.Info("firebase auth enabled", slog.String("project_id", a.cfg.Auth.FirebaseProjectID))
	}
	return nil
}

// initGateway wires the health checker and the HTTP gateway.
func (a *App) initGateway(_ context.Context) error {
	components := map[string]proxy.Probe{}
	if a.rdb != nil {
		components["redis"] = redisProbe(a.rdb)
	}
	if a.sqlite != nil {
		components["sqlite"] = a.sqlite.Ping
	}

	a.health = proxy.NewHealthChecker(a.baseCtx, proxy.HealthOptions{
		Provider:   a.provider,
		Components: components,
		Service:    a.svc,
		Metrics:    a.prom,
	})

	a.gw = proxy.NewGateway(a.svc, proxy.GatewayOptions{
		Logger:      a.log,
		Metrics:     a.prom,
		Throttle:    a.throttle,
		Verifier:    a.verifier,
		RequestLog:  a.reqLogger,
		Health:      a.health,
		CORSOrigins: a.cfg.CORSOrigins,
		BaseContext: a.baseCtx,
	})

	a.mgmt = &proxy.ManagementRoutes{
		Metrics: a.prom.Handler(),
	}
	return nil
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
