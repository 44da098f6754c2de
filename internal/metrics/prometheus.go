// Package metrics provides the Prometheus registry for the design backend.
//
// All metrics live in a private registry (not the global default) so they
// don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
// Every recording method is safe to call on a nil *Registry.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var durationBuckets = []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60}

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// decor_http_inflight_requests
	inFlight prometheus.Gauge

	// decor_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// decor_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// decor_http_request_size_bytes{route}
	httpReqSize *prometheus.HistogramVec

	// decor_http_response_size_bytes{route,status}
	httpRespSize *prometheus.HistogramVec

	// decor_design_requests_total{outcome}
	designOutcomes *prometheus.CounterVec

	// decor_chat_replies_total{source}
	chatReplies *prometheus.CounterVec

	// decor_upstream_attempts_total{provider,route,outcome}
	upstreamAttempts *prometheus.CounterVec

	// decor_upstream_attempt_duration_seconds{provider,route,outcome}
	upstreamDuration *prometheus.HistogramVec

	// decor_cache_operations_total{op,result}
	cacheOps *prometheus.CounterVec

	// decor_provider_errors_total{provider,error_type}
	providerErrors *prometheus.CounterVec

	// decor_cooldown_trips_total{kind}
	cooldownTrips *prometheus.CounterVec

	// decor_cooldown_active (1 while upstream calls are skipped)
	cooldownActive prometheus.Gauge

	// decor_fallback_served_total{reason}
	fallbackServed *prometheus.CounterVec

	// decor_throttle_total{result}
	throttleTotal *prometheus.CounterVec

	// decor_auth_failures_total{reason}
	authFailures *prometheus.CounterVec

	// decor_inflight_designs
	pendingDesigns prometheus.Gauge

	// decor_provider_health{provider}
	providerHealth *prometheus.GaugeVec

	// decor_build_info{version}
	buildInfo *prometheus.GaugeVec

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "decor_http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decor_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "decor_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds (end-to-end, includes cache + upstream)",
				Buckets: durationBuckets,
			},
			[]string{"route"},
		),

		httpReqSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "decor_http_request_size_bytes",
				Help:    "HTTP request body size in bytes",
				Buckets: prometheus.ExponentialBuckets(256, 2, 16), // 256B .. ~8MB (inline images)
			},
			[]string{"route"},
		),

		httpRespSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "decor_http_response_size_bytes",
				Help:    "HTTP response body size in bytes",
				Buckets: prometheus.ExponentialBuckets(64, 2, 12),
			},
			[]string{"route", "status"},
		),

		designOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decor_design_requests_total",
				Help: "Design requests by how they were resolved",
			},
			[]string{"outcome"},
		),

		chatReplies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decor_chat_replies_total",
				Help: "Chat replies by source (upstream or fallback)",
			},
			[]string{"source"},
		),

		upstreamAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decor_upstream_attempts_total",
				Help: "Total upstream provider attempts",
			},
			[]string{"provider", "route", "outcome"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "decor_upstream_attempt_duration_seconds",
				Help:    "Upstream provider attempt duration in seconds",
				Buckets: durationBuckets,
			},
			[]string{"provider", "route", "outcome"},
		),

		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decor_cache_operations_total",
				Help: "Cache operations by type and result",
			},
			[]string{"op", "result"},
		),

		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decor_provider_errors_total",
				Help: "Total provider errors by classification",
			},
			[]string{"provider", "error_type"},
		),

		cooldownTrips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decor_cooldown_trips_total",
				Help: "Times the upstream cooldown was started",
			},
			[]string{"kind"},
		),

		cooldownActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "decor_cooldown_active",
			Help: "1 while upstream calls are skipped because of a cooldown",
		}),

		fallbackServed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decor_fallback_served_total",
				Help: "Fallback designs produced, by reason",
			},
			[]string{"reason"},
		),

		throttleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decor_throttle_total",
				Help: "Global throttle decisions",
			},
			[]string{"result"},
		),

		authFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decor_auth_failures_total",
				Help: "Rejected requests by auth failure reason",
			},
			[]string{"reason"},
		),

		pendingDesigns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "decor_inflight_designs",
			Help: "Design fingerprints with upstream work outstanding",
		}),

		providerHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "decor_provider_health",
				Help: "Provider health status (1=ok, 0=degraded)",
			},
			[]string{"provider"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "decor_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.inFlight,
		r.httpRequestsTotal,
		r.httpDuration,
		r.httpReqSize,
		r.httpRespSize,
		r.designOutcomes,
		r.chatReplies,
		r.upstreamAttempts,
		r.upstreamDuration,
		r.cacheOps,
		r.providerErrors,
		r.cooldownTrips,
		r.cooldownActive,
		r.fallbackServed,
		r.throttleTotal,
		r.authFailures,
		r.pendingDesigns,
		r.providerHealth,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

func (r *Registry) IncInFlight() {
	if r != nil {
		r.inFlight.Inc()
	}
}

func (r *Registry) DecInFlight() {
	if r != nil {
		r.inFlight.Dec()
	}
}

// ObserveHTTP records end-to-end HTTP metrics.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration, reqBytes, respBytes int) {
	if r == nil {
		return
	}
	status := strconv.Itoa(statusCode)
	r.httpRequestsTotal.WithLabelValues(route, status).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
	if reqBytes >= 0 {
		r.httpReqSize.WithLabelValues(route).Observe(float64(reqBytes))
	}
	if respBytes >= 0 {
		r.httpRespSize.WithLabelValues(route, status).Observe(float64(respBytes))
	}
}

// RecordDesignOutcome counts one resolved design request
// (cache_hit, deduped, upstream, fallback, throttled, invalid, error).
func (r *Registry) RecordDesignOutcome(outcome string) {
	if r != nil {
		r.designOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (r *Registry) RecordChatReply(source string) {
	if r != nil {
		r.chatReplies.WithLabelValues(source).Inc()
	}
}

// ObserveUpstreamAttempt records one upstream provider attempt.
func (r *Registry) ObserveUpstreamAttempt(provider, route, outcome string, dur time.Duration) {
	if r == nil {
		return
	}
	r.upstreamAttempts.WithLabelValues(provider, route, outcome).Inc()
	r.upstreamDuration.WithLabelValues(provider, route, outcome).Observe(dur.Seconds())
}

func (r *Registry) CacheGetHit() {
	if r != nil {
		r.cacheOps.WithLabelValues("get", "hit").Inc()
	}
}

func (r *Registry) CacheGetMiss() {
	if r != nil {
		r.cacheOps.WithLabelValues("get", "miss").Inc()
	}
}

func (r *Registry) CacheSetOK() {
	if r != nil {
		r.cacheOps.WithLabelValues("set", "ok").Inc()
	}
}

func (r *Registry) CacheSetError() {
	if r != nil {
		r.cacheOps.WithLabelValues("set", "error").Inc()
	}
}

func (r *Registry) RecordError(provider, errType string) {
	if r != nil {
		r.providerErrors.WithLabelValues(provider, errType).Inc()
	}
}

func (r *Registry) RecordCooldownTrip(kind string) {
	if r != nil {
		r.cooldownTrips.WithLabelValues(kind).Inc()
	}
}

func (r *Registry) SetCooldownActive(active bool) {
	if r == nil {
		return
	}
	if active {
		r.cooldownActive.Set(1)
		return
	}
	r.cooldownActive.Set(0)
}

func (r *Registry) RecordFallback(reason string) {
	if r != nil {
		r.fallbackServed.WithLabelValues(reason).Inc()
	}
}

func (r *Registry) RecordThrottle(result string) {
	if r != nil {
		r.throttleTotal.WithLabelValues(result).Inc()
	}
}

func (r *Registry) RecordAuthFailure(reason string) {
	if r != nil {
		r.authFailures.WithLabelValues(reason).Inc()
	}
}

func (r *Registry) SetPendingDesigns(n int) {
	if r != nil {
		r.pendingDesigns.Set(float64(n))
	}
}

func (r *Registry) SetProviderHealth(provider string, ok bool) {
	if r == nil {
		return
	}
	if ok {
		r.providerHealth.WithLabelValues(provider).Set(1)
		return
	}
	r.providerHealth.WithLabelValues(provider).Set(0)
}

func (r *Registry) SetBuildInfo(version string) {
	if r == nil {
		return
	}
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version).Set(1)
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}
