package proxy

import (
	"context"
	"sync"
	"time"

	"github.com/karthikvettiyath/Ai-Home-Decor/internal/designer"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/metrics"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/providers"
)

const (
	healthProbeInterval = 30 * time.Second
	healthProbeTimeout  = 5 * time.Second
)

// Probe checks one backing component. A nil error means reachable.
type Probe func(ctx context.Context) error

// componentStatus holds the last known health result for one component.
type componentStatus struct {
	mu     sync.RWMutex
	status string // "ok" | "degraded" | "down"
}

func (s *componentStatus) set(v string) {
	s.mu.Lock()
	s.status = v
	s.mu.Unlock()
}

func (s *componentStatus) get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == "" {
		return "unknown"
	}
	return s.status
}

// HealthOptions configures a HealthChecker. Every field is optional.
type HealthOptions struct {
	// Provider is probed only while the service reports the upstream as
	// enabled and credentialed.
	Provider providers.Provider

	// Components are required for readiness: a failing probe marks the
	// component "down".
	Components map[string]Probe

	Service  *designer.Service
	Metrics  *metrics.Registry
	Interval time.Duration
}

// HealthChecker runs background probes and exposes the latest results. Each
// round also refreshes the cooldown and pending-design gauges.
type HealthChecker struct {
	provider   providers.Provider
	components map[string]Probe
	svc        *designer.Service
	metrics    *metrics.Registry
	interval   time.Duration
	baseCtx    context.Context

	providerStatus    componentStatus
	componentStatuses map[string]*componentStatus

	startTime time.Time
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewHealthChecker runs a first probe synchronously and starts the
// background loop.
func NewHealthChecker(ctx context.Context, opts HealthOptions) *HealthChecker {
	if ctx == nil {
		panic("healthchecker: context must not be nil")
	}
	hc := &HealthChecker{
		provider:          opts.Provider,
		components:        opts.Components,
		svc:               opts.Service,
		metrics:           opts.Metrics,
		interval:          opts.Interval,
		baseCtx:           ctx,
		componentStatuses: make(map[string]*componentStatus, len(opts.Components)),
		startTime:         time.Now(),
		done:              make(chan struct{}),
	}
	if hc.interval <= 0 {
		hc.interval = healthProbeInterval
	}
	for name := range opts.Components {
		hc.componentStatuses[name] = &componentStatus{}
	}

	hc.probe()

	hc.wg.Add(1)
	go hc.run()

	return hc
}

// HealthSnapshot is the body of GET /health, minus the upstream status.
type HealthSnapshot struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Provider      string            `json:"provider,omitempty"`
	Components    map[string]string `json:"components,omitempty"`
}

// Snapshot builds a snapshot from the latest probe results. Overall status
// is "degraded" when any component or the provider is not ok.
func (hc *HealthChecker) Snapshot() HealthSnapshot {
	snap := HealthSnapshot{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
	}
	if hc.provider != nil {
		snap.Provider = hc.providerStatus.get()
		if snap.Provider == "degraded" {
			snap.Status = "degraded"
		}
	}
	if len(hc.componentStatuses) > 0 {
		snap.Components = make(map[string]string, len(hc.componentStatuses))
		for name, s := range hc.componentStatuses {
			st := s.get()
			snap.Components[name] = st
			if st != "ok" {
				snap.Status = "degraded"
			}
		}
	}
	return snap
}

// ReadinessOK is true when no required component is down. The upstream
// provider never affects readiness since fallbacks keep the API useful.
func (hc *HealthChecker) ReadinessOK() bool {
	for _, s := range hc.componentStatuses {
		if s.get() == "down" {
			return false
		}
	}
	return true
}

// Close stops the background loop. It is safe to call more than once.
func (hc *HealthChecker) Close() {
	hc.closeOnce.Do(func() { close(hc.done) })
	hc.wg.Wait()
}

func (hc *HealthChecker) run() {
	defer hc.wg.Done()
	ticker := time.NewTicker(hc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hc.probe()
		case <-hc.done:
			return
		case <-hc.baseCtx.Done():
			return
		}
	}
}

func (hc *HealthChecker) probe() {
	ctx, cancel := context.WithTimeout(hc.baseCtx, healthProbeTimeout)
	defer cancel()

	var wg sync.WaitGroup

	if hc.provider != nil && hc.shouldProbeProvider() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := hc.provider.Name()
			if err := hc.provider.HealthCheck(ctx); err != nil {
				hc.providerStatus.set("degraded")
				hc.metrics.SetProviderHealth(name, false)
				return
			}
			hc.providerStatus.set("ok")
			hc.metrics.SetProviderHealth(name, true)
		}()
	}

	for name, p := range hc.components {
		s := hc.componentStatuses[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p == nil || p(ctx) == nil {
				s.set("ok")
				return
			}
			s.set("down")
		}()
	}

	wg.Wait()

	if hc.svc != nil {
		st := hc.svc.Status()
		hc.metrics.SetCooldownActive(st.Cooldown)
		hc.metrics.SetPendingDesigns(st.PendingDesigns)
	}
}

// shouldProbeProvider skips the provider while it is disabled, missing a
// credential or cooling down, so probes never spend quota.
func (hc *HealthChecker) shouldProbeProvider() bool {
	if hc.svc == nil {
		return true
	}
	st := hc.svc.Status()
	if !st.Enabled || !st.HasCredential {
		hc.providerStatus.set("disabled")
		return false
	}
	if st.Cooldown {
		hc.providerStatus.set("cooling")
		return false
	}
	return true
}
