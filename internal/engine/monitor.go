package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mariia-platform/backupd/internal/backend"
	"github.com/mariia-platform/backupd/internal/config"
	"github.com/mariia-platform/backupd/internal/metrics"
	"github.com/mariia-platform/backupd/internal/state"
)

// Monitor probes each backend on a fixed interval, independently of the
// others. Fail-fast, recover-fast: reaching the consecutive-failure
// threshold marks a backend unhealthy, a single successful probe restores
// it. Every probe result is written to the store, even when nothing changed.
type Monitor struct {
	store    state.Store
	backends map[string]backend.Backend
	breakers map[string]*backend.CircuitBreaker
	failover *FailoverController
	cfg      *config.Config
	metrics  *metrics.Metrics
	logger   *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor creates a health monitor. Each backend gets its own circuit
// breaker so probing a dead provider stays cheap.
func NewMonitor(store state.Store, backends map[string]backend.Backend,
	failover *FailoverController, cfg *config.Config, m *metrics.Metrics,
	logger *zap.Logger) *Monitor {

	breakers := make(map[string]*backend.CircuitBreaker, len(backends))
	for id := range backends {
		breakers[id] = backend.NewCircuitBreaker(
			backend.WithFailureThreshold(cfg.Health.FailureThreshold),
			backend.WithTimeout(cfg.Health.ProbeTimeout),
			backend.WithResetTimeout(cfg.Health.ProbeInterval/2),
			backend.WithCircuitLogger(logger.With(zap.String("backend", id))),
		)
	}

	return &Monitor{
		store:    store,
		backends: backends,
		breakers: breakers,
		failover: failover,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start launches one probe loop per backend.
func (m *Monitor) Start() {
	for id := range m.backends {
		m.wg.Add(1)
		go m.loop(id)
	}
}

// Stop terminates the probe loops and waits for them.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) loop(backendID string) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Health.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Health.ProbeTimeout+5*time.Second)
			m.probeOne(ctx, backendID)
			cancel()
		case <-m.stopCh:
			return
		}
	}
}

// probeOne runs one scheduled probe through the backend's circuit breaker
// and applies the resulting transition.
func (m *Monitor) probeOne(ctx context.Context, backendID string) {
	target, ok := m.backends[backendID]
	if !ok {
		return
	}

	probeErr := m.breakers[backendID].Execute(ctx, func() error {
		return target.Probe(ctx)
	})
	m.applyProbeResult(ctx, backendID, probeErr)
}

// ProbeAll forces an immediate probe of every backend and returns the
// resulting report. Used by operational tooling; running it twice with no
// backend change yields the same report modulo timestamps.
func (m *Monitor) ProbeAll(ctx context.Context) (*HealthReport, error) {
	ids := make([]string, 0, len(m.backends))
	for id := range m.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	errs := make(map[string]string, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(backendID string) {
			defer wg.Done()
			target := m.backends[backendID]
			probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Health.ProbeTimeout)
			defer cancel()
			err := target.Probe(probeCtx)
			if err != nil {
				mu.Lock()
				errs[backendID] = err.Error()
				mu.Unlock()
			}
			m.applyProbeResult(ctx, backendID, err)
		}(id)
	}
	wg.Wait()

	snap, err := m.store.Get(ctx)
	if err != nil {
		return nil, err
	}

	report := &HealthReport{
		ActiveBackendID: snap.ActiveBackendID,
		GeneratedAt:     time.Now().UTC(),
	}
	for _, id := range ids {
		b := snap.Backends[id]
		if b == nil {
			continue
		}
		probe := BackendProbe{
			BackendID:           id,
			Health:              b.Health,
			ConsecutiveFailures: b.ConsecutiveFailures,
			LastProbeAt:         b.LastProbeAt,
			Error:               errs[id],
		}
		if b.Health == state.HealthHealthy {
			report.HealthyCount++
		}
		report.Probes = append(report.Probes, probe)
	}
	return report, nil
}

// applyProbeResult writes the probe outcome to the store regardless of
// whether anything changed, and triggers the failover controller when the
// failure threshold is crossed.
func (m *Monitor) applyProbeResult(ctx context.Context, backendID string, probeErr error) {
	outcome := "success"
	if probeErr != nil {
		outcome = "failure"
	}
	m.metrics.ProbesTotal.WithLabelValues(backendID, outcome).Inc()

	var becameUnhealthy bool
	committed, err := m.store.Update(ctx, func(s *state.Snapshot) error {
		b, ok := s.Backends[backendID]
		if !ok {
			return ErrUnknownBackend
		}
		becameUnhealthy = false
		b.LastProbeAt = time.Now().UTC()
		if probeErr == nil {
			b.ConsecutiveFailures = 0
			b.Health = state.HealthHealthy
			return nil
		}
		b.ConsecutiveFailures++
		if b.ConsecutiveFailures >= m.cfg.Health.FailureThreshold && b.Health != state.HealthUnhealthy {
			b.Health = state.HealthUnhealthy
			becameUnhealthy = true
		}
		return nil
	})
	if err != nil {
		m.logger.Error("probe result not persisted",
			zap.String("backend", backendID),
			zap.Error(err))
		return
	}

	m.metrics.HealthyBackends.Set(float64(len(committed.HealthyBackends())))

	if probeErr != nil {
		m.logger.Warn("probe failed",
			zap.String("backend", backendID),
			zap.Int("consecutive_failures", committed.Backends[backendID].ConsecutiveFailures),
			zap.Error(probeErr))
	}

	if becameUnhealthy {
		m.logger.Error("backend marked unhealthy",
			zap.String("backend", backendID),
			zap.Int("threshold", m.cfg.Health.FailureThreshold))
		if _, err := m.failover.OnBackendUnhealthy(ctx, backendID, "probe threshold exceeded"); err != nil {
			m.logger.Warn("failover trigger not completed",
				zap.String("backend", backendID),
				zap.Error(err))
		}
	}
}
