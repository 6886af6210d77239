package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mariia-platform/backupd/internal/alerting"
	"github.com/mariia-platform/backupd/internal/config"
	"github.com/mariia-platform/backupd/internal/metrics"
	"github.com/mariia-platform/backupd/internal/state"
)

// FailoverController promotes a new active backend when the current active
// backend degrades. Promotions are serialized so sequence numbers stay
// strictly increasing even when probe loops and manual triggers interleave.
type FailoverController struct {
	store    state.Store
	cfg      *config.Config
	notifier alerting.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu sync.Mutex
}

// NewFailoverController creates a controller.
func NewFailoverController(store state.Store, cfg *config.Config,
	notifier alerting.Notifier, m *metrics.Metrics, logger *zap.Logger) *FailoverController {
	return &FailoverController{
		store:    store,
		cfg:      cfg,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
}

// OnBackendUnhealthy is the automatic trigger raised by the health monitor.
// A non-active backend's failure updates health only; no failover happens.
// With automatic failover disabled the trigger raises an alert and waits for
// operator confirmation via Promote.
func (fc *FailoverController) OnBackendUnhealthy(ctx context.Context, backendID, reason string) (*state.FailoverEvent, error) {
	snap, err := fc.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	if snap.ActiveBackendID != backendID {
		return nil, nil
	}

	if !fc.cfg.AutomaticFailover() {
		fc.notifier.Notify(ctx, alerting.New(
			alerting.KindFailoverRequired,
			alerting.SeverityCritical,
			fmt.Sprintf("active backend %s is unhealthy, manual failover required", backendID),
			map[string]string{"backend": backendID, "reason": reason},
		))
		return nil, ErrFailoverNotAutomatic
	}

	return fc.Promote(ctx, backendID, reason)
}

// Promote fails away from backendID: among the remaining healthy backends it
// prefers the configured secondary, then tertiary, then any other. The
// demoted backend stays eligible for re-promotion once healthy again; there
// is no cooldown beyond the probe interval.
func (fc *FailoverController) Promote(ctx context.Context, backendID, reason string) (*state.FailoverEvent, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	snap, err := fc.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := snap.Backends[backendID]; !ok {
		return nil, ErrUnknownBackend
	}

	promoted := fc.selectPromotion(snap, backendID)
	if promoted == "" {
		// Degraded mode: availability beats correctness of the active
		// label, so the unhealthy backend stays active.
		fc.logger.Error("failover impossible, staying on unhealthy active backend",
			zap.String("backend", backendID),
			zap.String("reason", reason))
		fc.notifier.Notify(ctx, alerting.New(
			alerting.KindAllBackendsUnhealthy,
			alerting.SeverityCritical,
			"no healthy backend available for failover, serving degraded",
			map[string]string{"failed_backend": backendID, "reason": reason},
		))
		return nil, ErrAllBackendsUnhealthy
	}

	committed, err := fc.store.Update(ctx, func(s *state.Snapshot) error {
		s.ActiveBackendID = promoted
		return nil
	})
	if err != nil {
		return nil, err
	}

	ev := state.FailoverEvent{
		ID:                uuid.NewString(),
		Timestamp:         time.Now().UTC(),
		FailedBackendID:   backendID,
		PromotedBackendID: promoted,
		Reason:            reason,
		SequenceNumber:    committed.FailoverCount + 1,
	}
	if err := fc.store.AppendFailoverEvent(ctx, ev); err != nil {
		return nil, err
	}

	fc.metrics.FailoversTotal.Inc()
	fc.logger.Warn("failover performed",
		zap.String("failed_backend", backendID),
		zap.String("promoted_backend", promoted),
		zap.String("reason", reason),
		zap.Int64("sequence", ev.SequenceNumber))
	fc.notifier.Notify(ctx, alerting.New(
		alerting.KindFailoverPerformed,
		alerting.SeverityWarning,
		fmt.Sprintf("promoted %s after %s failed", promoted, backendID),
		map[string]string{
			"failed_backend":   backendID,
			"promoted_backend": promoted,
			"reason":           reason,
		},
	))

	return &ev, nil
}

// selectPromotion returns the best healthy backend other than failedID, or
// "" when none exists.
func (fc *FailoverController) selectPromotion(snap *state.Snapshot, failedID string) string {
	healthyOther := func(b *state.BackendState) bool {
		return b != nil && b.ID != failedID && b.Health == state.HealthHealthy
	}

	if b := snap.BackendByRole(state.RoleSecondary); healthyOther(b) {
		return b.ID
	}
	if b := snap.BackendByRole(state.RoleTertiary); healthyOther(b) {
		return b.ID
	}
	// Deterministic fallback across remaining healthy backends.
	best := ""
	for _, b := range snap.Backends {
		if healthyOther(b) && (best == "" || b.ID < best) {
			best = b.ID
		}
	}
	return best
}
