// Package engine implements the backup distribution and failover manager:
// strategy-driven replication of finished backup artifacts across multiple
// storage backends, health-driven routing, checksum verification, and cost
// accounting. Backend adapters and the durable state document live in their
// own packages; this one holds the moving parts.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mariia-platform/backupd/internal/alerting"
	"github.com/mariia-platform/backupd/internal/backend"
	"github.com/mariia-platform/backupd/internal/config"
	"github.com/mariia-platform/backupd/internal/metrics"
	"github.com/mariia-platform/backupd/internal/state"
)

// ArtifactSpec describes one finished backup unit submitted by the external
// backup-creation pipeline. SourceChecksum may be empty, in which case the
// manager computes it from the payload.
type ArtifactSpec struct {
	ID             string
	Name           string
	Kind           state.ArtifactKind
	SourceChecksum string
}

// Manager owns all components and exposes the operation-oriented interface
// consumed by the backup pipeline and the reporting layer.
type Manager struct {
	cfg      *config.Config
	store    state.Store
	backends map[string]backend.Backend

	distributor *Distributor
	verifier    *Verifier
	monitor     *Monitor
	failover    *FailoverController
	cost        *CostTracker
	notifier    alerting.Notifier
	logger      *zap.Logger
}

// NewManager wires the components and seeds the state document with the
// configured backends. Backends are registered once at construction and
// never change at runtime.
func NewManager(cfg *config.Config, store state.Store,
	backends map[string]backend.Backend, notifier alerting.Notifier,
	m *metrics.Metrics, logger *zap.Logger) (*Manager, error) {

	for _, bc := range cfg.Backends {
		if _, ok := backends[bc.ID]; !ok {
			return nil, fmt.Errorf("no adapter for configured backend %q", bc.ID)
		}
	}

	seedCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := store.Update(seedCtx, func(s *state.Snapshot) error {
		for _, bc := range cfg.Backends {
			if existing, ok := s.Backends[bc.ID]; ok {
				// Configuration wins for static fields; probe-driven
				// fields survive restarts.
				existing.Role = state.Role(bc.Role)
				existing.Region = bc.Region
				existing.LocationRef = bc.LocationRef
				existing.StorageTier = state.StorageTier(bc.StorageTier)
				continue
			}
			s.Backends[bc.ID] = &state.BackendState{
				ID:          bc.ID,
				Role:        state.Role(bc.Role),
				Region:      bc.Region,
				LocationRef: bc.LocationRef,
				StorageTier: state.StorageTier(bc.StorageTier),
				Health:      state.HealthUnknown,
			}
		}
		if s.ActiveBackendID == "" {
			if primary := s.BackendByRole(state.RolePrimary); primary != nil {
				s.ActiveBackendID = primary.ID
			}
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("seed state: %w", err)
	}

	mgr := &Manager{
		cfg:      cfg,
		store:    store,
		backends: backends,
		notifier: notifier,
		logger:   logger,
	}
	mgr.failover = NewFailoverController(store, cfg, notifier, m, logger)
	mgr.distributor = NewDistributor(store, backends, cfg, m, logger)
	mgr.verifier = NewVerifier(store, backends, logger)
	mgr.monitor = NewMonitor(store, backends, mgr.failover, cfg, m, logger)
	mgr.cost = NewCostTracker(store, cfg, notifier, m, logger)
	return mgr, nil
}

// Start launches the health monitor and cost tracker loops.
func (mgr *Manager) Start() {
	mgr.monitor.Start()
	mgr.cost.Start()
	mgr.logger.Info("manager started",
		zap.Int("backends", len(mgr.backends)),
		zap.Duration("probe_interval", mgr.cfg.Health.ProbeInterval))
}

// Stop terminates the periodic loops.
func (mgr *Manager) Stop() {
	mgr.monitor.Stop()
	mgr.cost.Stop()
	mgr.logger.Info("manager stopped")
}

// Distribute replicates one finished artifact per the strategy, then
// verifies every uploaded copy before returning. Partial success with at
// least minRedundancy verified copies is success.
func (mgr *Manager) Distribute(ctx context.Context, spec ArtifactSpec,
	data []byte, strategy Strategy) (*DistributionResult, error) {

	artifact := &state.Artifact{
		ID:             spec.ID,
		Name:           spec.Name,
		Kind:           spec.Kind,
		SizeBytes:      int64(len(data)),
		SourceChecksum: spec.SourceChecksum,
		CreatedAt:      time.Now().UTC(),
	}
	if artifact.ID == "" {
		artifact.ID = uuid.NewString()
	}
	if artifact.SourceChecksum == "" {
		sum := sha256.Sum256(data)
		artifact.SourceChecksum = hex.EncodeToString(sum[:])
	}

	result, err := mgr.distributor.Distribute(ctx, artifact, data, strategy)
	if err != nil {
		return result, err
	}

	verification, verr := mgr.verifier.Verify(ctx, artifact.ID)
	result.Verification = verification
	if verr != nil {
		if IsIntegrityError(verr) {
			_ = mgr.notifier.Notify(ctx, alerting.New(
				alerting.KindIntegrityFailed,
				alerting.SeverityCritical,
				fmt.Sprintf("artifact %s has no verified copy", artifact.ID),
				map[string]string{"artifact": artifact.ID},
			))
		}
		return result, verr
	}

	mgr.checkRedundancy(ctx, artifact.ID)
	return result, nil
}

// checkRedundancy raises the redundancy-lost alert when fewer than
// minRedundancy healthy backends hold a verified copy.
func (mgr *Manager) checkRedundancy(ctx context.Context, artifactID string) {
	snap, err := mgr.store.Get(ctx)
	if err != nil {
		return
	}
	verified := snap.VerifiedCopies(artifactID)
	if verified < mgr.cfg.Replication.MinRedundancy {
		mgr.logger.Warn("redundancy below minimum",
			zap.String("artifact", artifactID),
			zap.Int("verified", verified),
			zap.Int("min_redundancy", mgr.cfg.Replication.MinRedundancy))
		_ = mgr.notifier.Notify(ctx, alerting.New(
			alerting.KindRedundancyLost,
			alerting.SeverityWarning,
			fmt.Sprintf("artifact %s has %d verified copies, need %d",
				artifactID, verified, mgr.cfg.Replication.MinRedundancy),
			map[string]string{"artifact": artifactID},
		))
	}
}

// VerifyConsistency re-runs checksum verification on demand.
func (mgr *Manager) VerifyConsistency(ctx context.Context, artifactID string) (*VerificationResult, error) {
	result, err := mgr.verifier.Verify(ctx, artifactID)
	if err != nil && IsIntegrityError(err) {
		_ = mgr.notifier.Notify(ctx, alerting.New(
			alerting.KindIntegrityFailed,
			alerting.SeverityCritical,
			fmt.Sprintf("artifact %s has no verified copy", artifactID),
			map[string]string{"artifact": artifactID},
		))
	}
	return result, err
}

// ProbeHealth forces an immediate health check of all backends.
func (mgr *Manager) ProbeHealth(ctx context.Context) (*HealthReport, error) {
	return mgr.monitor.ProbeAll(ctx)
}

// Failover is the manual trigger: the operator declares backendID failed and
// the controller promotes a replacement per the selection rule. It works
// regardless of the automatic-failover setting; this is the confirmation
// path when automatic failover is disabled.
func (mgr *Manager) Failover(ctx context.Context, backendID, reason string) (*state.FailoverEvent, error) {
	return mgr.failover.Promote(ctx, backendID, reason)
}

// CostSnapshot recomputes the cost estimate and recommendations.
func (mgr *Manager) CostSnapshot(ctx context.Context) (*CostReport, error) {
	return mgr.cost.ComputeSnapshot(ctx)
}

// StrategyReport returns the full current state document for dashboards and
// alert tooling.
func (mgr *Manager) StrategyReport(ctx context.Context) (*state.Snapshot, error) {
	return mgr.store.Get(ctx)
}
