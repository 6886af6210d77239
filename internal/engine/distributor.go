package engine

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mariia-platform/backupd/internal/backend"
	"github.com/mariia-platform/backupd/internal/config"
	"github.com/mariia-platform/backupd/internal/metrics"
	"github.com/mariia-platform/backupd/internal/state"
)

// Distributor selects target backends per strategy and replicates one
// artifact to them. Uploads to distinct backends run concurrently; one
// backend's failure never aborts the others.
type Distributor struct {
	store    state.Store
	backends map[string]backend.Backend
	cfg      *config.Config
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewDistributor creates a distributor.
func NewDistributor(store state.Store, backends map[string]backend.Backend,
	cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *Distributor {
	return &Distributor{
		store:    store,
		backends: backends,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
	}
}

type uploadResult struct {
	backendID string
	duration  time.Duration
	err       error
	skipped   bool
}

// Distribute registers the artifact, uploads to the selected backends, and
// records one placement per target. The caller's deadline is honored:
// uploads already started run to completion, no new ones begin after expiry.
func (d *Distributor) Distribute(ctx context.Context, artifact *state.Artifact,
	data []byte, strategy Strategy) (*DistributionResult, error) {

	if !strategy.Valid() {
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}

	snap, err := d.store.Get(ctx)
	if err != nil {
		return nil, err
	}

	targets, err := d.selectTargets(snap, strategy)
	if err != nil {
		return nil, err
	}

	// Register the artifact and pending placements before any network I/O.
	// A re-submitted artifact starts a fresh distribution: its integrity
	// flag clears and its placements reset to pending.
	if _, err := d.store.Update(ctx, func(s *state.Snapshot) error {
		a := *artifact
		a.IntegrityFailed = false
		s.Artifacts[a.ID] = &a
		for _, id := range targets {
			s.UpsertPlacement(&state.Placement{
				ArtifactID: a.ID,
				BackendID:  id,
				Status:     state.PlacementPending,
			})
		}
		return nil
	}); err != nil {
		return nil, err
	}

	results := d.upload(ctx, artifact, data, targets)

	// Results are committed even when the caller's deadline expired while
	// uploads were in flight; uploads that ran must leave a record.
	commitCtx := context.WithoutCancel(ctx)

	successCount := 0
	committed, err := d.store.Update(commitCtx, func(s *state.Snapshot) error {
		successCount = 0
		for _, r := range results {
			p := s.Placement(artifact.ID, r.backendID)
			if p == nil {
				continue
			}
			p.DurationMs = r.duration.Milliseconds()
			if r.err != nil || r.skipped {
				p.Status = state.PlacementFailed
			} else {
				p.Status = state.PlacementUploaded
				p.UploadedAt = time.Now().UTC()
				successCount++
				if b, ok := s.Backends[r.backendID]; ok {
					b.UsedBytes += artifact.SizeBytes
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &DistributionResult{
		ArtifactID:   artifact.ID,
		Strategy:     strategy,
		Placements:   committed.Placements[artifact.ID],
		SuccessCount: successCount,
		FailureCount: len(targets) - successCount,
	}

	if successCount < d.cfg.Replication.MinRedundancy {
		d.logger.Error("distribution failed to meet redundancy",
			zap.String("artifact", artifact.ID),
			zap.Int("succeeded", successCount),
			zap.Int("min_redundancy", d.cfg.Replication.MinRedundancy))
		return result, fmt.Errorf("%w: %d of %d uploads succeeded, need %d",
			ErrDistributionFailed, successCount, len(targets),
			d.cfg.Replication.MinRedundancy)
	}

	return result, nil
}

// selectTargets applies the strategy to the current snapshot.
func (d *Distributor) selectTargets(snap *state.Snapshot, strategy Strategy) ([]string, error) {
	switch strategy {
	case StrategyPrimaryHeavy:
		return d.roleTargets(snap, state.RolePrimary, state.RoleSecondary), nil

	case StrategyBalanced:
		roles := []state.Role{state.RolePrimary, state.RoleSecondary}
		if d.cfg.Replication.MaxBackends >= 3 {
			roles = append(roles, state.RoleTertiary)
		}
		return d.roleTargets(snap, roles...), nil

	case StrategyDistributed:
		healthy := snap.HealthyBackends()
		if len(healthy) < d.cfg.Replication.MinRedundancy {
			return nil, fmt.Errorf("%w: %d healthy, need %d",
				ErrInsufficientHealthyBackends, len(healthy),
				d.cfg.Replication.MinRedundancy)
		}
		ranked := rankBackends(healthy, d.ratePerGB)
		count := d.cfg.Replication.TargetCount
		if count > len(ranked) {
			count = len(ranked)
		}
		targets := make([]string, 0, count)
		for _, b := range ranked[:count] {
			targets = append(targets, b.ID)
		}
		return targets, nil
	}
	return nil, fmt.Errorf("unknown strategy %q", strategy)
}

func (d *Distributor) roleTargets(snap *state.Snapshot, roles ...state.Role) []string {
	var targets []string
	for _, role := range roles {
		if b := snap.BackendByRole(role); b != nil {
			targets = append(targets, b.ID)
		}
	}
	return targets
}

func (d *Distributor) ratePerGB(tier state.StorageTier) float64 {
	if rate, ok := d.cfg.Cost.TierRatesPerGB[string(tier)]; ok {
		return rate
	}
	return d.cfg.Cost.TierRatesPerGB["hot"]
}

// upload replicates to every target concurrently and collects results.
// Health is re-read immediately before each upload so a backend that went
// unhealthy after target selection is skipped rather than attempted.
func (d *Distributor) upload(ctx context.Context, artifact *state.Artifact,
	data []byte, targets []string) []uploadResult {

	var wg sync.WaitGroup
	resultCh := make(chan uploadResult, len(targets))

	for _, id := range targets {
		wg.Add(1)
		go func(backendID string) {
			defer wg.Done()
			resultCh <- d.uploadOne(ctx, artifact, data, backendID)
		}(id)
	}

	wg.Wait()
	close(resultCh)

	results := make([]uploadResult, 0, len(targets))
	for r := range resultCh {
		results = append(results, r)
	}
	return results
}

func (d *Distributor) uploadOne(ctx context.Context, artifact *state.Artifact,
	data []byte, backendID string) uploadResult {

	// Caller deadline expired: do not start.
	if err := ctx.Err(); err != nil {
		return uploadResult{backendID: backendID, err: err, skipped: true}
	}

	// Re-read health right before the attempt.
	snap, err := d.store.Get(ctx)
	if err != nil {
		return uploadResult{backendID: backendID, err: err, skipped: true}
	}
	b, ok := snap.Backends[backendID]
	if !ok {
		return uploadResult{backendID: backendID, err: ErrUnknownBackend, skipped: true}
	}
	if b.Health == state.HealthUnhealthy {
		d.logger.Warn("skipping unhealthy backend",
			zap.String("backend", backendID),
			zap.String("artifact", artifact.ID))
		return uploadResult{backendID: backendID, err: ErrBackendUnavailable, skipped: true}
	}

	target, ok := d.backends[backendID]
	if !ok {
		return uploadResult{backendID: backendID, err: ErrUnknownBackend, skipped: true}
	}

	// Past the start checks the upload runs to completion regardless of the
	// caller's deadline; the per-upload timeout is the only remaining bound,
	// and a timed-out upload is a failure for this backend only.
	uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx),
		d.cfg.Replication.UploadTimeout)
	defer cancel()

	start := time.Now()
	err = target.Put(uploadCtx, b.LocationRef, artifact.ID, bytes.NewReader(data))
	duration := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "failure"
		d.logger.Warn("upload failed",
			zap.String("backend", backendID),
			zap.String("artifact", artifact.ID),
			zap.Duration("duration", duration),
			zap.Error(err))
	} else {
		d.logger.Info("upload complete",
			zap.String("backend", backendID),
			zap.String("artifact", artifact.ID),
			zap.Int64("size_bytes", artifact.SizeBytes),
			zap.Duration("duration", duration))
	}
	d.metrics.UploadsTotal.WithLabelValues(backendID, outcome).Inc()
	d.metrics.UploadDuration.WithLabelValues(backendID).Observe(duration.Seconds())

	return uploadResult{backendID: backendID, duration: duration, err: err}
}
