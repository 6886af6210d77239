package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mariia-platform/backupd/internal/alerting"
	"github.com/mariia-platform/backupd/internal/config"
	"github.com/mariia-platform/backupd/internal/metrics"
	"github.com/mariia-platform/backupd/internal/state"
)

const bytesPerGB = 1024 * 1024 * 1024

// budgetWarningRatio triggers the warning before the budget is actually
// exceeded.
const budgetWarningRatio = 0.8

// CostTracker aggregates per-backend usage into a monthly estimate and
// compares it against the budget. It only reads usage figures; Placement and
// Backend records are never mutated here.
type CostTracker struct {
	store    state.Store
	cfg      *config.Config
	notifier alerting.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCostTracker creates a tracker.
func NewCostTracker(store state.Store, cfg *config.Config,
	notifier alerting.Notifier, m *metrics.Metrics, logger *zap.Logger) *CostTracker {
	return &CostTracker{
		store:    store,
		cfg:      cfg,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the periodic snapshot loop (daily by default).
func (ct *CostTracker) Start() {
	ct.wg.Add(1)
	go func() {
		defer ct.wg.Done()
		ticker := time.NewTicker(ct.cfg.Cost.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				if _, err := ct.ComputeSnapshot(ctx); err != nil {
					ct.logger.Error("cost snapshot failed", zap.Error(err))
				}
				cancel()
			case <-ct.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the loop.
func (ct *CostTracker) Stop() {
	close(ct.stopCh)
	ct.wg.Wait()
}

// RatePerGB returns the monthly storage rate for a tier.
func (ct *CostTracker) RatePerGB(tier state.StorageTier) float64 {
	if rate, ok := ct.cfg.Cost.TierRatesPerGB[string(tier)]; ok {
		return rate
	}
	return ct.cfg.Cost.TierRatesPerGB["hot"]
}

// ComputeSnapshot estimates the current monthly cost, records it in the
// store's trend history, and raises the budget warning when the estimate
// crosses 80% of the budget.
func (ct *CostTracker) ComputeSnapshot(ctx context.Context) (*CostReport, error) {
	snap, err := ct.store.Get(ctx)
	if err != nil {
		return nil, err
	}

	cost := state.CostSnapshot{
		Timestamp:         time.Now().UTC(),
		PerBackendCostUSD: make(map[string]float64, len(snap.Backends)),
		BudgetUSD:         ct.cfg.Cost.BudgetUSD,
	}

	for id, b := range snap.Backends {
		usedGB := float64(b.UsedBytes) / bytesPerGB
		backendCost := usedGB * ct.RatePerGB(b.StorageTier)
		cost.PerBackendCostUSD[id] = backendCost
		cost.TotalCostUSD += backendCost
		ct.metrics.MonthlyCostUSD.WithLabelValues(id).Set(backendCost)
	}
	cost.OverBudget = cost.BudgetUSD > 0 && cost.TotalCostUSD > cost.BudgetUSD

	if _, err := ct.store.Update(ctx, func(s *state.Snapshot) error {
		s.RecordCost(cost)
		return nil
	}); err != nil {
		return nil, err
	}

	if cost.BudgetUSD > 0 && cost.TotalCostUSD > cost.BudgetUSD*budgetWarningRatio {
		_ = ct.notifier.Notify(ctx, alerting.New(
			alerting.KindBudgetWarning,
			alerting.SeverityWarning,
			fmt.Sprintf("monthly cost estimate $%.2f approaches budget $%.2f",
				cost.TotalCostUSD, cost.BudgetUSD),
			map[string]string{
				"total_usd":  fmt.Sprintf("%.2f", cost.TotalCostUSD),
				"budget_usd": fmt.Sprintf("%.2f", cost.BudgetUSD),
			},
		))
	}

	return &CostReport{
		Snapshot:        cost,
		Recommendations: ct.recommendations(snap),
	}, nil
}

// recommendations flags backends whose usage exceeds the size threshold on a
// tier with a cheaper alternative. Tier changes are recommended only; the
// manager never migrates data itself.
func (ct *CostTracker) recommendations(snap *state.Snapshot) []TierRecommendation {
	var recs []TierRecommendation

	for _, b := range snap.Backends {
		usedGB := float64(b.UsedBytes) / bytesPerGB
		if usedGB < ct.cfg.Cost.ColdTierThresholdGB {
			continue
		}

		currentRate := ct.RatePerGB(b.StorageTier)
		bestTier, bestRate := string(b.StorageTier), currentRate
		for tier, rate := range ct.cfg.Cost.TierRatesPerGB {
			if rate < bestRate {
				bestTier, bestRate = tier, rate
			}
		}
		if bestTier == string(b.StorageTier) {
			continue
		}

		recs = append(recs, TierRecommendation{
			BackendID:      b.ID,
			CurrentTier:    string(b.StorageTier),
			SuggestedTier:  bestTier,
			UsedGB:         usedGB,
			MonthlySavings: usedGB * (currentRate - bestRate),
		})
	}

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].MonthlySavings > recs[j].MonthlySavings
	})
	return recs
}
