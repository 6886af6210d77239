package engine

import (
	"time"

	"github.com/mariia-platform/backupd/internal/state"
)

// Strategy selects which backends receive copies of an artifact.
type Strategy string

const (
	// StrategyPrimaryHeavy uploads to the primary and secondary only.
	StrategyPrimaryHeavy Strategy = "primary-heavy"
	// StrategyBalanced uploads to primary, secondary, and (when at least
	// three backends are configured) tertiary.
	StrategyBalanced Strategy = "balanced"
	// StrategyDistributed ranks healthy backends by role preference then
	// cost and uploads to the top targetCount of them.
	StrategyDistributed Strategy = "distributed"
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyPrimaryHeavy, StrategyBalanced, StrategyDistributed:
		return true
	}
	return false
}

// DistributionResult summarizes one distribute call. SuccessCount counting
// at least minRedundancy with some failures present is partial success, not
// an error: the guarantee is "at least N copies", not "all copies".
type DistributionResult struct {
	ArtifactID   string              `json:"artifact_id"`
	Strategy     Strategy            `json:"strategy"`
	Placements   []*state.Placement  `json:"placements"`
	SuccessCount int                 `json:"success_count"`
	FailureCount int                 `json:"failure_count"`
	Verification *VerificationResult `json:"verification,omitempty"`
}

// VerificationResult reports checksum comparison outcomes for one artifact.
type VerificationResult struct {
	ArtifactID      string   `json:"artifact_id"`
	Matches         []string `json:"matches"`    // backend IDs
	Mismatches      []string `json:"mismatches"` // backend IDs
	IntegrityFailed bool     `json:"integrity_failed"`
}

// BackendProbe is one backend's status in a health report.
type BackendProbe struct {
	BackendID           string       `json:"backend_id"`
	Health              state.Health `json:"health"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastProbeAt         time.Time    `json:"last_probe_at"`
	Error               string       `json:"error,omitempty"`
}

// HealthReport is the result of probing all backends.
type HealthReport struct {
	Probes          []BackendProbe `json:"probes"`
	HealthyCount    int            `json:"healthy_count"`
	ActiveBackendID string         `json:"active_backend_id"`
	GeneratedAt     time.Time      `json:"generated_at"`
}

// TierRecommendation suggests moving a backend's data to a cheaper tier.
// The manager recommends; it never migrates data itself.
type TierRecommendation struct {
	BackendID      string  `json:"backend_id"`
	CurrentTier    string  `json:"current_tier"`
	SuggestedTier  string  `json:"suggested_tier"`
	UsedGB         float64 `json:"used_gb"`
	MonthlySavings float64 `json:"monthly_savings_usd"`
}

// CostReport pairs a snapshot with its recommendations.
type CostReport struct {
	Snapshot        state.CostSnapshot   `json:"snapshot"`
	Recommendations []TierRecommendation `json:"recommendations,omitempty"`
}
