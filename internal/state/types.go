package state

import (
	"time"
)

// Role is the configured preference order of a backend. It describes where a
// backend sits in the static failover chain, not which backend is currently
// active.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
	RoleTertiary  Role = "tertiary"
)

// Preference returns the rank used when ordering backends, lower is better.
func (r Role) Preference() int {
	switch r {
	case RolePrimary:
		return 0
	case RoleSecondary:
		return 1
	case RoleTertiary:
		return 2
	default:
		return 3
	}
}

// Health is the probe-driven status of a backend.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
	HealthUnknown   Health = "unknown"
)

// StorageTier categorizes a backend's price/performance class.
type StorageTier string

const (
	TierHot     StorageTier = "hot"
	TierWarm    StorageTier = "warm"
	TierCold    StorageTier = "cold"
	TierArchive StorageTier = "archive"
)

// BackendState is the persisted record for one storage backend. Backends are
// created at configuration load and never deleted at runtime; Health and
// ConsecutiveFailures are mutated only by the health monitor.
type BackendState struct {
	ID                  string      `json:"id"`
	Role                Role        `json:"role"`
	Region              string      `json:"region"`
	LocationRef         string      `json:"location_ref"`
	StorageTier         StorageTier `json:"storage_tier"`
	Health              Health      `json:"health"`
	LastProbeAt         time.Time   `json:"last_probe_at"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	UsedBytes           int64       `json:"used_bytes"`
}

// ArtifactKind classifies a backup unit.
type ArtifactKind string

const (
	KindDatabase    ArtifactKind = "database"
	KindAssets      ArtifactKind = "assets"
	KindApplication ArtifactKind = "application"
)

// Artifact is one finished backup unit submitted for distribution.
// Immutable once created, except the IntegrityFailed flag which is set when
// verification finds zero matching copies.
type Artifact struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Kind            ArtifactKind `json:"kind"`
	SizeBytes       int64        `json:"size_bytes"`
	SourceChecksum  string       `json:"source_checksum"`
	CreatedAt       time.Time    `json:"created_at"`
	IntegrityFailed bool         `json:"integrity_failed,omitempty"`
}

// PlacementStatus tracks the lifecycle of one artifact copy on one backend.
type PlacementStatus string

const (
	PlacementPending    PlacementStatus = "pending"
	PlacementUploaded   PlacementStatus = "uploaded"
	PlacementFailed     PlacementStatus = "failed"
	PlacementVerified   PlacementStatus = "verified"
	PlacementMismatched PlacementStatus = "mismatched"
)

// Placement records one artifact's copy on one specific backend. A placement
// is immutable once verified or mismatched; only a fresh upload (which resets
// it to uploaded) can move it again.
type Placement struct {
	ArtifactID     string          `json:"artifact_id"`
	BackendID      string          `json:"backend_id"`
	Status         PlacementStatus `json:"status"`
	RemoteChecksum string          `json:"remote_checksum,omitempty"`
	DurationMs     int64           `json:"duration_ms"`
	UploadedAt     time.Time       `json:"uploaded_at,omitempty"`
}

// FailoverEvent is one entry in the append-only failover log.
type FailoverEvent struct {
	ID                string    `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	FailedBackendID   string    `json:"failed_backend_id"`
	PromotedBackendID string    `json:"promoted_backend_id"`
	Reason            string    `json:"reason"`
	SequenceNumber    int64     `json:"sequence_number"`
}

// CostSnapshot is the result of one cost tracker run.
type CostSnapshot struct {
	Timestamp         time.Time          `json:"timestamp"`
	PerBackendCostUSD map[string]float64 `json:"per_backend_cost_usd"`
	TotalCostUSD      float64            `json:"total_cost_usd"`
	BudgetUSD         float64            `json:"budget_usd"`
	OverBudget        bool               `json:"over_budget"`
}

// Snapshot is the single versioned state document for one manager instance.
type Snapshot struct {
	Version         int64                    `json:"version"`
	InstanceID      string                   `json:"instance_id"`
	Backends        map[string]*BackendState `json:"backends"`
	ActiveBackendID string                   `json:"active_backend_id"`
	Artifacts       map[string]*Artifact     `json:"artifacts"`
	Placements      map[string][]*Placement  `json:"placements"`
	FailoverLog     []FailoverEvent          `json:"failover_log"`
	FailoverCount   int64                    `json:"failover_count"`
	LatestCost      *CostSnapshot            `json:"latest_cost,omitempty"`
	CostHistory     []CostSnapshot           `json:"cost_history,omitempty"`
	UpdatedAt       time.Time                `json:"updated_at"`
}

// maxCostHistory bounds the retained cost trend window.
const maxCostHistory = 90

// NewSnapshot creates an empty document for an instance.
func NewSnapshot(instanceID string) *Snapshot {
	return &Snapshot{
		InstanceID: instanceID,
		Backends:   make(map[string]*BackendState),
		Artifacts:  make(map[string]*Artifact),
		Placements: make(map[string][]*Placement),
	}
}

// Clone returns a deep copy so mutators never touch shared state.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		Version:         s.Version,
		InstanceID:      s.InstanceID,
		ActiveBackendID: s.ActiveBackendID,
		FailoverCount:   s.FailoverCount,
		UpdatedAt:       s.UpdatedAt,
		Backends:        make(map[string]*BackendState, len(s.Backends)),
		Artifacts:       make(map[string]*Artifact, len(s.Artifacts)),
		Placements:      make(map[string][]*Placement, len(s.Placements)),
	}
	for id, b := range s.Backends {
		cp := *b
		c.Backends[id] = &cp
	}
	for id, a := range s.Artifacts {
		cp := *a
		c.Artifacts[id] = &cp
	}
	for id, ps := range s.Placements {
		list := make([]*Placement, len(ps))
		for i, p := range ps {
			cp := *p
			list[i] = &cp
		}
		c.Placements[id] = list
	}
	c.FailoverLog = append([]FailoverEvent(nil), s.FailoverLog...)
	c.CostHistory = append([]CostSnapshot(nil), s.CostHistory...)
	if s.LatestCost != nil {
		cost := *s.LatestCost
		cost.PerBackendCostUSD = make(map[string]float64, len(s.LatestCost.PerBackendCostUSD))
		for k, v := range s.LatestCost.PerBackendCostUSD {
			cost.PerBackendCostUSD[k] = v
		}
		c.LatestCost = &cost
	}
	for i := range c.CostHistory {
		src := c.CostHistory[i].PerBackendCostUSD
		dst := make(map[string]float64, len(src))
		for k, v := range src {
			dst[k] = v
		}
		c.CostHistory[i].PerBackendCostUSD = dst
	}
	return c
}

// Placement returns the placement row for one (artifact, backend) pair.
func (s *Snapshot) Placement(artifactID, backendID string) *Placement {
	for _, p := range s.Placements[artifactID] {
		if p.BackendID == backendID {
			return p
		}
	}
	return nil
}

// UpsertPlacement replaces or appends the row for (artifact, backend).
func (s *Snapshot) UpsertPlacement(p *Placement) {
	for i, existing := range s.Placements[p.ArtifactID] {
		if existing.BackendID == p.BackendID {
			s.Placements[p.ArtifactID][i] = p
			return
		}
	}
	s.Placements[p.ArtifactID] = append(s.Placements[p.ArtifactID], p)
}

// HealthyBackends returns backends currently marked healthy.
func (s *Snapshot) HealthyBackends() []*BackendState {
	var out []*BackendState
	for _, b := range s.Backends {
		if b.Health == HealthHealthy {
			out = append(out, b)
		}
	}
	return out
}

// BackendByRole returns the first backend configured with the given role.
func (s *Snapshot) BackendByRole(role Role) *BackendState {
	for _, b := range s.Backends {
		if b.Role == role {
			return b
		}
	}
	return nil
}

// VerifiedCopies counts healthy backends holding a verified placement for
// the artifact.
func (s *Snapshot) VerifiedCopies(artifactID string) int {
	n := 0
	for _, p := range s.Placements[artifactID] {
		if p.Status != PlacementVerified {
			continue
		}
		if b, ok := s.Backends[p.BackendID]; ok && b.Health == HealthHealthy {
			n++
		}
	}
	return n
}

// RecordCost stores the latest cost snapshot and appends it to the bounded
// trend history.
func (s *Snapshot) RecordCost(cost CostSnapshot) {
	s.LatestCost = &cost
	s.CostHistory = append(s.CostHistory, cost)
	if len(s.CostHistory) > maxCostHistory {
		s.CostHistory = s.CostHistory[len(s.CostHistory)-maxCostHistory:]
	}
}
