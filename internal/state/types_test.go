package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRole_Preference(t *testing.T) {
	assert.Equal(t, 0, RolePrimary.Preference())
	assert.Equal(t, 1, RoleSecondary.Preference())
	assert.Equal(t, 2, RoleTertiary.Preference())
	assert.Equal(t, 3, Role("").Preference())
	assert.Equal(t, 3, Role("standby").Preference())
}

func TestSnapshot_Clone(t *testing.T) {
	s := NewSnapshot("test")
	s.Version = 7
	s.ActiveBackendID = "aws-primary"
	s.Backends["aws-primary"] = &BackendState{ID: "aws-primary", Health: HealthHealthy}
	s.Artifacts["art-1"] = &Artifact{ID: "art-1", SourceChecksum: "abc"}
	s.UpsertPlacement(&Placement{ArtifactID: "art-1", BackendID: "aws-primary", Status: PlacementVerified})
	s.FailoverLog = []FailoverEvent{{ID: "ev-1", SequenceNumber: 1}}
	s.RecordCost(CostSnapshot{
		Timestamp:         time.Now(),
		PerBackendCostUSD: map[string]float64{"aws-primary": 2.76},
		TotalCostUSD:      2.76,
	})

	c := s.Clone()

	// Mutating the clone must not touch the original.
	c.Backends["aws-primary"].Health = HealthUnhealthy
	c.Artifacts["art-1"].IntegrityFailed = true
	c.Placements["art-1"][0].Status = PlacementMismatched
	c.FailoverLog[0].SequenceNumber = 99
	c.LatestCost.PerBackendCostUSD["aws-primary"] = 0
	c.CostHistory[0].PerBackendCostUSD["aws-primary"] = 0

	assert.Equal(t, HealthHealthy, s.Backends["aws-primary"].Health)
	assert.False(t, s.Artifacts["art-1"].IntegrityFailed)
	assert.Equal(t, PlacementVerified, s.Placements["art-1"][0].Status)
	assert.Equal(t, int64(1), s.FailoverLog[0].SequenceNumber)
	assert.Equal(t, 2.76, s.LatestCost.PerBackendCostUSD["aws-primary"])
	assert.Equal(t, 2.76, s.CostHistory[0].PerBackendCostUSD["aws-primary"])
}

func TestSnapshot_UpsertPlacement(t *testing.T) {
	s := NewSnapshot("test")
	s.UpsertPlacement(&Placement{ArtifactID: "a", BackendID: "b1", Status: PlacementPending})
	s.UpsertPlacement(&Placement{ArtifactID: "a", BackendID: "b2", Status: PlacementPending})
	require.Len(t, s.Placements["a"], 2)

	// Same pair replaces instead of appending.
	s.UpsertPlacement(&Placement{ArtifactID: "a", BackendID: "b1", Status: PlacementUploaded})
	require.Len(t, s.Placements["a"], 2)
	assert.Equal(t, PlacementUploaded, s.Placement("a", "b1").Status)
	assert.Nil(t, s.Placement("a", "missing"))
}

func TestSnapshot_HealthyBackends(t *testing.T) {
	s := NewSnapshot("test")
	s.Backends["h1"] = &BackendState{ID: "h1", Health: HealthHealthy}
	s.Backends["h2"] = &BackendState{ID: "h2", Health: HealthHealthy}
	s.Backends["u"] = &BackendState{ID: "u", Health: HealthUnhealthy}
	s.Backends["x"] = &BackendState{ID: "x", Health: HealthUnknown}

	healthy := s.HealthyBackends()
	ids := make([]string, len(healthy))
	for i, b := range healthy {
		ids[i] = b.ID
	}
	assert.ElementsMatch(t, []string{"h1", "h2"}, ids)
}

func TestSnapshot_VerifiedCopies(t *testing.T) {
	s := NewSnapshot("test")
	s.Backends["healthy"] = &BackendState{ID: "healthy", Health: HealthHealthy}
	s.Backends["down"] = &BackendState{ID: "down", Health: HealthUnhealthy}

	s.UpsertPlacement(&Placement{ArtifactID: "a", BackendID: "healthy", Status: PlacementVerified})
	s.UpsertPlacement(&Placement{ArtifactID: "a", BackendID: "down", Status: PlacementVerified})

	// A verified copy on an unhealthy backend does not count.
	assert.Equal(t, 1, s.VerifiedCopies("a"))
	assert.Equal(t, 0, s.VerifiedCopies("missing"))
}

func TestSnapshot_RecordCostBoundsHistory(t *testing.T) {
	s := NewSnapshot("test")
	for i := 0; i < maxCostHistory+20; i++ {
		s.RecordCost(CostSnapshot{TotalCostUSD: float64(i)})
	}
	assert.Len(t, s.CostHistory, maxCostHistory)
	// The oldest entries fall off the front.
	assert.Equal(t, float64(20), s.CostHistory[0].TotalCostUSD)
	assert.Equal(t, float64(maxCostHistory+19), s.LatestCost.TotalCostUSD)
}
