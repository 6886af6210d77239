package engine

import (
	"sort"

	"github.com/mariia-platform/backupd/internal/state"
)

// rankBackends orders candidates for the distributed strategy: configured
// role preference first, then estimated storage cost per GB, then ID so the
// order is deterministic.
func rankBackends(candidates []*state.BackendState, ratePerGB func(state.StorageTier) float64) []*state.BackendState {
	ranked := append([]*state.BackendState(nil), candidates...)

	sort.Slice(ranked, func(i, j int) bool {
		pi, pj := ranked[i].Role.Preference(), ranked[j].Role.Preference()
		if pi != pj {
			return pi < pj
		}
		ci, cj := ratePerGB(ranked[i].StorageTier), ratePerGB(ranked[j].StorageTier)
		if ci != cj {
			return ci < cj
		}
		return ranked[i].ID < ranked[j].ID
	})

	return ranked
}
