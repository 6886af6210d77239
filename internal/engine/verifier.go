package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/mariia-platform/backupd/internal/backend"
	"github.com/mariia-platform/backupd/internal/state"
)

// Verifier compares per-backend content checksums against the artifact's
// source checksum. Checksum fetches happen outside the store's critical
// section; only the resulting transitions are applied atomically.
type Verifier struct {
	store    state.Store
	backends map[string]backend.Backend
	logger   *zap.Logger
}

// NewVerifier creates a verifier.
func NewVerifier(store state.Store, backends map[string]backend.Backend, logger *zap.Logger) *Verifier {
	return &Verifier{store: store, backends: backends, logger: logger}
}

// Verify checks every uploaded placement of the artifact. Matching
// placements become verified, mismatching ones become mismatched; a
// mismatched placement never returns to verified without a fresh upload.
// Zero verified copies is a hard error: the backup is treated as absent.
func (v *Verifier) Verify(ctx context.Context, artifactID string) (*VerificationResult, error) {
	snap, err := v.store.Get(ctx)
	if err != nil {
		return nil, err
	}

	if _, ok := snap.Artifacts[artifactID]; !ok {
		return nil, ErrUnknownArtifact
	}

	// Fetch remote checksums for every uploaded placement first.
	checksums := make(map[string]string)
	fetchErrs := make(map[string]error)
	for _, p := range snap.Placements[artifactID] {
		if p.Status != state.PlacementUploaded {
			continue
		}
		b, okb := snap.Backends[p.BackendID]
		target, okt := v.backends[p.BackendID]
		if !okb || !okt {
			fetchErrs[p.BackendID] = ErrUnknownBackend
			continue
		}
		info, err := target.Stat(ctx, b.LocationRef, artifactID)
		if err != nil {
			fetchErrs[p.BackendID] = err
			continue
		}
		checksums[p.BackendID] = info.Checksum
	}

	result := &VerificationResult{ArtifactID: artifactID}

	_, err = v.store.Update(ctx, func(s *state.Snapshot) error {
		a, ok := s.Artifacts[artifactID]
		if !ok {
			return ErrUnknownArtifact
		}

		result.Matches = result.Matches[:0]
		result.Mismatches = result.Mismatches[:0]

		for _, p := range s.Placements[artifactID] {
			switch p.Status {
			case state.PlacementVerified:
				result.Matches = append(result.Matches, p.BackendID)
				continue
			case state.PlacementMismatched:
				result.Mismatches = append(result.Mismatches, p.BackendID)
				continue
			case state.PlacementUploaded:
			default:
				continue
			}

			if err, failed := fetchErrs[p.BackendID]; failed {
				// Checksum fetch failure leaves the placement uploaded; the
				// next verification pass will retry it.
				v.logger.Warn("checksum fetch failed",
					zap.String("backend", p.BackendID),
					zap.String("artifact", artifactID),
					zap.Error(err))
				continue
			}

			remote, ok := checksums[p.BackendID]
			if !ok {
				continue
			}
			p.RemoteChecksum = remote
			if remote == a.SourceChecksum {
				p.Status = state.PlacementVerified
				result.Matches = append(result.Matches, p.BackendID)
			} else {
				p.Status = state.PlacementMismatched
				result.Mismatches = append(result.Mismatches, p.BackendID)
				v.logger.Warn("checksum mismatch",
					zap.String("backend", p.BackendID),
					zap.String("artifact", artifactID),
					zap.String("source", a.SourceChecksum),
					zap.String("remote", remote))
			}
		}

		// A backup with no verified copy is treated as absent.
		result.IntegrityFailed = !hasVerified(s, artifactID)
		a.IntegrityFailed = result.IntegrityFailed
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.IntegrityFailed {
		return result, &IntegrityError{ArtifactID: artifactID}
	}
	return result, nil
}

func hasVerified(s *state.Snapshot, artifactID string) bool {
	for _, p := range s.Placements[artifactID] {
		if p.Status == state.PlacementVerified {
			return true
		}
	}
	return false
}
