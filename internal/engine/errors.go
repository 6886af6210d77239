package engine

import (
	"errors"
	"fmt"

	"github.com/mariia-platform/backupd/internal/state"
)

// ErrStateStoreUnavailable aborts the calling operation with no partial
// mutation persisted. Alias of the store's sentinel so callers can match
// either package.
var ErrStateStoreUnavailable = state.ErrUnavailable

// ErrBackendUnavailable marks a transient per-backend failure. It is retried
// by the health monitor's next probe, never by a distribution mid-call.
var ErrBackendUnavailable = errors.New("backend unavailable")

// ErrInsufficientHealthyBackends fails a distributed-strategy call outright
// when fewer than minRedundancy backends are healthy.
var ErrInsufficientHealthyBackends = errors.New("insufficient healthy backends")

// ErrDistributionFailed is returned when uploads finished but fewer than
// minRedundancy succeeded. Callers may retry or escalate.
var ErrDistributionFailed = errors.New("distribution failed")

// ErrAllBackendsUnhealthy is returned when failover cannot find any healthy
// backend. The system keeps serving from the unhealthy active backend in
// degraded mode.
var ErrAllBackendsUnhealthy = errors.New("all backends unhealthy")

// ErrFailoverNotAutomatic is returned when a failover trigger fires while
// automatic failover is disabled; promotion waits for operator confirmation.
var ErrFailoverNotAutomatic = errors.New("automatic failover disabled, operator confirmation required")

// ErrUnknownArtifact is returned for operations on an artifact the store has
// never seen.
var ErrUnknownArtifact = errors.New("unknown artifact")

// ErrUnknownBackend is returned when an operation names a backend that is
// not configured.
var ErrUnknownBackend = errors.New("unknown backend")

// IntegrityError means an artifact has zero verified copies. A backup with
// no verified copy is treated as absent; the artifact must be re-submitted.
type IntegrityError struct {
	ArtifactID string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity failed: artifact %s has no verified copy", e.ArtifactID)
}

// IsIntegrityError reports whether err wraps an IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
