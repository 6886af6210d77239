package state

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable is returned when the store cannot persist a mutation. The
// calling operation must treat this as fatal; no partial state survives.
var ErrUnavailable = errors.New("state store unavailable")

// Mutator is applied to a deep copy of the current document inside the
// store's critical section. Returning an error aborts the update without
// persisting anything.
type Mutator func(*Snapshot) error

// Store is the single source of truth shared by the health monitor,
// distribution engine, failover controller, and cost tracker.
//
// Updates are serialized: the mutator runs on a copy, the result is written
// durably, and only then does the new document become visible. Callers must
// never perform network I/O inside a mutator.
type Store interface {
	// Get returns a deep copy of the current document.
	Get(ctx context.Context) (*Snapshot, error)

	// Update applies fn atomically and returns the committed document.
	Update(ctx context.Context, fn Mutator) (*Snapshot, error)

	// AppendFailoverEvent appends to the failover log and records the
	// event's sequence number as the running failover count.
	AppendFailoverEvent(ctx context.Context, ev FailoverEvent) error

	Close() error
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func now() time.Time { return time.Now().UTC() }
