// Package backend defines the capability contract each storage provider
// adapter implements, plus the local filesystem and S3-compatible adapters
// and the resilience wrappers around them.
package backend

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes one stored object as reported by the provider.
type ObjectInfo struct {
	SizeBytes  int64
	Checksum   string
	ModifiedAt time.Time
}

// Backend is the uniform contract for one storage target. Implementations
// must be safe for concurrent use; the distribution engine uploads to
// distinct backends in parallel.
type Backend interface {
	Name() string

	// Put stores an object under locationRef/key.
	Put(ctx context.Context, locationRef, key string, data io.Reader) error

	// Stat returns size and content checksum for a stored object.
	Stat(ctx context.Context, locationRef, key string) (ObjectInfo, error)

	// Probe is a lightweight reachability check used by the health monitor.
	Probe(ctx context.Context) error
}
