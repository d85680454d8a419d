// Package lease provides exclusive run ownership. A worker must hold a run's
// lease before advancing it; no two workers may advance the same run
// concurrently. Two stores exist: an in-process store for single-node
// deployments and a Redis store for deployments where an engine restart may
// race a not-yet-expired previous owner.
package lease

import (
	"context"
	"errors"
	"time"
)

var ErrLeaseHeld = errors.New("run lease held by another owner")

// Store grants and releases per-run leases.
type Store interface {
	// Acquire takes the lease for runID on behalf of ownerID. It fails with
	// ErrLeaseHeld when a different owner holds it. Re-acquiring an owned
	// lease extends it.
	Acquire(ctx context.Context, runID, ownerID string, ttl time.Duration) error

	// Release gives up the lease. Releasing a lease held by another owner
	// or not held at all is a no-op.
	Release(ctx context.Context, runID, ownerID string) error
}
