// internal/lock/lease.go
//
// Per-site publish lease.
//
// Context
// -------
// "One publish in flight per site" is the only cross-request mutual
// exclusion the pipeline needs.  The lock is lease-based: every hold
// carries a TTL and a fencing token, so a crashed worker cannot wedge a
// site's ability to publish—its lease simply expires—and a worker whose
// lease has lapsed cannot release a lock someone else re-acquired.
//
// A second publish request while a lease is held is rejected with
// fault.Conflict, never queued; queuing would let two snapshots race to
// become "live" out of order.
package lock

import (
	"context"
	"time"
)

// Lease is the proof of exclusive hold.  The Token fences releases: only
// the holder of the current token may release the lock.
type Lease struct {
	SiteID    string
	Token     string
	ExpiresAt time.Time
}

// Locker grants per-site leases.
type Locker interface {
	// Acquire grants the lease, or returns a fault.Conflict-classed error
	// while another lease is active.
	Acquire(ctx context.Context, siteID string, ttl time.Duration) (Lease, error)

	// Release ends the lease.  A stale token (expired and re-acquired by
	// someone else) is a no-op, not an error.
	Release(ctx context.Context, lease Lease) error
}
