// internal/lock/memory.go
//
// In-process lease lock.
//
// Used by tests and single-node deployments that run without Redis.  The
// semantics mirror RedisLocker: TTL expiry frees an abandoned lease, and
// release checks the fencing token.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/siteloom/loom/internal/fault"
)

// MemoryLocker implements Locker with a mutex-guarded table.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]Lease
}

// NewMemoryLocker returns an empty lock table.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]Lease)}
}

// Acquire implements Locker.
func (l *MemoryLocker) Acquire(_ context.Context, siteID string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.leases[siteID]; ok && time.Now().Before(cur.ExpiresAt) {
		return Lease{}, fault.Wrap(fault.Conflict, "publish already in flight for site %s", siteID)
	}

	lease := Lease{SiteID: siteID, Token: newToken(), ExpiresAt: time.Now().Add(ttl)}
	l.leases[siteID] = lease
	return lease, nil
}

// Release implements Locker.  Stale tokens are ignored.
func (l *MemoryLocker) Release(_ context.Context, lease Lease) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.leases[lease.SiteID]; ok && cur.Token == lease.Token {
		delete(l.leases, lease.SiteID)
	}
	return nil
}
