// internal/lock/memory_test.go
//
// Unit-tests for the in-process lease lock.
//
// Run: go test ./internal/lock -v

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/siteloom/loom/internal/fault"
)

func TestAcquireConflictWhileHeld(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "site-1", time.Minute)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := l.Acquire(ctx, "site-1", time.Minute); fault.Class(err) != fault.Conflict {
		t.Fatalf("second acquire: err = %v, want Conflict class", err)
	}

	// Other sites are unaffected.
	if _, err := l.Acquire(ctx, "site-2", time.Minute); err != nil {
		t.Fatalf("acquire other site: %v", err)
	}

	if err := l.Release(ctx, lease); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := l.Acquire(ctx, "site-1", time.Minute); err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
}

func TestExpiredLeaseIsReacquirable(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	old, err := l.Acquire(ctx, "site-1", time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	// TTL lapsed: the crashed worker's lease no longer blocks.
	fresh, err := l.Acquire(ctx, "site-1", time.Minute)
	if err != nil {
		t.Fatalf("re-acquire after expiry: %v", err)
	}

	// The stale token must not release the new holder's lease.
	if err := l.Release(ctx, old); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if _, err := l.Acquire(ctx, "site-1", time.Minute); fault.Class(err) != fault.Conflict {
		t.Fatalf("fresh lease gone after stale release: err = %v", err)
	}

	if err := l.Release(ctx, fresh); err != nil {
		t.Fatalf("release fresh: %v", err)
	}
}

func TestTokensAreUnique(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	a, _ := l.Acquire(ctx, "a", time.Minute)
	b, _ := l.Acquire(ctx, "b", time.Minute)
	if a.Token == "" || a.Token == b.Token {
		t.Fatalf("tokens must be unique and non-empty: %q vs %q", a.Token, b.Token)
	}
}
