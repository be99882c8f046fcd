// internal/resolver/resolver_test.go
//
// Unit-tests for the hostname resolver cache.
//
// Context
// -------
// A fakeStore stands in for the SQL-backed registry so we can count
// loads and inject failures.  The tests cover:
//
//   • Canonicalization (case, port, trailing dot share one entry)
//   • Cache hit (second Resolve never touches the store)
//   • Reserved hostnames never resolve
//   • Write-through invalidation forces a re-read
//   • Store outage with no cached entry degrades to NotFound
//
// Run: go test ./internal/resolver -v

package resolver

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/siteloom/loom/internal/fault"
)

// fakeStore satisfies Store with injectable results.
type fakeStore struct {
	loads int64
	res   Resolution
	err   error
}

func (f *fakeStore) Lookup(ctx context.Context, hostname string) (Resolution, error) {
	atomic.AddInt64(&f.loads, 1)
	if f.err != nil {
		return Resolution{}, f.err
	}
	return f.res, nil
}

func TestResolveCachesAndCanonicalizes(t *testing.T) {
	store := &fakeStore{res: Resolution{SiteID: "s1", Published: true}}
	cache := New(store, nil, time.Minute, 100)
	defer cache.Close()

	ctx := context.Background()
	for _, host := range []string{"acme.sites.loom.dev", "ACME.Sites.Loom.Dev:8443", "acme.sites.loom.dev."} {
		rsl, err := cache.Resolve(ctx, host)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", host, err)
		}
		if rsl.SiteID != "s1" || !rsl.Published {
			t.Fatalf("Resolve(%q) = %+v", host, rsl)
		}
	}

	if n := atomic.LoadInt64(&store.loads); n != 1 {
		t.Fatalf("store loads = %d, want 1 (all spellings share one entry)", n)
	}
}

func TestResolveReservedHostname(t *testing.T) {
	store := &fakeStore{res: Resolution{SiteID: "s1"}}
	cache := New(store, []string{"Sites.Loom.Dev"}, time.Minute, 100)
	defer cache.Close()

	_, err := cache.Resolve(context.Background(), "sites.loom.dev:443")
	if fault.Class(err) != fault.NotFound {
		t.Fatalf("reserved hostname: err = %v, want NotFound class", err)
	}
	if atomic.LoadInt64(&store.loads) != 0 {
		t.Fatalf("reserved hostname must never reach the store")
	}
}

func TestInvalidateForcesReload(t *testing.T) {
	store := &fakeStore{res: Resolution{SiteID: "s1", Published: false}}
	cache := New(store, nil, time.Minute, 100)
	defer cache.Close()

	ctx := context.Background()
	if rsl, _ := cache.Resolve(ctx, "acme.sites.loom.dev"); rsl.Published {
		t.Fatal("expected unpublished before flip")
	}

	// Registry write: site goes live, cache invalidated write-through.
	store.res = Resolution{SiteID: "s1", Published: true}
	cache.Invalidate("ACME.sites.loom.dev")

	rsl, err := cache.Resolve(ctx, "acme.sites.loom.dev")
	if err != nil {
		t.Fatalf("Resolve after invalidate: %v", err)
	}
	if !rsl.Published {
		t.Fatal("expected published after invalidate + reload")
	}
	if n := atomic.LoadInt64(&store.loads); n != 2 {
		t.Fatalf("store loads = %d, want 2", n)
	}
}

func TestStoreOutageDegradesToNotFound(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	cache := New(store, nil, time.Minute, 100)
	defer cache.Close()

	_, err := cache.Resolve(context.Background(), "acme.sites.loom.dev")
	if fault.Class(err) != fault.NotFound {
		t.Fatalf("outage: err = %v, want NotFound class", err)
	}
}

func TestStoreNotFoundPassesThrough(t *testing.T) {
	store := &fakeStore{err: fault.Wrap(fault.NotFound, "no binding")}
	cache := New(store, nil, time.Minute, 100)
	defer cache.Close()

	_, err := cache.Resolve(context.Background(), "nobody.example.com")
	if fault.Class(err) != fault.NotFound {
		t.Fatalf("err = %v, want NotFound class", err)
	}
	// Misses are not cached; the next lookup asks the store again.
	_, _ = cache.Resolve(context.Background(), "nobody.example.com")
	if n := atomic.LoadInt64(&store.loads); n != 2 {
		t.Fatalf("store loads = %d, want 2", n)
	}
}

func TestCanonical(t *testing.T) {
	cases := map[string]string{
		"Example.COM":      "example.com",
		"example.com:8080": "example.com",
		"example.com.":     "example.com",
		"  example.com  ":  "example.com",
		"":                 "",
	}
	for in, want := range cases {
		if got := Canonical(in); got != want {
			t.Errorf("Canonical(%q) = %q, want %q", in, got, want)
		}
	}
}
