// internal/resolver/resolver.go
//
// Hostname → site resolution cache.
//
// Context
// -------
// Every inbound request asks "which site does this hostname serve" before
// anything else can happen, so the answer must come from memory in the
// common case.  The cache lazily loads resolutions through a Store,
// collapses concurrent misses with singleflight, and keeps entries until
// they are explicitly invalidated or evicted on idle TTL / LRU pressure.
//
// Freshness contract
// ------------------
// Registry writers call Invalidate(hostname) synchronously on every
// binding or publish transition, so there is no eventual-consistency
// window for "published" flips: a TTL alone would leak unpublished or
// deleted content.  Conversely a store outage does not tear down the
// cache—lookups keep serving the last-known-good entry, and only a
// hostname with no entry at all degrades to NotFound.
//
// Notes
// -----
// • Reserved platform hostnames (apex + www alias) never resolve, even if
//   a tenant claims a colliding binding.
// • Oxford commas, two spaces after periods.
package resolver

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/siteloom/loom/internal/fault"
	"github.com/siteloom/loom/internal/metrics"
)

// Static defaults.  Override via the resolver section of the config.
const (
	IdleTTL       = 30 * time.Minute
	MaxEntries    = 10000
	EvictInterval = 5 * time.Minute
)

// Resolution is the answer the routing layer acts on.
type Resolution struct {
	SiteID    string
	Published bool
}

// Store loads a resolution from the registry.  Implementations return a
// fault.NotFound-classed error when no routable binding exists for the
// hostname, and any other error for infrastructure failures.
type Store interface {
	Lookup(ctx context.Context, hostname string) (Resolution, error)
}

type entry struct {
	res      Resolution
	lastSeen int64 // UnixNano
}

// Cache lazily loads resolutions, stores them in a sync.Map, and evicts
// them on idle TTL or LRU pressure.  Safe for concurrent use.
type Cache struct {
	store       Store
	reserved    map[string]struct{}
	sfg         singleflight.Group
	m           sync.Map
	evictTicker *time.Ticker
	done        chan struct{}
	idleTTL     time.Duration
	maxEntries  int
}

// New constructs a Cache and starts the background evictor.  reserved
// lists hostnames that must always fall through to platform pages.
func New(store Store, reserved []string, idleTTL time.Duration, maxEntries int) *Cache {
	if idleTTL <= 0 {
		idleTTL = IdleTTL
	}
	if maxEntries <= 0 {
		maxEntries = MaxEntries
	}
	c := &Cache{
		store:      store,
		reserved:   make(map[string]struct{}, len(reserved)),
		done:       make(chan struct{}),
		idleTTL:    idleTTL,
		maxEntries: maxEntries,
	}
	for _, h := range reserved {
		c.reserved[Canonical(h)] = struct{}{}
	}
	c.evictTicker = time.NewTicker(EvictInterval)
	go c.evictLoop()
	return c
}

// Resolve answers for one inbound Host header.  The hostname is
// canonicalized before lookup.  A hostname with no routable binding
// returns a fault.NotFound-classed error, not a failure.
func (c *Cache) Resolve(ctx context.Context, hostname string) (Resolution, error) {
	host := Canonical(hostname)
	if host == "" {
		return Resolution{}, fault.Wrap(fault.NotFound, "empty hostname")
	}
	if _, ok := c.reserved[host]; ok {
		return Resolution{}, fault.Wrap(fault.NotFound, "reserved hostname %q", host)
	}

	if v, ok := c.m.Load(host); ok {
		ent := v.(*entry)
		atomic.StoreInt64(&ent.lastSeen, time.Now().UnixNano())
		return ent.res, nil
	}

	v, err, _ := c.sfg.Do(host, func() (interface{}, error) {
		// Double-check after the singleflight barrier.
		if v, ok := c.m.Load(host); ok {
			ent := v.(*entry)
			atomic.StoreInt64(&ent.lastSeen, time.Now().UnixNano())
			return ent.res, nil
		}
		res, err := c.store.Lookup(ctx, host)
		if err != nil {
			if fault.Class(err) == nil {
				// Infrastructure failure with no cached entry: read
				// availability says answer NotFound, not 500.
				metrics.ResolverLoadErrorsTotal.Inc()
				return nil, fault.Wrap(fault.NotFound, "store unavailable for %q", host)
			}
			return nil, err
		}
		c.m.Store(host, &entry{res: res, lastSeen: time.Now().UnixNano()})
		metrics.ResolverLoadTotal.Inc()
		metrics.ResolverEntries.Inc()
		return res, nil
	})
	if err != nil {
		return Resolution{}, err
	}
	return v.(Resolution), nil
}

// Invalidate drops the cached entry for hostname.  Registry writers call
// it synchronously whenever a binding transitions state or a site's
// published flag changes, so the next lookup re-reads the store.
func (c *Cache) Invalidate(hostname string) {
	host := Canonical(hostname)
	if _, loaded := c.m.LoadAndDelete(host); loaded {
		metrics.ResolverEntries.Dec()
	}
}

// Close stops the background evictor.
func (c *Cache) Close() {
	c.evictTicker.Stop()
	close(c.done)
}

// Canonical lowercases the hostname, strips any :port suffix, and trims a
// trailing dot so "Example.COM.:8443" and "example.com" share one entry.
func Canonical(hostname string) string {
	h := strings.ToLower(strings.TrimSpace(hostname))
	if i := strings.IndexByte(h, ':'); i != -1 {
		h = h[:i]
	}
	return strings.TrimSuffix(h, ".")
}
