// evictor.go houses the eviction loop for Cache.  Every EvictInterval it
// scans the map and removes:
//
//   - resolutions idle longer than idleTTL
//   - least-recently-used resolutions when map size exceeds maxEntries
//
// Entries are plain structs, so eviction is purely about memory pressure;
// a re-resolved hostname simply reloads through the store.
package resolver

import (
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/siteloom/loom/internal/metrics"
)

func (c *Cache) evictLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.evictTicker.C:
		}

		now := time.Now().UnixNano()
		var count int

		// ----------------------------------------------------------------
		// Idle eviction pass
		// ----------------------------------------------------------------
		c.m.Range(func(key, value any) bool {
			count++
			ent := value.(*entry)
			idle := time.Duration(now - atomic.LoadInt64(&ent.lastSeen))
			if idle > c.idleTTL {
				c.m.Delete(key)
				count--
				zap.L().Debug("resolution evicted",
					zap.String("host", key.(string)),
					zap.Duration("idle", idle.Truncate(time.Second)))
				metrics.ResolverEvictTotal.Inc()
				metrics.ResolverEntries.Dec()
			}
			return true
		})

		// ----------------------------------------------------------------
		// LRU eviction pass
		// ----------------------------------------------------------------
		if c.maxEntries > 0 && count > c.maxEntries {
			type kv struct {
				key string
				at  int64
			}
			var all []kv
			c.m.Range(func(key, value any) bool {
				ent := value.(*entry)
				all = append(all, kv{key: key.(string), at: atomic.LoadInt64(&ent.lastSeen)})
				return true
			})
			sort.Slice(all, func(i, j int) bool { return all[i].at < all[j].at })
			for i := 0; i < count-c.maxEntries && i < len(all); i++ {
				if _, loaded := c.m.LoadAndDelete(all[i].key); loaded {
					zap.L().Debug("resolution evicted (LRU pressure)",
						zap.String("host", all[i].key))
					metrics.ResolverEvictTotal.Inc()
					metrics.ResolverEntries.Dec()
				}
			}
		}
	}
}
