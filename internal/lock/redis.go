// internal/lock/redis.go
//
// Redis-backed lease lock.
//
// Context
// -------
// `SET key token NX PX ttl` is the acquire; a small Lua script is the
// release, deleting the key only when the stored token still matches the
// caller's lease.  Redis expiry enforces the lease TTL across process
// crashes and horizontal scale-out.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/siteloom/loom/internal/fault"
)

const keyPrefix = "loom:publish-lease:"

// releaseScript deletes the lease key only when the fencing token matches.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker on a shared Redis instance.
type RedisLocker struct {
	Client *redis.Client
}

// NewRedisLocker dials Redis and verifies connectivity.
func NewRedisLocker(addr, password string, db int) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisLocker{Client: client}, nil
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, siteID string, ttl time.Duration) (Lease, error) {
	token := newToken()
	ok, err := l.Client.SetNX(ctx, keyPrefix+siteID, token, ttl).Result()
	if err != nil {
		return Lease{}, fault.Wrap(fault.Transient, "lease acquire for site %s: %v", siteID, err)
	}
	if !ok {
		return Lease{}, fault.Wrap(fault.Conflict, "publish already in flight for site %s", siteID)
	}
	return Lease{SiteID: siteID, Token: token, ExpiresAt: time.Now().Add(ttl)}, nil
}

// Release implements Locker.  A lost or stolen token deletes nothing.
func (l *RedisLocker) Release(ctx context.Context, lease Lease) error {
	return releaseScript.Run(ctx, l.Client, []string{keyPrefix + lease.SiteID}, lease.Token).Err()
}

// Close shuts down the underlying client.
func (l *RedisLocker) Close() error { return l.Client.Close() }

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
