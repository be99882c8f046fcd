// internal/vault/vault.go
//
// Vault client wrapper for Loom.
//
// Context
// -------
//   - Provides a concurrency-safe wrapper around the HashiCorp Vault Go SDK.
//   - Adds simple KV-v2 helpers, per-key caching, and `vault:` URI
//     resolution for the config loader.
//   - Only credential fields use Vault; everything else lives in YAML.
//
// Public workflow
// ---------------
//  1. cli, err := vault.New(ctx, log.Printf)           // during boot.
//  2. pw,  err := cli.Resolve(ctx, "vault:kv/loom/db#password")
//
// Environment expectations
// ------------------------
// • VAULT_ADDR  – scheme and host of the Vault server.
// • VAULT_TOKEN – initial token (falls back to ~/.vault-token).
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
)

// uriPrefix marks a config value as a Vault reference:
// vault:<mount>/<path>#<key>
const uriPrefix = "vault:"

// cacheTTL bounds how long a resolved secret is reused.  Config is loaded
// once per boot, so this mostly shields Reload() storms.
const cacheTTL = 5 * time.Minute

// Client is safe for concurrent use.  Create once at startup.  Zero value
// is invalid.
type Client struct {
	api   *vault.Client
	logFn func(string, ...any)

	cacheMu sync.RWMutex
	cache   map[string]cached // canonical path#key → value + expiry
}

type cached struct {
	val string
	exp time.Time
}

// New constructs a Vault client from the standard VAULT_* environment.
func New(ctx context.Context, logFn func(string, ...any)) (*Client, error) {
	if logFn == nil {
		logFn = func(string, ...any) {}
	}

	cfg := vault.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("vault env cfg: %w", err)
	}

	apiCli, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}
	if tok := os.Getenv("VAULT_TOKEN"); tok != "" {
		apiCli.SetToken(tok)
	}

	return &Client{
		api:   apiCli,
		logFn: logFn,
		cache: make(map[string]cached),
	}, nil
}

// Resolve turns a `vault:<mount>/<path>#<key>` URI into the secret value.
// Literal strings without the prefix are returned unchanged.
func (c *Client) Resolve(ctx context.Context, uri string) (string, error) {
	if !strings.HasPrefix(uri, uriPrefix) {
		return uri, nil
	}
	ref := strings.TrimPrefix(uri, uriPrefix)
	path, key, ok := strings.Cut(ref, "#")
	if !ok {
		return "", fmt.Errorf("vault uri %q missing #key fragment", uri)
	}
	return c.GetKV(ctx, path, key, cacheTTL)
}

// GetKV fetches a single key from a KV-v2 secret.  If ttl > 0 the result
// is cached for that duration; subsequent callers within the TTL receive
// the cached copy.
func (c *Client) GetKV(ctx context.Context, secretPath, key string, ttl time.Duration) (string, error) {
	if secretPath == "" || key == "" {
		return "", errors.New("secret path and key must be non-empty")
	}

	canonical := secretPath + "#" + key

	if ttl > 0 {
		c.cacheMu.RLock()
		if cv, ok := c.cache[canonical]; ok && time.Now().Before(cv.exp) {
			c.cacheMu.RUnlock()
			return cv.val, nil
		}
		c.cacheMu.RUnlock()
	}

	mount, rel := splitMount(secretPath)
	sec, err := c.api.KVv2(mount).Get(ctx, rel)
	if err != nil {
		return "", fmt.Errorf("vault get %s: %w", secretPath, err)
	}

	raw, ok := sec.Data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %q", key, secretPath)
	}
	sval, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("value at %s#%s is not a string", secretPath, key)
	}

	if ttl > 0 {
		c.cacheMu.Lock()
		c.cache[canonical] = cached{val: sval, exp: time.Now().Add(ttl)}
		c.cacheMu.Unlock()
	}

	return sval, nil
}

func splitMount(p string) (mount, rel string) {
	if p == "" {
		return "", ""
	}
	parts := strings.SplitN(p, "/", 2)
	mount = parts[0]
	if len(parts) == 2 {
		rel = parts[1]
	}
	return
}
