// internal/verify/engine.go
//
// Domain verification engine.
//
// Context
// -------
// Drives a custom-domain binding through UNBOUND → CHALLENGE_ISSUED →
// DNS_PENDING → VERIFIED, with REJECTED reachable from either waiting
// state.  The position in the ladder lives on the binding row, not in
// process memory: every transition is a CAS in internal/binding, so any
// worker can resume a half-verified domain after a restart, and two
// workers racing on the same hostname cannot double-apply a step.
//
// Polling is per-hostname, backoff-spaced, bounded by a poll budget, and
// cancellable—an abandoned attachment stops consuming DNS lookups the
// moment Cancel runs.
//
// Notes
// -----
// • Tokens come from crypto/rand and are never reused: a re-submission
//   after REJECTED starts over with a fresh claim and a fresh token.
// • Oxford commas, two spaces after periods.
package verify

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/siteloom/loom/internal/binding"
	"github.com/siteloom/loom/internal/fault"
	"github.com/siteloom/loom/internal/metrics"
	"github.com/siteloom/loom/internal/resolver"
)

// Invalidator is the resolver-cache hook the engine pokes when a binding
// becomes (or stops being) routable.
type Invalidator interface {
	Invalidate(hostname string)
}

// Config bounds the polling behaviour.
type Config struct {
	PollInterval time.Duration // first probe spacing; grows with backoff
	PollBudget   time.Duration // give up (REJECTED) after this long
	ChallengeTTL time.Duration // unused token lifetime before REJECTED
}

// Engine owns all in-flight verification watches.
type Engine struct {
	DB     *sqlx.DB
	Prover Prover
	Cache  Invalidator
	Cfg    Config

	mu      sync.Mutex
	gen     uint64
	watches map[string]watchHandle
	wg      sync.WaitGroup
}

// watchHandle tags each registration with a generation so a superseded
// poll goroutine can tell its own entry from its replacement's.
type watchHandle struct {
	cancel context.CancelFunc
	gen    uint64
}

// New constructs an Engine.  Call Resume to pick up bindings left waiting
// by a previous process, and Close on shutdown.
func New(db *sqlx.DB, prover Prover, cache Invalidator, cfg Config) *Engine {
	return &Engine{
		DB:      db,
		Prover:  prover,
		Cache:   cache,
		Cfg:     cfg,
		watches: make(map[string]watchHandle),
	}
}

// Attach claims hostname for siteID and issues the ownership challenge.
// The returned binding carries the token the tenant must publish as a TXT
// record under ChallengeHost+hostname.
//
// A hostname already VERIFIED for a different site is rejected outright,
// never queued or overwritten.  A REJECTED prior attempt is replaced by a
// fresh claim with a fresh token.
func (e *Engine) Attach(ctx context.Context, siteID, hostname string) (*binding.Record, error) {
	host := resolver.Canonical(hostname)

	existing, err := binding.ByHostname(ctx, e.DB, host)
	switch {
	case err == nil && existing.State == binding.StateRejected:
		if err := binding.Reissue(ctx, e.DB, host, siteID); err != nil {
			return nil, err
		}
	case err == nil && existing.SiteID != siteID:
		return nil, fault.Wrap(fault.Conflict, "hostname %q belongs to another site", host)
	case err == nil && existing.State != binding.StateUnbound:
		// Same site, challenge already in flight or verified.
		return existing, nil
	case err != nil && fault.Class(err) == fault.NotFound:
		if err := binding.Claim(ctx, e.DB, &binding.Record{
			Hostname: host,
			SiteID:   siteID,
			Type:     binding.TypeCustomDomain,
		}); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	token := newToken()
	if err := binding.Transition(ctx, e.DB, host,
		binding.StateUnbound, binding.StateChallengeIssued, token); err != nil {
		return nil, err
	}
	e.Cache.Invalidate(host)

	rec, err := binding.ByHostname(ctx, e.DB, host)
	if err != nil {
		return nil, err
	}

	e.Watch(host)
	zap.L().Info("domain challenge issued",
		zap.String("host", host), zap.String("site", siteID))
	return rec, nil
}

// Watch starts (or restarts) the poll loop for hostname.  Idempotent: an
// existing watch for the hostname is cancelled first.
func (e *Engine) Watch(hostname string) {
	host := resolver.Canonical(hostname)

	e.mu.Lock()
	if h, ok := e.watches[host]; ok {
		h.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.gen++
	gen := e.gen
	e.watches[host] = watchHandle{cancel: cancel, gen: gen}
	e.mu.Unlock()

	e.wg.Add(1)
	go e.poll(ctx, host, gen)
}

// Cancel stops polling hostname.  The binding row is left as-is; callers
// that abandon the attachment should also Delete the binding.
func (e *Engine) Cancel(hostname string) {
	host := resolver.Canonical(hostname)
	e.mu.Lock()
	if h, ok := e.watches[host]; ok {
		h.cancel()
		delete(e.watches, host)
	}
	e.mu.Unlock()
}

// unwatch removes the registration owned by gen.  A superseded poll
// goroutine must not tear down the watch that replaced it.
func (e *Engine) unwatch(host string, gen uint64) {
	e.mu.Lock()
	if h, ok := e.watches[host]; ok && h.gen == gen {
		h.cancel()
		delete(e.watches, host)
	}
	e.mu.Unlock()
}

// Resume restarts watches for every binding a previous process left in a
// waiting state.  Called once on boot.
func (e *Engine) Resume(ctx context.Context) error {
	for _, state := range []string{binding.StateChallengeIssued, binding.StateDNSPending} {
		rows, err := binding.InState(ctx, e.DB, state)
		if err != nil {
			return err
		}
		for _, r := range rows {
			e.Watch(r.Hostname)
		}
	}
	return nil
}

// Close cancels all watches and waits for their loops to exit.
func (e *Engine) Close() {
	e.mu.Lock()
	for host, h := range e.watches {
		h.cancel()
		delete(e.watches, host)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// poll advances one hostname until it is terminal, the budget runs out,
// or the watch is cancelled.
func (e *Engine) poll(ctx context.Context, host string, gen uint64) {
	defer e.wg.Done()
	defer e.unwatch(host, gen)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.Cfg.PollInterval
	bo.MaxInterval = 5 * e.Cfg.PollInterval
	bo.MaxElapsedTime = e.Cfg.PollBudget

	for {
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			e.reject(ctx, host, "verification window expired")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		rec, err := binding.ByHostname(ctx, e.DB, host)
		if err != nil {
			if fault.Class(err) == fault.NotFound {
				return // binding deleted underneath us
			}
			continue
		}

		metrics.DomainPollTotal.Inc()
		switch rec.State {
		case binding.StateChallengeIssued:
			e.stepOwnership(ctx, rec)
		case binding.StateDNSPending:
			if e.stepRouting(ctx, rec) {
				return
			}
		default:
			return // VERIFIED or REJECTED by someone else
		}
	}
}

// stepOwnership probes the TXT challenge and advances to DNS_PENDING.
func (e *Engine) stepOwnership(ctx context.Context, rec *binding.Record) {
	if rec.VerificationToken == nil {
		return
	}
	ok, err := e.Prover.CheckOwnership(ctx, rec.Hostname, *rec.VerificationToken)
	if err != nil || !ok {
		return
	}
	if err := binding.Transition(ctx, e.DB, rec.Hostname,
		binding.StateChallengeIssued, binding.StateDNSPending, ""); err != nil {
		return // another worker won the CAS
	}
	zap.L().Info("domain ownership proven", zap.String("host", rec.Hostname))
}

// stepRouting probes ingress routing and finishes verification.  Returns
// true when the walk is over.
func (e *Engine) stepRouting(ctx context.Context, rec *binding.Record) bool {
	ok, err := e.Prover.CheckRouting(ctx, rec.Hostname)
	if err != nil || !ok {
		return false
	}
	if err := binding.Transition(ctx, e.DB, rec.Hostname,
		binding.StateDNSPending, binding.StateVerified, ""); err != nil {
		return true
	}
	e.Cache.Invalidate(rec.Hostname)
	metrics.DomainVerifiedTotal.Inc()
	zap.L().Info("domain verified",
		zap.String("host", rec.Hostname), zap.String("site", rec.SiteID))
	return true
}

// reject marks the binding REJECTED from whichever waiting state it is in.
func (e *Engine) reject(ctx context.Context, host, reason string) {
	for _, from := range []string{binding.StateChallengeIssued, binding.StateDNSPending} {
		if err := binding.Transition(ctx, e.DB, host, from, binding.StateRejected, ""); err == nil {
			e.Cache.Invalidate(host)
			zap.L().Warn("domain verification rejected",
				zap.String("host", host), zap.String("reason", reason))
			return
		}
	}
}

// newToken returns 32 random bytes, base64url without padding (43 chars).
func newToken() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
