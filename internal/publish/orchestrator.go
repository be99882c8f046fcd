// internal/publish/orchestrator.go
//
// Publish orchestrator.
//
// Context
// -------
// One publish = one snapshot = at most one deployment going live.  The
// trigger endpoint calls Request, which does only the synchronous,
// conflict-sensitive work—lease, snapshot, deployment row—and returns a
// deployment id immediately.  A worker goroutine then advances the state
// machine, checkpointing every stage on the deployment row so a restarted
// process can pick the publish back up where it stopped instead of
// holding an in-memory wait.
//
// Failure policy
// --------------
//   - Renderer validation errors are terminal; bad input does not improve
//     with retries.
//   - Upload/deploy transience is retried inside the publisher with
//     bounded backoff; exhaustion fails the publish.
//   - The outer budget caps the whole workflow, domain verification
//     included.
//   - The lease is released on every terminal transition; its TTL covers
//     the crash case.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/siteloom/loom/internal/binding"
	"github.com/siteloom/loom/internal/deploy"
	"github.com/siteloom/loom/internal/fault"
	"github.com/siteloom/loom/internal/lock"
	"github.com/siteloom/loom/internal/metrics"
	"github.com/siteloom/loom/internal/publisher"
	"github.com/siteloom/loom/internal/render"
	"github.com/siteloom/loom/internal/resolver"
	"github.com/siteloom/loom/internal/site"
	"github.com/siteloom/loom/internal/snapshot"
	"github.com/siteloom/loom/internal/verify"
)

// Config bounds one publish workflow.
type Config struct {
	PlatformDomain string
	Workers        int
	RenderTimeout  time.Duration
	Budget         time.Duration // outer cap, all stages included
	LockTTL        time.Duration
	AwaitInterval  time.Duration // DOMAIN_PENDING re-check spacing
}

// Request is what the trigger surface hands the orchestrator.
type Request struct {
	SiteID     string
	Domain     string // optional custom domain to attach
	DomainType string // binding.TypeCustomDomain when Domain is set
}

// Orchestrator sequences snapshot → render → upload → domain → live.
type Orchestrator struct {
	DB       *sqlx.DB
	Renderer render.Renderer
	Pub      publisher.Publisher
	Locker   lock.Locker
	Engine   *verify.Engine
	Cache    verify.Invalidator
	Cfg      Config

	sem chan struct{}
}

// New constructs an Orchestrator with a bounded worker pool.
func New(db *sqlx.DB, r render.Renderer, pub publisher.Publisher, locker lock.Locker,
	engine *verify.Engine, cache verify.Invalidator, cfg Config) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.AwaitInterval <= 0 {
		cfg.AwaitInterval = 5 * time.Second
	}
	return &Orchestrator{
		DB:       db,
		Renderer: r,
		Pub:      pub,
		Locker:   locker,
		Engine:   engine,
		Cache:    cache,
		Cfg:      cfg,
		sem:      make(chan struct{}, cfg.Workers),
	}
}

// Trigger starts a publish and returns its deployment immediately.  A
// publish already in flight for the site yields fault.Conflict—rejected,
// not queued, so two snapshots can never race to become live out of
// order.
func (o *Orchestrator) Trigger(ctx context.Context, req Request) (*deploy.Record, error) {
	rec, err := site.ByID(ctx, o.DB, req.SiteID)
	if err != nil {
		return nil, err
	}

	lease, err := o.Locker.Acquire(ctx, rec.ID, o.Cfg.LockTTL)
	if err != nil {
		return nil, err
	}

	snap, err := snapshot.Take(ctx, o.DB, rec.ID)
	if err != nil {
		_ = o.Locker.Release(ctx, lease)
		return nil, err
	}

	var pending *string
	if req.Domain != "" {
		d := resolver.Canonical(req.Domain)
		if rec.CustomDomain == nil || *rec.CustomDomain != d {
			pending = &d
		}
	}

	dep := &deploy.Record{
		ID:              uuid.NewString(),
		SiteID:          rec.ID,
		SnapshotVersion: snap.Version,
		Status:          deploy.StatusPending,
		PublishState:    StateRequested,
		PendingDomain:   pending,
	}
	if err := deploy.Create(ctx, o.DB, dep); err != nil {
		_ = o.Locker.Release(ctx, lease)
		return nil, err
	}

	go o.run(dep, lease)
	return dep, nil
}

// Status reports the persisted position of one publish.
func (o *Orchestrator) Status(ctx context.Context, deploymentID string) (*deploy.Record, error) {
	return deploy.ByID(ctx, o.DB, deploymentID)
}

// Resume picks up every PENDING deployment left behind by a previous
// process.  A deployment whose site lease is held by another live worker
// is skipped; the lease TTL decides who owns an orphan.
func (o *Orchestrator) Resume(ctx context.Context) error {
	rows, err := deploy.Resumable(ctx, o.DB)
	if err != nil {
		return err
	}
	for i := range rows {
		dep := rows[i]
		lease, err := o.Locker.Acquire(ctx, dep.SiteID, o.Cfg.LockTTL)
		if err != nil {
			if fault.Class(err) == fault.Conflict {
				continue // someone is already driving this site
			}
			return err
		}
		zap.L().Info("resuming publish",
			zap.String("deployment", dep.ID), zap.String("state", dep.PublishState))
		go o.run(&dep, lease)
	}
	return nil
}

// Reap fails PENDING deployments that have sat untouched longer than
// olderThan.  A deployment whose site lease is still held is skipped: its
// worker is alive and merely slow.  Returns how many were failed.
func (o *Orchestrator) Reap(ctx context.Context, olderThan time.Duration) (int, error) {
	rows, err := deploy.StalledBefore(ctx, o.DB, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}

	reaped := 0
	for i := range rows {
		dep := rows[i]
		lease, err := o.Locker.Acquire(ctx, dep.SiteID, o.Cfg.LockTTL)
		if err != nil {
			if fault.Class(err) == fault.Conflict {
				continue
			}
			return reaped, err
		}
		reason := "publish stalled in " + dep.PublishState + "; abandoned by reconciliation"
		if err := deploy.MarkFailed(ctx, o.DB, dep.ID, StateFailed, reason); err != nil {
			_ = o.Locker.Release(ctx, lease)
			return reaped, err
		}
		_ = o.Locker.Release(ctx, lease)
		metrics.PublishTotal.WithLabelValues(StateFailed).Inc()
		reaped++
		zap.L().Warn("stalled publish reaped",
			zap.String("deployment", dep.ID),
			zap.String("site", dep.SiteID),
			zap.String("state", dep.PublishState))
	}
	return reaped, nil
}

// run advances one publish to a terminal state.  Every stage transition
// is checkpointed before the stage executes, so a crash resumes at the
// stage that was interrupted.
func (o *Orchestrator) run(dep *deploy.Record, lease lock.Lease) {
	o.sem <- struct{}{}
	metrics.PublishInFlight.Inc()
	defer func() {
		metrics.PublishInFlight.Dec()
		<-o.sem
	}()

	ctx, cancel := context.WithTimeout(context.Background(), o.Cfg.Budget)
	defer cancel()
	defer o.Locker.Release(context.Background(), lease)

	startState := dep.PublishState

	err := o.advance(ctx, dep)
	switch {
	case err == nil:
		metrics.PublishTotal.WithLabelValues(StateLive).Inc()
		zap.L().Info("publish live",
			zap.String("deployment", dep.ID), zap.String("site", dep.SiteID))
	default:
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = fault.Wrap(fault.Timeout, "publish budget exceeded in %s", dep.PublishState).Error()
		}
		_ = deploy.MarkFailed(context.Background(), o.DB, dep.ID, StateFailed, reason)
		metrics.PublishTotal.WithLabelValues(StateFailed).Inc()
		zap.L().Warn("publish failed",
			zap.String("deployment", dep.ID),
			zap.String("site", dep.SiteID),
			zap.String("from_state", startState),
			zap.String("reason", reason))
	}
}

// advance walks the remaining stages for dep.  dep.PublishState tells it
// where to start; stages already completed by a previous worker are
// skipped.  Rendering and uploading are idempotent (frozen snapshot,
// content-addressed uploads), so re-running an interrupted stage is safe.
func (o *Orchestrator) advance(ctx context.Context, dep *deploy.Record) error {
	if dep.PublishState == StateRequested || dep.PublishState == StateSnapshotting ||
		dep.PublishState == StateRendering || dep.PublishState == StateUploading {

		if err := o.checkpoint(ctx, dep, StateSnapshotting); err != nil {
			return err
		}
		snap, err := snapshot.Get(ctx, o.DB, dep.SiteID, dep.SnapshotVersion)
		if err != nil {
			return err
		}
		rec, err := site.ByID(ctx, o.DB, dep.SiteID)
		if err != nil {
			return err
		}

		if err := o.checkpoint(ctx, dep, StateRendering); err != nil {
			return err
		}
		result, err := o.renderStage(ctx, rec.TemplateID, snap.Document)
		if err != nil {
			return err
		}
		for _, w := range result.Warnings {
			zap.L().Warn("render warning",
				zap.String("deployment", dep.ID), zap.String("warning", w))
		}

		if err := o.checkpoint(ctx, dep, StateUploading); err != nil {
			return err
		}
		located, deployed, err := o.Pub.Publish(ctx, dep.SiteID, dep.SnapshotVersion, result.Artifacts)
		if err != nil {
			return err
		}
		loc, _ := json.Marshal(located)
		if err := deploy.SetArtifacts(ctx, o.DB, dep.ID, loc, deployed.URL); err != nil {
			return err
		}
	}

	if dep.PendingDomain != nil {
		if err := o.checkpoint(ctx, dep, StateDomainPending); err != nil {
			return err
		}
		if err := o.domainStage(ctx, dep); err != nil {
			return err
		}
	}

	return o.goLive(ctx, dep)
}

// renderStage runs the renderer under its own stage budget.
func (o *Orchestrator) renderStage(ctx context.Context, templateID string, doc json.RawMessage) (render.Result, error) {
	rctx := ctx
	if o.Cfg.RenderTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, o.Cfg.RenderTimeout)
		defer cancel()
	}
	result, err := o.Renderer.Render(rctx, templateID, doc)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return render.Result{}, fault.Wrap(fault.Timeout, "render stage budget exceeded")
		}
		return render.Result{}, err
	}
	return result, nil
}

// domainStage attaches the pending domain and waits for verification.
// The wait is a persisted-state poll, not a held lock on progress: a
// restarted worker re-enters here and keeps waiting against the binding
// row.
func (o *Orchestrator) domainStage(ctx context.Context, dep *deploy.Record) error {
	host := *dep.PendingDomain

	if _, err := o.Engine.Attach(ctx, dep.SiteID, host); err != nil {
		return err
	}

	ticker := time.NewTicker(o.Cfg.AwaitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fault.Wrap(fault.Timeout, "domain %q not verified within publish budget", host)
		case <-ticker.C:
		}

		rec, err := binding.ByHostname(ctx, o.DB, host)
		if err != nil {
			return err
		}
		switch rec.State {
		case binding.StateVerified:
			if rec.SiteID != dep.SiteID {
				return fault.Wrap(fault.Conflict, "hostname %q verified for another site", host)
			}
			return site.SetCustomDomain(ctx, o.DB, dep.SiteID, host)
		case binding.StateRejected:
			return fault.Wrap(fault.Validation, "domain %q verification rejected", host)
		}
	}
}

// goLive is the only place Site.published flips.  The site update and the
// deployment SUCCEEDED mark share one transaction, so a reader can never
// observe published pointing at a deployment that is not yet successful.
func (o *Orchestrator) goLive(ctx context.Context, dep *deploy.Record) error {
	rec, err := site.ByID(ctx, o.DB, dep.SiteID)
	if err != nil {
		return err
	}

	now := time.Now()
	tx, err := o.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := site.MarkPublishedTx(ctx, tx, dep.SiteID, dep.ID, now); err != nil {
		return err
	}
	if err := deploy.MarkSucceededTx(ctx, tx, dep.ID, StateLive, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	// Write-through invalidation: the resolver must see the flip now, not
	// after a TTL.
	o.Cache.Invalidate(rec.Hostname(o.Cfg.PlatformDomain))
	if rec.CustomDomain != nil {
		o.Cache.Invalidate(*rec.CustomDomain)
	}
	if dep.PendingDomain != nil {
		o.Cache.Invalidate(*dep.PendingDomain)
	}
	return nil
}

// checkpoint persists the stage transition.  A Conflict here means the
// deployment went terminal underneath us (e.g., an operator failed it);
// stop rather than fight.
func (o *Orchestrator) checkpoint(ctx context.Context, dep *deploy.Record, state string) error {
	if err := deploy.SetState(ctx, o.DB, dep.ID, state); err != nil {
		return err
	}
	dep.PublishState = state
	return nil
}
