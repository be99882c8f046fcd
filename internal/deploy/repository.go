// internal/deploy/repository.go
//
// Deployment-table query helpers.
//
// Context
// -------
// The orchestrator checkpoints its progress here: every stage transition
// updates publish_state, and terminal outcomes update status.  The API
// publish-status surface reads these rows; callers never hold a
// connection open to watch a publish.
//
// Notes
// -----
//   - MarkSucceededTx must share a transaction with site.MarkPublishedTx;
//     see the orchestrator's go-live step.
//   - Oxford commas, two spaces after periods.
package deploy

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/siteloom/loom/internal/fault"
)

const columns = `id, site_id, snapshot_version, status, publish_state,
               pending_domain, artifact_location, deployed_url, error,
               started_at, finished_at`

// Create inserts a PENDING deployment row at the start of a publish.
func Create(ctx context.Context, db *sqlx.DB, rec *Record) error {
	pending := sql.NullString{}
	if rec.PendingDomain != nil {
		pending = sql.NullString{String: *rec.PendingDomain, Valid: true}
	}
	_, err := db.ExecContext(ctx, `
        INSERT INTO deployment
               (id, site_id, snapshot_version, status, publish_state, pending_domain)
        VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SiteID, rec.SnapshotVersion, StatusPending, rec.PublishState, pending)
	return err
}

// ByID fetches one deployment row.
func ByID(ctx context.Context, db *sqlx.DB, id string) (*Record, error) {
	const q = `
        SELECT ` + columns + `
        FROM   deployment
        WHERE  id = ?
        LIMIT  1`
	var rec Record
	if err := db.GetContext(ctx, &rec, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.Wrap(fault.NotFound, "deployment %s", id)
		}
		return nil, err
	}
	return &rec, nil
}

// SetState checkpoints the orchestrator's position for a non-terminal row.
func SetState(ctx context.Context, db *sqlx.DB, id, state string) error {
	res, err := db.ExecContext(ctx, `
        UPDATE deployment
        SET    publish_state = ?
        WHERE  id = ? AND status = ?`,
		state, id, StatusPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Wrap(fault.Conflict, "deployment %s is terminal", id)
	}
	return nil
}

// SetArtifacts records the content-addressed upload locations and the
// platform URL returned by the hosting layer.
func SetArtifacts(ctx context.Context, db *sqlx.DB, id string, location []byte, url string) error {
	_, err := db.ExecContext(ctx, `
        UPDATE deployment
        SET    artifact_location = ?, deployed_url = ?
        WHERE  id = ?`,
		location, url, id)
	return err
}

// MarkFailed records a terminal failure with its reason and the last state
// the publish reached, for diagnosis.
func MarkFailed(ctx context.Context, db *sqlx.DB, id, state, reason string) error {
	_, err := db.ExecContext(ctx, `
        UPDATE deployment
        SET    status = ?, publish_state = ?, error = ?, finished_at = NOW()
        WHERE  id = ? AND status = ?`,
		StatusFailed, state, reason, id, StatusPending)
	return err
}

// MarkSucceededTx flips the deployment SUCCEEDED inside the caller's
// transaction.  Pair with site.MarkPublishedTx so published never points
// at a deployment that is not yet marked successful.
func MarkSucceededTx(ctx context.Context, tx *sqlx.Tx, id, state string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
        UPDATE deployment
        SET    status = ?, publish_state = ?, finished_at = ?
        WHERE  id = ? AND status = ?`,
		StatusSucceeded, state, at, id, StatusPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Wrap(fault.Conflict, "deployment %s is terminal", id)
	}
	return nil
}

// Resumable lists PENDING deployments so workers can pick publishes back
// up after a restart.
func Resumable(ctx context.Context, db *sqlx.DB) ([]Record, error) {
	const q = `
        SELECT ` + columns + `
        FROM   deployment
        WHERE  status = ?
        ORDER  BY started_at`
	var rows []Record
	if err := db.SelectContext(ctx, &rows, q, StatusPending); err != nil {
		return nil, err
	}
	return rows, nil
}

// StalledBefore lists PENDING deployments untouched since the cutoff.  The
// reconciliation pass uses it to detect a hosting trigger that succeeded
// without its local record write.
func StalledBefore(ctx context.Context, db *sqlx.DB, cutoff time.Time) ([]Record, error) {
	const q = `
        SELECT ` + columns + `
        FROM   deployment
        WHERE  status = ? AND started_at < ?
        ORDER  BY started_at`
	var rows []Record
	if err := db.SelectContext(ctx, &rows, q, StatusPending, cutoff); err != nil {
		return nil, err
	}
	return rows, nil
}

// LiveBySite returns the most recent SUCCEEDED deployment for a site, or
// fault.NotFound when the site has never gone live.
func LiveBySite(ctx context.Context, db *sqlx.DB, siteID string) (*Record, error) {
	const q = `
        SELECT ` + columns + `
        FROM   deployment
        WHERE  site_id = ? AND status = ?
        ORDER  BY snapshot_version DESC
        LIMIT  1`
	var rec Record
	if err := db.GetContext(ctx, &rec, q, siteID, StatusSucceeded); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.Wrap(fault.NotFound, "no live deployment for site %s", siteID)
		}
		return nil, err
	}
	return &rec, nil
}
