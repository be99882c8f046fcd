// internal/site/repository.go
//
// Site-table query helpers.
//
// Context
// -------
// Read and write access to the **site** table for the registry API, the
// publish orchestrator, and admin tooling.  All helpers accept a context
// so lookups respect request deadlines, and exclude soft-deleted rows at
// SQL level to keep callers simple.
//
// Workflow
// --------
//  1. Callers supply a *sqlx.DB connected to the control-plane database.
//  2. Each helper executes parameterised SQL; multi-row writes run inside
//     one transaction.
//  3. Duplicate-key violations surface as fault.Conflict so the API layer
//     can answer 409 without driver-specific error types.
//
// Notes
// -----
//   - Column list matches the fields in `Record`; update both together.
//   - The publish flip lives in MarkPublishedTx and must share a
//     transaction with the deployment status write.
//   - Oxford commas, two spaces after periods.
package site

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/siteloom/loom/internal/fault"
)

const columns = `id, tenant_id, slug, custom_domain, template_id, published,
               published_at, last_deployment_id, customization_version,
               customization, deleted_at, created_at, updated_at`

// Create inserts a new site and permanently reserves its slug.  The
// reservation row outlives the site, so a slug is never reissued even
// after deletion.  A colliding slug returns fault.Conflict.
func Create(ctx context.Context, db *sqlx.DB, rec *Record) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO site_slug (slug, site_id) VALUES (?, ?)`,
		rec.Slug, rec.ID); err != nil {
		if isDuplicate(err) {
			return fault.Wrap(fault.Conflict, "slug %q already issued", rec.Slug)
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO site
               (id, tenant_id, slug, template_id, customization_version, customization)
        VALUES (?, ?, ?, ?, 1, ?)`,
		rec.ID, rec.TenantID, rec.Slug, rec.TemplateID, rec.Customization); err != nil {
		if isDuplicate(err) {
			return fault.Wrap(fault.Conflict, "site %s already exists", rec.ID)
		}
		return err
	}

	return tx.Commit()
}

// ByID fetches a single site row that is not soft-deleted.
func ByID(ctx context.Context, db *sqlx.DB, id string) (*Record, error) {
	const q = `
        SELECT ` + columns + `
        FROM   site
        WHERE  id = ?
          AND  deleted_at IS NULL
        LIMIT  1`
	var rec Record
	if err := db.GetContext(ctx, &rec, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.Wrap(fault.NotFound, "site %s", id)
		}
		return nil, err
	}
	return &rec, nil
}

// AllActive returns every site that is not soft-deleted.  Intended for
// admin dashboards or batch operations, not the HTTP hot path.
func AllActive(db *sqlx.DB) ([]Record, error) {
	const q = `
        SELECT ` + columns + `
        FROM   site
        WHERE  deleted_at IS NULL`
	var rows []Record
	if err := db.Select(&rows, q); err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdateCustomization replaces the working document and bumps the
// monotonic customization version.  A publish already in flight keeps
// rendering its own snapshot; the bump only affects the next publish.
func UpdateCustomization(ctx context.Context, db *sqlx.DB, id string, document []byte) error {
	res, err := db.ExecContext(ctx, `
        UPDATE site
        SET    customization = ?,
               customization_version = customization_version + 1,
               updated_at = NOW()
        WHERE  id = ? AND deleted_at IS NULL`,
		document, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Wrap(fault.NotFound, "site %s", id)
	}
	return nil
}

// SetCustomDomain records the domain on the site row.  Uniqueness across
// all sites is enforced by the column constraint; a clash returns
// fault.Conflict.
func SetCustomDomain(ctx context.Context, db *sqlx.DB, id, domain string) error {
	_, err := db.ExecContext(ctx, `
        UPDATE site
        SET    custom_domain = ?, updated_at = NOW()
        WHERE  id = ? AND deleted_at IS NULL`,
		domain, id)
	if isDuplicate(err) {
		return fault.Wrap(fault.Conflict, "domain %q already attached", domain)
	}
	return err
}

// MarkPublishedTx flips the site live inside the caller's transaction.
// The deployment row must be marked SUCCEEDED in the same transaction so
// a reader never observes published pointing at an unfinished deployment.
func MarkPublishedTx(ctx context.Context, tx *sqlx.Tx, id, deploymentID string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
        UPDATE site
        SET    published = 1,
               published_at = ?,
               last_deployment_id = ?,
               updated_at = NOW()
        WHERE  id = ? AND deleted_at IS NULL`,
		at, deploymentID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Wrap(fault.NotFound, "site %s", id)
	}
	return nil
}

// SoftDelete retires the site.  The slug reservation stays behind, and the
// custom domain column is cleared so the hostname can be claimed again.
// Callers must invalidate resolver entries for every hostname that served
// this site.
func SoftDelete(ctx context.Context, db *sqlx.DB, id string) error {
	res, err := db.ExecContext(ctx, `
        UPDATE site
        SET    deleted_at = NOW(),
               published = 0,
               custom_domain = NULL,
               updated_at = NOW()
        WHERE  id = ? AND deleted_at IS NULL`,
		id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Wrap(fault.NotFound, "site %s", id)
	}
	return nil
}

// isDuplicate recognises MySQL/MariaDB duplicate-key violations (error
// 1062) without importing driver-specific types.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "1062") ||
		strings.Contains(err.Error(), "Duplicate entry")
}
