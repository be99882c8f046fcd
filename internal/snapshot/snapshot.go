// internal/snapshot/snapshot.go
//
// Immutable customization snapshots.
//
// Context
// -------
// A publish never renders the live working document; it renders the copy
// frozen at the moment the publish was requested.  Concurrent edits during
// a long-running publish therefore cannot corrupt the artifact being
// built—they only bump the version the *next* publish will freeze.
//
// The (site_id, version) pair is the primary key.  Rows are INSERT-only;
// Take is idempotent so a retried publish of the same version reuses the
// snapshot it already froze.
//
// Notes
// -----
//   - Oxford commas, two spaces after periods.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/siteloom/loom/internal/fault"
)

// Record mirrors one row in the `customization_snapshot` table.
type Record struct {
	SiteID    string          `db:"site_id"`
	Version   int64           `db:"version"`
	Document  json.RawMessage `db:"document"`
	CreatedAt time.Time       `db:"created_at"`
}

// Take freezes the site's current working document at its current version
// and returns the resulting snapshot.  Calling Take again for the same
// version returns the already-frozen row untouched.
func Take(ctx context.Context, db *sqlx.DB, siteID string) (*Record, error) {
	// INSERT … SELECT keeps the copy atomic with the version read.  The
	// no-op ON DUPLICATE clause makes the retry path idempotent.
	_, err := db.ExecContext(ctx, `
        INSERT INTO customization_snapshot (site_id, version, document)
        SELECT id, customization_version, customization
        FROM   site
        WHERE  id = ? AND deleted_at IS NULL
        ON DUPLICATE KEY UPDATE site_id = site_id`,
		siteID)
	if err != nil {
		return nil, err
	}

	const q = `
        SELECT site_id, version, document, created_at
        FROM   customization_snapshot
        WHERE  site_id = ?
        ORDER  BY version DESC
        LIMIT  1`
	var rec Record
	if err := db.GetContext(ctx, &rec, q, siteID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.Wrap(fault.NotFound, "site %s", siteID)
		}
		return nil, err
	}
	return &rec, nil
}

// Get returns one frozen snapshot.
func Get(ctx context.Context, db *sqlx.DB, siteID string, version int64) (*Record, error) {
	const q = `
        SELECT site_id, version, document, created_at
        FROM   customization_snapshot
        WHERE  site_id = ? AND version = ?
        LIMIT  1`
	var rec Record
	if err := db.GetContext(ctx, &rec, q, siteID, version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.Wrap(fault.NotFound, "snapshot %s/%d", siteID, version)
		}
		return nil, err
	}
	return &rec, nil
}
