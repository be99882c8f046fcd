// internal/resolver/store.go
//
// SQL-backed resolution store.
//
// Context
// -------
// One parameterised SELECT joins `domain_binding` to `site`: a hostname
// resolves only through a VERIFIED binding whose site is not soft-deleted.
// Unverified custom-domain claims therefore never route—the join filters
// them out before the cache ever sees them.
package resolver

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/siteloom/loom/internal/binding"
	"github.com/siteloom/loom/internal/fault"
)

// SQLStore loads resolutions from the control-plane database.
type SQLStore struct {
	DB *sqlx.DB
}

// Lookup implements Store.
func (s SQLStore) Lookup(ctx context.Context, hostname string) (Resolution, error) {
	const q = `
        SELECT s.id AS site_id, s.published
        FROM   domain_binding b
        JOIN   site s ON s.id = b.site_id
        WHERE  b.hostname = ?
          AND  b.state    = ?
          AND  s.deleted_at IS NULL
        LIMIT  1`

	var row struct {
		SiteID    string `db:"site_id"`
		Published bool   `db:"published"`
	}
	if err := s.DB.GetContext(ctx, &row, q, hostname, binding.StateVerified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Resolution{}, fault.Wrap(fault.NotFound, "hostname %q", hostname)
		}
		return Resolution{}, err
	}
	return Resolution{SiteID: row.SiteID, Published: row.Published}, nil
}
