// internal/binding/repository.go
//
// Domain-binding query helpers.
//
// Context
// -------
// The verification engine drives a binding through its states with
// compare-and-swap UPDATEs, so two workers can race on the same hostname
// without double-applying a transition: exactly one CAS wins, the loser
// sees fault.Conflict and re-reads.
//
// Workflow
// --------
//  1. Claim inserts the row (UNBOUND for custom domains, VERIFIED for
//     platform subdomains).
//  2. Transition moves state forward only when the stored state matches
//     the caller's expectation.
//  3. Reissue replaces a REJECTED binding with a fresh UNBOUND row so a
//     re-submitted domain never reuses a prior token.
//
// Notes
// -----
//   - All SQL is parameterised; callers pass the control-plane pool.
//   - Oxford commas, two spaces after periods.
package binding

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/siteloom/loom/internal/fault"
)

// Claim inserts a binding for hostname.  An existing binding for the same
// hostname is a conflict unless it is REJECTED, in which case the caller
// should Reissue instead.  Platform subdomains are inserted VERIFIED.
func Claim(ctx context.Context, db *sqlx.DB, rec *Record) error {
	verifiedAt := sql.NullTime{}
	if rec.Type == TypePlatformSubdomain {
		rec.State = StateVerified
		now := time.Now()
		rec.VerifiedAt = &now
		verifiedAt = sql.NullTime{Time: now, Valid: true}
	} else if rec.State == "" {
		rec.State = StateUnbound
	}

	_, err := db.ExecContext(ctx, `
        INSERT INTO domain_binding (hostname, site_id, type, state, verified_at)
        VALUES (?, ?, ?, ?, ?)`,
		rec.Hostname, rec.SiteID, rec.Type, rec.State, verifiedAt)
	if isDuplicate(err) {
		return fault.Wrap(fault.Conflict, "hostname %q already claimed", rec.Hostname)
	}
	return err
}

// ByHostname fetches the binding for one canonical hostname.
func ByHostname(ctx context.Context, db *sqlx.DB, hostname string) (*Record, error) {
	const q = `
        SELECT hostname, site_id, type, state, verification_token,
               verified_at, created_at, updated_at
        FROM   domain_binding
        WHERE  hostname = ?
        LIMIT  1`
	var rec Record
	if err := db.GetContext(ctx, &rec, q, hostname); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.Wrap(fault.NotFound, "binding %q", hostname)
		}
		return nil, err
	}
	return &rec, nil
}

// BySite returns all bindings pointing at one site.  Used on site deletion
// to know which resolver entries to invalidate.
func BySite(ctx context.Context, db *sqlx.DB, siteID string) ([]Record, error) {
	const q = `
        SELECT hostname, site_id, type, state, verification_token,
               verified_at, created_at, updated_at
        FROM   domain_binding
        WHERE  site_id = ?`
	var rows []Record
	if err := db.SelectContext(ctx, &rows, q, siteID); err != nil {
		return nil, err
	}
	return rows, nil
}

// InState lists bindings currently in the given state.  The verification
// engine uses it on boot to resume polling after a restart.
func InState(ctx context.Context, db *sqlx.DB, state string) ([]Record, error) {
	const q = `
        SELECT hostname, site_id, type, state, verification_token,
               verified_at, created_at, updated_at
        FROM   domain_binding
        WHERE  state = ?`
	var rows []Record
	if err := db.SelectContext(ctx, &rows, q, state); err != nil {
		return nil, err
	}
	return rows, nil
}

// Transition advances hostname from state `from` to state `to` with a CAS
// UPDATE.  token, when non-empty, replaces the stored verification token
// (CHALLENGE_ISSUED carries the fresh token).  fault.Conflict means the
// stored state no longer matches `from`.
func Transition(ctx context.Context, db *sqlx.DB, hostname, from, to, token string) error {
	var (
		res sql.Result
		err error
	)
	switch {
	case to == StateVerified:
		res, err = db.ExecContext(ctx, `
            UPDATE domain_binding
            SET    state = ?, verified_at = NOW(), updated_at = NOW()
            WHERE  hostname = ? AND state = ?`,
			to, hostname, from)
	case token != "":
		res, err = db.ExecContext(ctx, `
            UPDATE domain_binding
            SET    state = ?, verification_token = ?, updated_at = NOW()
            WHERE  hostname = ? AND state = ?`,
			to, token, hostname, from)
	default:
		res, err = db.ExecContext(ctx, `
            UPDATE domain_binding
            SET    state = ?, updated_at = NOW()
            WHERE  hostname = ? AND state = ?`,
			to, hostname, from)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Wrap(fault.Conflict, "binding %q not in state %s", hostname, from)
	}
	return nil
}

// Reissue replaces a REJECTED binding with a fresh UNBOUND claim for
// siteID.  The old verification token is discarded with the old row.
func Reissue(ctx context.Context, db *sqlx.DB, hostname, siteID string) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        DELETE FROM domain_binding
        WHERE  hostname = ? AND state = ?`,
		hostname, StateRejected)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Wrap(fault.Conflict, "binding %q is not rejected", hostname)
	}

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO domain_binding (hostname, site_id, type, state)
        VALUES (?, ?, ?, ?)`,
		hostname, siteID, TypeCustomDomain, StateUnbound); err != nil {
		return err
	}

	return tx.Commit()
}

// Delete removes the binding outright.  Used when a tenant abandons a
// pending custom-domain attachment or a site is deleted.
func Delete(ctx context.Context, db *sqlx.DB, hostname string) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM domain_binding WHERE hostname = ?`, hostname)
	return err
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
