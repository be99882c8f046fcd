// internal/site/model.go
//
// `site` table row model.
//
// Context
// -------
// The `Record` struct mirrors one row in the persistent **site** table,
// capturing ownership, the immutable subdomain slug, the optional custom
// domain, publish state, and the working customization document.  It is
// used by the publish orchestrator, the registry API, and admin tooling.
//
// Schema reference (2026-08-12)
//
//	CREATE TABLE site (
//	    id                     CHAR(36)     PRIMARY KEY,
//	    tenant_id              CHAR(36)     NOT NULL,
//	    slug                   VARCHAR(100) NOT NULL UNIQUE,
//	    custom_domain          VARCHAR(256) NULL UNIQUE,
//	    template_id            VARCHAR(128) NOT NULL,
//	    published              TINYINT(1)   NOT NULL DEFAULT 0,
//	    published_at           TIMESTAMP NULL,
//	    last_deployment_id     CHAR(36) NULL,
//	    customization_version  BIGINT       NOT NULL DEFAULT 1,
//	    customization          JSON         NOT NULL,
//	    deleted_at             TIMESTAMP NULL,
//	    created_at             TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
//	    updated_at             TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
//	);
//
// Notes
// -----
// • `Slug` is immutable once issued and never reissued, even after the row
//   is soft-deleted; the `site_slug` reservation table enforces that.
// • Nullable timestamps are `*time.Time`; callers must nil-check before use.
// • This struct contains no behaviour—pure data model for sqlx scans.
package site

import (
	"encoding/json"
	"time"
)

// Record mirrors one row in the `site` table.
type Record struct {
	ID                   string          `db:"id"`
	TenantID             string          `db:"tenant_id"`
	Slug                 string          `db:"slug"`
	CustomDomain         *string         `db:"custom_domain"`
	TemplateID           string          `db:"template_id"`
	Published            bool            `db:"published"`
	PublishedAt          *time.Time      `db:"published_at"`
	LastDeploymentID     *string         `db:"last_deployment_id"`
	CustomizationVersion int64           `db:"customization_version"`
	Customization        json.RawMessage `db:"customization"`
	DeletedAt            *time.Time      `db:"deleted_at"`
	CreatedAt            time.Time       `db:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at"`
}

// Hostname returns the platform hostname the slug is served under.
func (r *Record) Hostname(platformDomain string) string {
	return r.Slug + "." + platformDomain
}
