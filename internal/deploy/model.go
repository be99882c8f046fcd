// internal/deploy/model.go
//
// `deployment` table row model.
//
// Context
// -------
// One row per artifact-publishing attempt.  Status tracks the outcome
// (PENDING/SUCCEEDED/FAILED); PublishState persists the orchestrator's
// position in its state machine so any worker can resume a publish after
// a process restart instead of holding an in-memory wait.
//
// Deployments for a site are totally ordered by snapshot version.  A
// site's live deployment is always its most recent SUCCEEDED one; an
// in-flight or failed row never overwrites what is serving traffic.
package deploy

import (
	"encoding/json"
	"time"
)

// Outcome statuses.
const (
	StatusPending   = "PENDING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
)

// Record mirrors one row in the `deployment` table.
type Record struct {
	ID               string          `db:"id"`
	SiteID           string          `db:"site_id"`
	SnapshotVersion  int64           `db:"snapshot_version"`
	Status           string          `db:"status"`
	PublishState     string          `db:"publish_state"`
	PendingDomain    *string         `db:"pending_domain"`
	ArtifactLocation json.RawMessage `db:"artifact_location"`
	DeployedURL      *string         `db:"deployed_url"`
	Error            *string         `db:"error"`
	StartedAt        time.Time       `db:"started_at"`
	FinishedAt       *time.Time      `db:"finished_at"`
}

// Terminal reports whether the attempt has reached an outcome.
func (r *Record) Terminal() bool {
	return r.Status == StatusSucceeded || r.Status == StatusFailed
}
