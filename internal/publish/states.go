// internal/publish/states.go
//
// Publish workflow states, persisted on the deployment row.
//
// The happy path is REQUESTED → SNAPSHOTTING → RENDERING → UPLOADING →
// DOMAIN_PENDING → LIVE, with DOMAIN_PENDING skipped when the publish
// carries no new custom domain.  FAILED is reachable from every
// non-terminal state; LIVE is the only terminal success.
package publish

// Workflow states.
const (
	StateRequested     = "REQUESTED"
	StateSnapshotting  = "SNAPSHOTTING"
	StateRendering     = "RENDERING"
	StateUploading     = "UPLOADING"
	StateDomainPending = "DOMAIN_PENDING"
	StateLive          = "LIVE"
	StateFailed        = "FAILED"
)

// Terminal reports whether the workflow is finished in state s.
func Terminal(s string) bool {
	return s == StateLive || s == StateFailed
}
