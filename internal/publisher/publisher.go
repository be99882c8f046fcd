// internal/publisher/publisher.go
//
// Artifact publisher: content-addressed upload plus deploy trigger.
//
// Context
// -------
// Uploads are addressed by the SHA-256 of the artifact bytes, so retrying
// a publish after a timeout re-puts the same objects at the same keys and
// creates no duplicates.  The deploy call is the atomic "go live" signal
// to the hosting layer; transient failures of either step are retried
// with bounded exponential backoff, and only after exhaustion does the
// publish fail.
//
// The Storage collaborator hides the vendor: object store, CDN, or plain
// filesystem all satisfy the same two calls.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
package publisher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/siteloom/loom/internal/fault"
	"github.com/siteloom/loom/internal/metrics"
	"github.com/siteloom/loom/internal/render"
)

// Located pairs a site-relative artifact path with the storage ref its
// bytes live at.
type Located struct {
	Path        string `json:"path"`
	Ref         string `json:"ref"`
	ContentType string `json:"contentType"`
}

// Deployed is the hosting layer's receipt.
type Deployed struct {
	DeploymentID string
	URL          string
}

// Storage is the object-store/CDN collaborator contract.
type Storage interface {
	// Put stores bytes at path and returns a stable location ref.  Putting
	// identical bytes at the same path must be idempotent.
	Put(ctx context.Context, path string, b []byte, contentType string) (string, error)

	// Deploy atomically points the site's serving surface at the given
	// artifact set and returns a hosting deployment id plus the reachable
	// platform URL.
	Deploy(ctx context.Context, siteID string, artifacts []Located) (Deployed, error)
}

// Publisher uploads artifact sets and triggers deployments.
type Publisher struct {
	Storage Storage
	Timeout time.Duration // budget for the whole upload+deploy stage
	Retries uint64        // transient attempts beyond the first
}

// Publish uploads every artifact content-addressed, then triggers the
// deploy.  Returned Located entries are what the deployment row records.
func (p Publisher) Publish(ctx context.Context, siteID string, snapshotVersion int64, artifacts []render.Artifact) ([]Located, Deployed, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	located := make([]Located, 0, len(artifacts))
	for _, a := range artifacts {
		sum := sha256.Sum256(a.Bytes)
		objPath := "objects/" + hex.EncodeToString(sum[:])

		ref, err := p.retry(ctx, func() (string, error) {
			return p.Storage.Put(ctx, objPath, a.Bytes, a.ContentType)
		})
		if err != nil {
			return nil, Deployed{}, err
		}
		located = append(located, Located{Path: a.Path, Ref: ref, ContentType: a.ContentType})
	}

	var dep Deployed
	_, err := p.retry(ctx, func() (string, error) {
		var err error
		dep, err = p.Storage.Deploy(ctx, siteID, located)
		return "", err
	})
	if err != nil {
		return nil, Deployed{}, err
	}

	zap.L().Info("artifacts deployed",
		zap.String("site", siteID),
		zap.Int64("snapshot_version", snapshotVersion),
		zap.Int("artifacts", len(located)),
		zap.String("url", dep.URL))
	return located, dep, nil
}

// retry runs op with exponential backoff up to p.Retries extra attempts.
// Terminal fault classes stop immediately and keep their class; context
// expiry is a fault.Timeout; exhaustion keeps the transient class so the
// orchestrator records the last infrastructure error.
func (p Publisher) retry(ctx context.Context, op func() (string, error)) (string, error) {
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.Retries), ctx)

	var out string
	attempt := 0
	err := backoff.Retry(func() error {
		if attempt > 0 {
			metrics.UploadRetriesTotal.Inc()
		}
		attempt++
		var err error
		out, err = op()
		if err != nil && fault.IsTerminal(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fault.Wrap(fault.Timeout, "upload stage budget exceeded")
		}
		if fault.IsTerminal(err) {
			return "", err
		}
		return "", fault.Wrap(fault.Transient, "upload/deploy failed after %d attempts: %v", attempt, err)
	}
	return out, nil
}
