// internal/publisher/fsstore.go
//
// Filesystem Storage implementation.
//
// Context
// -------
// The default single-node storage backend.  Objects land under
// `<Root>/objects/<sha256>`; Deploy materialises the artifact set under a
// versioned directory and swaps a `live/<siteID>` pointer with an atomic
// rename, so a half-written deployment is never served.  The edge handler
// file-serves `live/<siteID>` for requests rewritten to /_sites/{id}.
//
// A CDN-backed implementation satisfies the same Storage interface; this
// one exists so the platform runs end to end without any vendor account.
package publisher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FSStorage implements Storage on a local directory tree.
type FSStorage struct {
	Root string // e.g., "<root>/storage"

	// URLPattern builds the platform URL for a site, e.g.
	// "https://%s.sites.loom.dev".  The verb receives the site id.
	URLPattern string
}

// Put implements Storage.  An existing object with the same key is left
// untouched: content addressing makes re-uploads no-ops.
func (s FSStorage) Put(ctx context.Context, path string, b []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dst := filepath.Join(s.Root, filepath.FromSlash(path))
	if _, err := os.Stat(dst); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}

	// Write-then-rename keeps a crashed Put from leaving a torn object.
	tmp := dst + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return path, nil
}

// Deploy implements Storage.  The artifact set is linked into a fresh
// versioned directory, then the site's live pointer is swapped in one
// rename.
func (s FSStorage) Deploy(ctx context.Context, siteID string, artifacts []Located) (Deployed, error) {
	if err := ctx.Err(); err != nil {
		return Deployed{}, err
	}

	depID := uuid.NewString()
	stage := filepath.Join(s.Root, "staging", depID)
	for _, a := range artifacts {
		src := filepath.Join(s.Root, filepath.FromSlash(a.Ref))
		dst := filepath.Join(stage, filepath.FromSlash(a.Path))
		if !strings.HasPrefix(dst, stage+string(filepath.Separator)) {
			return Deployed{}, fmt.Errorf("artifact path %q escapes deployment root", a.Path)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return Deployed{}, err
		}
		if err := linkOrCopy(src, dst); err != nil {
			return Deployed{}, err
		}
	}

	live := filepath.Join(s.Root, "live", siteID)
	if err := os.MkdirAll(filepath.Dir(live), 0o755); err != nil {
		return Deployed{}, err
	}

	// Swap: move the old tree aside, rename the stage in, drop the old.
	old := live + ".old-" + depID
	if _, err := os.Stat(live); err == nil {
		if err := os.Rename(live, old); err != nil {
			return Deployed{}, err
		}
	}
	if err := os.Rename(stage, live); err != nil {
		// Roll the previous tree back so the site keeps serving.
		_ = os.Rename(old, live)
		return Deployed{}, err
	}
	_ = os.RemoveAll(old)

	url := fmt.Sprintf(s.URLPattern, siteID)
	return Deployed{DeploymentID: depID, URL: url}, nil
}

// LiveDir returns the directory the edge handler serves for a site.
func (s FSStorage) LiveDir(siteID string) string {
	return filepath.Join(s.Root, "live", siteID)
}

// linkOrCopy hardlinks when the filesystem allows it and copies otherwise.
func linkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, b, 0o644)
}
