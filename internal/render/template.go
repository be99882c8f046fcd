// internal/render/template.go
//
// Default html/template-backed renderer.
//
// Context
// -------
// Each template set lives under `<BaseDir>/<templateID>/`:
//
//   - pages/*.html  – one output page per file ("index.html", "about.html"),
//     executed against the customization document.
//   - assets/**     – copied into the artifact set verbatim.
//
// Output is deterministic: pages and assets are emitted in sorted path
// order, and html/template execution is a pure function of its inputs.
//
// Notes
// -----
// • Document problems (not a JSON object, oversized) are fault.Validation;
//   a missing template set is infrastructure.
// • Oxford commas, two spaces after periods.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/siteloom/loom/internal/fault"
)

// MaxDocumentBytes caps the customization payload a render will accept.
const MaxDocumentBytes = 1 << 20 // 1 MiB

// TemplateRenderer renders on-disk template sets.
type TemplateRenderer struct {
	BaseDir string // e.g., "themes" (relative) or "/themes" (absolute)
}

// Render implements Renderer.
func (tr TemplateRenderer) Render(ctx context.Context, templateID string, document json.RawMessage) (Result, error) {
	if len(document) > MaxDocumentBytes {
		return Result{}, fault.Wrap(fault.Validation,
			"customization document exceeds %d bytes", MaxDocumentBytes)
	}

	var data map[string]any
	if err := json.Unmarshal(document, &data); err != nil {
		return Result{}, fault.Wrap(fault.Validation, "customization document is not a JSON object")
	}

	root := filepath.Join(tr.BaseDir, templateID)
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return Result{}, fmt.Errorf("template set %s not found at %s", templateID, root)
	}

	pages, err := collectFiles(filepath.Join(root, "pages"), ".html")
	if err != nil {
		return Result{}, err
	}
	if len(pages) == 0 {
		return Result{}, fmt.Errorf("template set %s has no pages", templateID)
	}

	tpl, err := template.New("").ParseFiles(pages...)
	if err != nil {
		return Result{}, fmt.Errorf("parse template set %s: %w", templateID, err)
	}

	var out Result
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		name := filepath.Base(p)
		var buf bytes.Buffer
		if err := tpl.ExecuteTemplate(&buf, name, data); err != nil {
			// Execution failures are driven by the document's shape.
			return Result{}, fault.Wrap(fault.Validation, "render %s: %v", name, err)
		}
		out.Artifacts = append(out.Artifacts, Artifact{
			Path:        name,
			Bytes:       buf.Bytes(),
			ContentType: "text/html; charset=utf-8",
		})
	}

	assets, err := collectFiles(filepath.Join(root, "assets"), "")
	if err != nil {
		return Result{}, err
	}
	for _, a := range assets {
		b, err := os.ReadFile(a)
		if err != nil {
			return Result{}, err
		}
		rel, _ := filepath.Rel(root, a)
		ct := mime.TypeByExtension(filepath.Ext(a))
		if ct == "" {
			ct = "application/octet-stream"
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("asset %s has no known content type", rel))
		}
		out.Artifacts = append(out.Artifacts, Artifact{
			Path:        filepath.ToSlash(rel),
			Bytes:       b,
			ContentType: ct,
		})
	}

	return out, nil
}

// collectFiles walks rootDir recursively and returns sorted slash-form
// paths, optionally filtered by extension.  A missing directory is not an
// error; it yields an empty set.
func collectFiles(rootDir, ext string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ext == "" || strings.HasSuffix(strings.ToLower(d.Name()), ext) {
			files = append(files, filepath.ToSlash(path))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
