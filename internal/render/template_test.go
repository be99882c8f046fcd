// internal/render/template_test.go
//
// Unit-tests for the html/template renderer.
//
// Context
// -------
// Each test materialises a tiny template set under t.TempDir():
//
//	<base>/starter/pages/index.html
//	<base>/starter/assets/css/site.css
//
// and asserts artifact content, ordering, and the validation boundary
// (bad documents are Validation-classed; a missing template set is not).
//
// Run: go test ./internal/render -v

package render

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/siteloom/loom/internal/fault"
)

// writeTemplateSet lays out a minimal "starter" template set.
func writeTemplateSet(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	mustWrite := func(rel, body string) {
		t.Helper()
		path := filepath.Join(base, "starter", filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite("pages/index.html", `<h1>{{.title}}</h1>`)
	mustWrite("pages/about.html", `<p>{{.about}}</p>`)
	mustWrite("assets/css/site.css", `body { color: {{ "ignored" }} }`)
	return base
}

func TestRenderHappyPath(t *testing.T) {
	tr := TemplateRenderer{BaseDir: writeTemplateSet(t)}

	doc := json.RawMessage(`{"title":"Acme Bakery","about":"Fresh bread."}`)
	res, err := tr.Render(context.Background(), "starter", doc)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if len(res.Artifacts) != 3 {
		t.Fatalf("artifacts = %d, want 3", len(res.Artifacts))
	}

	byPath := map[string]Artifact{}
	for _, a := range res.Artifacts {
		byPath[a.Path] = a
	}
	if idx, ok := byPath["index.html"]; !ok || !bytes.Contains(idx.Bytes, []byte("Acme Bakery")) {
		t.Fatalf("index.html = %+v", byPath["index.html"])
	}
	if css, ok := byPath["assets/css/site.css"]; !ok || css.ContentType != "text/css; charset=utf-8" {
		t.Fatalf("asset = %+v", byPath["assets/css/site.css"])
	}
	// Assets are copied verbatim, never template-executed.
	if !bytes.Contains(byPath["assets/css/site.css"].Bytes, []byte(`{{ "ignored" }}`)) {
		t.Fatal("asset was template-executed")
	}
}

func TestRenderDeterministicOrder(t *testing.T) {
	tr := TemplateRenderer{BaseDir: writeTemplateSet(t)}
	doc := json.RawMessage(`{"title":"t","about":"a"}`)

	first, err := tr.Render(context.Background(), "starter", doc)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	second, err := tr.Render(context.Background(), "starter", doc)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for i := range first.Artifacts {
		if first.Artifacts[i].Path != second.Artifacts[i].Path {
			t.Fatalf("ordering differs at %d: %q vs %q",
				i, first.Artifacts[i].Path, second.Artifacts[i].Path)
		}
	}
}

func TestRenderBadDocumentIsValidation(t *testing.T) {
	tr := TemplateRenderer{BaseDir: writeTemplateSet(t)}

	for name, doc := range map[string]json.RawMessage{
		"not json":   json.RawMessage(`{{{`),
		"not object": json.RawMessage(`[1,2,3]`),
		"oversized":  json.RawMessage(`{"pad":"` + string(bytes.Repeat([]byte("a"), MaxDocumentBytes)) + `"}`),
	} {
		_, err := tr.Render(context.Background(), "starter", doc)
		if fault.Class(err) != fault.Validation {
			t.Errorf("%s: err = %v, want Validation class", name, err)
		}
	}
}

func TestRenderMissingTemplateSetIsInfrastructure(t *testing.T) {
	tr := TemplateRenderer{BaseDir: t.TempDir()}

	_, err := tr.Render(context.Background(), "nope", json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected error")
	}
	if fault.Class(err) == fault.Validation {
		t.Fatal("missing template set is an operator problem, not tenant input")
	}
}
