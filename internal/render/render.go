// internal/render/render.go
//
// Renderer Adapter contract.
//
// Context
// -------
// The publish pipeline treats rendering as a pure function from (template
// identifier, customization document) to an ordered set of artifacts.
// Determinism matters: identical inputs must yield byte-identical
// artifacts, because the artifact publisher addresses uploads by content
// hash and relies on re-renders deduplicating to the same objects.
//
// A renderer failure caused by the document (malformed JSON, oversized
// payload, missing required fields) is a fault.Validation error—terminal
// for the publish and surfaced to the tenant.  Everything else is
// infrastructure.
package render

import (
	"context"
	"encoding/json"
)

// Artifact is one generated file.
type Artifact struct {
	Path        string
	Bytes       []byte
	ContentType string
}

// Result is the full output of one render.
type Result struct {
	Artifacts []Artifact
	Warnings  []string
}

// Renderer turns a frozen customization document into artifacts.
type Renderer interface {
	Render(ctx context.Context, templateID string, document json.RawMessage) (Result, error)
}
