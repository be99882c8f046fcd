// internal/publisher/publisher_test.go
//
// Unit-tests for the content-addressed artifact publisher.
//
// Context
// -------
// fakeStorage records every Put and Deploy, and can fail a configurable
// number of times, so the tests cover:
//
//   • Content addressing (object path = sha256 of the bytes, duplicate
//     bytes collapse to one object)
//   • Transient Put failures retried until success
//   • Exhausted retries fail with the Transient class
//
// Run: go test ./internal/publisher -v

package publisher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/siteloom/loom/internal/fault"
	"github.com/siteloom/loom/internal/render"
)

// fakeStorage implements Storage in memory.
type fakeStorage struct {
	puts      map[string]int // object path → put count
	failPuts  int            // fail this many Puts before succeeding
	deploys   int
	deployErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{puts: map[string]int{}}
}

func (f *fakeStorage) Put(_ context.Context, path string, _ []byte, _ string) (string, error) {
	if f.failPuts > 0 {
		f.failPuts--
		return "", errors.New("storage hiccup")
	}
	f.puts[path]++
	return "ref:" + path, nil
}

func (f *fakeStorage) Deploy(_ context.Context, siteID string, artifacts []Located) (Deployed, error) {
	f.deploys++
	if f.deployErr != nil {
		return Deployed{}, f.deployErr
	}
	return Deployed{DeploymentID: "h-1", URL: "https://" + siteID + ".example"}, nil
}

func TestPublishContentAddressing(t *testing.T) {
	store := newFakeStorage()
	p := Publisher{Storage: store, Retries: 2}

	page := []byte("<html>home</html>")
	artifacts := []render.Artifact{
		{Path: "index.html", Bytes: page, ContentType: "text/html"},
		{Path: "copy.html", Bytes: page, ContentType: "text/html"}, // same bytes
		{Path: "style.css", Bytes: []byte("body{}"), ContentType: "text/css"},
	}

	located, dep, err := p.Publish(context.Background(), "site-1", 3, artifacts)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(located) != 3 {
		t.Fatalf("located = %d entries", len(located))
	}

	sum := sha256.Sum256(page)
	wantObj := "objects/" + hex.EncodeToString(sum[:])
	if located[0].Ref != "ref:"+wantObj {
		t.Fatalf("ref = %q, want sha-addressed %q", located[0].Ref, "ref:"+wantObj)
	}
	// Identical bytes land at the identical object key.
	if located[1].Ref != located[0].Ref {
		t.Fatalf("duplicate bytes got distinct refs: %q vs %q", located[0].Ref, located[1].Ref)
	}
	if located[0].Path != "index.html" || located[1].Path != "copy.html" {
		t.Fatalf("site-relative paths lost: %+v", located[:2])
	}

	if dep.URL == "" || store.deploys != 1 {
		t.Fatalf("deploy receipt = %+v, deploys = %d", dep, store.deploys)
	}
}

func TestPublishRetriesTransientPut(t *testing.T) {
	store := newFakeStorage()
	store.failPuts = 2
	p := Publisher{Storage: store, Retries: 4}

	_, _, err := p.Publish(context.Background(), "site-1", 1, []render.Artifact{
		{Path: "index.html", Bytes: []byte("x"), ContentType: "text/html"},
	})
	if err != nil {
		t.Fatalf("Publish should survive two hiccups: %v", err)
	}
	if len(store.puts) != 1 {
		t.Fatalf("expected exactly one stored object, got %d", len(store.puts))
	}
}

func TestPublishExhaustedRetriesAreTransient(t *testing.T) {
	store := newFakeStorage()
	store.failPuts = 100
	p := Publisher{Storage: store, Retries: 2}

	_, _, err := p.Publish(context.Background(), "site-1", 1, []render.Artifact{
		{Path: "index.html", Bytes: []byte("x"), ContentType: "text/html"},
	})
	if fault.Class(err) != fault.Transient {
		t.Fatalf("err = %v, want Transient class", err)
	}
}

// putCounter fails every Put with a fixed error while counting attempts.
type putCounter struct {
	fakeStorage
	attempts int
	err      error
}

func (p *putCounter) Put(_ context.Context, _ string, _ []byte, _ string) (string, error) {
	p.attempts++
	return "", p.err
}

func TestPublishTerminalFaultStopsRetrying(t *testing.T) {
	store := &putCounter{err: fault.Wrap(fault.Validation, "object store rejected the content type")}
	p := Publisher{Storage: store, Retries: 5}

	_, _, err := p.Publish(context.Background(), "site-1", 1, []render.Artifact{
		{Path: "index.html", Bytes: []byte("x"), ContentType: "text/html"},
	})
	if fault.Class(err) != fault.Validation {
		t.Fatalf("err = %v, want the Validation class preserved", err)
	}
	if store.attempts != 1 {
		t.Fatalf("attempts = %d, terminal faults must not be retried", store.attempts)
	}
}

func TestPublishDeployFailure(t *testing.T) {
	store := newFakeStorage()
	store.deployErr = errors.New("cdn down")
	p := Publisher{Storage: store, Retries: 1}

	_, _, err := p.Publish(context.Background(), "site-1", 1, []render.Artifact{
		{Path: "index.html", Bytes: []byte("x"), ContentType: "text/html"},
	})
	if fault.Class(err) != fault.Transient {
		t.Fatalf("err = %v, want Transient class", err)
	}
}
