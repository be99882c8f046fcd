// internal/fault/fault_test.go
//
// Unit-tests for the error classification helpers.
//
// Run: go test ./internal/fault -v

package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassSurvivesWrapping(t *testing.T) {
	err := Wrap(NotFound, "site %s", "abc")
	if Class(err) != NotFound {
		t.Fatalf("Class = %v, want NotFound", Class(err))
	}

	// A second wrapping layer must not hide the class.
	outer := fmt.Errorf("loading: %w", err)
	if Class(outer) != NotFound {
		t.Fatalf("Class after wrap = %v, want NotFound", Class(outer))
	}
}

func TestClassUnclassified(t *testing.T) {
	if got := Class(errors.New("boom")); got != nil {
		t.Fatalf("Class(plain error) = %v, want nil", got)
	}
	if got := Class(nil); got != nil {
		t.Fatalf("Class(nil) = %v, want nil", got)
	}
}

func TestIsTerminal(t *testing.T) {
	cases := []struct {
		class error
		want  bool
	}{
		{Validation, true},
		{Conflict, true},
		{NotFound, true},
		{Timeout, true},
		{Transient, false},
		{NotPublished, false},
	}
	for _, c := range cases {
		if got := IsTerminal(Wrap(c.class, "x")); got != c.want {
			t.Errorf("IsTerminal(%v) = %v, want %v", c.class, got, c.want)
		}
	}
}

func TestWrapMessage(t *testing.T) {
	err := Wrap(Conflict, "slug %q already issued", "acme")
	if got := err.Error(); got != `slug "acme" already issued: conflict` {
		t.Fatalf("message = %q", got)
	}
}
