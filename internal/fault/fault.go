// internal/fault/fault.go
//
// Shared error taxonomy for the publishing pipeline.
//
// Context
// -------
// The resolver, orchestrator, and API surface all need to agree on a small
// set of error classes so that callers can decide between "retry", "reject",
// and "show a safe page" without string matching.  Each class is a sentinel
// wrapped via %w, so errors.Is works across package boundaries:
//
//	if errors.Is(err, fault.Conflict) { … 409 … }
//
// Classes
// -------
//   - NotFound      – unknown hostname or site; expected, user-facing 404.
//   - NotPublished  – site exists but is offline; maintenance page, not an
//     error state.
//   - Conflict      – concurrent publish or already-claimed domain; rejected
//     immediately, never retried by the system.
//   - Transient     – upload, deploy, or DNS-check infrastructure failure;
//     retried with bounded backoff.
//   - Validation    – bad customization data; terminal, surfaced to the
//     tenant with a reason.
//   - Timeout       – stage or overall publish budget exceeded; terminal.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
package fault

import (
	"errors"
	"fmt"
)

var (
	NotFound     = errors.New("not found")
	NotPublished = errors.New("not published")
	Conflict     = errors.New("conflict")
	Transient    = errors.New("transient infrastructure error")
	Validation   = errors.New("validation failed")
	Timeout      = errors.New("timed out")
)

// Wrap builds an error carrying a class sentinel so that
// errors.Is(err, class) holds for the returned error.
func Wrap(class error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), class)
}

// Class returns the taxonomy sentinel carried by err, or nil when err does
// not belong to the taxonomy.
func Class(err error) error {
	for _, c := range []error{NotFound, NotPublished, Conflict, Transient, Validation, Timeout} {
		if errors.Is(err, c) {
			return c
		}
	}
	return nil
}

// IsTerminal reports whether err should stop a publish outright rather than
// be retried.
func IsTerminal(err error) bool {
	return errors.Is(err, Validation) ||
		errors.Is(err, Conflict) ||
		errors.Is(err, Timeout) ||
		errors.Is(err, NotFound)
}
