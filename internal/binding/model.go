// internal/binding/model.go
//
// `domain_binding` table row model and state machine vocabulary.
//
// Context
// -------
// A binding links one inbound hostname to one site.  Platform subdomains
// are born VERIFIED (the platform controls its own DNS); custom domains
// must walk the verification ladder before the resolver will route
// traffic to them.
//
// Schema reference (2026-08-12)
//
//	CREATE TABLE domain_binding (
//	    hostname            VARCHAR(256) PRIMARY KEY,
//	    site_id             CHAR(36)     NOT NULL,
//	    type                VARCHAR(20)  NOT NULL,
//	    state               VARCHAR(20)  NOT NULL DEFAULT 'UNBOUND',
//	    verification_token  CHAR(43)     NULL,
//	    verified_at         TIMESTAMP NULL,
//	    created_at          TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
//	    updated_at          TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
//	);
//
// Notes
// -----
// • The hostname primary key is what guarantees “at most one binding per
//   hostname”, and therefore “at most one VERIFIED binding per hostname”.
// • Tokens are 32 random bytes, base64url, never reused across attempts.
package binding

import "time"

// Binding types.
const (
	TypePlatformSubdomain = "platform-subdomain"
	TypeCustomDomain      = "custom-domain"
)

// Verification states.
const (
	StateUnbound         = "UNBOUND"
	StateChallengeIssued = "CHALLENGE_ISSUED"
	StateDNSPending      = "DNS_PENDING"
	StateVerified        = "VERIFIED"
	StateRejected        = "REJECTED"
)

// Record mirrors one row in the `domain_binding` table.
type Record struct {
	Hostname          string     `db:"hostname"`
	SiteID            string     `db:"site_id"`
	Type              string     `db:"type"`
	State             string     `db:"state"`
	VerificationToken *string    `db:"verification_token"`
	VerifiedAt        *time.Time `db:"verified_at"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

// Routable reports whether the resolver may treat this binding as
// authoritative for its hostname.
func (r *Record) Routable() bool {
	return r.State == StateVerified
}
