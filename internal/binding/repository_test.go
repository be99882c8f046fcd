// internal/binding/repository_test.go
//
// Unit-tests for the domain-binding repository using sqlmock.
//
// Run: go test ./internal/binding -v

package binding

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/siteloom/loom/internal/fault"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestClaimPlatformSubdomainBornVerified(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("INSERT INTO domain_binding").
		WithArgs("acme.sites.loom.dev", "site-1", TypePlatformSubdomain,
			StateVerified, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := &Record{
		Hostname: "acme.sites.loom.dev",
		SiteID:   "site-1",
		Type:     TypePlatformSubdomain,
	}
	if err := Claim(context.Background(), db, rec); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if rec.State != StateVerified || rec.VerifiedAt == nil {
		t.Fatalf("platform subdomain must be born verified: %+v", rec)
	}
}

func TestClaimTakenHostnameIsConflict(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("INSERT INTO domain_binding").
		WillReturnError(errors.New("Error 1062: Duplicate entry 'www.acme.com'"))

	err := Claim(context.Background(), db, &Record{
		Hostname: "www.acme.com", SiteID: "site-2", Type: TypeCustomDomain,
	})
	if fault.Class(err) != fault.Conflict {
		t.Fatalf("err = %v, want Conflict class", err)
	}
}

func TestTransitionCAS(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("UPDATE domain_binding").
		WithArgs(StateChallengeIssued, "tok-1", "www.acme.com", StateUnbound).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := Transition(context.Background(), db,
		"www.acme.com", StateUnbound, StateChallengeIssued, "tok-1")
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
}

func TestTransitionStaleStateIsConflict(t *testing.T) {
	db, mock := newMockDB(t)

	// Another worker already advanced the row; zero rows match the CAS.
	mock.ExpectExec("UPDATE domain_binding").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := Transition(context.Background(), db,
		"www.acme.com", StateDNSPending, StateVerified, "")
	if fault.Class(err) != fault.Conflict {
		t.Fatalf("err = %v, want Conflict class", err)
	}
}

func TestByHostnameNotFound(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT (.+) FROM(.+)domain_binding").
		WithArgs("nobody.example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := ByHostname(context.Background(), db, "nobody.example.com")
	if fault.Class(err) != fault.NotFound {
		t.Fatalf("err = %v, want NotFound class", err)
	}
}

func TestReissueRequiresRejectedRow(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM domain_binding").
		WithArgs("www.acme.com", StateRejected).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := Reissue(context.Background(), db, "www.acme.com", "site-1")
	if fault.Class(err) != fault.Conflict {
		t.Fatalf("err = %v, want Conflict class", err)
	}
}

func TestRoutable(t *testing.T) {
	if (&Record{State: StateDNSPending}).Routable() {
		t.Fatal("DNS_PENDING must not route")
	}
	if !(&Record{State: StateVerified}).Routable() {
		t.Fatal("VERIFIED must route")
	}
}
