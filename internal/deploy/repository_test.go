// internal/deploy/repository_test.go
//
// Unit-tests for the deployment repository using sqlmock.
//
// Run: go test ./internal/deploy -v

package deploy

import (
	"context"
	"database/sql"
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

func TestSetStateCheckpointsPendingRow(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("UPDATE deployment").
		WithArgs("RENDERING", "dep-1", StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := SetState(context.Background(), db, "dep-1", "RENDERING"); err != nil {
		t.Fatalf("SetState: %v", err)
	}
}

func TestSetStateTerminalRowIsConflict(t *testing.T) {
	db, mock := newMockDB(t)

	// An operator failed the deployment underneath the worker.
	mock.ExpectExec("UPDATE deployment").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := SetState(context.Background(), db, "dep-1", "UPLOADING")
	if fault.Class(err) != fault.Conflict {
		t.Fatalf("err = %v, want Conflict class", err)
	}
}

func TestByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT (.+) FROM(.+)deployment").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := ByID(context.Background(), db, "missing")
	if fault.Class(err) != fault.NotFound {
		t.Fatalf("err = %v, want NotFound class", err)
	}
}

func TestLiveBySiteNeverPublished(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT (.+) FROM(.+)deployment").
		WithArgs("site-1", StatusSucceeded).
		WillReturnError(sql.ErrNoRows)

	_, err := LiveBySite(context.Background(), db, "site-1")
	if fault.Class(err) != fault.NotFound {
		t.Fatalf("err = %v, want NotFound class", err)
	}
}

func TestTerminal(t *testing.T) {
	if (&Record{Status: StatusPending}).Terminal() {
		t.Fatal("PENDING is not terminal")
	}
	if !(&Record{Status: StatusFailed}).Terminal() {
		t.Fatal("FAILED is terminal")
	}
}
