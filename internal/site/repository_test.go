// internal/site/repository_test.go
//
// Unit-tests for the site repository using sqlmock.
//
// Run: go test ./internal/site -v

package site

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

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

func TestCreateReservesSlug(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO site_slug").
		WithArgs("acme-bakery", "site-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO site").
		WithArgs("site-1", "tenant-1", "acme-bakery", "starter", []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := Create(context.Background(), db, &Record{
		ID:            "site-1",
		TenantID:      "tenant-1",
		Slug:          "acme-bakery",
		TemplateID:    "starter",
		Customization: json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestCreateSlugCollisionIsConflict(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO site_slug").
		WillReturnError(errors.New("Error 1062: Duplicate entry 'acme-bakery'"))
	mock.ExpectRollback()

	err := Create(context.Background(), db, &Record{
		ID: "site-2", TenantID: "tenant-1", Slug: "acme-bakery",
		TemplateID: "starter", Customization: json.RawMessage(`{}`),
	})
	if fault.Class(err) != fault.Conflict {
		t.Fatalf("err = %v, want Conflict class", err)
	}
}

func TestByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT (.+) FROM(.+)site").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := ByID(context.Background(), db, "missing")
	if fault.Class(err) != fault.NotFound {
		t.Fatalf("err = %v, want NotFound class", err)
	}
}

func TestUpdateCustomizationBumpsVersion(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("UPDATE site").
		WithArgs([]byte(`{"title":"new"}`), "site-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := UpdateCustomization(context.Background(), db, "site-1", []byte(`{"title":"new"}`))
	if err != nil {
		t.Fatalf("UpdateCustomization: %v", err)
	}
}

func TestUpdateCustomizationDeletedSite(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("UPDATE site").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := UpdateCustomization(context.Background(), db, "gone", []byte(`{}`))
	if fault.Class(err) != fault.NotFound {
		t.Fatalf("err = %v, want NotFound class", err)
	}
}

func TestMarkPublishedTx(t *testing.T) {
	db, mock := newMockDB(t)

	at := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE site").
		WithArgs(at, "dep-1", "site-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := MarkPublishedTx(context.Background(), tx, "site-1", "dep-1", at); err != nil {
		t.Fatalf("MarkPublishedTx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestHostname(t *testing.T) {
	rec := Record{Slug: "acme-bakery"}
	if got := rec.Hostname("sites.loom.dev"); got != "acme-bakery.sites.loom.dev" {
		t.Fatalf("Hostname = %q", got)
	}
}
