// internal/snapshot/snapshot_test.go
//
// Unit-tests for snapshot freezing using sqlmock.
//
// Run: go test ./internal/snapshot -v

package snapshot

import (
	"context"
	"database/sql"
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

func snapshotRows(siteID string, version int64, doc string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"site_id", "version", "document", "created_at"}).
		AddRow(siteID, version, []byte(doc), time.Now())
}

func TestTakeFreezesCurrentVersion(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("INSERT INTO customization_snapshot").
		WithArgs("site-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT (.+) FROM(.+)customization_snapshot").
		WithArgs("site-1").
		WillReturnRows(snapshotRows("site-1", 7, `{"title":"frozen"}`))

	rec, err := Take(context.Background(), db, "site-1")
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if rec.Version != 7 || string(rec.Document) != `{"title":"frozen"}` {
		t.Fatalf("rec = %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestTakeIdempotentOnRetry(t *testing.T) {
	db, mock := newMockDB(t)

	// The ON DUPLICATE no-op means a retried Take inserts nothing and
	// still reads back the same frozen row.
	mock.ExpectExec("INSERT INTO customization_snapshot").
		WithArgs("site-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM(.+)customization_snapshot").
		WithArgs("site-1").
		WillReturnRows(snapshotRows("site-1", 7, `{"title":"frozen"}`))

	rec, err := Take(context.Background(), db, "site-1")
	if err != nil {
		t.Fatalf("retried Take: %v", err)
	}
	if rec.Version != 7 {
		t.Fatalf("version = %d, want the already-frozen 7", rec.Version)
	}
}

func TestGetMissingSnapshot(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT (.+) FROM(.+)customization_snapshot").
		WithArgs("site-1", int64(9)).
		WillReturnError(sql.ErrNoRows)

	_, err := Get(context.Background(), db, "site-1", 9)
	if fault.Class(err) != fault.NotFound {
		t.Fatalf("err = %v, want NotFound class", err)
	}
}
