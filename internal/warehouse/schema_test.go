package warehouse

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestBuildSnapshotDegradesFailedDDL(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SHOW TABLES IN SCHEMA SALES.RAW")).
		WillReturnRows(sqlmock.NewRows([]string{"created_on", "name"}).
			AddRow(time.Now(), "ORDERS").
			AddRow(time.Now(), "SECRETS"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT GET_DDL('TABLE', ?)")).
		WithArgs("SALES.RAW.ORDERS").
		WillReturnRows(sqlmock.NewRows([]string{"GET_DDL"}).AddRow("create TABLE ORDERS (ID NUMBER);\n"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT GET_DDL('TABLE', ?)")).
		WithArgs("SALES.RAW.SECRETS").
		WillReturnError(errors.New("insufficient privileges to operate on table 'SECRETS'"))

	snapshot, err := BuildSnapshot(context.Background(), db, Snowflake{}, "SALES", "RAW", discardLogger())
	if err != nil {
		t.Fatalf("BuildSnapshot() error = %v", err)
	}
	tables := snapshot.Tables()
	if len(tables) != 2 {
		t.Fatalf("tables = %#v", tables)
	}
	if !tables[0].Available || tables[0].DDL != "create TABLE ORDERS (ID NUMBER);" {
		t.Fatalf("tables[0] = %#v", tables[0])
	}
	if tables[1].Available || tables[1].DDL != NoSchemaPlaceholder {
		t.Fatalf("tables[1] = %#v", tables[1])
	}
	want := "\nORDERS\n\ncreate TABLE ORDERS (ID NUMBER);\n\n\nSECRETS\n\n-- no schema available\n\n"
	if got := snapshot.PromptText(); got != want {
		t.Fatalf("PromptText() = %q, want %q", got, want)
	}
	assertSQLMock(t, mock)
}

func TestBuildSnapshotFailsWhenListingFails(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SHOW TABLES IN SCHEMA SALES.RAW")).
		WillReturnError(errors.New("Schema 'SALES.RAW' does not exist or not authorized."))

	_, err := BuildSnapshot(context.Background(), db, Snowflake{}, "SALES", "RAW", discardLogger())
	var queryErr *QueryError
	if !errors.As(err, &queryErr) {
		t.Fatalf("BuildSnapshot() error = %v, want *QueryError", err)
	}
	if queryErr.Message != "Schema 'SALES.RAW' does not exist or not authorized." {
		t.Fatalf("Message = %q", queryErr.Message)
	}
}

func TestSnapshotTablesReturnsCopy(t *testing.T) {
	snapshot := NewSnapshot("SALES", "RAW", []TableSchema{{Name: "ORDERS", DDL: "x", Available: true}})
	tables := snapshot.Tables()
	tables[0].Name = "MUTATED"
	if snapshot.TableNames()[0] != "ORDERS" {
		t.Fatalf("snapshot mutated through Tables(): %v", snapshot.TableNames())
	}
}

func TestEmptySnapshotRendersEmptyPromptText(t *testing.T) {
	if got := NewSnapshot("SALES", "RAW", nil).PromptText(); got != "" {
		t.Fatalf("PromptText() = %q", got)
	}
}

func TestPreviewTableRejectsUnknownTable(t *testing.T) {
	db, _ := newSQLMock(t)
	snapshot := NewSnapshot("SALES", "RAW", []TableSchema{{Name: "ORDERS"}})
	_, err := PreviewTable(context.Background(), db, Snowflake{}, snapshot, "ORDERS; DROP TABLE X", 10, 0)
	if !errors.Is(err, ErrUnknownTable) {
		t.Fatalf("PreviewTable() error = %v, want ErrUnknownTable", err)
	}
}

func TestPreviewTableLimitsRows(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM SALES.RAW.ORDERS LIMIT 2")).
		WillReturnRows(sqlmock.NewRows([]string{"ID"}).AddRow(int64(1)).AddRow(int64(2)))

	snapshot := NewSnapshot("SALES", "RAW", []TableSchema{{Name: "ORDERS"}})
	result, err := PreviewTable(context.Background(), db, Snowflake{}, snapshot, "ORDERS", 2, 0)
	if err != nil {
		t.Fatalf("PreviewTable() error = %v", err)
	}
	if len(result.Rows) != 2 || result.Truncated {
		t.Fatalf("result = %#v", result)
	}
	assertSQLMock(t, mock)
}

func TestPreviewTableResolvesListedCase(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM SALES.RAW.ORDERS LIMIT 5")).
		WillReturnRows(sqlmock.NewRows([]string{"ID"}).AddRow(int64(1)))

	snapshot := NewSnapshot("SALES", "RAW", []TableSchema{{Name: "ORDERS"}})
	for _, name := range []string{"orders", "Orders"} {
		if !snapshot.HasTable(name) {
			t.Fatalf("HasTable(%q) = false", name)
		}
	}
	if _, err := PreviewTable(context.Background(), db, Snowflake{}, snapshot, "orders", 5, 0); err != nil {
		t.Fatalf("PreviewTable() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestPreviewTableAppliesTimeout(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM SALES.RAW.ORDERS LIMIT 5")).
		WillDelayFor(200 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"ID"}).AddRow(int64(1)))

	snapshot := NewSnapshot("SALES", "RAW", []TableSchema{{Name: "ORDERS"}})
	_, err := PreviewTable(context.Background(), db, Snowflake{}, snapshot, "ORDERS", 5, 10*time.Millisecond)
	if err == nil {
		t.Fatal("PreviewTable() expected timeout error")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
