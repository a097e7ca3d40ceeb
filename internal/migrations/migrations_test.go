package migrations

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func twoMigrations() fstest.MapFS {
	return fstest.MapFS{
		"sql/000002_two.up.sql":   {Data: []byte("SELECT 2;")},
		"sql/000002_two.down.sql": {Data: []byte("SELECT -2;")},
		"sql/000001_one.up.sql":   {Data: []byte("SELECT 1;")},
		"sql/000001_one.down.sql": {Data: []byte("SELECT -1;")},
	}
}

func checksums(t *testing.T, fsys fstest.MapFS) map[int64]string {
	t.Helper()
	items, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	out := map[int64]string{}
	for _, item := range items {
		out[item.Version] = item.Checksum
	}
	return out
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sql expectations: %v", err)
		}
		_ = db.Close()
	})
	return db, mock
}

func expectApplied(mock sqlmock.Sqlmock, versions map[int64]string) {
	mock.ExpectQuery(regexp.QuoteMeta(versionTableExistsSQL)).WithArgs(versionTable).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	rows := sqlmock.NewRows([]string{"version", "checksum", "applied_at"})
	for version := int64(1); version <= 9; version++ {
		if checksum, ok := versions[version]; ok {
			rows.AddRow(version, checksum, time.Date(2026, 1, int(version), 0, 0, 0, 0, time.UTC))
		}
	}
	mock.ExpectQuery(regexp.QuoteMeta(appliedVersionsSQL)).WillReturnRows(rows)
}

func TestLoadMigrationsPairsAndChecksums(t *testing.T) {
	items, err := loadMigrations(twoMigrations())
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 2 || items[0].Version != 1 || items[1].Version != 2 {
		t.Fatalf("unexpected migration order: %+v", items)
	}
	if items[0].Name != "one" || items[1].Name != "two" {
		t.Fatalf("names = %q, %q", items[0].Name, items[1].Name)
	}
	if len(items[0].Checksum) != 64 || items[0].Checksum == items[1].Checksum {
		t.Fatalf("checksums = %q, %q", items[0].Checksum, items[1].Checksum)
	}
}

func TestLoadMigrationsRejectsBadSources(t *testing.T) {
	tests := map[string]struct {
		fsys fstest.MapFS
		want string
	}{
		"missing down": {
			fsys: fstest.MapFS{"sql/000001_one.up.sql": {Data: []byte("SELECT 1;")}},
			want: "missing down SQL",
		},
		"stray file": {
			fsys: fstest.MapFS{
				"sql/000001_one.up.sql":   {Data: []byte("SELECT 1;")},
				"sql/000001_one.down.sql": {Data: []byte("SELECT -1;")},
				"sql/notes.txt":           {Data: []byte("todo")},
			},
			want: "unexpected file",
		},
		"name mismatch": {
			fsys: fstest.MapFS{
				"sql/000001_one.up.sql":   {Data: []byte("SELECT 1;")},
				"sql/000001_uno.down.sql": {Data: []byte("SELECT -1;")},
			},
			want: "two names",
		},
	}
	for name, tt := range tests {
		_, err := loadMigrations(tt.fsys)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: error = %v, want %q", name, err, tt.want)
		}
	}
}

func TestStatusReportsAppliedPendingAndOrphaned(t *testing.T) {
	fsys := twoMigrations()
	sums := checksums(t, fsys)
	db, mock := newMock(t)
	expectApplied(mock, map[int64]string{1: sums[1], 3: "from-a-newer-release"})

	statuses, err := (&Runner{fsys: fsys}).Status(context.Background(), db)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("Status() = %+v", statuses)
	}
	if !statuses[0].Applied || statuses[0].Drifted || statuses[0].AppliedAt.IsZero() {
		t.Fatalf("version 1 = %+v", statuses[0])
	}
	if statuses[1].Applied || statuses[1].Name != "two" {
		t.Fatalf("version 2 = %+v", statuses[1])
	}
	if statuses[2].Version != 3 || !statuses[2].Orphaned {
		t.Fatalf("version 3 = %+v", statuses[2])
	}
}

func TestPendingOnFreshDatabase(t *testing.T) {
	db, mock := newMock(t)
	runner := &Runner{fsys: twoMigrations()}

	mock.ExpectQuery(regexp.QuoteMeta(versionTableExistsSQL)).WithArgs(versionTable).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	pending, err := runner.Pending(context.Background(), db)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 2 || pending[0] != 1 || pending[1] != 2 {
		t.Fatalf("Pending() = %v", pending)
	}

	mock.ExpectQuery(regexp.QuoteMeta(versionTableExistsSQL)).WithArgs(versionTable).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	err = runner.CheckCurrent(db)(context.Background())
	if err == nil || !strings.Contains(err.Error(), "2 pending migration(s)") {
		t.Fatalf("CheckCurrent() error = %v", err)
	}
}

func TestCheckCurrentFailsOnDrift(t *testing.T) {
	fsys := twoMigrations()
	sums := checksums(t, fsys)
	db, mock := newMock(t)
	expectApplied(mock, map[int64]string{1: "edited-after-apply", 2: sums[2]})

	err := (&Runner{fsys: fsys}).CheckCurrent(db)(context.Background())
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("CheckCurrent() error = %v, want ErrChecksumMismatch", err)
	}
}

func TestCheckCurrentPassesWhenUpToDate(t *testing.T) {
	fsys := twoMigrations()
	db, mock := newMock(t)
	expectApplied(mock, checksums(t, fsys))

	if err := (&Runner{fsys: fsys}).CheckCurrent(db)(context.Background()); err != nil {
		t.Fatalf("CheckCurrent() error = %v", err)
	}
}

func TestUpAppliesPendingWithChecksum(t *testing.T) {
	fsys := twoMigrations()
	sums := checksums(t, fsys)
	db, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta(createVersionTableSQL)).WillReturnResult(sqlmock.NewResult(0, 0))
	expectApplied(mock, map[int64]string{1: sums[1]})
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT 2;")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(insertVersionSQL)).WithArgs(int64(2), "two", sums[2]).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ran, err := (&Runner{fsys: fsys}).Up(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if ran != 1 {
		t.Fatalf("Up() ran %d, want 1", ran)
	}
}

func TestUpRefusesDriftedSchema(t *testing.T) {
	fsys := twoMigrations()
	db, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta(createVersionTableSQL)).WillReturnResult(sqlmock.NewResult(0, 0))
	expectApplied(mock, map[int64]string{1: "edited-after-apply"})

	ran, err := (&Runner{fsys: fsys}).Up(context.Background(), db, 0)
	if !errors.Is(err, ErrChecksumMismatch) || ran != 0 {
		t.Fatalf("Up() = %d, %v, want ErrChecksumMismatch", ran, err)
	}
}

func TestUpRollsBackFailedScript(t *testing.T) {
	fsys := twoMigrations()
	db, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta(createVersionTableSQL)).WillReturnResult(sqlmock.NewResult(0, 0))
	expectApplied(mock, nil)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT 1;")).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	ran, err := (&Runner{fsys: fsys}).Up(context.Background(), db, 0)
	if err == nil || !strings.Contains(err.Error(), "apply migration 1 (one)") || ran != 0 {
		t.Fatalf("Up() = %d, %v", ran, err)
	}
}

func TestDownRollsBackNewestFirst(t *testing.T) {
	fsys := twoMigrations()
	sums := checksums(t, fsys)
	db, mock := newMock(t)

	expectApplied(mock, sums)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT -2;")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(deleteVersionSQL)).WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ran, err := (&Runner{fsys: fsys}).Down(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	if ran != 1 {
		t.Fatalf("Down() ran %d, want 1", ran)
	}
}

func TestDownRefusesUnknownVersion(t *testing.T) {
	db, mock := newMock(t)
	expectApplied(mock, map[int64]string{3: "from-a-newer-release"})

	if _, err := (&Runner{fsys: twoMigrations()}).Down(context.Background(), db, 1); err == nil ||
		!strings.Contains(err.Error(), "unknown to this build") {
		t.Fatalf("Down() error = %v", err)
	}
}
