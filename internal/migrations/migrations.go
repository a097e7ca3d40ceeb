// Package migrations owns the turn audit schema. Scripts are embedded as
// sql/NNNNNN_name.up.sql and sql/NNNNNN_name.down.sql pairs; every applied
// version is recorded with the checksum of its up script so edits to an
// already applied migration are caught instead of silently skipped.
package migrations

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const versionTable = "snowchat_schema_migrations"

// ErrChecksumMismatch marks an applied migration whose embedded up script
// no longer matches what was applied.
var ErrChecksumMismatch = errors.New("applied migration checksum mismatch")

var fileNamePattern = regexp.MustCompile(`^([0-9]+)_([a-z0-9_]+)\.(up|down)\.sql$`)

const (
	createVersionTableSQL = `CREATE TABLE IF NOT EXISTS ` + versionTable + ` (
	version BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	checksum TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	versionTableExistsSQL = `SELECT to_regclass($1) IS NOT NULL`
	appliedVersionsSQL    = `SELECT version, checksum, applied_at FROM ` + versionTable + ` ORDER BY version`
	insertVersionSQL      = `INSERT INTO ` + versionTable + ` (version, name, checksum) VALUES ($1, $2, $3)`
	deleteVersionSQL      = `DELETE FROM ` + versionTable + ` WHERE version = $1`
)

type migration struct {
	Version  int64
	Name     string
	UpSQL    string
	DownSQL  string
	Checksum string
}

// Status describes one migration version. Orphaned versions are recorded in
// the database but unknown to this binary, typically after a newer release
// migrated the schema.
type Status struct {
	Version   int64
	Name      string
	Applied   bool
	AppliedAt time.Time
	Drifted   bool
	Orphaned  bool
}

type appliedVersion struct {
	checksum  string
	appliedAt time.Time
}

type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

// Status reports every known and every recorded version in ascending order.
// It never creates the version table.
func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]Status, error) {
	known, err := loadMigrations(r.fsys)
	if err != nil {
		return nil, err
	}
	applied, err := readApplied(ctx, db)
	if err != nil {
		return nil, err
	}

	out := make([]Status, 0, len(known)+len(applied))
	seen := make(map[int64]bool, len(known))
	for _, item := range known {
		seen[item.Version] = true
		status := Status{Version: item.Version, Name: item.Name}
		if record, ok := applied[item.Version]; ok {
			status.Applied = true
			status.AppliedAt = record.appliedAt
			status.Drifted = record.checksum != item.Checksum
		}
		out = append(out, status)
	}
	for version, record := range applied {
		if !seen[version] {
			out = append(out, Status{Version: version, Applied: true, AppliedAt: record.appliedAt, Orphaned: true})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Pending returns the versions Up would apply, in order.
func (r *Runner) Pending(ctx context.Context, db *sql.DB) ([]int64, error) {
	statuses, err := r.Status(ctx, db)
	if err != nil {
		return nil, err
	}
	var pending []int64
	for _, status := range statuses {
		if !status.Applied {
			pending = append(pending, status.Version)
		}
	}
	return pending, nil
}

// CheckCurrent is a readiness check that fails while migrations are pending
// or an applied migration has drifted.
func (r *Runner) CheckCurrent(db *sql.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		statuses, err := r.Status(ctx, db)
		if err != nil {
			return err
		}
		pending := 0
		for _, status := range statuses {
			if status.Drifted {
				return fmt.Errorf("migration %d (%s): %w", status.Version, status.Name, ErrChecksumMismatch)
			}
			if !status.Applied {
				pending++
			}
		}
		if pending > 0 {
			return fmt.Errorf("audit schema has %d pending migration(s), run snowchat-migrate", pending)
		}
		return nil
	}
}

// Up applies pending migrations in version order, at most steps of them
// when steps > 0. It refuses to run while any applied migration has drifted.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	known, err := loadMigrations(r.fsys)
	if err != nil {
		return 0, err
	}
	if _, err := db.ExecContext(ctx, createVersionTableSQL); err != nil {
		return 0, fmt.Errorf("create migration version table: %w", err)
	}
	applied, err := readApplied(ctx, db)
	if err != nil {
		return 0, err
	}
	for _, item := range known {
		if record, ok := applied[item.Version]; ok && record.checksum != item.Checksum {
			return 0, fmt.Errorf("migration %d (%s): %w", item.Version, item.Name, ErrChecksumMismatch)
		}
	}

	ran := 0
	for _, item := range known {
		if _, ok := applied[item.Version]; ok {
			continue
		}
		if steps > 0 && ran >= steps {
			break
		}
		err := inTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, item.UpSQL); err != nil {
				return fmt.Errorf("apply migration %d (%s): %w", item.Version, item.Name, err)
			}
			if _, err := tx.ExecContext(ctx, insertVersionSQL, item.Version, item.Name, item.Checksum); err != nil {
				return fmt.Errorf("record migration %d: %w", item.Version, err)
			}
			return nil
		})
		if err != nil {
			return ran, err
		}
		ran++
	}
	return ran, nil
}

// Down rolls back the newest applied migrations, one when steps <= 0.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	known, err := loadMigrations(r.fsys)
	if err != nil {
		return 0, err
	}
	byVersion := make(map[int64]migration, len(known))
	for _, item := range known {
		byVersion[item.Version] = item
	}
	applied, err := readApplied(ctx, db)
	if err != nil {
		return 0, err
	}
	versions := make([]int64, 0, len(applied))
	for version := range applied {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })

	ran := 0
	for _, version := range versions {
		if ran >= steps {
			break
		}
		item, ok := byVersion[version]
		if !ok {
			return ran, fmt.Errorf("applied migration %d is unknown to this build", version)
		}
		err := inTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, item.DownSQL); err != nil {
				return fmt.Errorf("roll back migration %d (%s): %w", item.Version, item.Name, err)
			}
			if _, err := tx.ExecContext(ctx, deleteVersionSQL, item.Version); err != nil {
				return fmt.Errorf("unrecord migration %d: %w", item.Version, err)
			}
			return nil
		})
		if err != nil {
			return ran, err
		}
		ran++
	}
	return ran, nil
}

func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	return nil
}

// readApplied returns the recorded versions, or none when the version table
// does not exist yet.
func readApplied(ctx context.Context, db *sql.DB) (map[int64]appliedVersion, error) {
	var exists bool
	if err := db.QueryRowContext(ctx, versionTableExistsSQL, versionTable).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check migration version table: %w", err)
	}
	applied := map[int64]appliedVersion{}
	if !exists {
		return applied, nil
	}

	rows, err := db.QueryContext(ctx, appliedVersionsSQL)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			version int64
			record  appliedVersion
		)
		if err := rows.Scan(&version, &record.checksum, &record.appliedAt); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	return applied, nil
}

func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	byVersion := map[int64]*migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := fileNamePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			return nil, fmt.Errorf("unexpected file %q in migration dir", entry.Name())
		}
		version, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("invalid migration version in %q", entry.Name())
		}
		body, err := fs.ReadFile(fsys, path.Join("sql", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		item, ok := byVersion[version]
		if !ok {
			item = &migration{Version: version, Name: match[2]}
			byVersion[version] = item
		} else if item.Name != match[2] {
			return nil, fmt.Errorf("migration %d has two names: %q and %q", version, item.Name, match[2])
		}
		if match[3] == "up" {
			item.UpSQL = string(body)
		} else {
			item.DownSQL = string(body)
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, item := range byVersion {
		if strings.TrimSpace(item.UpSQL) == "" {
			return nil, fmt.Errorf("migration %d (%s) missing up SQL", item.Version, item.Name)
		}
		if strings.TrimSpace(item.DownSQL) == "" {
			return nil, fmt.Errorf("migration %d (%s) missing down SQL", item.Version, item.Name)
		}
		sum := sha256.Sum256([]byte(item.UpSQL))
		item.Checksum = hex.EncodeToString(sum[:])
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
