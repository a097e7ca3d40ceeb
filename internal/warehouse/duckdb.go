package warehouse

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/snowchat/snowchat/internal/config"
	"github.com/snowchat/snowchat/internal/storage"
)

// DuckDB is an in-process warehouse, used for local runs and tests. Tables
// can be materialized from parquet objects with LoadParquet.
type DuckDB struct{}

func (DuckDB) Name() string       { return config.DialectDuckDB }
func (DuckDB) DriverName() string { return "duckdb" }

func (DuckDB) DSN(cfg config.WarehouseConfig) (string, error) {
	return cfg.DSN, nil
}

func (DuckDB) ListTables(ctx context.Context, q Queryer, database, schema string) ([]string, error) {
	const query = `
SELECT table_name
FROM information_schema.tables
WHERE table_catalog = ? AND table_schema = ? AND table_type = 'BASE TABLE'
ORDER BY table_name`
	rows, err := q.QueryContext(ctx, query, database, schema)
	if err != nil {
		return nil, newQueryError(query, err)
	}
	tables, err := scanStrings(rows)
	if err != nil {
		return nil, newQueryError(query, err)
	}
	return tables, nil
}

func (DuckDB) TableDDL(ctx context.Context, q Queryer, database, schema, table string) (string, error) {
	rows, err := q.QueryContext(ctx, `
SELECT sql
FROM duckdb_tables()
WHERE database_name = ? AND schema_name = ? AND table_name = ?`, database, schema, table)
	if err != nil {
		return "", err
	}
	ddl, err := scanStrings(rows)
	if err != nil {
		return "", err
	}
	if len(ddl) == 0 {
		return "", fmt.Errorf("no ddl found for table %q", table)
	}
	return ddl[0], nil
}

func (DuckDB) QualifiedName(database, schema, table string) string {
	return quoteIdent(database) + "." + quoteIdent(schema) + "." + quoteIdent(table)
}

// LoadParquet materializes every <prefix>/<table>/*.parquet object in store
// as a table in schema and returns the loaded table names in order. Objects
// are staged in a temporary directory that is removed before returning.
func LoadParquet(ctx context.Context, db execer, store storage.ObjectReader, prefix, schema string, logger *slog.Logger) ([]string, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	objects, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list parquet objects: %w", err)
	}
	grouped := map[string][]string{}
	for _, object := range objects {
		table, ok := storage.ParquetTableFromKey(prefix, object.Key)
		if !ok {
			continue
		}
		grouped[table] = append(grouped[table], object.Key)
	}
	if len(grouped) == 0 {
		return nil, nil
	}

	workDir, err := os.MkdirTemp("", "snowchat-parquet-")
	if err != nil {
		return nil, fmt.Errorf("create parquet temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdent(schema)); err != nil {
		return nil, fmt.Errorf("create schema %q: %w", schema, err)
	}

	tables := make([]string, 0, len(grouped))
	for table := range grouped {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	for _, table := range tables {
		localPaths := make([]string, 0, len(grouped[table]))
		for index, key := range grouped[table] {
			localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(table), index))
			if err := download(ctx, store, key, localPath); err != nil {
				return nil, err
			}
			localPaths = append(localPaths, localPath)
		}

		createSQL := fmt.Sprintf(`CREATE OR REPLACE TABLE %s.%s AS SELECT * FROM read_parquet(%s)`,
			quoteIdent(schema), quoteIdent(table), quoteStringArray(localPaths))
		if _, err := db.ExecContext(ctx, createSQL); err != nil {
			return nil, fmt.Errorf("create table %q from parquet: %w", table, err)
		}
		logger.Debug("loaded parquet table", "table", table, "files", len(localPaths))
	}
	return tables, nil
}

func download(ctx context.Context, store storage.ObjectReader, key, localPath string) error {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get object %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local parquet file %q: %w", localPath, err)
	}
	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		return fmt.Errorf("write local parquet file %q: %w", localPath, err)
	}
	return file.Close()
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, quoteLiteral(value))
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}
