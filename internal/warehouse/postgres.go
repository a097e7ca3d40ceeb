package warehouse

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/snowchat/snowchat/internal/config"
)

type Postgres struct{}

func (Postgres) Name() string       { return config.DialectPostgres }
func (Postgres) DriverName() string { return "pgx" }

// DSN returns the configured DSN, or assembles a URL from user, password,
// account (host[:port]) and database.
func (Postgres) DSN(cfg config.WarehouseConfig) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if strings.TrimSpace(cfg.User) == "" {
		return "", &config.Error{Key: "SNOWCHAT_WAREHOUSE_USER", Reason: "user is required for postgres"}
	}
	if strings.TrimSpace(cfg.Account) == "" {
		return "", &config.Error{Key: "SNOWCHAT_WAREHOUSE_ACCOUNT", Reason: "host is required for postgres"}
	}
	dsn := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   cfg.Account,
		Path:   "/" + cfg.Database,
	}
	if cfg.Schema != "" {
		dsn.RawQuery = url.Values{"search_path": []string{cfg.Schema}}.Encode()
	}
	return dsn.String(), nil
}

func (Postgres) ListTables(ctx context.Context, q Queryer, database, schema string) ([]string, error) {
	const query = `
SELECT table_name
FROM information_schema.tables
WHERE table_catalog = $1 AND table_schema = $2 AND table_type = 'BASE TABLE'
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

// TableDDL renders a CREATE TABLE statement from information_schema.columns;
// postgres has no server-side equivalent of GET_DDL.
func (p Postgres) TableDDL(ctx context.Context, q Queryer, database, schema, table string) (string, error) {
	rows, err := q.QueryContext(ctx, `
SELECT column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_catalog = $1 AND table_schema = $2 AND table_name = $3
ORDER BY ordinal_position`, database, schema, table)
	if err != nil {
		return "", err
	}
	defer func() { _ = rows.Close() }()

	lines := make([]string, 0)
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return "", fmt.Errorf("scan column: %w", err)
		}
		line := "    " + quoteIdent(name) + " " + dataType
		if strings.EqualFold(nullable, "NO") {
			line += " NOT NULL"
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("no columns found for table %q", table)
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n);", p.QualifiedName(database, schema, table), strings.Join(lines, ",\n")), nil
}

// QualifiedName omits the database: postgres cannot query across databases.
func (Postgres) QualifiedName(_, schema, table string) string {
	return quoteIdent(schema) + "." + quoteIdent(table)
}
