// Package warehouse talks to the SQL warehouse a session asks questions
// about: it opens the connection, snapshots table DDL for prompts and runs
// generated statements. Everything above this package sees database/sql.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/snowchat/snowchat/internal/config"
)

// Queryer is the read surface shared by *sql.DB, *sql.Conn and *Connection.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Dialect supplies the driver and metadata queries of one warehouse flavour.
type Dialect interface {
	Name() string
	DriverName() string
	// DSN builds the driver connection string. Missing credentials are
	// reported as *config.Error before any network call.
	DSN(cfg config.WarehouseConfig) (string, error)
	ListTables(ctx context.Context, q Queryer, database, schema string) ([]string, error)
	TableDDL(ctx context.Context, q Queryer, database, schema, table string) (string, error)
	QualifiedName(database, schema, table string) string
}

func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case config.DialectSnowflake:
		return Snowflake{}, nil
	case config.DialectPostgres:
		return Postgres{}, nil
	case config.DialectDuckDB:
		return DuckDB{}, nil
	default:
		return nil, &config.Error{Key: "SNOWCHAT_WAREHOUSE_DIALECT", Reason: fmt.Sprintf("unsupported dialect %q", name)}
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteLiteral(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer func() { _ = rows.Close() }()
	out := make([]string, 0)
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
