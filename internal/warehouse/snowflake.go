package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/snowflakedb/gosnowflake"

	"github.com/snowchat/snowchat/internal/config"
)

var snowflakePlainIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

type Snowflake struct{}

func (Snowflake) Name() string       { return config.DialectSnowflake }
func (Snowflake) DriverName() string { return "snowflake" }

func (Snowflake) DSN(cfg config.WarehouseConfig) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	for _, required := range []struct{ key, value string }{
		{"SNOWCHAT_WAREHOUSE_USER", cfg.User},
		{"SNOWCHAT_WAREHOUSE_PASSWORD", cfg.Password},
		{"SNOWCHAT_WAREHOUSE_ACCOUNT", cfg.Account},
		{"SNOWCHAT_WAREHOUSE_WAREHOUSE", cfg.Warehouse},
	} {
		if strings.TrimSpace(required.value) == "" {
			return "", &config.Error{Key: required.key, Reason: "credential is required for snowflake"}
		}
	}
	dsn, err := gosnowflake.DSN(&gosnowflake.Config{
		Account:   cfg.Account,
		User:      cfg.User,
		Password:  cfg.Password,
		Database:  cfg.Database,
		Schema:    cfg.Schema,
		Warehouse: cfg.Warehouse,
		Role:      cfg.Role,
	})
	if err != nil {
		return "", &config.Error{Key: "SNOWCHAT_WAREHOUSE_ACCOUNT", Reason: err.Error()}
	}
	return dsn, nil
}

// ListTables runs SHOW TABLES and reads the name column. The column set of
// SHOW output varies across releases, so it is located by header.
func (s Snowflake) ListTables(ctx context.Context, q Queryer, database, schema string) ([]string, error) {
	query := fmt.Sprintf("SHOW TABLES IN SCHEMA %s.%s", snowflakeIdent(database), snowflakeIdent(schema))
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, newQueryError(query, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("show tables columns: %w", err)
	}
	nameIndex := -1
	for i, column := range columns {
		if strings.EqualFold(column, "name") {
			nameIndex = i
			break
		}
	}
	if nameIndex < 0 {
		return nil, fmt.Errorf("show tables returned no name column")
	}

	tables := make([]string, 0)
	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan show tables row: %w", err)
		}
		if values[nameIndex].Valid && values[nameIndex].String != "" {
			tables = append(tables, values[nameIndex].String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, newQueryError(query, err)
	}
	return tables, nil
}

func (s Snowflake) TableDDL(ctx context.Context, q Queryer, database, schema, table string) (string, error) {
	rows, err := q.QueryContext(ctx, "SELECT GET_DDL('TABLE', ?)", s.QualifiedName(database, schema, table))
	if err != nil {
		return "", err
	}
	ddl, err := scanStrings(rows)
	if err != nil {
		return "", err
	}
	if len(ddl) == 0 {
		return "", fmt.Errorf("get_ddl returned no rows for %q", table)
	}
	return ddl[0], nil
}

func (Snowflake) QualifiedName(database, schema, table string) string {
	return snowflakeIdent(database) + "." + snowflakeIdent(schema) + "." + snowflakeIdent(table)
}

// snowflakeIdent leaves plain identifiers unquoted so Snowflake folds them
// to upper case as it does for configured database and schema names.
func snowflakeIdent(value string) string {
	if snowflakePlainIdent.MatchString(value) {
		return value
	}
	return quoteIdent(value)
}
