package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/snowchat/snowchat/internal/observability"
)

// NoSchemaPlaceholder stands in for the DDL of a table whose definition
// could not be fetched.
const NoSchemaPlaceholder = "-- no schema available"

var ErrUnknownTable = errors.New("unknown table")

type TableSchema struct {
	Name      string
	DDL       string
	Available bool
}

// SchemaSnapshot is the table list and DDL of one schema, captured once per
// session. It is never mutated after BuildSnapshot returns.
type SchemaSnapshot struct {
	database string
	schema   string
	tables   []TableSchema
	builtAt  time.Time
}

func NewSnapshot(database, schema string, tables []TableSchema) SchemaSnapshot {
	return SchemaSnapshot{
		database: database,
		schema:   schema,
		tables:   append([]TableSchema(nil), tables...),
		builtAt:  time.Now().UTC(),
	}
}

func (s SchemaSnapshot) Database() string   { return s.database }
func (s SchemaSnapshot) Schema() string     { return s.schema }
func (s SchemaSnapshot) BuiltAt() time.Time { return s.builtAt }

func (s SchemaSnapshot) Tables() []TableSchema {
	return append([]TableSchema(nil), s.tables...)
}

func (s SchemaSnapshot) TableNames() []string {
	names := make([]string, 0, len(s.tables))
	for _, table := range s.tables {
		names = append(names, table.Name)
	}
	return names
}

// LookupTable finds a table by name ignoring case and returns it with the
// name as the warehouse listed it.
func (s SchemaSnapshot) LookupTable(name string) (TableSchema, bool) {
	for _, table := range s.tables {
		if strings.EqualFold(table.Name, name) {
			return table, true
		}
	}
	return TableSchema{}, false
}

func (s SchemaSnapshot) HasTable(name string) bool {
	_, ok := s.LookupTable(name)
	return ok
}

// PromptText renders the snapshot for the <<TABLES>> placeholder: each
// table name followed by its DDL, separated by blank lines.
func (s SchemaSnapshot) PromptText() string {
	var b strings.Builder
	for _, table := range s.tables {
		b.WriteString("\n")
		b.WriteString(table.Name)
		b.WriteString("\n\n")
		b.WriteString(table.DDL)
		b.WriteString("\n\n")
	}
	return b.String()
}

// BuildSnapshot lists the tables of database.schema and fetches each one's
// DDL. A table whose DDL cannot be fetched keeps its place in the snapshot
// with NoSchemaPlaceholder; only a failed listing fails the snapshot.
func BuildSnapshot(ctx context.Context, q Queryer, dialect Dialect, database, schema string, logger *slog.Logger) (SchemaSnapshot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	names, err := dialect.ListTables(ctx, q, database, schema)
	if err != nil {
		var queryErr *QueryError
		if errors.As(err, &queryErr) {
			return SchemaSnapshot{}, err
		}
		return SchemaSnapshot{}, &QueryError{Message: observability.Mask(err.Error()), Err: err}
	}

	tables := make([]TableSchema, 0, len(names))
	for _, name := range names {
		ddl, err := dialect.TableDDL(ctx, q, database, schema, name)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return SchemaSnapshot{}, fmt.Errorf("build schema snapshot: %w", ctxErr)
			}
			observability.IncrementSchemaDDLFailure()
			logger.Warn("table ddl unavailable", "table", name, "error", observability.Mask(err.Error()))
			tables = append(tables, TableSchema{Name: name, DDL: NoSchemaPlaceholder})
			continue
		}
		tables = append(tables, TableSchema{Name: name, DDL: strings.TrimSpace(ddl), Available: true})
	}
	logger.Debug("schema snapshot built", "database", database, "schema", schema, "tables", len(tables))
	return NewSnapshot(database, schema, tables), nil
}

// PreviewTable returns up to limit rows of a table named in the snapshot,
// matched case-insensitively. The statement runs under timeout when it is
// positive.
func PreviewTable(ctx context.Context, q Queryer, dialect Dialect, snapshot SchemaSnapshot, table string, limit int, timeout time.Duration) (QueryResult, error) {
	known, ok := snapshot.LookupTable(table)
	if !ok {
		return QueryResult{}, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	if limit <= 0 {
		limit = 10
	}
	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d", dialect.QualifiedName(snapshot.Database(), snapshot.Schema(), known.Name), limit)
	return NewExecutor(limit, timeout).Execute(ctx, q, query)
}
