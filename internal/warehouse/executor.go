package warehouse

import (
	"context"
	"strings"
	"time"

	"github.com/snowchat/snowchat/internal/observability"
)

// Executor runs one generated statement per call. Statements are never
// retried: a rejection goes back to the user as a *QueryError.
type Executor struct {
	// MaxRows stops scanning once reached and marks the result truncated.
	// Zero means unlimited.
	MaxRows int
	Timeout time.Duration
}

func NewExecutor(maxRows int, timeout time.Duration) *Executor {
	return &Executor{MaxRows: maxRows, Timeout: timeout}
}

func (e *Executor) Execute(ctx context.Context, q Queryer, sqlText string) (QueryResult, error) {
	statement := stripTrailingSemicolons(sqlText)
	if statement == "" {
		return QueryResult{}, &QueryError{SQL: sqlText, Message: "sql is required"}
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := e.run(ctx, q, statement)
	elapsed := time.Since(start)
	if err != nil {
		observability.ObserveQuery("error", elapsed)
		return QueryResult{}, newQueryError(statement, err)
	}
	observability.ObserveQuery("success", elapsed)
	result.Duration = elapsed
	return result, nil
}

func (e *Executor) run(ctx context.Context, q Queryer, statement string) (QueryResult, error) {
	rows, err := q.QueryContext(ctx, statement)
	if err != nil {
		return QueryResult{}, err
	}
	defer func() { _ = rows.Close() }()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return QueryResult{}, err
	}
	columns := make([]Column, len(columnTypes))
	for i, columnType := range columnTypes {
		columns[i] = Column{Name: columnType.Name(), Type: columnType.DatabaseTypeName()}
	}

	result := QueryResult{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if e.MaxRows > 0 && len(result.Rows) >= e.MaxRows {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return QueryResult{}, err
		}
		result.Rows = append(result.Rows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return QueryResult{}, err
	}
	return result, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
