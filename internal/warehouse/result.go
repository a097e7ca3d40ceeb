package warehouse

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
)

type Column struct {
	Name string
	Type string
}

// QueryResult is a fully materialized, read-only result table.
type QueryResult struct {
	Columns   []Column
	Rows      [][]any
	Truncated bool
	Duration  time.Duration
}

func (r QueryResult) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, column := range r.Columns {
		names[i] = column.Name
	}
	return names
}

// Describe summarizes the result's shape for the analysis prompt: row
// count and, per column, its position, name, type and non-null count. Row
// values are never included.
func (r QueryResult) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rows: %d", len(r.Rows))
	if r.Truncated {
		b.WriteString(" (truncated)")
	}
	fmt.Fprintf(&b, "\nColumns: %d\n", len(r.Columns))

	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, " #\tColumn\tNon-Null Count\tType")
	fmt.Fprintln(w, "---\t------\t--------------\t----")
	for i, column := range r.Columns {
		nonNull := 0
		var sample any
		for _, row := range r.Rows {
			if i < len(row) && row[i] != nil {
				nonNull++
				if sample == nil {
					sample = row[i]
				}
			}
		}
		typeName := column.Type
		if typeName == "" {
			typeName = goTypeName(sample)
		}
		fmt.Fprintf(w, " %d\t%s\t%d non-null\t%s\n", i, column.Name, nonNull, typeName)
	}
	_ = w.Flush()
	return b.String()
}

func goTypeName(value any) string {
	switch value.(type) {
	case nil:
		return "unknown"
	case time.Time:
		return "timestamp"
	default:
		return fmt.Sprintf("%T", value)
	}
}

// FormatValue renders a cell for display.
func FormatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case time.Time:
		return typed.Format(time.RFC3339)
	case []byte:
		return string(typed)
	default:
		return fmt.Sprint(typed)
	}
}
