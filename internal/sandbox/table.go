package sandbox

import (
	"fmt"
	"math/big"
	"time"

	"go.starlark.net/starlark"

	"github.com/snowchat/snowchat/internal/warehouse"
)

// Table is the read-only result table exposed to scripts as df.
//
//	len(df)        row count
//	df.columns     list of column names
//	df.rows        list of row dicts
//	df["REGION"]   column values as a list
//	df[0]          first row as a dict
//	for row in df  iterates row dicts
type Table struct {
	columns []string
	rows    [][]starlark.Value
	frozen  bool
}

var (
	_ starlark.Sequence = (*Table)(nil)
	_ starlark.Mapping  = (*Table)(nil)
	_ starlark.HasAttrs = (*Table)(nil)
)

func newTableFromResult(result warehouse.QueryResult) *Table {
	rows := make([][]starlark.Value, len(result.Rows))
	for i, row := range result.Rows {
		converted := make([]starlark.Value, len(result.Columns))
		for j := range converted {
			if j < len(row) {
				converted[j] = toStarlark(row[j])
			} else {
				converted[j] = starlark.None
			}
		}
		rows[i] = converted
	}
	table := &Table{columns: result.ColumnNames(), rows: rows}
	table.Freeze()
	return table
}

func (t *Table) String() string {
	return fmt.Sprintf("<table %d rows x %d columns>", len(t.rows), len(t.columns))
}

func (t *Table) Type() string { return "table" }

func (t *Table) Freeze() {
	if t.frozen {
		return
	}
	t.frozen = true
	for _, row := range t.rows {
		for _, value := range row {
			value.Freeze()
		}
	}
}

func (t *Table) Truth() starlark.Bool { return len(t.rows) > 0 }

func (t *Table) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: table") }

func (t *Table) Len() int { return len(t.rows) }

func (t *Table) Iterate() starlark.Iterator {
	return &tableIterator{table: t}
}

func (t *Table) Get(key starlark.Value) (starlark.Value, bool, error) {
	switch k := key.(type) {
	case starlark.String:
		index := t.columnIndex(string(k))
		if index < 0 {
			return nil, false, fmt.Errorf("table has no column %s", k.String())
		}
		return t.column(index), true, nil
	case starlark.Int:
		i, ok := k.Int64()
		if !ok {
			return nil, false, fmt.Errorf("row index out of range")
		}
		if i < 0 {
			i += int64(len(t.rows))
		}
		if i < 0 || i >= int64(len(t.rows)) {
			return nil, false, fmt.Errorf("row index %d out of range [0:%d]", i, len(t.rows))
		}
		return t.rowDict(int(i)), true, nil
	default:
		return nil, false, fmt.Errorf("table index must be a column name or row number, not %s", key.Type())
	}
}

func (t *Table) Attr(name string) (starlark.Value, error) {
	switch name {
	case "columns":
		names := make([]starlark.Value, len(t.columns))
		for i, column := range t.columns {
			names[i] = starlark.String(column)
		}
		return starlark.NewList(names), nil
	case "rows":
		rows := make([]starlark.Value, len(t.rows))
		for i := range t.rows {
			rows[i] = t.rowDict(i)
		}
		return starlark.NewList(rows), nil
	default:
		return nil, nil
	}
}

func (t *Table) AttrNames() []string { return []string{"columns", "rows"} }

func (t *Table) columnIndex(name string) int {
	for i, column := range t.columns {
		if column == name {
			return i
		}
	}
	return -1
}

func (t *Table) column(index int) *starlark.List {
	values := make([]starlark.Value, len(t.rows))
	for i, row := range t.rows {
		values[i] = row[index]
	}
	return starlark.NewList(values)
}

func (t *Table) rowDict(i int) *starlark.Dict {
	dict := starlark.NewDict(len(t.columns))
	for j, column := range t.columns {
		_ = dict.SetKey(starlark.String(column), t.rows[i][j])
	}
	return dict
}

func (t *Table) output(title string) (TableOutput, int) {
	size := len(title)
	rows := make([][]any, len(t.rows))
	for i, row := range t.rows {
		converted := make([]any, len(row))
		for j, value := range row {
			converted[j] = fromStarlark(value)
			size += len(value.String())
		}
		rows[i] = converted
	}
	for _, column := range t.columns {
		size += len(column)
	}
	return TableOutput{Title: title, Columns: append([]string(nil), t.columns...), Rows: rows}, size
}

type tableIterator struct {
	table *Table
	index int
}

func (it *tableIterator) Next(p *starlark.Value) bool {
	if it.index >= len(it.table.rows) {
		return false
	}
	*p = it.table.rowDict(it.index)
	it.index++
	return true
}

func (it *tableIterator) Done() {}

func toStarlark(value any) starlark.Value {
	switch typed := value.(type) {
	case nil:
		return starlark.None
	case bool:
		return starlark.Bool(typed)
	case int:
		return starlark.MakeInt(typed)
	case int8:
		return starlark.MakeInt64(int64(typed))
	case int16:
		return starlark.MakeInt64(int64(typed))
	case int32:
		return starlark.MakeInt64(int64(typed))
	case int64:
		return starlark.MakeInt64(typed)
	case uint8:
		return starlark.MakeUint64(uint64(typed))
	case uint16:
		return starlark.MakeUint64(uint64(typed))
	case uint32:
		return starlark.MakeUint64(uint64(typed))
	case uint64:
		return starlark.MakeUint64(typed)
	case float32:
		return starlark.Float(typed)
	case float64:
		return starlark.Float(typed)
	case *big.Int:
		return starlark.MakeBigInt(typed)
	case string:
		return starlark.String(typed)
	case []byte:
		return starlark.String(typed)
	case time.Time:
		return starlark.String(typed.Format(time.RFC3339))
	case interface{ Float64() float64 }:
		return starlark.Float(typed.Float64())
	default:
		return starlark.String(fmt.Sprint(typed))
	}
}

func fromStarlark(value starlark.Value) any {
	switch typed := value.(type) {
	case starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(typed)
	case starlark.Int:
		if i, ok := typed.Int64(); ok {
			return i
		}
		return typed.String()
	case starlark.Float:
		return float64(typed)
	case starlark.String:
		return string(typed)
	default:
		return value.String()
	}
}
