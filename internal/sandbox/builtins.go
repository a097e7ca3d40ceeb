package sandbox

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// builtins returns the complete allow-list of names predeclared for scripts
// besides df. Output builtins write to out.
func builtins(out *recorder) starlark.StringDict {
	return starlark.StringDict{
		"show":          starlark.NewBuiltin("show", out.show),
		"show_table":    starlark.NewBuiltin("show_table", out.showTable),
		"bar_chart":     starlark.NewBuiltin("bar_chart", out.xyChart),
		"line_chart":    starlark.NewBuiltin("line_chart", out.xyChart),
		"scatter_chart": starlark.NewBuiltin("scatter_chart", out.xyChart),
		"pie_chart":     starlark.NewBuiltin("pie_chart", out.pieChart),
		"column":        starlark.NewBuiltin("column", column),
		"group_sum":     starlark.NewBuiltin("group_sum", groupSum),
		"group_count":   starlark.NewBuiltin("group_count", groupCount),
		"mean":          starlark.NewBuiltin("mean", mean),
		"total":         starlark.NewBuiltin("total", total),
		"minimum":       starlark.NewBuiltin("minimum", extreme(false)),
		"maximum":       starlark.NewBuiltin("maximum", extreme(true)),
		"sort_rows":     starlark.NewBuiltin("sort_rows", sortRows),
		"top":           starlark.NewBuiltin("top", top),
	}
}

func (r *recorder) show(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", fn.Name())
	}
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = displayString(arg)
	}
	text := strings.Join(parts, " ")
	return starlark.None, r.add(Output{Kind: OutputText, Text: text}, len(text))
}

func (r *recorder) showTable(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value starlark.Value
	var title string
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "table", &value, "title?", &title); err != nil {
		return nil, err
	}
	table, err := asTable(fn.Name(), value)
	if err != nil {
		return nil, err
	}
	output, size := table.output(title)
	return starlark.None, r.add(Output{Kind: OutputTable, Table: &output}, size)
}

func (r *recorder) xyChart(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var xValue, yValue starlark.Value
	var title string
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "x", &xValue, "y", &yValue, "title?", &title); err != nil {
		return nil, err
	}
	xs, err := collect(fn.Name(), xValue)
	if err != nil {
		return nil, err
	}
	ys, err := collect(fn.Name(), yValue)
	if err != nil {
		return nil, err
	}
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("%s: x has %d values but y has %d", fn.Name(), len(xs), len(ys))
	}
	chart := &ChartSpec{Kind: strings.TrimSuffix(fn.Name(), "_chart"), Title: title, X: make([]any, len(xs)), Y: make([]float64, len(ys))}
	size := len(title)
	for i := range xs {
		y, ok := toFloat(ys[i])
		if !ok {
			return nil, fmt.Errorf("%s: y value %s is not a number", fn.Name(), ys[i].String())
		}
		chart.X[i] = fromStarlark(xs[i])
		chart.Y[i] = y
		size += len(xs[i].String()) + 8
	}
	return starlark.None, r.add(Output{Kind: OutputChart, Chart: chart}, size)
}

func (r *recorder) pieChart(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var labelsValue, valuesValue starlark.Value
	var title string
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "labels", &labelsValue, "values", &valuesValue, "title?", &title); err != nil {
		return nil, err
	}
	labels, err := collect(fn.Name(), labelsValue)
	if err != nil {
		return nil, err
	}
	values, err := collect(fn.Name(), valuesValue)
	if err != nil {
		return nil, err
	}
	if len(labels) != len(values) {
		return nil, fmt.Errorf("%s: %d labels but %d values", fn.Name(), len(labels), len(values))
	}
	chart := &ChartSpec{Kind: "pie", Title: title, Labels: make([]string, len(labels)), Values: make([]float64, len(values))}
	size := len(title)
	for i := range labels {
		v, ok := toFloat(values[i])
		if !ok {
			return nil, fmt.Errorf("%s: value %s is not a number", fn.Name(), values[i].String())
		}
		chart.Labels[i] = displayString(labels[i])
		chart.Values[i] = v
		size += len(chart.Labels[i]) + 8
	}
	return starlark.None, r.add(Output{Kind: OutputChart, Chart: chart}, size)
}

func column(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value starlark.Value
	var name string
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "table", &value, "name", &name); err != nil {
		return nil, err
	}
	table, err := asTable(fn.Name(), value)
	if err != nil {
		return nil, err
	}
	index := table.columnIndex(name)
	if index < 0 {
		return nil, fmt.Errorf("%s: table has no column %q", fn.Name(), name)
	}
	return table.column(index), nil
}

func groupSum(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value starlark.Value
	var by, of string
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "table", &value, "by", &by, "value", &of); err != nil {
		return nil, err
	}
	table, err := asTable(fn.Name(), value)
	if err != nil {
		return nil, err
	}
	byIndex, ofIndex := table.columnIndex(by), table.columnIndex(of)
	if byIndex < 0 || ofIndex < 0 {
		return nil, fmt.Errorf("%s: table has no column %q or %q", fn.Name(), by, of)
	}

	groups := newGrouper()
	sums := make([][]starlark.Value, 0)
	for _, row := range table.rows {
		slot, err := groups.slot(row[byIndex])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fn.Name(), err)
		}
		if slot == len(sums) {
			sums = append(sums, nil)
		}
		if row[ofIndex] != starlark.None {
			sums[slot] = append(sums[slot], row[ofIndex])
		}
	}
	rows := make([][]starlark.Value, len(sums))
	for i, values := range sums {
		sum, err := sumValues(fn.Name(), values)
		if err != nil {
			return nil, err
		}
		rows[i] = []starlark.Value{groups.keys[i], sum}
	}
	return &Table{columns: []string{by, of}, rows: rows}, nil
}

func groupCount(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value starlark.Value
	var by string
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "table", &value, "by", &by); err != nil {
		return nil, err
	}
	table, err := asTable(fn.Name(), value)
	if err != nil {
		return nil, err
	}
	byIndex := table.columnIndex(by)
	if byIndex < 0 {
		return nil, fmt.Errorf("%s: table has no column %q", fn.Name(), by)
	}

	groups := newGrouper()
	counts := make([]int, 0)
	for _, row := range table.rows {
		slot, err := groups.slot(row[byIndex])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fn.Name(), err)
		}
		if slot == len(counts) {
			counts = append(counts, 0)
		}
		counts[slot]++
	}
	rows := make([][]starlark.Value, len(counts))
	for i, count := range counts {
		rows[i] = []starlark.Value{groups.keys[i], starlark.MakeInt(count)}
	}
	return &Table{columns: []string{by, "count"}, rows: rows}, nil
}

func mean(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	values, err := unpackValues(fn, args, kwargs)
	if err != nil {
		return nil, err
	}
	numbers, err := floats(fn.Name(), values)
	if err != nil {
		return nil, err
	}
	if len(numbers) == 0 {
		return starlark.None, nil
	}
	var sum float64
	for _, n := range numbers {
		sum += n
	}
	return starlark.Float(sum / float64(len(numbers))), nil
}

func total(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	values, err := unpackValues(fn, args, kwargs)
	if err != nil {
		return nil, err
	}
	present := make([]starlark.Value, 0, len(values))
	for _, value := range values {
		if value != starlark.None {
			present = append(present, value)
		}
	}
	return sumValues(fn.Name(), present)
}

func extreme(max bool) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		values, err := unpackValues(fn, args, kwargs)
		if err != nil {
			return nil, err
		}
		var best starlark.Value = starlark.None
		bestNumber := 0.0
		for _, value := range values {
			if value == starlark.None {
				continue
			}
			n, ok := toFloat(value)
			if !ok {
				return nil, fmt.Errorf("%s: value %s is not a number", fn.Name(), value.String())
			}
			if best == starlark.None || (max && n > bestNumber) || (!max && n < bestNumber) {
				best, bestNumber = value, n
			}
		}
		return best, nil
	}
}

func sortRows(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value starlark.Value
	var by string
	var descending bool
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "table", &value, "by", &by, "descending?", &descending); err != nil {
		return nil, err
	}
	table, err := asTable(fn.Name(), value)
	if err != nil {
		return nil, err
	}
	index := table.columnIndex(by)
	if index < 0 {
		return nil, fmt.Errorf("%s: table has no column %q", fn.Name(), by)
	}

	rows := append([][]starlark.Value(nil), table.rows...)
	var compareErr error
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i][index], rows[j][index]
		if a == starlark.None || b == starlark.None {
			return b == starlark.None && a != starlark.None
		}
		less, err := lessThan(a, b)
		if err != nil && compareErr == nil {
			compareErr = err
		}
		if descending {
			greater, _ := lessThan(b, a)
			return greater
		}
		return less
	})
	if compareErr != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), compareErr)
	}
	return &Table{columns: append([]string(nil), table.columns...), rows: rows}, nil
}

func top(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value starlark.Value
	var n int
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "table", &value, "n", &n); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%s: n must not be negative", fn.Name())
	}
	table, err := asTable(fn.Name(), value)
	if err != nil {
		return nil, err
	}
	if n > len(table.rows) {
		n = len(table.rows)
	}
	return &Table{columns: append([]string(nil), table.columns...), rows: append([][]starlark.Value(nil), table.rows[:n]...)}, nil
}

// asTable accepts a Table or a list of dicts sharing the first dict's keys.
func asTable(fnName string, value starlark.Value) (*Table, error) {
	if table, ok := value.(*Table); ok {
		return table, nil
	}
	list, ok := value.(*starlark.List)
	if !ok {
		return nil, fmt.Errorf("%s: want table or list of dicts, got %s", fnName, value.Type())
	}
	table := &Table{rows: make([][]starlark.Value, 0, list.Len())}
	for i := 0; i < list.Len(); i++ {
		dict, ok := list.Index(i).(*starlark.Dict)
		if !ok {
			return nil, fmt.Errorf("%s: list element %d is %s, not dict", fnName, i, list.Index(i).Type())
		}
		if i == 0 {
			for _, key := range dict.Keys() {
				table.columns = append(table.columns, displayString(key))
			}
		}
		row := make([]starlark.Value, len(table.columns))
		for j, column := range table.columns {
			v, found, err := dict.Get(starlark.String(column))
			if err != nil {
				return nil, err
			}
			if !found {
				v = starlark.None
			}
			row[j] = v
		}
		table.rows = append(table.rows, row)
	}
	return table, nil
}

func unpackValues(fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) ([]starlark.Value, error) {
	var value starlark.Value
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "values", &value); err != nil {
		return nil, err
	}
	return collect(fn.Name(), value)
}

func collect(fnName string, value starlark.Value) ([]starlark.Value, error) {
	if _, ok := value.(*Table); ok {
		return nil, fmt.Errorf("%s: want a list of values, got table (use column())", fnName)
	}
	iterable, ok := value.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("%s: want a list of values, got %s", fnName, value.Type())
	}
	iter := iterable.Iterate()
	defer iter.Done()
	values := make([]starlark.Value, 0)
	var item starlark.Value
	for iter.Next(&item) {
		values = append(values, item)
	}
	return values, nil
}

func floats(fnName string, values []starlark.Value) ([]float64, error) {
	out := make([]float64, 0, len(values))
	for _, value := range values {
		if value == starlark.None {
			continue
		}
		n, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("%s: value %s is not a number", fnName, value.String())
		}
		out = append(out, n)
	}
	return out, nil
}

// sumValues keeps integer sums exact and switches to float on the first
// non-integer value.
func sumValues(fnName string, values []starlark.Value) (starlark.Value, error) {
	intSum := starlark.MakeInt(0)
	floatSum := 0.0
	useFloat := false
	for _, value := range values {
		if i, ok := value.(starlark.Int); ok && !useFloat {
			intSum = intSum.Add(i)
			continue
		}
		n, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("%s: value %s is not a number", fnName, value.String())
		}
		if !useFloat {
			useFloat = true
			floatSum = float64(intSum.Float())
		}
		floatSum += n
	}
	if useFloat {
		return starlark.Float(floatSum), nil
	}
	return intSum, nil
}

// toFloat also accepts numeric strings: warehouses commonly return fixed
// point NUMBER columns as text.
func toFloat(value starlark.Value) (float64, bool) {
	if _, ok := value.(starlark.Bool); ok {
		return 0, false
	}
	if n, ok := starlark.AsFloat(value); ok {
		return n, true
	}
	if s, ok := starlark.AsString(value); ok {
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return n, err == nil
	}
	return 0, false
}

func lessThan(a, b starlark.Value) (bool, error) {
	an, aok := toFloat(a)
	bn, bok := toFloat(b)
	if aok && bok {
		return an < bn, nil
	}
	return starlark.Compare(syntax.LT, a, b)
}

func displayString(value starlark.Value) string {
	if s, ok := starlark.AsString(value); ok {
		return s
	}
	return value.String()
}

type grouper struct {
	index *starlark.Dict
	keys  []starlark.Value
}

func newGrouper() *grouper {
	return &grouper{index: starlark.NewDict(0)}
}

// slot returns the position of key in first-seen order, adding it if new.
func (g *grouper) slot(key starlark.Value) (int, error) {
	existing, found, err := g.index.Get(key)
	if err != nil {
		return 0, err
	}
	if found {
		n, _ := starlark.AsInt32(existing)
		return n, nil
	}
	slot := len(g.keys)
	if err := g.index.SetKey(key, starlark.MakeInt(slot)); err != nil {
		return 0, err
	}
	g.keys = append(g.keys, key)
	return slot, nil
}
