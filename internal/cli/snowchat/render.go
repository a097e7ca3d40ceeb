package snowchat

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"

	"github.com/snowchat/snowchat/internal/observability"
	"github.com/snowchat/snowchat/internal/pipeline"
	"github.com/snowchat/snowchat/internal/sandbox"
	"github.com/snowchat/snowchat/internal/sqlsafety"
	"github.com/snowchat/snowchat/internal/warehouse"
)

var (
	headingStyle = pterm.NewStyle(pterm.FgCyan, pterm.Bold)
	warningStyle = pterm.NewStyle(pterm.FgYellow)
	errorStyle   = pterm.NewStyle(pterm.FgRed, pterm.Bold)
)

type renderer struct {
	out     io.Writer
	maxRows int
}

func (r *renderer) heading(title string) {
	_, _ = fmt.Fprintln(r.out, headingStyle.Sprint(title))
}

func (r *renderer) promptMarker() {
	_, _ = fmt.Fprint(r.out, "> ")
}

func (r *renderer) turn(turn *pipeline.Turn) {
	if turn.SQL.Text != "" {
		r.heading("SQL")
		_, _ = fmt.Fprintln(r.out, turn.SQL.Text)
	}
	if turn.State == pipeline.StateRejected {
		_, _ = fmt.Fprintln(r.out, warningStyle.Sprintf("Rejected: the query contains the blocked keyword %s and was not run.", turn.SQL.RejectedKeyword))
		return
	}
	if turn.Result != nil {
		r.heading("Result")
		r.result(*turn.Result)
	}
}

func (r *renderer) result(result warehouse.QueryResult) {
	if len(result.Columns) == 0 {
		_, _ = fmt.Fprintln(r.out, "(no columns)")
		return
	}
	r.table(result.ColumnNames(), result.Rows)
	summary := fmt.Sprintf("%d row(s) in %s", len(result.Rows), result.Duration.Round(1e6))
	if result.Truncated {
		summary += ", truncated by the row limit"
	}
	_, _ = fmt.Fprintln(r.out, summary)
}

func (r *renderer) table(columns []string, rows [][]any) {
	data := pterm.TableData{columns}
	shown := rows
	if r.maxRows > 0 && len(shown) > r.maxRows {
		shown = shown[:r.maxRows]
	}
	for _, row := range shown {
		cells := make([]string, len(row))
		for i, value := range row {
			cells[i] = warehouse.FormatValue(value)
		}
		data = append(data, cells)
	}
	rendered, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		_, _ = fmt.Fprintf(r.out, "render table: %v\n", err)
		return
	}
	_, _ = fmt.Fprintln(r.out, rendered)
	if len(shown) < len(rows) {
		_, _ = fmt.Fprintf(r.out, "... %d more row(s)\n", len(rows)-len(shown))
	}
}

func (r *renderer) execution(turn *pipeline.Turn) {
	if turn.Code != nil {
		r.heading("Code")
		_, _ = fmt.Fprintln(r.out, turn.Code.Source)
	}
	if turn.Execution == nil {
		return
	}
	r.heading("Output")
	for _, output := range turn.Execution.Outputs {
		switch output.Kind {
		case sandbox.OutputText:
			_, _ = fmt.Fprintln(r.out, output.Text)
		case sandbox.OutputTable:
			if output.Table.Title != "" {
				_, _ = fmt.Fprintln(r.out, output.Table.Title)
			}
			r.table(output.Table.Columns, output.Table.Rows)
		case sandbox.OutputChart:
			r.chart(output.Chart)
		}
	}
}

func (r *renderer) chart(chart *sandbox.ChartSpec) {
	points := len(chart.Y)
	if chart.Kind == "pie" {
		points = len(chart.Values)
	}
	title := chart.Title
	if title == "" {
		title = "untitled"
	}
	_, _ = fmt.Fprintf(r.out, "[%s chart] %s (%d points)\n", chart.Kind, title, points)
}

func (r *renderer) schema(snapshot warehouse.SchemaSnapshot) {
	r.heading(fmt.Sprintf("Schema %s.%s", snapshot.Database(), snapshot.Schema()))
	tables := snapshot.Tables()
	if len(tables) == 0 {
		_, _ = fmt.Fprintln(r.out, "(no tables)")
		return
	}
	for _, table := range tables {
		_, _ = fmt.Fprintln(r.out, headingStyle.Sprint(table.Name))
		_, _ = fmt.Fprintln(r.out, strings.TrimSpace(table.DDL))
		_, _ = fmt.Fprintln(r.out)
	}
}

func (r *renderer) questions(questions []string) {
	r.heading("Try asking")
	for i, question := range questions {
		_, _ = fmt.Fprintf(r.out, "%d. %s\n", i+1, question)
	}
}

func printError(w io.Writer, err error) {
	kind := pipeline.Classify(err)
	message := observability.Mask(err.Error())
	var validationErr *sqlsafety.ValidationError
	if errors.As(err, &validationErr) {
		message = "generated SQL was not run: " + message
	}
	_, _ = fmt.Fprintln(w, errorStyle.Sprintf("error (%s): %s", kind, message))
}
