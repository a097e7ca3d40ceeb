package api

import (
	"math"
	"time"

	"github.com/snowchat/snowchat/internal/codegen"
	"github.com/snowchat/snowchat/internal/observability"
	"github.com/snowchat/snowchat/internal/pipeline"
	"github.com/snowchat/snowchat/internal/sandbox"
	"github.com/snowchat/snowchat/internal/warehouse"
)

type schemaPayload struct {
	Database string         `json:"database"`
	Schema   string         `json:"schema"`
	BuiltAt  time.Time      `json:"built_at"`
	Tables   []tablePayload `json:"tables"`
}

type tablePayload struct {
	Name      string `json:"name"`
	DDL       string `json:"ddl"`
	Available bool   `json:"available"`
}

type columnPayload struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type resultPayload struct {
	Columns     []columnPayload `json:"columns"`
	Rows        [][]any         `json:"rows"`
	RowCount    int             `json:"row_count"`
	Truncated   bool            `json:"truncated"`
	DurationMs  int64           `json:"duration_ms"`
	Description string          `json:"description"`
}

type sqlPayload struct {
	Text            string `json:"text"`
	Status          string `json:"status"`
	RejectedKeyword string `json:"rejected_keyword,omitempty"`
}

type outputPayload struct {
	Kind  sandbox.OutputKind  `json:"kind"`
	Text  string              `json:"text,omitempty"`
	Table *tableOutputPayload `json:"table,omitempty"`
	Chart *sandbox.ChartSpec  `json:"chart,omitempty"`
}

type tableOutputPayload struct {
	Title   string   `json:"title,omitempty"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

type executionPayload struct {
	Status     sandbox.Status  `json:"status"`
	Outputs    []outputPayload `json:"outputs"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms"`
}

type turnPayload struct {
	ID               string                 `json:"turn_id"`
	Question         string                 `json:"question"`
	State            pipeline.State         `json:"state"`
	SQL              sqlPayload             `json:"sql"`
	Result           *resultPayload         `json:"result,omitempty"`
	FollowUpQuestion string                 `json:"follow_up_question,omitempty"`
	Code             *codegen.GeneratedCode `json:"code,omitempty"`
	Execution        *executionPayload      `json:"execution,omitempty"`
	Error            string                 `json:"error,omitempty"`
	ErrorKind        pipeline.Kind          `json:"error_kind,omitempty"`
}

func newSchemaPayload(snapshot warehouse.SchemaSnapshot) schemaPayload {
	tables := snapshot.Tables()
	out := schemaPayload{
		Database: snapshot.Database(),
		Schema:   snapshot.Schema(),
		BuiltAt:  snapshot.BuiltAt().UTC(),
		Tables:   make([]tablePayload, 0, len(tables)),
	}
	for _, table := range tables {
		out.Tables = append(out.Tables, tablePayload{Name: table.Name, DDL: table.DDL, Available: table.Available})
	}
	return out
}

func newResultPayload(result warehouse.QueryResult) resultPayload {
	out := resultPayload{
		Columns:     make([]columnPayload, 0, len(result.Columns)),
		Rows:        jsonRows(result.Rows),
		RowCount:    len(result.Rows),
		Truncated:   result.Truncated,
		DurationMs:  result.Duration.Milliseconds(),
		Description: result.Describe(),
	}
	for _, column := range result.Columns {
		out.Columns = append(out.Columns, columnPayload{Name: column.Name, Type: column.Type})
	}
	return out
}

func newTurnPayload(turn *pipeline.Turn) turnPayload {
	out := turnPayload{
		ID:               turn.ID,
		Question:         turn.Question,
		State:            turn.State,
		SQL:              sqlPayload{Text: turn.SQL.Text, Status: string(turn.SQL.Status), RejectedKeyword: turn.SQL.RejectedKeyword},
		FollowUpQuestion: turn.FollowUpQuestion,
		Code:             turn.Code,
	}
	if turn.Result != nil {
		result := newResultPayload(*turn.Result)
		out.Result = &result
	}
	if turn.Execution != nil {
		out.Execution = newExecutionPayload(*turn.Execution)
	}
	if turn.Err != nil {
		out.Error = observability.Mask(turn.Err.Error())
		out.ErrorKind = pipeline.Classify(turn.Err)
	}
	return out
}

func newExecutionPayload(execution sandbox.ExecutionResult) *executionPayload {
	out := &executionPayload{
		Status:     execution.Status,
		Outputs:    make([]outputPayload, 0, len(execution.Outputs)),
		Error:      execution.Error,
		DurationMs: execution.Duration.Milliseconds(),
	}
	for _, output := range execution.Outputs {
		item := outputPayload{Kind: output.Kind, Text: output.Text, Chart: output.Chart}
		if output.Table != nil {
			item.Table = &tableOutputPayload{Title: output.Table.Title, Columns: output.Table.Columns, Rows: jsonRows(output.Table.Rows)}
		}
		out.Outputs = append(out.Outputs, item)
	}
	return out
}

func jsonRows(rows [][]any) [][]any {
	out := make([][]any, len(rows))
	for i, row := range rows {
		converted := make([]any, len(row))
		for j, value := range row {
			converted[j] = jsonValue(value)
		}
		out[i] = converted
	}
	return out
}

// jsonValue keeps values encoding/json renders faithfully and formats the
// rest as text.
func jsonValue(value any) any {
	switch v := value.(type) {
	case nil, bool, string, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, time.Time:
		return v
	case float32:
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return warehouse.FormatValue(v)
		}
		return v
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return warehouse.FormatValue(v)
		}
		return v
	default:
		return warehouse.FormatValue(v)
	}
}
