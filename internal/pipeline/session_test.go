package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/snowchat/snowchat/internal/config"
	"github.com/snowchat/snowchat/internal/llm"
	"github.com/snowchat/snowchat/internal/prompt"
	"github.com/snowchat/snowchat/internal/sandbox"
	"github.com/snowchat/snowchat/internal/sqlsafety"
	"github.com/snowchat/snowchat/internal/warehouse"
)

const totalsSQL = "SELECT region, SUM(amount) AS total FROM orders GROUP BY region ORDER BY region"

// scriptedCompleter answers by the first rule whose marker appears in the prompt.
type scriptedCompleter struct {
	mu      sync.Mutex
	rules   []rule
	prompts []string
}

type rule struct {
	marker string
	answer string
}

func (c *scriptedCompleter) Complete(_ context.Context, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, text)
	for _, r := range c.rules {
		if strings.Contains(text, r.marker) {
			return r.answer, nil
		}
	}
	return "", errors.New("no scripted answer")
}

func (c *scriptedCompleter) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

func (c *scriptedCompleter) lastPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.prompts) == 0 {
		return ""
	}
	return c.prompts[len(c.prompts)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newOrdersDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	for _, statement := range []string{
		`CREATE TABLE orders (id BIGINT, region VARCHAR, amount DOUBLE)`,
		`INSERT INTO orders VALUES (1, 'east', 10.0), (2, 'west', 5.5), (3, 'east', 2.5)`,
	} {
		if _, err := db.Exec(statement); err != nil {
			t.Fatalf("exec %q: %v", statement, err)
		}
	}
	return db
}

func newTestSession(t *testing.T, db *sql.DB, completer llm.Completer) *Session {
	t.Helper()
	logger := discardLogger()
	session, err := NewSession(Options{
		Conn:    warehouse.NewConnection(db, warehouse.DuckDB{}, "memory", "main"),
		Prompts: prompt.NewBuilder(prompt.DirSource{Dir: "../../prompts"}),
		Gateway: llm.NewGateway(completer, llm.NewCache(16, 0), time.Second, logger),
		Query:   warehouse.NewExecutor(100, 5*time.Second),
		Sandbox: sandbox.NewExecutor(config.SandboxConfig{
			Timeout:        2 * time.Second,
			MaxSteps:       1_000_000,
			MaxOutputBytes: 1 << 16,
			MaxSourceBytes: 1 << 16,
		}, logger),
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	return session
}

func TestAskRunsQuestionToExecutedQuery(t *testing.T) {
	completer := &scriptedCompleter{rules: []rule{
		{marker: "Question: revenue by region", answer: "```sql\n" + totalsSQL + ";\n```"},
	}}
	session := newTestSession(t, newOrdersDB(t), completer)

	turn, err := session.Ask(context.Background(), "revenue by region")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if turn.State != StateQueryExecuted {
		t.Fatalf("State = %q", turn.State)
	}
	if turn.SQL.Text != totalsSQL+";" || turn.SQL.Status != SQLValid {
		t.Fatalf("SQL = %#v", turn.SQL)
	}
	if turn.Result == nil || len(turn.Result.Rows) != 2 {
		t.Fatalf("Result = %#v", turn.Result)
	}
	if turn.Result.Rows[0][0] != "east" || turn.Result.Rows[0][1] != 12.5 {
		t.Fatalf("Rows[0] = %#v", turn.Result.Rows[0])
	}
	sent := completer.lastPrompt()
	if !strings.Contains(sent, "orders") || !strings.Contains(sent, "CREATE TABLE") {
		t.Fatalf("prompt does not carry the schema: %q", sent)
	}
	if strings.Contains(sent, "<<") {
		t.Fatalf("prompt has unresolved markers: %q", sent)
	}
}

func TestAskRejectsDestructiveSQLBeforeExecution(t *testing.T) {
	db := newOrdersDB(t)
	completer := &scriptedCompleter{rules: []rule{
		{marker: "Question:", answer: "UPDATE orders SET amount = 0"},
	}}
	session := newTestSession(t, db, completer)

	for i := 0; i < 2; i++ {
		turn, err := session.Ask(context.Background(), "zero out the orders")
		var validationErr *sqlsafety.ValidationError
		if !errors.As(err, &validationErr) {
			t.Fatalf("Ask() error = %v, want *sqlsafety.ValidationError", err)
		}
		if turn.State != StateRejected || turn.SQL.Status != SQLRejected || turn.SQL.RejectedKeyword != "UPDATE" {
			t.Fatalf("turn = %#v", turn)
		}
		if turn.Result != nil {
			t.Fatal("rejected turn has a result")
		}
		if Classify(err) != KindValidation {
			t.Fatalf("Classify() = %q", Classify(err))
		}
	}
	if completer.calls() != 1 {
		t.Fatalf("completer calls = %d, want 1", completer.calls())
	}

	var total float64
	if err := db.QueryRow(`SELECT SUM(amount) FROM orders`).Scan(&total); err != nil {
		t.Fatalf("sum orders: %v", err)
	}
	if total != 18 {
		t.Fatalf("orders were modified: total = %v", total)
	}
}

func TestAskReportsQueryErrorAndSessionStaysUsable(t *testing.T) {
	completer := &scriptedCompleter{rules: []rule{
		{marker: "Question: broken", answer: "SELECT * FROM missing_table"},
		{marker: "Question: count", answer: "SELECT COUNT(*) AS n FROM orders"},
	}}
	session := newTestSession(t, newOrdersDB(t), completer)

	turn, err := session.Ask(context.Background(), "broken")
	var queryErr *warehouse.QueryError
	if !errors.As(err, &queryErr) {
		t.Fatalf("Ask() error = %v, want *warehouse.QueryError", err)
	}
	if !strings.Contains(queryErr.Message, "missing_table") {
		t.Fatalf("QueryError.Message = %q", queryErr.Message)
	}
	if turn.State != StateFailed || turn.Result != nil {
		t.Fatalf("turn = %#v", turn)
	}

	next, err := session.Ask(context.Background(), "count")
	if err != nil {
		t.Fatalf("Ask() after failure error = %v", err)
	}
	if next.State != StateQueryExecuted || len(next.Result.Rows) != 1 {
		t.Fatalf("next = %#v", next)
	}
}

func TestAskRequiresQuestion(t *testing.T) {
	completer := &scriptedCompleter{}
	session := newTestSession(t, newOrdersDB(t), completer)

	turn, err := session.Ask(context.Background(), "   ")
	if !errors.Is(err, ErrEmptyQuestion) {
		t.Fatalf("Ask() error = %v", err)
	}
	if turn.State != StateFailed || completer.calls() != 0 {
		t.Fatalf("turn = %#v, calls = %d", turn, completer.calls())
	}
}

func TestAskReportsLLMErrors(t *testing.T) {
	completer := &scriptedCompleter{}
	session := newTestSession(t, newOrdersDB(t), completer)

	turn, err := session.Ask(context.Background(), "anything")
	var llmErr *llm.Error
	if !errors.As(err, &llmErr) {
		t.Fatalf("Ask() error = %v, want *llm.Error", err)
	}
	if turn.State != StateFailed || turn.SQL.Text != "" {
		t.Fatalf("turn = %#v", turn)
	}
}

func TestFollowUpExecutesGeneratedCode(t *testing.T) {
	completer := &scriptedCompleter{rules: []rule{
		{marker: "Task: sum the totals", answer: "```python\nshow(total(df[\"total\"]))\nbar_chart(column(df, \"region\"), column(df, \"total\"), title=\"Totals\")\n```"},
		{marker: "Question: revenue by region", answer: totalsSQL},
	}}
	session := newTestSession(t, newOrdersDB(t), completer)

	turn, err := session.Ask(context.Background(), "revenue by region")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	followed, err := session.FollowUp(context.Background(), turn.ID, "sum the totals")
	if err != nil {
		t.Fatalf("FollowUp() error = %v", err)
	}
	if followed.State != StateCodeExecuted {
		t.Fatalf("State = %q", followed.State)
	}
	if followed.Code == nil || followed.Code.Status != sandbox.StatusExecuted {
		t.Fatalf("Code = %#v", followed.Code)
	}
	if followed.Execution == nil || len(followed.Execution.Outputs) != 2 {
		t.Fatalf("Execution = %#v", followed.Execution)
	}
	if got := followed.Execution.Outputs[0].Text; got != "18.0" {
		t.Fatalf("Outputs[0].Text = %q", got)
	}
	if chart := followed.Execution.Outputs[1].Chart; chart == nil || chart.Kind != "bar" || chart.Title != "Totals" {
		t.Fatalf("Outputs[1] = %#v", followed.Execution.Outputs[1])
	}
	if strings.Contains(completer.lastPrompt(), "east") {
		t.Fatal("analysis prompt leaked row values")
	}
}

func TestFollowUpFailureLeavesSessionUsable(t *testing.T) {
	completer := &scriptedCompleter{rules: []rule{
		{marker: "Task: explode", answer: "fail(\"boom\")"},
		{marker: "Question:", answer: totalsSQL},
	}}
	session := newTestSession(t, newOrdersDB(t), completer)

	turn, err := session.Ask(context.Background(), "revenue by region")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	failedTurn, err := session.FollowUp(context.Background(), turn.ID, "explode")
	var execErr *sandbox.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("FollowUp() error = %v, want *sandbox.ExecutionError", err)
	}
	if failedTurn.State != StateFailed || failedTurn.Execution.Status != sandbox.StatusFailed {
		t.Fatalf("turn = %#v", failedTurn)
	}
	if !strings.Contains(failedTurn.Execution.Error, "boom") {
		t.Fatalf("Execution.Error = %q", failedTurn.Execution.Error)
	}
	if Classify(err) != KindCodeExecution {
		t.Fatalf("Classify() = %q", Classify(err))
	}

	next, err := session.Ask(context.Background(), "revenue again")
	if err != nil {
		t.Fatalf("Ask() after code failure error = %v", err)
	}
	if next.State != StateQueryExecuted {
		t.Fatalf("next.State = %q", next.State)
	}
}

func TestFollowUpRequiresExecutedQuery(t *testing.T) {
	completer := &scriptedCompleter{rules: []rule{
		{marker: "Question:", answer: "DROP TABLE orders"},
	}}
	session := newTestSession(t, newOrdersDB(t), completer)

	turn, _ := session.Ask(context.Background(), "drop it")
	_, err := session.FollowUp(context.Background(), turn.ID, "chart it")
	var stateErr *StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("FollowUp() error = %v, want *StateError", err)
	}
	if stateErr.From != StateRejected {
		t.Fatalf("From = %q", stateErr.From)
	}

	if _, err := session.FollowUp(context.Background(), "no-such-turn", "q"); !errors.Is(err, ErrTurnNotFound) {
		t.Fatalf("FollowUp() error = %v, want ErrTurnNotFound", err)
	}
}

func TestAskMarksPreviousTurnDone(t *testing.T) {
	completer := &scriptedCompleter{rules: []rule{{marker: "Question:", answer: totalsSQL}}}
	session := newTestSession(t, newOrdersDB(t), completer)

	first, err := session.Ask(context.Background(), "first")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if _, err := session.Ask(context.Background(), "second"); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	stored, ok := session.Turn(first.ID)
	if !ok || stored.State != StateDone {
		t.Fatalf("Turn() = %#v, %v", stored, ok)
	}
	if first.State != StateQueryExecuted {
		t.Fatalf("returned turn changed after the fact: %q", first.State)
	}
}

func TestSchemaIsCachedUntilRefresh(t *testing.T) {
	db := newOrdersDB(t)
	session := newTestSession(t, db, &scriptedCompleter{})

	snapshot, err := session.Schema(context.Background())
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}
	if got := snapshot.TableNames(); len(got) != 1 || got[0] != "orders" {
		t.Fatalf("TableNames() = %v", got)
	}
	if _, err := db.Exec(`CREATE TABLE customers (id BIGINT, name VARCHAR)`); err != nil {
		t.Fatalf("create customers: %v", err)
	}

	cached, err := session.Schema(context.Background())
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}
	if cached.HasTable("customers") {
		t.Fatal("Schema() rebuilt the snapshot")
	}
	refreshed, err := session.RefreshSchema(context.Background())
	if err != nil {
		t.Fatalf("RefreshSchema() error = %v", err)
	}
	if !refreshed.HasTable("customers") {
		t.Fatalf("RefreshSchema() tables = %v", refreshed.TableNames())
	}
}

func TestPreviewTable(t *testing.T) {
	session := newTestSession(t, newOrdersDB(t), &scriptedCompleter{})

	result, err := session.PreviewTable(context.Background(), "orders")
	if err != nil {
		t.Fatalf("PreviewTable() error = %v", err)
	}
	if len(result.Rows) != 3 || len(result.Columns) != 3 {
		t.Fatalf("PreviewTable() = %#v", result)
	}
	for _, name := range []string{"ORDERS", "Orders"} {
		mixed, err := session.PreviewTable(context.Background(), name)
		if err != nil {
			t.Fatalf("PreviewTable(%q) error = %v", name, err)
		}
		if len(mixed.Rows) != 3 {
			t.Fatalf("PreviewTable(%q) rows = %d", name, len(mixed.Rows))
		}
	}
	_, err = session.PreviewTable(context.Background(), "nope")
	if !errors.Is(err, warehouse.ErrUnknownTable) || Classify(err) != KindNotFound {
		t.Fatalf("PreviewTable() error = %v", err)
	}
}

func TestSampleQuestions(t *testing.T) {
	completer := &scriptedCompleter{rules: []rule{
		{marker: "Suggest five", answer: "1. How many orders are there?\n2) Which region sells most?\n\n- What is the average amount?"},
	}}
	session := newTestSession(t, newOrdersDB(t), completer)

	got, err := session.SampleQuestions(context.Background())
	if err != nil {
		t.Fatalf("SampleQuestions() error = %v", err)
	}
	want := []string{"How many orders are there?", "Which region sells most?", "What is the average amount?"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("SampleQuestions() = %q", got)
	}
	if !strings.Contains(completer.lastPrompt(), "orders") {
		t.Fatal("sample questions prompt lacks the schema")
	}
}

func TestParseQuestionListKeepsDecimals(t *testing.T) {
	got := ParseQuestionList("1. Which regions grew?\n3.5% growth by region?\n-2% months?")
	want := []string{"Which regions grew?", "3.5% growth by region?", "-2% months?"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("ParseQuestionList() = %q", got)
	}
}

func TestParseQuestionListKeepsLeadingNumbers(t *testing.T) {
	got := ParseQuestionList("2024 revenue by region?\n3. Orders per day")
	if len(got) != 2 || got[0] != "2024 revenue by region?" || got[1] != "Orders per day" {
		t.Fatalf("ParseQuestionList() = %q", got)
	}
}

func TestSessionClose(t *testing.T) {
	session := newTestSession(t, newOrdersDB(t), &scriptedCompleter{})

	if err := session.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if _, err := session.Ask(context.Background(), "q"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Ask() after Close error = %v", err)
	}
}
