// Package pipeline drives a question through schema lookup, SQL generation,
// validation and execution, and an optional follow-up through code
// generation and sandboxed execution.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/snowchat/snowchat/internal/audit"
	"github.com/snowchat/snowchat/internal/codegen"
	"github.com/snowchat/snowchat/internal/llm"
	"github.com/snowchat/snowchat/internal/observability"
	"github.com/snowchat/snowchat/internal/prompt"
	"github.com/snowchat/snowchat/internal/sandbox"
	"github.com/snowchat/snowchat/internal/sqlsafety"
	"github.com/snowchat/snowchat/internal/warehouse"
)

var listMarker = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])(?:\s+|$)`)

const (
	defaultPreviewRows  = 5
	maxRememberedTurns  = 50
	defaultAuditTimeout = 2 * time.Second
)

// Conn is the warehouse connection a session owns.
type Conn interface {
	warehouse.Queryer
	Dialect() warehouse.Dialect
	Database() string
	Schema() string
	Close() error
}

type Options struct {
	ID          string
	Conn        Conn
	Prompts     codegen.PromptBuilder
	Gateway     *llm.Gateway
	Query       *warehouse.Executor
	Sandbox     *sandbox.Executor
	PreviewRows int
	// Audit, when set, receives an entry for every finished turn. Write
	// failures are logged and never fail the turn.
	Audit        audit.Recorder
	AuditTimeout time.Duration
	Logger       *slog.Logger
	Clock        func() time.Time
}

// Session serializes turns against one warehouse connection and one LLM
// cache. The schema snapshot is built on first use and kept until
// RefreshSchema.
type Session struct {
	id          string
	conn        Conn
	prompts     codegen.PromptBuilder
	gateway     *llm.Gateway
	query       *warehouse.Executor
	codegen     *codegen.Generator
	sandbox     *sandbox.Executor
	previewRows int
	audit       audit.Recorder
	auditWait   time.Duration
	logger      *slog.Logger
	clock       func() time.Time
	createdAt   time.Time
	lastUsed    atomic.Int64

	mu       sync.Mutex
	snapshot *warehouse.SchemaSnapshot
	turns    []*Turn
	closed   bool
}

func NewSession(opts Options) (*Session, error) {
	if opts.Conn == nil {
		return nil, fmt.Errorf("warehouse connection is required")
	}
	if opts.Prompts == nil {
		return nil, fmt.Errorf("prompt builder is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("llm gateway is required")
	}
	if opts.Query == nil {
		opts.Query = warehouse.NewExecutor(0, 0)
	}
	if opts.Sandbox == nil {
		return nil, fmt.Errorf("sandbox executor is required")
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.PreviewRows <= 0 {
		opts.PreviewRows = defaultPreviewRows
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.AuditTimeout <= 0 {
		opts.AuditTimeout = defaultAuditTimeout
	}
	s := &Session{
		id:          opts.ID,
		conn:        opts.Conn,
		prompts:     opts.Prompts,
		gateway:     opts.Gateway,
		query:       opts.Query,
		codegen:     codegen.NewGenerator(opts.Prompts, opts.Gateway),
		sandbox:     opts.Sandbox,
		previewRows: opts.PreviewRows,
		audit:       opts.Audit,
		auditWait:   opts.AuditTimeout,
		logger:      opts.Logger.With("session_id", opts.ID),
		clock:       opts.Clock,
		createdAt:   opts.Clock(),
	}
	s.touch()
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastUsed is safe to call while a turn is running.
func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

func (s *Session) CacheStats() llm.CacheStats {
	if cache := s.gateway.Cache(); cache != nil {
		return cache.Stats()
	}
	return llm.CacheStats{}
}

// Schema returns the cached snapshot, building it on first use.
func (s *Session) Schema(ctx context.Context) (warehouse.SchemaSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.beginLocked(); err != nil {
		return warehouse.SchemaSnapshot{}, err
	}
	return s.schemaLocked(ctx)
}

func (s *Session) RefreshSchema(ctx context.Context) (warehouse.SchemaSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.beginLocked(); err != nil {
		return warehouse.SchemaSnapshot{}, err
	}
	s.snapshot = nil
	return s.schemaLocked(ctx)
}

func (s *Session) PreviewTable(ctx context.Context, table string) (warehouse.QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.beginLocked(); err != nil {
		return warehouse.QueryResult{}, err
	}
	snapshot, err := s.schemaLocked(ctx)
	if err != nil {
		return warehouse.QueryResult{}, err
	}
	return warehouse.PreviewTable(ctx, s.conn, s.conn.Dialect(), snapshot, table, s.previewRows, s.query.Timeout)
}

// SampleQuestions asks the model for questions the current schema can answer.
func (s *Session) SampleQuestions(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.beginLocked(); err != nil {
		return nil, err
	}
	snapshot, err := s.schemaLocked(ctx)
	if err != nil {
		return nil, err
	}
	text, err := s.prompts.Build(ctx, prompt.TemplateSampleQuestions, map[string]string{
		prompt.KeyTables: snapshot.PromptText(),
	})
	if err != nil {
		return nil, err
	}
	answer, err := s.gateway.Ask(ctx, text)
	if err != nil {
		return nil, err
	}
	questions := ParseQuestionList(answer)
	if len(questions) == 0 {
		return nil, &llm.Error{Message: "completion contained no questions"}
	}
	return questions, nil
}

// Ask runs a new turn up to query execution. The returned turn is always
// non-nil once the session accepted the question; err is set when the turn
// ended Rejected or Failed.
func (s *Session) Ask(ctx context.Context, question string) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.beginLocked(); err != nil {
		return nil, err
	}
	s.finishPreviousLocked()

	now := s.clock()
	turn := &Turn{
		ID:        uuid.NewString(),
		Question:  strings.TrimSpace(question),
		State:     StateAwaitingQuestion,
		SQL:       GeneratedSQL{Status: SQLUnchecked},
		StartedAt: now,
		UpdatedAt: now,
	}
	s.rememberLocked(turn)

	if turn.Question == "" {
		return s.fail(ctx, turn, ErrEmptyQuestion)
	}
	snapshot, err := s.schemaLocked(ctx)
	if err != nil {
		return s.fail(ctx, turn, err)
	}
	text, err := s.prompts.Build(ctx, prompt.TemplateSQL, map[string]string{
		prompt.KeyTables:   snapshot.PromptText(),
		prompt.KeyQuestion: turn.Question,
	})
	if err != nil {
		return s.fail(ctx, turn, err)
	}
	if err := turn.advance(StatePromptBuilt, s.clock()); err != nil {
		return s.fail(ctx, turn, err)
	}

	answer, err := s.gateway.Ask(ctx, text)
	if err != nil {
		return s.fail(ctx, turn, err)
	}
	turn.SQL.Text = llm.StripCodeFence(answer)
	if err := turn.advance(StateLLMResponded, s.clock()); err != nil {
		return s.fail(ctx, turn, err)
	}
	if turn.SQL.Text == "" {
		return s.fail(ctx, turn, &llm.Error{Message: "completion contained no sql"})
	}

	if err := sqlsafety.Check(turn.SQL.Text); err != nil {
		var validationErr *sqlsafety.ValidationError
		if errors.As(err, &validationErr) {
			turn.SQL.RejectedKeyword = validationErr.Keyword
		}
		turn.SQL.Status = SQLRejected
		turn.Err = err
		_ = turn.advance(StateRejected, s.clock())
		s.finish(ctx, turn)
		return turn.snapshot(), err
	}
	turn.SQL.Status = SQLValid
	if err := turn.advance(StateSQLValidated, s.clock()); err != nil {
		return s.fail(ctx, turn, err)
	}

	result, err := s.query.Execute(ctx, s.conn, turn.SQL.Text)
	if err != nil {
		return s.fail(ctx, turn, err)
	}
	turn.Result = &result
	if err := turn.advance(StateQueryExecuted, s.clock()); err != nil {
		return s.fail(ctx, turn, err)
	}
	s.finish(ctx, turn)
	return turn.snapshot(), nil
}

// FollowUp generates and runs analysis code over the result of an executed
// turn. A failing script ends the turn Failed and leaves the session usable.
func (s *Session) FollowUp(ctx context.Context, turnID, question string) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.beginLocked(); err != nil {
		return nil, err
	}
	turn, ok := s.lookupLocked(turnID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTurnNotFound, turnID)
	}
	if !turn.State.CanFollowUp() {
		return turn.snapshot(), &StateError{TurnID: turn.ID, From: turn.State, To: StateAwaitingFollowUp}
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return turn.snapshot(), ErrEmptyQuestion
	}

	if err := turn.advance(StateAwaitingFollowUp, s.clock()); err != nil {
		return s.fail(ctx, turn, err)
	}
	turn.FollowUpQuestion = question
	turn.Code = nil
	turn.Execution = nil

	code, err := s.codegen.Generate(ctx, *turn.Result, question)
	if err != nil {
		return s.fail(ctx, turn, err)
	}
	turn.Code = &code
	if err := turn.advance(StateCodeGenerated, s.clock()); err != nil {
		return s.fail(ctx, turn, err)
	}

	execution := s.sandbox.Execute(ctx, code.Source, *turn.Result)
	executed := code
	executed.Status = execution.Status
	turn.Code = &executed
	turn.Execution = &execution
	if err := execution.Err(); err != nil {
		return s.fail(ctx, turn, err)
	}
	if err := turn.advance(StateCodeExecuted, s.clock()); err != nil {
		return s.fail(ctx, turn, err)
	}
	s.finish(ctx, turn)
	return turn.snapshot(), nil
}

// Turn returns a copy of a remembered turn.
func (s *Session) Turn(id string) (*Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn, ok := s.lookupLocked(id)
	if !ok {
		return nil, false
	}
	return turn.snapshot(), true
}

// Close releases the warehouse connection. Later calls return nil.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if cache := s.gateway.Cache(); cache != nil {
		cache.Purge()
	}
	return s.conn.Close()
}

func (s *Session) beginLocked() error {
	if s.closed {
		return ErrSessionClosed
	}
	s.touch()
	return nil
}

func (s *Session) touch() {
	s.lastUsed.Store(s.clock().UnixNano())
}

func (s *Session) schemaLocked(ctx context.Context) (warehouse.SchemaSnapshot, error) {
	if s.snapshot != nil {
		return *s.snapshot, nil
	}
	snapshot, err := warehouse.BuildSnapshot(ctx, s.conn, s.conn.Dialect(), s.conn.Database(), s.conn.Schema(), s.logger)
	if err != nil {
		return warehouse.SchemaSnapshot{}, err
	}
	s.snapshot = &snapshot
	s.logger.InfoContext(ctx, "schema snapshot built", "tables", len(snapshot.Tables()))
	return snapshot, nil
}

func (s *Session) fail(ctx context.Context, turn *Turn, err error) (*Turn, error) {
	turn.Err = err
	turn.State = StateFailed
	turn.UpdatedAt = s.clock()
	s.finish(ctx, turn)
	return turn.snapshot(), err
}

func (s *Session) finish(ctx context.Context, turn *Turn) {
	s.touch()
	observability.IncrementTurn(string(turn.State))
	if s.audit != nil {
		s.recordAudit(ctx, turn)
	}
	attrs := []any{"turn_id", turn.ID, "state", turn.State, "duration_ms", turn.UpdatedAt.Sub(turn.StartedAt).Milliseconds()}
	if turn.Err != nil {
		attrs = append(attrs, "error_kind", Classify(turn.Err), "error", observability.Mask(turn.Err.Error()))
		s.logger.WarnContext(ctx, "turn ended", attrs...)
		return
	}
	s.logger.InfoContext(ctx, "turn ended", attrs...)
}

func (s *Session) recordAudit(ctx context.Context, turn *Turn) {
	entry := audit.Entry{
		SessionID:       s.id,
		TurnID:          turn.ID,
		Kind:            audit.KindAsk,
		Question:        turn.Question,
		SQL:             turn.SQL.Text,
		SQLStatus:       string(turn.SQL.Status),
		RejectedKeyword: turn.SQL.RejectedKeyword,
		State:           string(turn.State),
		StartedAt:       turn.StartedAt,
		FinishedAt:      turn.UpdatedAt,
	}
	if turn.FollowUpQuestion != "" {
		entry.Kind = audit.KindFollowUp
		entry.Question = turn.FollowUpQuestion
	}
	if turn.Result != nil {
		entry.RowCount = len(turn.Result.Rows)
	}
	if turn.Code != nil {
		entry.CodeStatus = string(turn.Code.Status)
	}
	if turn.Err != nil {
		entry.ErrorKind = string(Classify(turn.Err))
		entry.ErrorMessage = observability.Mask(turn.Err.Error())
	}

	// The turn may have ended because ctx was cancelled; the entry is still written.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.auditWait)
	defer cancel()
	if err := s.audit.Record(writeCtx, entry); err != nil {
		observability.IncrementAuditWriteFailure()
		s.logger.WarnContext(ctx, "turn audit write failed", "turn_id", turn.ID, "error", observability.Mask(err.Error()))
	}
}

func (s *Session) finishPreviousLocked() {
	if len(s.turns) == 0 {
		return
	}
	previous := s.turns[len(s.turns)-1]
	if previous.State.CanFollowUp() {
		_ = previous.advance(StateDone, s.clock())
	}
}

func (s *Session) rememberLocked(turn *Turn) {
	s.turns = append(s.turns, turn)
	if len(s.turns) > maxRememberedTurns {
		s.turns = append([]*Turn(nil), s.turns[len(s.turns)-maxRememberedTurns:]...)
	}
}

func (s *Session) lookupLocked(id string) (*Turn, bool) {
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].ID == id {
			return s.turns[i], true
		}
	}
	return nil, false
}

// ParseQuestionList splits a numbered or bulleted completion into questions.
func ParseQuestionList(text string) []string {
	out := make([]string, 0)
	for _, line := range strings.Split(llm.StripCodeFence(text), "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
