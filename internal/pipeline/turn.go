package pipeline

import (
	"fmt"
	"time"

	"github.com/snowchat/snowchat/internal/codegen"
	"github.com/snowchat/snowchat/internal/sandbox"
	"github.com/snowchat/snowchat/internal/warehouse"
)

type State string

const (
	StateAwaitingQuestion State = "awaiting_question"
	StatePromptBuilt      State = "prompt_built"
	StateLLMResponded     State = "llm_responded"
	StateSQLValidated     State = "sql_validated"
	StateRejected         State = "rejected"
	StateQueryExecuted    State = "query_executed"
	StateFailed           State = "failed"
	StateAwaitingFollowUp State = "awaiting_follow_up"
	StateCodeGenerated    State = "code_generated"
	StateCodeExecuted     State = "code_executed"
	StateDone             State = "done"
)

var transitions = map[State][]State{
	StateAwaitingQuestion: {StatePromptBuilt, StateFailed},
	StatePromptBuilt:      {StateLLMResponded, StateFailed},
	StateLLMResponded:     {StateSQLValidated, StateRejected, StateFailed},
	StateSQLValidated:     {StateQueryExecuted, StateFailed},
	StateQueryExecuted:    {StateAwaitingFollowUp, StateDone},
	StateAwaitingFollowUp: {StateCodeGenerated, StateFailed},
	StateCodeGenerated:    {StateCodeExecuted, StateFailed},
	StateCodeExecuted:     {StateAwaitingFollowUp, StateDone},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanFollowUp reports whether analysis code may be requested in state s.
func (s State) CanFollowUp() bool {
	return s == StateQueryExecuted || s == StateCodeExecuted
}

func (s State) allows(next State) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

type SQLStatus string

const (
	SQLUnchecked SQLStatus = "unchecked"
	SQLValid     SQLStatus = "valid"
	SQLRejected  SQLStatus = "rejected"
)

type GeneratedSQL struct {
	Text            string
	Status          SQLStatus
	RejectedKeyword string
}

// Turn is one question and everything the pipeline produced for it.
type Turn struct {
	ID               string
	Question         string
	State            State
	SQL              GeneratedSQL
	Result           *warehouse.QueryResult
	FollowUpQuestion string
	Code             *codegen.GeneratedCode
	Execution        *sandbox.ExecutionResult
	Err              error
	StartedAt        time.Time
	UpdatedAt        time.Time
}

// StateError reports an operation that the turn's current state does not allow.
type StateError struct {
	TurnID string
	From   State
	To     State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("turn %s cannot move from %s to %s", e.TurnID, e.From, e.To)
}

func (t *Turn) advance(next State, now time.Time) error {
	if !t.State.allows(next) {
		return &StateError{TurnID: t.ID, From: t.State, To: next}
	}
	t.State = next
	t.UpdatedAt = now
	return nil
}

func (t *Turn) snapshot() *Turn {
	out := *t
	return &out
}
