// Package audit keeps a durable record of every finished turn: the question,
// the SQL it produced, whether the blocklist rejected it and how it ended.
package audit

import (
	"context"
	"time"
)

const (
	KindAsk      = "ask"
	KindFollowUp = "follow_up"

	DefaultLimit = 50
	MaxLimit     = 500
)

type Entry struct {
	ID              int64     `json:"id"`
	SessionID       string    `json:"session_id"`
	TurnID          string    `json:"turn_id"`
	Kind            string    `json:"kind"`
	Question        string    `json:"question"`
	SQL             string    `json:"sql,omitempty"`
	SQLStatus       string    `json:"sql_status"`
	RejectedKeyword string    `json:"rejected_keyword,omitempty"`
	State           string    `json:"state"`
	ErrorKind       string    `json:"error_kind,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	RowCount        int       `json:"row_count"`
	CodeStatus      string    `json:"code_status,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

// Filter selects entries, newest first. Empty fields match everything.
type Filter struct {
	SessionID string
	State     string
	Limit     int
}

// Normalize clamps Limit into [1, MaxLimit], defaulting to DefaultLimit.
func (f Filter) Normalize() Filter {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultLimit
	case f.Limit > MaxLimit:
		f.Limit = MaxLimit
	}
	return f
}

type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

type Reader interface {
	List(ctx context.Context, filter Filter) ([]Entry, error)
}
