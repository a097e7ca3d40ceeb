package sandbox

import "time"

type Status string

const (
	StatusUnexecuted Status = "unexecuted"
	StatusExecuted   Status = "executed"
	StatusFailed     Status = "failed"
)

type OutputKind string

const (
	OutputText  OutputKind = "text"
	OutputTable OutputKind = "table"
	OutputChart OutputKind = "chart"
)

// Output is one item the script displayed, in display order.
type Output struct {
	Kind  OutputKind
	Text  string
	Table *TableOutput
	Chart *ChartSpec
}

type TableOutput struct {
	Title   string
	Columns []string
	Rows    [][]any
}

// ChartSpec describes a chart declaratively. Bar, line and scatter charts
// use X and Y; pie charts use Labels and Values.
type ChartSpec struct {
	Kind   string    `json:"kind"`
	Title  string    `json:"title,omitempty"`
	X      []any     `json:"x,omitempty"`
	Y      []float64 `json:"y,omitempty"`
	Labels []string  `json:"labels,omitempty"`
	Values []float64 `json:"values,omitempty"`
}

type ExecutionResult struct {
	Status   Status
	Outputs  []Output
	Error    string
	Duration time.Duration
}

// Err returns the failure as an *ExecutionError, or nil when the script ran.
func (r ExecutionResult) Err() error {
	if r.Status != StatusFailed {
		return nil
	}
	return &ExecutionError{Message: r.Error}
}

// ExecutionError reports generated code that failed inside the sandbox.
type ExecutionError struct {
	Message string
}

func (e *ExecutionError) Error() string {
	return "code execution failed: " + e.Message
}
