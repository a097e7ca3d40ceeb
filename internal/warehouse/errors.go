package warehouse

import (
	"fmt"

	"github.com/snowchat/snowchat/internal/observability"
)

// ConnectionError reports that the warehouse could not be reached or
// authenticated against. Driver text is masked because drivers echo DSNs.
type ConnectionError struct {
	Dialect string
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connect to %s warehouse", e.Dialect)
	}
	return fmt.Sprintf("connect to %s warehouse: %s", e.Dialect, observability.Mask(e.Err.Error()))
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// QueryError carries the warehouse's own rejection message for a statement.
type QueryError struct {
	SQL     string
	Message string
	Err     error
}

func (e *QueryError) Error() string {
	return "query failed: " + e.Message
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

func newQueryError(sqlText string, err error) *QueryError {
	return &QueryError{SQL: sqlText, Message: observability.Mask(err.Error()), Err: err}
}
