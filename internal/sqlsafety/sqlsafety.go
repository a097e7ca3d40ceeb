// Package sqlsafety rejects generated SQL that mentions a destructive keyword.
package sqlsafety

import (
	"fmt"
	"strings"

	"github.com/snowchat/snowchat/internal/observability"
)

// Blocklist is checked in order; the first keyword found is reported.
var Blocklist = []string{"DROP", "ALTER", "TRUNCATE", "UPDATE", "REMOVE"}

type Result struct {
	Valid   bool   `json:"valid"`
	Keyword string `json:"keyword,omitempty"`
}

type ValidationError struct {
	Keyword string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("sql rejected: contains blocked keyword %s", e.Keyword)
}

// Validate matches keywords as case-insensitive substrings anywhere in sql,
// including identifiers, literals and comments.
func Validate(sql string) Result {
	upper := strings.ToUpper(sql)
	for _, keyword := range Blocklist {
		if strings.Contains(upper, keyword) {
			return Result{Valid: false, Keyword: keyword}
		}
	}
	return Result{Valid: true}
}

func Check(sql string) error {
	result := Validate(sql)
	if result.Valid {
		return nil
	}
	observability.IncrementSQLRejection(result.Keyword)
	return &ValidationError{Keyword: result.Keyword}
}
