package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/snowchat/snowchat/internal/audit"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping audit db: %w", err)
	}
	return nil
}

func (r *Repository) Record(ctx context.Context, entry audit.Entry) error {
	query := `
INSERT INTO turn_audit (
	session_id, turn_id, kind, question, sql_text, sql_status, rejected_keyword,
	state, error_kind, error_message, row_count, code_status, started_at, finished_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := r.db.ExecContext(ctx, query,
		entry.SessionID,
		entry.TurnID,
		entry.Kind,
		entry.Question,
		nullString(entry.SQL),
		entry.SQLStatus,
		nullString(entry.RejectedKeyword),
		entry.State,
		nullString(entry.ErrorKind),
		nullString(entry.ErrorMessage),
		entry.RowCount,
		nullString(entry.CodeStatus),
		entry.StartedAt,
		entry.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert turn audit: %w", err)
	}
	return nil
}

func (r *Repository) List(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	filter = filter.Normalize()
	query := `
SELECT audit_id, session_id, turn_id, kind, question, sql_text, sql_status, rejected_keyword,
	state, error_kind, error_message, row_count, code_status, started_at, finished_at
FROM turn_audit
WHERE ($1 = '' OR session_id = $1)
  AND ($2 = '' OR state = $2)
ORDER BY audit_id DESC
LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, filter.SessionID, filter.State, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("query turn audit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]audit.Entry, 0)
	for rows.Next() {
		var entry audit.Entry
		var sqlText, rejected, errorKind, errorMessage, codeStatus sql.NullString
		if err := rows.Scan(
			&entry.ID,
			&entry.SessionID,
			&entry.TurnID,
			&entry.Kind,
			&entry.Question,
			&sqlText,
			&entry.SQLStatus,
			&rejected,
			&entry.State,
			&errorKind,
			&errorMessage,
			&entry.RowCount,
			&codeStatus,
			&entry.StartedAt,
			&entry.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan turn audit: %w", err)
		}
		entry.SQL = sqlText.String
		entry.RejectedKeyword = rejected.String
		entry.ErrorKind = errorKind.String
		entry.ErrorMessage = errorMessage.String
		entry.CodeStatus = codeStatus.String
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn audit: %w", err)
	}
	return out, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
