package pipeline

import (
	"errors"
	"net/http"

	"github.com/snowchat/snowchat/internal/config"
	"github.com/snowchat/snowchat/internal/llm"
	"github.com/snowchat/snowchat/internal/prompt"
	"github.com/snowchat/snowchat/internal/sandbox"
	"github.com/snowchat/snowchat/internal/sqlsafety"
	"github.com/snowchat/snowchat/internal/warehouse"
)

var (
	ErrEmptyQuestion   = errors.New("question is required")
	ErrSessionClosed   = errors.New("session is closed")
	ErrSessionNotFound = errors.New("session not found")
	ErrTurnNotFound    = errors.New("turn not found")
)

type Kind string

const (
	KindConfiguration  Kind = "configuration_error"
	KindConnection     Kind = "connection_error"
	KindQuery          Kind = "query_error"
	KindValidation     Kind = "validation_error"
	KindLLM            Kind = "llm_error"
	KindCodeExecution  Kind = "code_execution_error"
	KindInvalidRequest Kind = "invalid_request"
	KindNotFound       Kind = "not_found"
	KindInternal       Kind = "internal_error"
)

// Classify maps err onto the user-facing error taxonomy.
func Classify(err error) Kind {
	var (
		cfgErr        *config.Error
		templateErr   *prompt.TemplateError
		unresolvedErr *prompt.UnresolvedPlaceholderError
		connErr       *warehouse.ConnectionError
		queryErr      *warehouse.QueryError
		validationErr *sqlsafety.ValidationError
		llmErr        *llm.Error
		execErr       *sandbox.ExecutionError
		stateErr      *StateError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr), errors.As(err, &templateErr), errors.As(err, &unresolvedErr):
		return KindConfiguration
	case errors.As(err, &connErr):
		return KindConnection
	case errors.As(err, &queryErr):
		return KindQuery
	case errors.As(err, &validationErr):
		return KindValidation
	case errors.As(err, &llmErr):
		return KindLLM
	case errors.As(err, &execErr):
		return KindCodeExecution
	case errors.Is(err, ErrEmptyQuestion), errors.As(err, &stateErr):
		return KindInvalidRequest
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrTurnNotFound), errors.Is(err, ErrSessionClosed),
		errors.Is(err, warehouse.ErrUnknownTable):
		return KindNotFound
	default:
		return KindInternal
	}
}

func (k Kind) HTTPStatus() int {
	switch k {
	case KindConfiguration, KindInternal:
		return http.StatusInternalServerError
	case KindConnection, KindLLM:
		return http.StatusBadGateway
	case KindQuery, KindCodeExecution:
		return http.StatusUnprocessableEntity
	case KindValidation, KindInvalidRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether repeating the same request may succeed.
func (k Kind) Retryable() bool {
	return k == KindConnection || k == KindLLM
}
