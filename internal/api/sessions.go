package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/snowchat/snowchat/internal/observability"
	"github.com/snowchat/snowchat/internal/pipeline"
	"github.com/snowchat/snowchat/internal/sqlsafety"
)

type sessionHandlers struct {
	store SessionStore
}

type questionRequest struct {
	Question string `json:"question"`
}

func (h *sessionHandlers) create(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w, r) {
		return
	}
	session, err := h.store.Create(r.Context())
	if err != nil {
		writePipelineError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": session.ID(),
		"created_at": session.CreatedAt().UTC(),
	})
}

func (h *sessionHandlers) close(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w, r) {
		return
	}
	if err := h.store.Close(r.PathValue("id")); err != nil {
		writePipelineError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *sessionHandlers) schema(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	snapshot, err := session.Schema(r.Context())
	if err != nil {
		writePipelineError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, newSchemaPayload(snapshot))
}

func (h *sessionHandlers) refreshSchema(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	snapshot, err := session.RefreshSchema(r.Context())
	if err != nil {
		writePipelineError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, newSchemaPayload(snapshot))
}

func (h *sessionHandlers) previewTable(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	result, err := session.PreviewTable(r.Context(), r.PathValue("table"))
	if err != nil {
		writePipelineError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, newResultPayload(result))
}

func (h *sessionHandlers) sampleQuestions(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	questions, err := session.SampleQuestions(r.Context())
	if err != nil {
		writePipelineError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": questions})
}

func (h *sessionHandlers) cacheStats(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session.CacheStats())
}

func (h *sessionHandlers) ask(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	request, ok := decodeQuestion(w, r)
	if !ok {
		return
	}
	turn, err := session.Ask(r.Context(), request.Question)
	if err != nil {
		writePipelineError(w, r, err, turn)
		return
	}
	writeJSON(w, http.StatusOK, newTurnPayload(turn))
}

func (h *sessionHandlers) getTurn(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	turn, found := session.Turn(r.PathValue("turn"))
	if !found {
		writePipelineError(w, r, pipeline.ErrTurnNotFound, nil)
		return
	}
	writeJSON(w, http.StatusOK, newTurnPayload(turn))
}

func (h *sessionHandlers) followUp(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	request, ok := decodeQuestion(w, r)
	if !ok {
		return
	}
	turn, err := session.FollowUp(r.Context(), r.PathValue("turn"), request.Question)
	if err != nil {
		writePipelineError(w, r, err, turn)
		return
	}
	writeJSON(w, http.StatusOK, newTurnPayload(turn))
}

func (h *sessionHandlers) configured(w http.ResponseWriter, r *http.Request) bool {
	if h.store == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session store is not configured", false, nil)
		return false
	}
	return true
}

func (h *sessionHandlers) session(w http.ResponseWriter, r *http.Request) (*pipeline.Session, bool) {
	if !h.configured(w, r) {
		return nil, false
	}
	session, err := h.store.Get(r.PathValue("id"))
	if err != nil {
		writePipelineError(w, r, err, nil)
		return nil, false
	}
	return session, true
}

func decodeQuestion(w http.ResponseWriter, r *http.Request) (questionRequest, bool) {
	var request questionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid question request body", false, map[string]any{"details": err.Error()})
		return questionRequest{}, false
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return questionRequest{}, false
	}
	return request, true
}

// writePipelineError renders err with the status of its taxonomy kind. The
// turn, when present, is attached so callers can still show the generated SQL.
func writePipelineError(w http.ResponseWriter, r *http.Request, err error, turn *pipeline.Turn) {
	kind := pipeline.Classify(err)
	extra := map[string]any{"kind": kind}
	var validationErr *sqlsafety.ValidationError
	if errors.As(err, &validationErr) {
		extra["keyword"] = validationErr.Keyword
	}
	if turn != nil {
		extra["turn"] = newTurnPayload(turn)
	}
	writeError(r.Context(), w, kind.HTTPStatus(), strings.ToUpper(string(kind)), observability.Mask(err.Error()), kind.Retryable(), extra)
}
