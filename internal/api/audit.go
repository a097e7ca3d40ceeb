package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/snowchat/snowchat/internal/audit"
	"github.com/snowchat/snowchat/internal/observability"
)

type auditHandlers struct {
	reader audit.Reader
}

func (h *auditHandlers) list(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(r.Context(), w, http.StatusNotFound, "AUDIT_DISABLED", "turn audit is not configured", false, nil)
		return
	}
	query := r.URL.Query()
	filter := audit.Filter{
		SessionID: strings.TrimSpace(query.Get("session_id")),
		State:     strings.TrimSpace(query.Get("state")),
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARGUMENT", "limit must be a positive integer", false, map[string]any{"limit": raw})
			return
		}
		filter.Limit = limit
	}
	filter = filter.Normalize()

	entries, err := h.reader.List(r.Context(), filter)
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "AUDIT_UNAVAILABLE", observability.Mask(err.Error()), true, nil)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "limit": filter.Limit})
}
