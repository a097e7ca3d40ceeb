package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snowchat/snowchat/internal/audit"
	"github.com/snowchat/snowchat/internal/auth"
	"github.com/snowchat/snowchat/internal/config"
	"github.com/snowchat/snowchat/internal/observability"
	"github.com/snowchat/snowchat/internal/pipeline"
)

type SessionStore interface {
	Create(ctx context.Context) (*pipeline.Session, error)
	Get(id string) (*pipeline.Session, error)
	Close(id string) error
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         []ReadinessCheck
	DependencyTimeout time.Duration
	Sessions          SessionStore
	AuthMiddleware    func(http.Handler) http.Handler
	Audit             audit.Reader
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		report, failing := runReadiness(ctx, deps.Readiness)
		if len(failing) > 0 {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY",
				"not ready: "+strings.Join(failing, ", "), true, map[string]any{"checks": report})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": report})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	sessions := &sessionHandlers{store: deps.Sessions}
	sessionMux := http.NewServeMux()
	sessionMux.HandleFunc("POST /v1/sessions", sessions.create)
	sessionMux.HandleFunc("DELETE /v1/sessions/{id}", sessions.close)
	sessionMux.HandleFunc("GET /v1/sessions/{id}/schema", sessions.schema)
	sessionMux.HandleFunc("POST /v1/sessions/{id}/schema/refresh", sessions.refreshSchema)
	sessionMux.HandleFunc("GET /v1/sessions/{id}/tables/{table}/preview", sessions.previewTable)
	sessionMux.HandleFunc("GET /v1/sessions/{id}/sample-questions", sessions.sampleQuestions)
	sessionMux.HandleFunc("GET /v1/sessions/{id}/cache", sessions.cacheStats)
	sessionMux.HandleFunc("POST /v1/sessions/{id}/ask", sessions.ask)
	sessionMux.HandleFunc("GET /v1/sessions/{id}/turns/{turn}", sessions.getTurn)
	var followUp http.Handler = http.HandlerFunc(sessions.followUp)
	if cfg.Auth.Required {
		followUp = auth.RequireScope(auth.ScopeAnalysis)(followUp)
	}
	sessionMux.Handle("POST /v1/sessions/{id}/turns/{turn}/follow-up", followUp)

	auditRoutes := &auditHandlers{reader: deps.Audit}
	var sessionRoutes http.Handler = sessionMux
	var auditList http.Handler = http.HandlerFunc(auditRoutes.list)
	if cfg.Auth.Required {
		sessionRoutes = auth.RequireScope(auth.ScopeQuery)(sessionRoutes)
		auditList = auth.RequireScope(auth.ScopeAudit)(auditList)
	}
	protected := http.NewServeMux()
	protected.Handle("/v1/sessions", sessionRoutes)
	protected.Handle("/v1/sessions/", sessionRoutes)
	protected.Handle("GET /v1/audit", auditList)

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("/v1/sessions", protectedHandler)
	mux.Handle("/v1/sessions/", protectedHandler)
	mux.Handle("/v1/audit", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
