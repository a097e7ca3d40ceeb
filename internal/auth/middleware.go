package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/snowchat/snowchat/internal/observability"
)

type clientKey struct{}

func WithClient(ctx context.Context, client Client) context.Context {
	return context.WithValue(ctx, clientKey{}, client)
}

func ClientFromContext(ctx context.Context) (Client, bool) {
	client, ok := ctx.Value(clientKey{}).(Client)
	return client, ok
}

// Middleware resolves the calling client from X-API-Key or a bearer token
// and rejects the request when the key is missing or unknown.
func Middleware(logger *slog.Logger, keys KeyStore) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, scheme := presentedKey(r)
			if apiKey == "" {
				observability.IncrementAuthRejection("missing_key")
				deny(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing API key")
				return
			}

			client, ok := keys.Lookup(r.Context(), apiKey)
			if !ok {
				observability.IncrementAuthRejection("unknown_key")
				logger.LogAttrs(r.Context(), slog.LevelWarn, "rejected api key",
					slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
					slog.String("key_fingerprint", Fingerprint(apiKey)),
					slog.String("scheme", scheme),
					slog.String("path", r.URL.Path),
				)
				deny(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid API key")
				return
			}
			logger.LogAttrs(r.Context(), slog.LevelDebug, "client authenticated",
				slog.String("client", client.Name),
				slog.String("path", r.URL.Path),
			)
			next.ServeHTTP(w, r.WithContext(WithClient(r.Context(), client)))
		})
	}
}

// RequireScope rejects requests whose client was not granted scope. It must
// run inside Middleware.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client, ok := ClientFromContext(r.Context())
			if !ok || !client.Allows(scope) {
				observability.IncrementAuthRejection("missing_scope")
				deny(w, r, http.StatusForbidden, "FORBIDDEN", "scope "+scope+" is required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func presentedKey(r *http.Request) (key, scheme string) {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, "header"
	}
	const bearer = "Bearer "
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authorization) > len(bearer) && strings.EqualFold(authorization[:len(bearer)], bearer) {
		return strings.TrimSpace(authorization[len(bearer):]), "bearer"
	}
	return "", ""
}

func deny(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  false,
		"trace_id":   observability.TraceIDFromContext(r.Context()),
	})
}
