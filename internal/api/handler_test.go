package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/snowchat/snowchat/internal/config"
	"github.com/snowchat/snowchat/internal/prompt"
)

func TestHealthEndpoint(t *testing.T) {
	cfg, err := config.Load("snowchat-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"service":"snowchat-api"`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestReadyReportsEveryCheck(t *testing.T) {
	cfg, err := config.Load("snowchat-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{Readiness: []ReadinessCheck{
		{Name: "objectstore", Check: func(context.Context) error { return nil }},
		{Name: "audit_db", Check: func(context.Context) error {
			return errors.New("dial postgres://snowchat:hunter2@db:5432/audit: connection refused")
		}},
		{Name: "audit_schema", Check: func(context.Context) error { return errors.New("1 pending migration(s)") }},
	}})
	status, body := doJSON(t, h, http.MethodGet, "/v1/ready", "")
	if status != http.StatusServiceUnavailable || body["error_code"] != "NOT_READY" {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	if body["message"] != "not ready: audit_db, audit_schema" {
		t.Fatalf("message = %v", body["message"])
	}
	checks, _ := body["context"].(map[string]any)["checks"].(map[string]any)
	if checks["objectstore"] != "ok" || len(checks) != 3 {
		t.Fatalf("checks = %v", checks)
	}
	if strings.Contains(checks["audit_db"].(string), "hunter2") {
		t.Fatalf("readiness leaked a credential: %v", checks["audit_db"])
	}
}

func TestReadyWithoutChecks(t *testing.T) {
	cfg, err := config.Load("snowchat-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	status, body := doJSON(t, NewHandler(cfg, Dependencies{}), http.MethodGet, "/v1/ready", "")
	if status != http.StatusOK || body["status"] != "ready" {
		t.Fatalf("status = %d, body = %v", status, body)
	}
}

func TestReadyEndpointReportsMissingCredentials(t *testing.T) {
	cfg, err := config.Load("snowchat-api", mapLookup(map[string]string{"SNOWCHAT_PROFILE": "test"}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{Readiness: []ReadinessCheck{CheckConfig(cfg)}})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "SNOWCHAT_AI_API_KEY") {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestReadyHonoursDependencyTimeout(t *testing.T) {
	cfg, err := config.Load("snowchat-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	h := NewHandler(cfg, Dependencies{
		DependencyTimeout: 20 * time.Millisecond,
		Readiness: []ReadinessCheck{{Name: "objectstore", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}}},
	})
	status, body := doJSON(t, h, http.MethodGet, "/v1/ready", "")
	if status != http.StatusServiceUnavailable || body["message"] != "not ready: objectstore" {
		t.Fatalf("status = %d, body = %v", status, body)
	}
}

func TestCheckPromptTemplates(t *testing.T) {
	check := CheckPromptTemplates(prompt.DirSource{Dir: "../../prompts"})
	if check.Name != "prompts" {
		t.Fatalf("Name = %q", check.Name)
	}
	if err := check.Check(context.Background()); err != nil {
		t.Fatalf("CheckPromptTemplates() error = %v", err)
	}
	err := CheckPromptTemplates(prompt.DirSource{Dir: t.TempDir()}).Check(context.Background())
	if err == nil || !strings.Contains(err.Error(), "sql_prompt.txt") {
		t.Fatalf("CheckPromptTemplates() error = %v", err)
	}
}

func TestSessionRoutesRequireStore(t *testing.T) {
	cfg, err := config.Load("snowchat-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions", nil))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
