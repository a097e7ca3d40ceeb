package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/snowchat/snowchat/internal/config"
)

func TestOpenAICompleterSendsPrompt(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"`+"```sql\\nSELECT 1\\n```"+`"},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	completer, err := NewOpenAICompleter(config.AIConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1", Model: "gpt-4o", MaxTokens: 256})
	if err != nil {
		t.Fatalf("NewOpenAICompleter() error = %v", err)
	}
	got, err := completer.Complete(context.Background(), "how many orders?")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if StripCodeFence(got) != "SELECT 1" {
		t.Fatalf("Complete() = %q", got)
	}
	if gotBody["model"] != "gpt-4o" {
		t.Fatalf("request model = %#v", gotBody["model"])
	}
	messages, _ := gotBody["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("request messages = %#v", gotBody["messages"])
	}
	first, _ := messages[0].(map[string]any)
	if first["role"] != "user" || first["content"] != "how many orders?" {
		t.Fatalf("request message = %#v", first)
	}
}

func TestOpenAICompleterMapsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}))
	defer server.Close()

	completer, err := NewOpenAICompleter(config.AIConfig{APIKey: "sk-bad", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewOpenAICompleter() error = %v", err)
	}
	_, err = completer.Complete(context.Background(), "q")
	var llmErr *Error
	if !errors.As(err, &llmErr) {
		t.Fatalf("Complete() error = %v, want *Error", err)
	}
	if llmErr.StatusCode != http.StatusUnauthorized || !strings.Contains(llmErr.Message, "Incorrect API key") {
		t.Fatalf("Complete() error = %#v", llmErr)
	}
}

func TestAnthropicCompleterReadsTextBlock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "ak-test" {
			t.Errorf("X-Api-Key = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[{"type":"text","text":"SELECT region FROM orders"}],"stop_reason":"end_turn","usage":{"input_tokens":5,"output_tokens":7}}`)
	}))
	defer server.Close()

	completer, err := NewAnthropicCompleter(config.AIConfig{APIKey: "ak-test", BaseURL: server.URL, Model: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("NewAnthropicCompleter() error = %v", err)
	}
	got, err := completer.Complete(context.Background(), "regions?")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "SELECT region FROM orders" {
		t.Fatalf("Complete() = %q", got)
	}
}

func TestAnthropicCompleterMapsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer server.Close()

	completer, err := NewAnthropicCompleter(config.AIConfig{APIKey: "ak-bad", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewAnthropicCompleter() error = %v", err)
	}
	_, err = completer.Complete(context.Background(), "q")
	var llmErr *Error
	if !errors.As(err, &llmErr) {
		t.Fatalf("Complete() error = %v, want *Error", err)
	}
	if !strings.Contains(llmErr.Error(), "invalid x-api-key") {
		t.Fatalf("Complete() error = %v", llmErr)
	}
}

func TestNewCompleterRequiresAPIKey(t *testing.T) {
	for _, provider := range []string{config.ProviderOpenAI, config.ProviderAnthropic} {
		_, err := NewCompleter(config.AIConfig{Provider: provider})
		var cfgErr *config.Error
		if !errors.As(err, &cfgErr) || cfgErr.Key != "SNOWCHAT_AI_API_KEY" {
			t.Fatalf("NewCompleter(%q) error = %v", provider, err)
		}
	}
	if _, err := NewCompleter(config.AIConfig{Provider: "llama", APIKey: "k"}); err == nil {
		t.Fatal("NewCompleter() expected error for unknown provider")
	}
}
