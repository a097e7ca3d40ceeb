// Package llm sends prompts to a hosted language model and memoizes the
// answers per session.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/snowchat/snowchat/internal/config"
	"github.com/snowchat/snowchat/internal/observability"
)

// Completer makes exactly one completion request per call.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Error reports a failed, empty or timed-out completion.
type Error struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("llm request failed")
	if e.Provider != "" || e.StatusCode != 0 {
		b.WriteString(" (")
		b.WriteString(e.Provider)
		if e.StatusCode != 0 {
			if e.Provider != "" {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "status %d", e.StatusCode)
		}
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(observability.Mask(e.Message))
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewCompleter builds the completer for the configured provider.
func NewCompleter(cfg config.AIConfig) (Completer, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAICompleter(cfg)
	case config.ProviderAnthropic:
		return NewAnthropicCompleter(cfg)
	default:
		return nil, &config.Error{Key: "SNOWCHAT_AI_PROVIDER", Reason: fmt.Sprintf("unsupported provider %q", cfg.Provider)}
	}
}

func requireAPIKey(cfg config.AIConfig) error {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return &config.Error{Key: "SNOWCHAT_AI_API_KEY", Reason: "api key is required"}
	}
	return nil
}
