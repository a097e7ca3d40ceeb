package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/snowchat/snowchat/internal/config"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-5-20250929"
	defaultAnthropicMaxTokens = 1024
)

type AnthropicCompleter struct {
	client      *anthropic.Client
	model       string
	temperature float32
	maxTokens   int
}

func NewAnthropicCompleter(cfg config.AIConfig) (*AnthropicCompleter, error) {
	if err := requireAPIKey(cfg); err != nil {
		return nil, err
	}
	opts := make([]anthropic.ClientOption, 0, 1)
	if baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicCompleter{
		client:      anthropic.NewClient(strings.TrimSpace(cfg.APIKey), opts...),
		model:       model,
		temperature: float32(cfg.Temperature),
		maxTokens:   maxTokens,
	}, nil
}

func (c *AnthropicCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	temperature := c.temperature
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: &temperature,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	})
	if err != nil {
		llmErr := &Error{Provider: config.ProviderAnthropic, Message: err.Error(), Err: err}
		var apiErr *anthropic.APIError
		if errors.As(err, &apiErr) {
			llmErr.Message = apiErr.Message
		}
		var reqErr *anthropic.RequestError
		if errors.As(err, &reqErr) {
			llmErr.StatusCode = reqErr.StatusCode
		}
		return "", llmErr
	}
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			return *block.Text, nil
		}
	}
	return "", &Error{Provider: config.ProviderAnthropic, Message: "response contained no text content"}
}
