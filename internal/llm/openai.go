package llm

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/snowchat/snowchat/internal/config"
)

const defaultOpenAIModel = "gpt-4o"

type OpenAICompleter struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

func NewOpenAICompleter(cfg config.AIConfig) (*OpenAICompleter, error) {
	if err := requireAPIKey(cfg); err != nil {
		return nil, err
	}
	clientCfg := openai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	if baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAICompleter{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (c *OpenAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		llmErr := &Error{Provider: config.ProviderOpenAI, Message: err.Error(), Err: err}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			llmErr.StatusCode = apiErr.HTTPStatusCode
			llmErr.Message = apiErr.Message
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			llmErr.StatusCode = reqErr.HTTPStatusCode
		}
		return "", llmErr
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Provider: config.ProviderOpenAI, Message: "response contained no choices"}
	}
	return resp.Choices[0].Message.Content, nil
}
