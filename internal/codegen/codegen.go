// Package codegen asks the model for analysis code over a query result.
package codegen

import (
	"context"
	"fmt"

	"github.com/snowchat/snowchat/internal/llm"
	"github.com/snowchat/snowchat/internal/prompt"
	"github.com/snowchat/snowchat/internal/sandbox"
	"github.com/snowchat/snowchat/internal/warehouse"
)

type Asker interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

type PromptBuilder interface {
	Build(ctx context.Context, t prompt.Template, values map[string]string) (string, error)
}

// GeneratedCode is Starlark source written against the sandbox builtins.
type GeneratedCode struct {
	Source string         `json:"source"`
	Status sandbox.Status `json:"status"`
}

type Generator struct {
	prompts PromptBuilder
	llm     Asker
}

func NewGenerator(prompts PromptBuilder, asker Asker) *Generator {
	return &Generator{prompts: prompts, llm: asker}
}

// Generate describes result's shape to the model; row values are never sent.
func (g *Generator) Generate(ctx context.Context, result warehouse.QueryResult, question string) (GeneratedCode, error) {
	text, err := g.prompts.Build(ctx, prompt.TemplateAnalysis, map[string]string{
		prompt.KeyDataFrame: result.Describe(),
		prompt.KeyQuestion:  question,
	})
	if err != nil {
		return GeneratedCode{}, fmt.Errorf("build analysis prompt: %w", err)
	}
	answer, err := g.llm.Ask(ctx, text)
	if err != nil {
		return GeneratedCode{}, err
	}
	source := llm.StripCodeFence(answer)
	if source == "" {
		return GeneratedCode{}, &llm.Error{Message: "completion contained no code"}
	}
	return GeneratedCode{Source: source, Status: sandbox.StatusUnexecuted}, nil
}
