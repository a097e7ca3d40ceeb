package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/snowchat/snowchat/internal/observability"
)

// Gateway answers prompts through a Completer. Ask consults the cache first
// and collapses identical in-flight prompts into a single provider call.
type Gateway struct {
	completer Completer
	cache     *Cache
	timeout   time.Duration
	logger    *slog.Logger
	flight    singleflight.Group
}

func NewGateway(completer Completer, cache *Cache, timeout time.Duration, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{completer: completer, cache: cache, timeout: timeout, logger: logger}
}

// Ask returns the cached answer for prompt when present. Only successful
// completions are stored.
func (g *Gateway) Ask(ctx context.Context, prompt string) (string, error) {
	if text, ok := g.lookup(prompt); ok {
		return text, nil
	}
	value, err, shared := g.flight.Do(Fingerprint(prompt), func() (any, error) {
		if text, ok := g.lookup(prompt); ok {
			return text, nil
		}
		text, err := g.AskFresh(ctx, prompt)
		if err != nil {
			return "", err
		}
		if g.cache != nil {
			g.cache.Put(prompt, text)
		}
		return text, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		g.logger.Debug("llm request shared with in-flight caller", "prompt_fingerprint", Fingerprint(prompt)[:12])
	}
	return value.(string), nil
}

// AskFresh always calls the provider and never touches the cache.
func (g *Gateway) AskFresh(ctx context.Context, prompt string) (string, error) {
	if g.completer == nil {
		return "", &Error{Message: "no completer configured"}
	}
	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	started := time.Now()
	text, err := g.completer.Complete(callCtx, prompt)
	elapsed := time.Since(started)
	if err != nil {
		observability.ObserveLLMRequest("error", elapsed)
		return "", g.wrapError(callCtx, err)
	}
	if strings.TrimSpace(text) == "" {
		observability.ObserveLLMRequest("empty", elapsed)
		return "", &Error{Message: "empty completion"}
	}
	observability.ObserveLLMRequest("success", elapsed)
	g.logger.Debug("llm request completed", "duration_ms", elapsed.Milliseconds(), "response_bytes", len(text))
	return text, nil
}

func (g *Gateway) Cache() *Cache {
	return g.cache
}

func (g *Gateway) lookup(prompt string) (string, bool) {
	if g.cache == nil {
		return "", false
	}
	text, ok := g.cache.Get(prompt)
	if ok {
		observability.IncrementLLMCacheHit()
	}
	return text, ok
}

func (g *Gateway) wrapError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Message: fmt.Sprintf("timed out after %s", g.timeout), Err: err}
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}
	return &Error{Message: err.Error(), Err: err}
}
