package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/snowchat/snowchat/internal/config"
	"github.com/snowchat/snowchat/internal/observability"
	"github.com/snowchat/snowchat/internal/prompt"
)

// ReadinessCheck is one named dependency checked by GET /v1/ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// CheckConfig fails while required credentials are missing.
func CheckConfig(cfg config.Config) ReadinessCheck {
	return ReadinessCheck{Name: "config", Check: func(_ context.Context) error {
		return cfg.Validate()
	}}
}

// CheckPromptTemplates fails until every template can be read from source.
func CheckPromptTemplates(source prompt.Source) ReadinessCheck {
	return ReadinessCheck{Name: "prompts", Check: func(ctx context.Context) error {
		if source == nil {
			return errors.New("prompt source is not configured")
		}
		for _, template := range prompt.Templates() {
			if _, err := source.Read(ctx, template.FileName()); err != nil {
				return fmt.Errorf("prompt template %s: %w", template.FileName(), err)
			}
		}
		return nil
	}}
}

// runReadiness runs every check concurrently. The report maps each check
// name to "ok" or its masked error; failing lists failed names in order.
func runReadiness(ctx context.Context, checks []ReadinessCheck) (map[string]string, []string) {
	var (
		mu     sync.Mutex
		report = make(map[string]string, len(checks))
		group  errgroup.Group
	)
	for _, check := range checks {
		if check.Check == nil {
			continue
		}
		group.Go(func() error {
			result := "ok"
			if err := check.Check(ctx); err != nil {
				result = observability.Mask(err.Error())
			}
			mu.Lock()
			report[check.Name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	var failing []string
	for name, result := range report {
		if result != "ok" {
			failing = append(failing, name)
		}
	}
	sort.Strings(failing)
	return report, failing
}
