package pipeline

import (
	"context"
	"log/slog"

	"github.com/snowchat/snowchat/internal/audit"
	"github.com/snowchat/snowchat/internal/config"
	"github.com/snowchat/snowchat/internal/llm"
	"github.com/snowchat/snowchat/internal/prompt"
	"github.com/snowchat/snowchat/internal/sandbox"
	"github.com/snowchat/snowchat/internal/storage"
	"github.com/snowchat/snowchat/internal/warehouse"
)

// Environment holds what every session opened from configuration shares.
// Completer overrides the configured provider when set. Audit is optional.
type Environment struct {
	Config    config.Config
	Store     storage.ObjectStore
	Completer llm.Completer
	Audit     audit.Recorder
	Logger    *slog.Logger
}

// PromptSource picks the template source named by the prompts configuration.
func PromptSource(cfg config.PromptsConfig, store storage.ObjectStore) (prompt.Source, error) {
	switch cfg.Source {
	case config.PromptSourceObjectStore:
		if store == nil {
			return nil, &config.Error{Key: "SNOWCHAT_PROMPTS_SOURCE", Reason: "objectstore source requires SNOWCHAT_OBJECTSTORE_ENABLED"}
		}
		return prompt.ObjectStoreSource{Store: store}, nil
	default:
		return prompt.DirSource{Dir: cfg.Dir}, nil
	}
}

// OpenSession opens a warehouse connection and builds a session around it.
// The session owns the connection and its own LLM cache.
func OpenSession(ctx context.Context, id string, env Environment) (*Session, error) {
	cfg := env.Config
	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}

	completer := env.Completer
	if completer == nil {
		var err error
		completer, err = llm.NewCompleter(cfg.AI)
		if err != nil {
			return nil, err
		}
	}
	source, err := PromptSource(cfg.Prompts, env.Store)
	if err != nil {
		return nil, err
	}

	conn, err := warehouse.Open(ctx, cfg.Warehouse, warehouse.OpenOptions{Store: env.Store, Logger: logger})
	if err != nil {
		return nil, err
	}
	session, err := NewSession(Options{
		ID:           id,
		Conn:         conn,
		Prompts:      prompt.NewBuilder(source),
		Gateway:      llm.NewGateway(completer, llm.NewCache(cfg.AI.CacheMaxEntries, cfg.AI.CacheTTL), cfg.AI.Timeout, logger),
		Query:        warehouse.NewExecutor(cfg.Warehouse.MaxRows, cfg.Warehouse.QueryTimeout),
		Sandbox:      sandbox.NewExecutor(cfg.Sandbox, logger),
		PreviewRows:  cfg.Session.SchemaPreviewRow,
		Audit:        env.Audit,
		AuditTimeout: cfg.Audit.Timeout,
		Logger:       logger,
	})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return session, nil
}
