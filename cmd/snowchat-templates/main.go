package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/snowchat/snowchat/internal/config"
	"github.com/snowchat/snowchat/internal/observability"
	"github.com/snowchat/snowchat/internal/prompt"
	s3store "github.com/snowchat/snowchat/internal/storage/s3"
)

// snowchat-templates uploads the prompt template directory to the object
// store so that API replicas can read it with SNOWCHAT_PROMPTS_SOURCE=objectstore.
func main() {
	cfg, err := config.LoadFromEnv("snowchat-templates")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	dir := flag.String("dir", cfg.Prompts.Dir, "Prompt template directory to upload")
	flag.Parse()

	ctx := context.Background()
	store, err := s3store.FromConfig(ctx, cfg.ObjectStore)
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}
	if store == nil {
		logger.Error("object store is disabled", slog.String("hint", "set SNOWCHAT_OBJECTSTORE_ENABLED=true"))
		os.Exit(1)
	}

	keys, err := prompt.Upload(ctx, store, *dir)
	if err != nil {
		logger.Error("failed to upload prompt templates", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("uploaded prompt templates", slog.String("dir", *dir), slog.Any("keys", keys))
}
