package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/snowchat/snowchat/internal/config"
	"github.com/snowchat/snowchat/internal/demo"
	"github.com/snowchat/snowchat/internal/observability"
	s3store "github.com/snowchat/snowchat/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("snowchat-demo-data")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	demoCfg, err := demo.LoadConfig(os.LookupEnv)
	if err != nil {
		logger.Error("failed to load demo config", slog.Any("error", err))
		os.Exit(1)
	}
	if _, set := os.LookupEnv("SNOWCHAT_DEMO_PREFIX"); !set && cfg.Warehouse.ParquetPrefix != "" {
		demoCfg.Prefix = cfg.Warehouse.ParquetPrefix
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := s3store.FromConfig(ctx, cfg.ObjectStore)
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}
	if store == nil {
		logger.Error("object store is disabled", slog.String("hint", "set SNOWCHAT_OBJECTSTORE_ENABLED=true"))
		os.Exit(1)
	}

	seeder := &demo.Seeder{Store: store, Config: demoCfg, Logger: logger}
	if _, err := seeder.Seed(ctx); err != nil {
		logger.Error("failed to seed demo dataset", slog.Any("error", err))
		os.Exit(1)
	}
}
