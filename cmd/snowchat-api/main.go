package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/snowchat/snowchat/internal/api"
	auditpostgres "github.com/snowchat/snowchat/internal/audit/postgres"
	"github.com/snowchat/snowchat/internal/auth"
	"github.com/snowchat/snowchat/internal/config"
	"github.com/snowchat/snowchat/internal/migrations"
	"github.com/snowchat/snowchat/internal/observability"
	"github.com/snowchat/snowchat/internal/pipeline"
	s3store "github.com/snowchat/snowchat/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("snowchat-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	objectStore, err := s3store.FromConfig(context.Background(), cfg.ObjectStore)
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}
	promptSource, err := pipeline.PromptSource(cfg.Prompts, objectStore)
	if err != nil {
		logger.Error("failed to configure prompt templates", slog.Any("error", err))
		os.Exit(1)
	}

	env := pipeline.Environment{Config: cfg, Store: objectStore, Logger: logger}
	readiness := []api.ReadinessCheck{
		api.CheckConfig(cfg),
		api.CheckPromptTemplates(promptSource),
	}
	if bucket, ok := objectStore.(*s3store.Store); ok {
		readiness = append(readiness, api.ReadinessCheck{Name: "objectstore", Check: bucket.Ping})
	}
	var auditRepo *auditpostgres.Repository
	if cfg.Audit.Enabled() {
		db, err := auditpostgres.Open(context.Background(), cfg.Audit)
		if err != nil {
			logger.Error("failed to open audit database", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		auditRepo = auditpostgres.NewRepository(db)
		env.Audit = auditRepo
		readiness = append(readiness,
			api.ReadinessCheck{Name: "audit_db", Check: auditRepo.HealthCheck},
			api.ReadinessCheck{Name: "audit_schema", Check: migrations.NewRunner().CheckCurrent(db)},
		)
	}
	manager := pipeline.NewManager(func(ctx context.Context, id string) (*pipeline.Session, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return pipeline.OpenSession(ctx, id, env)
	}, cfg.Session.IdleTimeout, logger)

	deps := api.Dependencies{
		Logger:            logger,
		Sessions:          manager,
		Readiness:         readiness,
		DependencyTimeout: 2 * time.Second,
	}
	if auditRepo != nil {
		deps.Audit = auditRepo
	}
	if cfg.Auth.Required {
		keys, err := auth.ParseStaticKeys(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("service credentials loaded", slog.Int("clients", keys.Len()))
		deps.AuthMiddleware = auth.Middleware(logger, keys)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		if err := manager.Run(ctx); err != nil {
			logger.Error("failed to close sessions", slog.Any("error", err))
		}
	}()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
	<-reaperDone
}
