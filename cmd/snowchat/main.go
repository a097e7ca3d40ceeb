package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/snowchat/snowchat/internal/cli/snowchat"
	"github.com/snowchat/snowchat/internal/config"
	"github.com/snowchat/snowchat/internal/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var logger *slog.Logger
	if cfg, err := config.LoadFromEnv("snowchat"); err == nil {
		logger = observability.NewLogger(cfg, os.Stderr)
	}

	code := snowchat.Run(ctx, os.Args[1:], snowchat.Options{
		Logger: logger,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	stop()
	os.Exit(code)
}
