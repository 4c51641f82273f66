package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sqlchat/sqlchat/internal/config"
	"github.com/sqlchat/sqlchat/internal/deploy"
	"github.com/sqlchat/sqlchat/internal/observability"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("sqlchat-deploy")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stderr)

	trigger, err := deploy.NewTrigger(deploy.Config{
		HookURL:     cfg.Deploy.HookURL,
		Token:       cfg.Deploy.Token,
		MaxAttempts: cfg.Deploy.MaxAttempts,
		Timeout:     cfg.Deploy.Timeout,
		GitRef:      cfg.Deploy.GitRef,
		GitCommit:   cfg.Deploy.GitCommit,
	}, nil, logger)
	if err != nil {
		logger.Error("invalid deploy configuration", slog.Any("error", err))
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := trigger.Run(ctx)
	if err != nil {
		logger.Error("deploy failed", slog.Any("error", err), slog.Int("attempts", result.Attempts))
		os.Exit(1)
	}
	logger.Info("deploy requested",
		slog.Int("status", result.StatusCode),
		slog.String("ref", cfg.Deploy.GitRef),
		slog.String("commit", cfg.Deploy.GitCommit),
	)
}
