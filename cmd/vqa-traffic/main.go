package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/violationsqa/violationsqa/internal/config"
	"github.com/violationsqa/violationsqa/internal/demo/traffic"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := traffic.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		slog.Error("failed to load traffic config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	service, err := traffic.NewService(cfg, logger, nil)
	if err != nil {
		logger.Error("failed to initialize traffic generator", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(
		"synthetic traffic started",
		slog.String("api_url", cfg.APIBaseURL),
		slog.Duration("interval", cfg.Interval),
		slog.Int("turns_per_session", cfg.TurnsPerSession),
		slog.Int("off_topic_percent", cfg.OffTopicPercent),
		slog.Int("max_questions", cfg.MaxQuestions),
	)

	err = service.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("synthetic traffic stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("synthetic traffic stopped", slog.Any("outcomes", service.Counts()))
}
