package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/violationsqa/violationsqa/internal/audit"
	"github.com/violationsqa/violationsqa/internal/config"
	"github.com/violationsqa/violationsqa/internal/observability"
	s3store "github.com/violationsqa/violationsqa/internal/storage/s3"
)

func main() {
	once := flag.Bool("once", false, "archive pending backups once and exit")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("vqa-archiver")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	objectStore, err := s3store.New(ctx, cfg.ObjectStore)
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	archiver := &audit.Archiver{
		AuditPath:   cfg.Audit.Path,
		Service:     cfg.Service.Name,
		ObjectStore: objectStore,
		Logger:      logger,
	}

	if *once {
		summary, err := archiver.RunOnce(ctx)
		if err != nil {
			logger.Error("archive run failed", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("archive run completed",
			slog.Int("files_found", summary.FilesFound),
			slog.Int("files_archived", summary.FilesArchived),
			slog.Int("records_archived", summary.RecordsArchived),
		)
		return
	}

	if !cfg.Archive.Enabled {
		logger.Error("archival is disabled; set VQA_ARCHIVE_ENABLED=true or pass -once")
		os.Exit(1)
	}
	logger.Info("audit archiver started", slog.Duration("interval", cfg.Archive.Interval))
	if err := archiver.Run(ctx, cfg.Archive.Interval); err != nil {
		logger.Error("audit archiver failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("audit archiver stopped")
}
