package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/violationsqa/violationsqa/internal/config"
	"github.com/violationsqa/violationsqa/internal/knowledge"
	"github.com/violationsqa/violationsqa/internal/llm"
	"github.com/violationsqa/violationsqa/internal/observability"
	"github.com/violationsqa/violationsqa/internal/store/postgres"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("vqa-indexer")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	path := flag.String("file", cfg.Knowledge.Path, "JSON array of knowledge documents")
	prune := flag.Bool("prune", false, "delete indexed documents that are not in the file")
	flag.Parse()

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	docs, err := knowledge.LoadFile(*path)
	if err != nil {
		logger.Error("failed to load knowledge file", slog.String("path", *path), slog.Any("error", err))
		os.Exit(1)
	}

	db, err := postgres.Open(ctx, postgres.DBConfig{
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		logger.Error("failed to open postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	embedder, err := llm.NewEmbedder(ctx, cfg.Embedding)
	if err != nil {
		logger.Error("failed to initialize embedder", slog.Any("error", err))
		os.Exit(1)
	}
	if embedder == nil {
		logger.Warn("embedding provider disabled, documents are indexed for sparse search only")
	}

	documents := knowledge.NewPostgresStore(db, cfg.Embedding.Dimension)
	indexer := &knowledge.Indexer{Writer: documents, Embedder: embedder, Logger: logger}
	summary, err := indexer.Index(ctx, docs)
	if err != nil {
		logger.Error("indexing failed", slog.Int("indexed", summary.Indexed), slog.Any("error", err))
		os.Exit(1)
	}

	attrs := []any{
		slog.Int("indexed", summary.Indexed),
		slog.Int("embedded", summary.Embedded),
		slog.Int64("duration_ms", summary.Duration.Milliseconds()),
	}
	if *prune {
		ids := make([]string, len(docs))
		for i, doc := range docs {
			ids[i] = doc.ID
		}
		removed, err := documents.DeleteMissing(ctx, ids)
		if err != nil {
			logger.Error("prune failed", slog.Any("error", err))
			os.Exit(1)
		}
		attrs = append(attrs, slog.Int64("pruned", removed))
	}
	logger.Info("knowledge base indexed", attrs...)
}
