package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/violationsqa/violationsqa/internal/api"
	"github.com/violationsqa/violationsqa/internal/audit"
	"github.com/violationsqa/violationsqa/internal/auth"
	"github.com/violationsqa/violationsqa/internal/config"
	"github.com/violationsqa/violationsqa/internal/knowledge"
	"github.com/violationsqa/violationsqa/internal/llm"
	"github.com/violationsqa/violationsqa/internal/observability"
	"github.com/violationsqa/violationsqa/internal/pipeline"
	"github.com/violationsqa/violationsqa/internal/query"
	"github.com/violationsqa/violationsqa/internal/retrieval"
	"github.com/violationsqa/violationsqa/internal/schema"
	sessionpostgres "github.com/violationsqa/violationsqa/internal/session/postgres"
	"github.com/violationsqa/violationsqa/internal/store"
	"github.com/violationsqa/violationsqa/internal/store/duckdb"
	"github.com/violationsqa/violationsqa/internal/store/postgres"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("vqa-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx := context.Background()

	db, err := postgres.Open(ctx, postgres.DBConfig{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	readiness := []api.ReadinessCheck{api.CheckDatabase(db, "postgres")}
	var dataset store.Provider = db
	schemaName := "public"
	if cfg.Database.DuckDBPath != "" {
		duck, err := openDuckDB(ctx, cfg.Database.DuckDBPath, logger)
		if err != nil {
			logger.Error("failed to open duckdb dataset", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = duck.Close() }()
		dataset = duck
		schemaName = "main"
		readiness = append(readiness, api.CheckDatabase(duck, "duckdb"))
	}

	generator, err := llm.NewGenerator(ctx, cfg.LLM)
	if err != nil {
		logger.Error("failed to initialize generator", slog.Any("error", err))
		os.Exit(1)
	}

	var retriever pipeline.Retriever
	if cfg.Retrieval.Enabled {
		embedder, err := llm.NewEmbedder(ctx, cfg.Embedding)
		if err != nil {
			logger.Error("failed to initialize embedder", slog.Any("error", err))
			os.Exit(1)
		}
		documents, err := openKnowledge(ctx, cfg, db, embedder, logger)
		if err != nil {
			logger.Error("failed to initialize knowledge store", slog.Any("error", err))
			os.Exit(1)
		}
		r := &retrieval.Retriever{
			Sparse: documents,
			Config: retrieval.Config{
				DenseK:  cfg.Retrieval.DenseK,
				SparseK: cfg.Retrieval.SparseK,
				Cap:     cfg.Retrieval.Cap,
				RRFK:    cfg.Retrieval.RRFK,
			},
			Logger: logger,
		}
		if embedder != nil {
			r.Embedder = embedder
			r.Dense = documents
		}
		retriever = r
	}

	auditWriter := audit.NewWriter(cfg.Audit)
	defer func() { _ = auditWriter.Close() }()

	describer := schema.NewDescriber(dataset, schema.Config{
		SchemaName: schemaName,
		SampleRows: cfg.Pipeline.SampleRows,
	})
	sessions := sessionpostgres.NewRepository(db)
	qa := &pipeline.Pipeline{
		Schema:    describer,
		Retriever: retriever,
		Generator: generator,
		Executor:  query.NewExecutor(dataset),
		Sessions:  sessions,
		Audit:     auditWriter,
		Config: pipeline.Config{
			HistoryTurns:      cfg.Pipeline.HistoryTurns,
			RefusalMessage:    cfg.Pipeline.RefusalMessage,
			GenerationTimeout: cfg.LLM.Timeout,
		},
		Logger: logger,
	}
	if err := qa.Validate(); err != nil {
		logger.Error("invalid pipeline wiring", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:            logger,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: 2 * time.Second,
		Sessions:          sessions,
		Pipeline:          qa,
		Schema:            describer,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("llm_provider", cfg.LLM.Provider),
			slog.String("llm_model", cfg.LLM.Model),
			slog.Bool("retrieval_enabled", cfg.Retrieval.Enabled),
			slog.String("retrieval_backend", cfg.Retrieval.Backend),
		)
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
}

type knowledgeStore interface {
	knowledge.DenseSearcher
	knowledge.SparseSearcher
}

// openKnowledge returns the Postgres knowledge table, or for the memory backend
// an in-process index built from the knowledge file.
func openKnowledge(ctx context.Context, cfg config.Config, db *sql.DB, embedder knowledge.Embedder, logger *slog.Logger) (knowledgeStore, error) {
	if cfg.Retrieval.Backend != "memory" {
		return knowledge.NewPostgresStore(db, cfg.Embedding.Dimension), nil
	}
	docs, err := knowledge.LoadFile(cfg.Knowledge.Path)
	if err != nil {
		return nil, err
	}
	store := knowledge.NewMemoryStore(cfg.Embedding.Dimension)
	indexer := &knowledge.Indexer{Writer: store, Embedder: embedder, Logger: logger}
	summary, err := indexer.Index(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", cfg.Knowledge.Path, err)
	}
	logger.Info("indexed knowledge in memory",
		slog.String("path", cfg.Knowledge.Path),
		slog.Int("documents", summary.Indexed),
		slog.Int("embedded", summary.Embedded),
	)
	return store, nil
}

// openDuckDB opens the dataset file and seeds it on first use.
func openDuckDB(ctx context.Context, path string, logger *slog.Logger) (*sql.DB, error) {
	db, err := duckdb.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	seeded, err := duckdb.Bootstrap(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if seeded {
		logger.Info("seeded duckdb dataset", slog.String("path", path))
	}
	return db, nil
}
