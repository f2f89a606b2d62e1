// Package llm adapts hosted and local model APIs to the generation and
// embedding capabilities the pipeline consumes.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/violationsqa/violationsqa/internal/config"
	"github.com/violationsqa/violationsqa/internal/knowledge"
	"github.com/violationsqa/violationsqa/internal/nl2sql"
	"github.com/violationsqa/violationsqa/internal/observability"
)

const defaultTimeout = 60 * time.Second

// NewGenerator builds the configured generator wrapped with call metrics.
func NewGenerator(ctx context.Context, cfg config.LLMConfig) (nl2sql.Generator, error) {
	var (
		generator nl2sql.Generator
		err       error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "ollama":
		generator, err = NewOllamaGenerator(OllamaConfig{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	case "openai":
		generator, err = NewOpenAIGenerator(OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	case "gemini":
		generator, err = NewGeminiGenerator(ctx, GeminiConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     geminiBaseURL(cfg.BaseURL),
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s generator: %w", cfg.Provider, err)
	}
	return Instrument(generator, cfg.Provider), nil
}

// NewEmbedder builds the configured embedder behind a TTL cache. Provider
// "none" returns a nil embedder, which disables dense retrieval.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (knowledge.Embedder, error) {
	var (
		embedder knowledge.Embedder
		err      error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "none", "":
		return nil, nil
	case "ollama":
		embedder, err = NewOllamaEmbedder(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model})
	case "gemini":
		embedder, err = NewGeminiEmbedder(ctx, GeminiConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   geminiBaseURL(cfg.BaseURL),
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
		})
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s embedder: %w", cfg.Provider, err)
	}
	if cfg.CacheTTL > 0 {
		return knowledge.NewCachedEmbedder(embedder, cfg.CacheTTL), nil
	}
	return embedder, nil
}

type instrumented struct {
	next     nl2sql.Generator
	provider string
}

// Instrument records one generation metric per call.
func Instrument(next nl2sql.Generator, provider string) nl2sql.Generator {
	return &instrumented{next: next, provider: provider}
}

func (g *instrumented) Generate(ctx context.Context, prompt string) (nl2sql.GeneratedText, error) {
	start := time.Now()
	out, err := g.next.Generate(ctx, prompt)
	observability.ObserveGeneration(g.provider, time.Since(start), err)
	return out, err
}

func clientTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return defaultTimeout
	}
	return timeout
}

// geminiBaseURL drops the local Ollama default so the SDK uses its own endpoint.
func geminiBaseURL(raw string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == defaultOllamaURL {
		return ""
	}
	return trimmed
}
