package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/violationsqa/violationsqa/internal/config"
	"github.com/violationsqa/violationsqa/internal/knowledge"
	"github.com/violationsqa/violationsqa/internal/nl2sql"
)

func TestNewGeneratorSelectsProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"response":"SELECT 1"}`))
	}))
	defer server.Close()

	generator, err := NewGenerator(context.Background(), config.LLMConfig{Provider: "ollama", BaseURL: server.URL, Model: "m", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	if _, ok := generator.(*instrumented); !ok {
		t.Fatalf("generator type = %T", generator)
	}
	out, err := generator.Generate(context.Background(), "p")
	if err != nil || out.Text != "SELECT 1" {
		t.Fatalf("Generate() = %+v, %v", out, err)
	}
}

func TestNewGeneratorRejectsUnknownProvider(t *testing.T) {
	if _, err := NewGenerator(context.Background(), config.LLMConfig{Provider: "mystery"}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := NewGenerator(context.Background(), config.LLMConfig{Provider: "openai", BaseURL: "http://x"}); err == nil {
		t.Fatal("expected error for openai without key")
	}
}

func TestNewEmbedder(t *testing.T) {
	embedder, err := NewEmbedder(context.Background(), config.EmbeddingConfig{Provider: "none"})
	if err != nil || embedder != nil {
		t.Fatalf("NewEmbedder(none) = %v, %v", embedder, err)
	}

	embedder, err = NewEmbedder(context.Background(), config.EmbeddingConfig{Provider: "ollama", Model: "all-minilm", CacheTTL: time.Minute})
	if err != nil {
		t.Fatalf("NewEmbedder() error = %v", err)
	}
	if _, ok := embedder.(*knowledge.CachedEmbedder); !ok {
		t.Fatalf("embedder type = %T", embedder)
	}

	embedder, err = NewEmbedder(context.Background(), config.EmbeddingConfig{Provider: "ollama", Model: "all-minilm"})
	if err != nil {
		t.Fatalf("NewEmbedder() error = %v", err)
	}
	if _, ok := embedder.(*OllamaEmbedder); !ok {
		t.Fatalf("embedder type = %T", embedder)
	}

	if _, err := NewEmbedder(context.Background(), config.EmbeddingConfig{Provider: "mystery"}); err == nil {
		t.Fatal("expected error")
	}
}

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, string) (nl2sql.GeneratedText, error) {
	return nl2sql.GeneratedText{}, errors.New("boom")
}

func TestInstrumentPassesThroughErrors(t *testing.T) {
	_, err := Instrument(failingGenerator{}, "test").Generate(context.Background(), "p")
	if err == nil || err.Error() != "boom" {
		t.Fatalf("Generate() error = %v", err)
	}
}

func TestGeminiBaseURLIgnoresOllamaDefault(t *testing.T) {
	if got := geminiBaseURL(defaultOllamaURL); got != "" {
		t.Fatalf("geminiBaseURL() = %q", got)
	}
	if got := geminiBaseURL("https://proxy.example/"); got != "https://proxy.example" {
		t.Fatalf("geminiBaseURL() = %q", got)
	}
}
