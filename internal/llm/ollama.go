package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/violationsqa/violationsqa/internal/nl2sql"
)

const defaultOllamaURL = "http://localhost:11434"

type OllamaConfig struct {
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// OllamaGenerator calls /api/generate with streaming disabled.
type OllamaGenerator struct {
	baseURL     string
	model       string
	temperature float64
	client      *http.Client
}

func NewOllamaGenerator(cfg OllamaConfig) (*OllamaGenerator, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return &OllamaGenerator{
		baseURL:     ollamaURL(cfg.BaseURL),
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: clientTimeout(cfg.Timeout)},
	}, nil
}

func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (nl2sql.GeneratedText, error) {
	var parsed struct {
		Model           string `json:"model"`
		Response        string `json:"response"`
		PromptEvalCount int    `json:"prompt_eval_count"`
		EvalCount       int    `json:"eval_count"`
	}
	err := postJSON(ctx, g.client, g.baseURL+"/api/generate", map[string]any{
		"model":   g.model,
		"prompt":  prompt,
		"stream":  false,
		"options": map[string]any{"temperature": g.temperature},
	}, &parsed)
	if err != nil {
		return nl2sql.GeneratedText{}, fmt.Errorf("ollama generate: %w", err)
	}
	if strings.TrimSpace(parsed.Response) == "" {
		return nl2sql.GeneratedText{}, nl2sql.ErrEmptyGeneration
	}
	model := parsed.Model
	if model == "" {
		model = g.model
	}
	return nl2sql.GeneratedText{
		Text:         parsed.Response,
		Model:        model,
		PromptTokens: parsed.PromptEvalCount,
		OutputTokens: parsed.EvalCount,
	}, nil
}

type OllamaEmbedder struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaEmbedder(cfg OllamaConfig) (*OllamaEmbedder, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return &OllamaEmbedder{
		baseURL: ollamaURL(cfg.BaseURL),
		model:   model,
		client:  &http.Client{Timeout: clientTimeout(cfg.Timeout)},
	}, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var parsed struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := postJSON(ctx, e.client, e.baseURL+"/api/embed", map[string]any{
		"model": e.model,
		"input": text,
	}, &parsed)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(parsed.Embeddings) == 0 || len(parsed.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama embed: empty embedding")
	}
	return parsed.Embeddings[0], nil
}

func ollamaURL(raw string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return defaultOllamaURL
	}
	return trimmed
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
