package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/violationsqa/violationsqa/internal/nl2sql"
)

type GeminiConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	// Dimension truncates embeddings when set.
	Dimension int
}

type GeminiGenerator struct {
	client      *genai.Client
	model       string
	temperature float32
}

func newGeminiClient(ctx context.Context, cfg GeminiConfig) (*genai.Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return client, nil
}

func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := newGeminiClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &GeminiGenerator{client: client, model: model, temperature: float32(cfg.Temperature)}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (nl2sql.GeneratedText, error) {
	temperature := g.temperature
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: &temperature,
	})
	if err != nil {
		return nl2sql.GeneratedText{}, fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nl2sql.GeneratedText{}, nl2sql.ErrEmptyGeneration
	}
	out := nl2sql.GeneratedText{Text: text, Model: g.model}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if usage := resp.UsageMetadata; usage != nil {
		out.PromptTokens = int(usage.PromptTokenCount)
		out.OutputTokens = int(usage.CandidatesTokenCount)
	}
	return out, nil
}

type GeminiEmbedder struct {
	client    *genai.Client
	model     string
	dimension int32
}

func NewGeminiEmbedder(ctx context.Context, cfg GeminiConfig) (*GeminiEmbedder, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "text-embedding-004"
	}
	client, err := newGeminiClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &GeminiEmbedder{client: client, model: model, dimension: int32(cfg.Dimension)}, nil
}

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var embedConfig *genai.EmbedContentConfig
	if e.dimension > 0 {
		dimension := e.dimension
		embedConfig = &genai.EmbedContentConfig{OutputDimensionality: &dimension}
	}
	resp, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), embedConfig)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("gemini embed: empty embedding")
	}
	return resp.Embeddings[0].Values, nil
}
