// Package nl2sql turns a context bundle and a question into prompts, and turns
// generated text back into a routed SQL candidate.
package nl2sql

import (
	"context"
	"errors"

	"github.com/violationsqa/violationsqa/internal/retrieval"
)

// ErrEmptyGeneration is returned by generators whose reply has no text.
var ErrEmptyGeneration = errors.New("generator returned empty text")

type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ContextBundle is everything a SQL prompt is rendered from. It is built
// fresh for every question and never cached or persisted.
type ContextBundle struct {
	Schema      string
	SampleRows  string
	Categorical map[string][]string
	History     []Turn
	Documents   []retrieval.Document
}

type GeneratedText struct {
	Text         string `json:"text"`
	Model        string `json:"model,omitempty"`
	PromptTokens int    `json:"prompt_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// Generator is the text generation capability. Implementations make exactly one
// upstream call per Generate and do not retry.
type Generator interface {
	Generate(ctx context.Context, prompt string) (GeneratedText, error)
}
