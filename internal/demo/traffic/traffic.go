package traffic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/violationsqa/violationsqa/internal/pipeline"
)

// Service replays synthetic questions against the ask endpoint so dashboards
// and alerts have something to look at in development stacks.
type Service struct {
	cfg       Config
	log       *slog.Logger
	http      *http.Client
	generator *Generator

	sessionID string
	turns     int

	mu     sync.Mutex
	counts map[pipeline.OutcomeKind]int
}

type askRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Question  string `json:"question"`
}

type askResponse struct {
	SessionID  string               `json:"session_id"`
	Kind       pipeline.OutcomeKind `json:"kind"`
	Warnings   []string             `json:"warnings"`
	DurationMS int64                `json:"duration_ms"`
}

func NewService(cfg Config, logger *slog.Logger, client *http.Client) (*Service, error) {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if cfg.TurnsPerSession <= 0 {
		return nil, fmt.Errorf("turns per session must be > 0")
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	return &Service{
		cfg:       cfg,
		log:       logger,
		http:      client,
		generator: NewGenerator(cfg.Seed, cfg.OffTopicPercent),
		counts:    map[pipeline.OutcomeKind]int{},
	}, nil
}

// Run asks one question per interval until ctx ends or MaxQuestions is reached.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := s.askOnce(ctx); err != nil {
			s.log.Error("failed to ask synthetic question", slog.Any("error", err))
		}
		if s.cfg.MaxQuestions > 0 && s.generator.Sequence() >= int64(s.cfg.MaxQuestions) {
			s.log.Info("synthetic traffic finished", slog.Any("outcomes", s.Counts()))
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Counts returns a copy of the outcome tally so far.
func (s *Service) Counts() map[pipeline.OutcomeKind]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[pipeline.OutcomeKind]int, len(s.counts))
	for kind, n := range s.counts {
		out[kind] = n
	}
	return out
}

func (s *Service) askOnce(ctx context.Context) error {
	if s.turns >= s.cfg.TurnsPerSession {
		s.sessionID = ""
		s.turns = 0
	}
	question := s.generator.Next(s.turns)

	var response askResponse
	status, body, err := s.doJSON(ctx, http.MethodPost, "/v1/ask", askRequest{SessionID: s.sessionID, Question: question.Text}, &response)
	if err != nil {
		return fmt.Errorf("ask request failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("ask request status %d: %s", status, strings.TrimSpace(string(body)))
	}

	if response.SessionID != "" {
		s.sessionID = response.SessionID
	}
	s.turns++

	s.mu.Lock()
	s.counts[response.Kind]++
	s.mu.Unlock()

	s.log.Info(
		"asked synthetic question",
		slog.String("session_id", s.sessionID),
		slog.String("question", question.Text),
		slog.Bool("off_topic", question.OffTopic),
		slog.Bool("follow_up", question.FollowUp),
		slog.String("outcome", string(response.Kind)),
		slog.Int("warning_count", len(response.Warnings)),
		slog.Int64("duration_ms", response.DurationMS),
	)
	return nil
}

func (s *Service) doJSON(ctx context.Context, method, path string, requestBody any, responseBody any) (int, []byte, error) {
	var payload io.Reader
	if requestBody != nil {
		raw, err := json.Marshal(requestBody)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request body: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.APIBaseURL+path, payload)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", s.cfg.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	if responseBody != nil && resp.StatusCode == http.StatusOK && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, responseBody); err != nil {
			return resp.StatusCode, body, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, body, nil
}
