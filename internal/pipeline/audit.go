package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/violationsqa/violationsqa/internal/audit"
	"github.com/violationsqa/violationsqa/internal/observability"
	"github.com/violationsqa/violationsqa/internal/session"
)

func (p *Pipeline) writeAudit(ctx context.Context, s *session.Session, question string, out *Outcome) {
	if p.Audit == nil {
		return
	}
	if err := p.Audit.Write(buildRecord(ctx, p.now(), s, question, *out)); err != nil {
		p.logger(ctx).WarnContext(ctx, "audit write failed", slog.Any("error", err))
	}
}

func buildRecord(ctx context.Context, at time.Time, s *session.Session, question string, out Outcome) audit.Record {
	record := audit.Record{
		Time:              at,
		TraceID:           observability.TraceIDFromContext(ctx),
		Question:          question,
		Outcome:           string(out.Kind),
		Route:             string(out.Route),
		SQL:               out.SQL,
		Answer:            out.Answer,
		Warnings:          out.Warnings,
		RetrievedIDs:      out.RetrievedIDs,
		RetrievalDegraded: out.RetrievalDegraded,
		Model:             out.Model,
		PromptTokens:      out.PromptTokens,
		OutputTokens:      out.OutputTokens,
		ExecutionTimeMS:   out.Duration.Milliseconds(),
	}
	if s.ID != uuid.Nil {
		record.SessionID = s.ID.String()
	}
	if out.Result != nil {
		record.Result = out.Result.Text()
	}
	if out.Kind == OutcomeExplanation {
		record.Explanation = out.Answer
	}
	if out.Err != nil {
		record.Error = out.Err.Error()
	}
	if len(out.Stages) > 0 {
		record.StagesMS = make(map[string]int64, len(out.Stages))
		for stage, elapsed := range out.Stages {
			record.StagesMS[stage] = elapsed.Milliseconds()
		}
	}
	return record
}
