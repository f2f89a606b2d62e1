// Package pipeline answers one question end to end. It assembles context,
// retrieves reference documents, generates and routes SQL, executes it, explains
// the result and records the exchange on the session.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/violationsqa/violationsqa/internal/audit"
	"github.com/violationsqa/violationsqa/internal/nl2sql"
	"github.com/violationsqa/violationsqa/internal/observability"
	"github.com/violationsqa/violationsqa/internal/query"
	"github.com/violationsqa/violationsqa/internal/retrieval"
	"github.com/violationsqa/violationsqa/internal/schema"
	"github.com/violationsqa/violationsqa/internal/session"
)

var (
	ErrContextUnavailable = errors.New("context unavailable")
	ErrGeneration         = errors.New("generation failed")
	ErrSQLExecution       = errors.New("sql execution failed")
	ErrPersistence        = errors.New("session persistence failed")
	ErrNotConfigured      = errors.New("pipeline is not configured")
)

type OutcomeKind string

const (
	OutcomeRefusal           OutcomeKind = "refusal"
	OutcomeSQLError          OutcomeKind = "sql_error"
	OutcomeExplanation       OutcomeKind = "explanation"
	OutcomeGenerationFailure OutcomeKind = "generation_failure"
	OutcomeContextFailure    OutcomeKind = "context_failure"
)

const (
	ContextFailureAnswer    = "The violations data is unavailable right now. Please try again later."
	GenerationFailureAnswer = "An answer could not be generated right now. Please try again."
	sqlErrorPrefix          = "An error occurred while executing the SQL:\n"
)

const (
	stageContext     = "context"
	stageRetrieval   = "retrieval"
	stageGenerateSQL = "generate_sql"
	stageExecute     = "execute"
	stageExplain     = "explain"
	stageSave        = "save"
)

// Outcome is the single terminal result of one Ask. Kind selects which of the
// optional fields are meaningful. Warnings never change Kind.
type Outcome struct {
	Kind              OutcomeKind      `json:"kind"`
	Answer            string           `json:"answer"`
	Route             nl2sql.RouteKind `json:"route,omitempty"`
	SQL               string           `json:"sql,omitempty"`
	Result            *query.Result    `json:"result,omitempty"`
	RetrievedIDs      []string         `json:"retrieved_ids,omitempty"`
	RetrievalDegraded bool             `json:"retrieval_degraded,omitempty"`
	Warnings          []string         `json:"warnings,omitempty"`
	Model             string           `json:"model,omitempty"`
	PromptTokens      int              `json:"prompt_tokens,omitempty"`
	OutputTokens      int              `json:"output_tokens,omitempty"`

	Err              error                    `json:"-"`
	PersistenceError error                    `json:"-"`
	Duration         time.Duration            `json:"-"`
	Stages           map[string]time.Duration `json:"-"`
}

type SchemaDescriber interface {
	Describe(ctx context.Context) (schema.Description, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, question string) retrieval.Result
}

type Executor interface {
	Execute(ctx context.Context, sqlText string) query.Result
}

type SessionSaver interface {
	Save(ctx context.Context, s session.Session) error
}

type AuditSink interface {
	Write(record audit.Record) error
}

type Config struct {
	// HistoryTurns bounds the prior turns rendered into the SQL prompt. Zero
	// renders the whole session.
	HistoryTurns      int
	RefusalMessage    string
	GenerationTimeout time.Duration
}

// Pipeline holds the process-wide collaborators. Retriever, Sessions and Audit
// are optional. A Pipeline is safe for concurrent use when its collaborators are.
type Pipeline struct {
	Schema    SchemaDescriber
	Retriever Retriever
	Generator nl2sql.Generator
	Executor  Executor
	Sessions  SessionSaver
	Audit     AuditSink
	Config    Config
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Validate reports every required collaborator that is missing.
func (p *Pipeline) Validate() error {
	var errs []error
	if p.Schema == nil {
		errs = append(errs, fmt.Errorf("%w: schema describer is required", ErrNotConfigured))
	}
	if p.Generator == nil {
		errs = append(errs, fmt.Errorf("%w: generator is required", ErrNotConfigured))
	}
	if p.Executor == nil {
		errs = append(errs, fmt.Errorf("%w: query executor is required", ErrNotConfigured))
	}
	return errors.Join(errs...)
}

// Ask runs one question against s and returns exactly one Outcome. The user
// and assistant turns are appended to s and, when s has an id, persisted with
// replace-all semantics. s may be nil for a throwaway run.
func (p *Pipeline) Ask(ctx context.Context, s *session.Session, question string) Outcome {
	started := time.Now()
	if s == nil {
		s = &session.Session{StartTime: p.now()}
	}
	history := s.History(p.Config.HistoryTurns)
	s.Append(session.RoleUser, question, p.now())

	stages := stageTimer{}
	out := p.answer(ctx, question, history, stages)
	s.Append(session.RoleAssistant, out.Answer, p.now())
	p.save(ctx, s, &out, stages)

	out.Stages = stages
	out.Duration = time.Since(started)
	observability.ObservePipelineOutcome(string(out.Kind), out.Duration)
	p.writeAudit(ctx, s, question, &out)
	p.logOutcome(ctx, s, out)
	return out
}

func (p *Pipeline) answer(ctx context.Context, question string, history []session.Turn, stages stageTimer) Outcome {
	if err := p.Validate(); err != nil {
		p.logger(ctx).ErrorContext(ctx, "pipeline is misconfigured", slog.Any("error", err))
		return Outcome{Kind: OutcomeContextFailure, Answer: ContextFailureAnswer, Err: fmt.Errorf("%w: %w", ErrContextUnavailable, err)}
	}

	started := time.Now()
	bundle, err := p.assemble(ctx, history)
	stages.record(stageContext, started)
	if err != nil {
		return Outcome{Kind: OutcomeContextFailure, Answer: ContextFailureAnswer, Err: err}
	}

	var out Outcome
	if p.Retriever != nil {
		started = time.Now()
		retrieved := p.Retriever.Retrieve(ctx, question)
		stages.record(stageRetrieval, started)
		bundle.Documents = retrieved.Documents
		out.RetrievedIDs = retrieved.IDs()
		if retrieved.Degraded() {
			out.RetrievalDegraded = true
			out.Warnings = append(out.Warnings, retrieved.Err().Error())
		}
	}

	prompt, err := nl2sql.ComposeSQLPrompt(bundle, question)
	if err != nil {
		return out.generationFailure(fmt.Errorf("%w: compose sql prompt: %w", ErrGeneration, err))
	}
	generated, err := p.generate(ctx, stageGenerateSQL, prompt, stages)
	if err != nil {
		return out.generationFailure(err)
	}
	out.addUsage(generated)

	decision := p.router().Route(nl2sql.ExtractSQL(generated.Text))
	out.Route = decision.Route
	if decision.Refused() {
		out.Kind = OutcomeRefusal
		out.Answer = decision.Message
		return out
	}

	out.SQL = decision.SQL
	started = time.Now()
	result := p.Executor.Execute(ctx, decision.SQL)
	stages.record(stageExecute, started)
	out.Result = &result
	if result.Failed() {
		out.Kind = OutcomeSQLError
		out.Answer = sqlErrorPrefix + result.Text()
		out.Err = fmt.Errorf("%w: %s", ErrSQLExecution, result.Message)
		return out
	}

	prompt, err = nl2sql.ComposeExplainPrompt(question, result)
	if err != nil {
		return out.generationFailure(fmt.Errorf("%w: compose explain prompt: %w", ErrGeneration, err))
	}
	explained, err := p.generate(ctx, stageExplain, prompt, stages)
	if err != nil {
		return out.generationFailure(err)
	}
	out.addUsage(explained)
	out.Kind = OutcomeExplanation
	out.Answer = explained.Text
	return out
}

func (p *Pipeline) assemble(ctx context.Context, history []session.Turn) (nl2sql.ContextBundle, error) {
	description, err := p.Schema.Describe(ctx)
	if err != nil {
		return nl2sql.ContextBundle{}, fmt.Errorf("%w: %w", ErrContextUnavailable, err)
	}
	bundle := nl2sql.ContextBundle{
		Schema:      description.Text,
		SampleRows:  description.SampleRows,
		Categorical: description.Categorical,
		History:     make([]nl2sql.Turn, 0, len(history)),
	}
	for _, turn := range history {
		bundle.History = append(bundle.History, nl2sql.Turn{Role: string(turn.Role), Content: turn.Content})
	}
	return bundle, nil
}

// generate makes exactly one generator call bounded by the configured timeout.
func (p *Pipeline) generate(ctx context.Context, stage, prompt string, stages stageTimer) (nl2sql.GeneratedText, error) {
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.Config.GenerationTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, p.Config.GenerationTimeout)
	}
	defer cancel()

	started := time.Now()
	generated, err := p.Generator.Generate(callCtx, prompt)
	stages.record(stage, started)
	if err != nil {
		return nl2sql.GeneratedText{}, fmt.Errorf("%w: %s: %w", ErrGeneration, stage, err)
	}
	if strings.TrimSpace(generated.Text) == "" {
		return nl2sql.GeneratedText{}, fmt.Errorf("%w: %s: %w", ErrGeneration, stage, nl2sql.ErrEmptyGeneration)
	}
	return generated, nil
}

func (p *Pipeline) save(ctx context.Context, s *session.Session, out *Outcome, stages stageTimer) {
	if p.Sessions == nil || s.ID == uuid.Nil {
		return
	}
	started := time.Now()
	err := p.Sessions.Save(ctx, *s)
	stages.record(stageSave, started)
	if err != nil {
		out.PersistenceError = fmt.Errorf("%w: %w", ErrPersistence, err)
		out.Warnings = append(out.Warnings, out.PersistenceError.Error())
		p.logger(ctx).WarnContext(ctx, "session save failed",
			slog.String("session_id", s.ID.String()),
			slog.Any("error", err),
		)
	}
}

func (p *Pipeline) router() nl2sql.Router {
	return nl2sql.Router{RefusalMessage: p.Config.RefusalMessage}
}

func (p *Pipeline) now() time.Time {
	if p.Clock != nil {
		return p.Clock().UTC()
	}
	return time.Now().UTC()
}

func (p *Pipeline) logger(ctx context.Context) *slog.Logger {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return observability.LoggerWithTrace(ctx, logger)
}

func (p *Pipeline) logOutcome(ctx context.Context, s *session.Session, out Outcome) {
	attrs := []any{
		slog.String("outcome", string(out.Kind)),
		slog.Int64("duration_ms", out.Duration.Milliseconds()),
		slog.Bool("retrieval_degraded", out.RetrievalDegraded),
	}
	if s.ID != uuid.Nil {
		attrs = append(attrs, slog.String("session_id", s.ID.String()))
	}
	if out.Err != nil {
		attrs = append(attrs, slog.Any("error", out.Err))
	}
	p.logger(ctx).InfoContext(ctx, "question answered", attrs...)
}

func (o Outcome) generationFailure(err error) Outcome {
	o.Kind = OutcomeGenerationFailure
	o.Answer = GenerationFailureAnswer
	o.Err = err
	return o
}

func (o *Outcome) addUsage(generated nl2sql.GeneratedText) {
	if generated.Model != "" {
		o.Model = generated.Model
	}
	o.PromptTokens += generated.PromptTokens
	o.OutputTokens += generated.OutputTokens
}

type stageTimer map[string]time.Duration

func (t stageTimer) record(stage string, started time.Time) {
	elapsed := time.Since(started)
	t[stage] = elapsed
	observability.ObserveStage(stage, elapsed)
}
