package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/violationsqa/violationsqa/internal/auth"
	"github.com/violationsqa/violationsqa/internal/config"
	"github.com/violationsqa/violationsqa/internal/pipeline"
	"github.com/violationsqa/violationsqa/internal/query"
	"github.com/violationsqa/violationsqa/internal/schema"
	"github.com/violationsqa/violationsqa/internal/session"
)

type memorySessions struct {
	mu        sync.Mutex
	sessions  map[uuid.UUID]session.Session
	order     []uuid.UUID
	createErr error
}

func newMemorySessions() *memorySessions {
	return &memorySessions{sessions: map[uuid.UUID]session.Session{}}
}

func (m *memorySessions) Create(_ context.Context, metadata map[string]string) (session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return session.Session{}, m.createErr
	}
	created := session.Session{
		ID:        uuid.New(),
		StartTime: time.Date(2026, 3, 1, 9, 0, len(m.order), 0, time.UTC),
		Metadata:  metadata,
	}
	m.sessions[created.ID] = created
	m.order = append(m.order, created.ID)
	return created, nil
}

func (m *memorySessions) List(_ context.Context, limit int) ([]session.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]session.Summary, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		if s, ok := m.sessions[m.order[i]]; ok {
			out = append(out, session.Summary{ID: s.ID, StartTime: s.StartTime, TurnCount: len(s.Turns)})
		}
	}
	return out, nil
}

func (m *memorySessions) Load(_ context.Context, id uuid.UUID) (session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	return s, nil
}

func (m *memorySessions) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return session.ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *memorySessions) Save(_ context.Context, s session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

type stubAsker struct {
	outcome   pipeline.Outcome
	questions []string
	sessions  []*session.Session
}

func (a *stubAsker) Ask(_ context.Context, s *session.Session, question string) pipeline.Outcome {
	a.questions = append(a.questions, question)
	a.sessions = append(a.sessions, s)
	return a.outcome
}

type stubDescriber struct {
	desc schema.Description
	err  error
}

func (d stubDescriber) Describe(context.Context) (schema.Description, error) {
	return d.desc, d.err
}

func loadConfig(t *testing.T, env map[string]string) config.Config {
	t.Helper()
	cfg, err := config.Load("vqa-api", mapLookup(env))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func serve(h http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v, body=%s", err, rr.Body.String())
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := serve(h, http.MethodGet, "/v1/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["service"] != "vqa-api" {
		t.Fatalf("service = %v", body["service"])
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{
		Readiness: func(context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := serve(h, http.MethodGet, "/v1/ready", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error_code"] != "NOT_READY" || body["retryable"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	serve(h, http.MethodGet, "/v1/health", "")
	rr := serve(h, http.MethodGet, "/v1/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestProtectedRoutesRequireAuthAndRoles(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"VQA_AUTH_REQUIRED": "true"})
	validator, err := auth.NewStaticAPIKeyValidator("k1:ops:asker,k2:auditor:viewer")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	asker := &stubAsker{outcome: pipeline.Outcome{Kind: pipeline.OutcomeRefusal, Answer: "no"}}
	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Sessions:       newMemorySessions(),
		Pipeline:       asker,
	})

	if rr := serve(h, http.MethodGet, "/v1/sessions", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", rr.Code)
	}
	if rr := serve(h, http.MethodGet, "/v1/sessions", "", "X-API-Key", "k2"); rr.Code != http.StatusOK {
		t.Fatalf("viewer list status = %d", rr.Code)
	}
	rr := serve(h, http.MethodPost, "/v1/ask", `{"question":"How many?"}`, "X-API-Key", "k2")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("viewer ask status = %d", rr.Code)
	}
	if len(asker.questions) != 0 {
		t.Fatal("pipeline should not run for a forbidden caller")
	}
	rr = serve(h, http.MethodPost, "/v1/ask", `{"question":"How many?"}`, "Authorization", "Bearer k1")
	if rr.Code != http.StatusOK {
		t.Fatalf("asker status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if rr := serve(h, http.MethodGet, "/v1/health", ""); rr.Code != http.StatusOK {
		t.Fatalf("health should stay public, status = %d", rr.Code)
	}
}

func TestProtectedRoutesFailClosedWithoutMiddleware(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"VQA_AUTH_REQUIRED": "true"})
	h := NewHandler(cfg, Dependencies{Sessions: newMemorySessions()})
	rr := serve(h, http.MethodGet, "/v1/sessions", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestAskCreatesSessionLazily(t *testing.T) {
	sessions := newMemorySessions()
	asker := &stubAsker{outcome: pipeline.Outcome{
		Kind:   pipeline.OutcomeExplanation,
		Answer: "There are 24 violations.",
		Route:  "proceed",
		SQL:    "SELECT COUNT(*) FROM violations",
		Result: &query.Result{Kind: query.KindRows, Columns: []string{"count"}, Rows: [][]any{{int64(24)}}},
	}}
	h := NewHandler(loadConfig(t, nil), Dependencies{Sessions: sessions, Pipeline: asker})

	rr := serve(h, http.MethodPost, "/v1/ask", `{"question":"  How many violations are there?  "}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["kind"] != "explanation" || body["answer"] != "There are 24 violations." {
		t.Fatalf("body = %v", body)
	}
	if body["sql"] != "SELECT COUNT(*) FROM violations" {
		t.Fatalf("sql = %v", body["sql"])
	}
	sessionID, _ := body["session_id"].(string)
	if _, err := uuid.Parse(sessionID); err != nil {
		t.Fatalf("session_id = %q", sessionID)
	}
	if len(sessions.order) != 1 || sessions.order[0].String() != sessionID {
		t.Fatalf("created sessions = %v", sessions.order)
	}
	if asker.questions[0] != "How many violations are there?" {
		t.Fatalf("question = %q", asker.questions[0])
	}
	if asker.sessions[0].ID.String() != sessionID {
		t.Fatalf("asked with session %s", asker.sessions[0].ID)
	}
	if sessions.sessions[sessions.order[0]].Metadata["source"] != "api" {
		t.Fatalf("metadata = %v", sessions.sessions[sessions.order[0]].Metadata)
	}
}

func TestAskContinuesExistingSession(t *testing.T) {
	sessions := newMemorySessions()
	existing, _ := sessions.Create(context.Background(), nil)
	existing.Append(session.RoleUser, "earlier", time.Now())
	_ = sessions.Save(context.Background(), existing)
	asker := &stubAsker{outcome: pipeline.Outcome{Kind: pipeline.OutcomeRefusal, Answer: "no"}}
	h := NewHandler(loadConfig(t, nil), Dependencies{Sessions: sessions, Pipeline: asker})

	rr := serve(h, http.MethodPost, "/v1/ask", `{"session_id":"`+existing.ID.String()+`","question":"And now?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if len(sessions.order) != 1 {
		t.Fatal("no new session should be created")
	}
	if len(asker.sessions[0].Turns) != 1 {
		t.Fatalf("loaded turns = %d", len(asker.sessions[0].Turns))
	}
}

func TestAskRejectsInvalidRequests(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{Sessions: newMemorySessions(), Pipeline: &stubAsker{}})
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{name: "missing question", body: `{}`, status: http.StatusBadRequest, code: "INVALID_REQUEST"},
		{name: "blank question", body: `{"question":"   "}`, status: http.StatusBadRequest, code: "QUESTION_REQUIRED"},
		{name: "unknown field", body: `{"question":"x","sql":"DROP TABLE violations"}`, status: http.StatusBadRequest, code: "INVALID_REQUEST"},
		{name: "malformed session id", body: `{"question":"x","session_id":"nope"}`, status: http.StatusBadRequest, code: "INVALID_REQUEST"},
		{name: "unknown session", body: `{"question":"x","session_id":"` + uuid.NewString() + `"}`, status: http.StatusNotFound, code: "SESSION_NOT_FOUND"},
		{name: "not json", body: `question=x`, status: http.StatusBadRequest, code: "INVALID_REQUEST"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(h, http.MethodPost, "/v1/ask", tc.body)
			if rr.Code != tc.status {
				t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
			}
			if body := decodeBody(t, rr); body["error_code"] != tc.code {
				t.Fatalf("error_code = %v", body["error_code"])
			}
		})
	}
}

func TestAskAnswersWhenSessionCreateFails(t *testing.T) {
	sessions := newMemorySessions()
	sessions.createErr = errors.New("database is down")
	asker := &stubAsker{outcome: pipeline.Outcome{Kind: pipeline.OutcomeContextFailure, Answer: pipeline.ContextFailureAnswer, Err: pipeline.ErrContextUnavailable}}
	h := NewHandler(loadConfig(t, nil), Dependencies{Sessions: sessions, Pipeline: asker})

	rr := serve(h, http.MethodPost, "/v1/ask", `{"question":"How many?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["kind"] != "context_failure" {
		t.Fatalf("kind = %v", body["kind"])
	}
	if _, ok := body["session_id"]; ok {
		t.Fatalf("unsaved session should not report an id: %v", body["session_id"])
	}
	warnings, _ := body["warnings"].([]any)
	if len(warnings) != 1 || !strings.Contains(warnings[0].(string), "database is down") {
		t.Fatalf("warnings = %v", body["warnings"])
	}
	if body["error"] != "context unavailable" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestSessionLifecycle(t *testing.T) {
	sessions := newMemorySessions()
	h := NewHandler(loadConfig(t, nil), Dependencies{Sessions: sessions})

	rr := serve(h, http.MethodPost, "/v1/sessions", `{"metadata":{"channel":"cli"}}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body=%s", rr.Code, rr.Body.String())
	}
	created := decodeBody(t, rr)
	id, _ := created["session_id"].(string)
	metadata, _ := created["metadata"].(map[string]any)
	if metadata["channel"] != "cli" || metadata["source"] != "api" {
		t.Fatalf("metadata = %v", created["metadata"])
	}

	if rr := serve(h, http.MethodPost, "/v1/sessions", ""); rr.Code != http.StatusCreated {
		t.Fatalf("empty body create status = %d", rr.Code)
	}

	rr = serve(h, http.MethodGet, "/v1/sessions?limit=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	listed, _ := decodeBody(t, rr)["sessions"].([]any)
	if len(listed) != 1 {
		t.Fatalf("listed = %v", listed)
	}

	rr = serve(h, http.MethodGet, "/v1/sessions/"+id, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	if turns, _ := decodeBody(t, rr)["turns"].([]any); turns == nil || len(turns) != 0 {
		t.Fatalf("turns = %v", turns)
	}

	if rr := serve(h, http.MethodDelete, "/v1/sessions/"+id, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if rr := serve(h, http.MethodGet, "/v1/sessions/"+id, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", rr.Code)
	}
	if rr := serve(h, http.MethodDelete, "/v1/sessions/"+id, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rr.Code)
	}
}

func TestSessionRequestValidation(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{Sessions: newMemorySessions()})

	if rr := serve(h, http.MethodGet, "/v1/sessions/not-a-uuid", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", rr.Code)
	}
	for _, limit := range []string{"0", "501", "abc"} {
		if rr := serve(h, http.MethodGet, "/v1/sessions?limit="+limit, ""); rr.Code != http.StatusBadRequest {
			t.Fatalf("limit %s status = %d", limit, rr.Code)
		}
	}
	if rr := serve(h, http.MethodPost, "/v1/sessions", `{"metadata":{"":"x"}}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("empty metadata key status = %d", rr.Code)
	}
}

func TestSessionsNotConfigured(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	if rr := serve(h, http.MethodGet, "/v1/sessions", ""); rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr := serve(h, http.MethodPost, "/v1/ask", `{"question":"x"}`); rr.Code != http.StatusNotImplemented {
		t.Fatalf("ask status = %d", rr.Code)
	}
}

func TestSchemaEndpoint(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{Schema: stubDescriber{desc: schema.Description{
		Text:        "Table \"violations\" has the following columns:\n- id (integer)\n",
		Categorical: map[string][]string{"status": {"Open", "Resolved"}},
	}}})
	rr := serve(h, http.MethodGet, "/v1/schema", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if !strings.Contains(body["text"].(string), `Table "violations"`) {
		t.Fatalf("text = %v", body["text"])
	}

	down := NewHandler(loadConfig(t, nil), Dependencies{Schema: stubDescriber{err: errors.New("connection refused")}})
	rr = serve(down, http.MethodGet, "/v1/schema", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		nil,
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	if err := combined(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestCheckDatabaseWithoutHandle(t *testing.T) {
	if err := CheckDatabase(nil, "session")(context.Background()); err == nil {
		t.Fatal("expected error for missing database")
	}
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
