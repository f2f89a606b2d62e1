package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/violationsqa/violationsqa/internal/auth"
	"github.com/violationsqa/violationsqa/internal/pipeline"
	"github.com/violationsqa/violationsqa/internal/session"
)

type askRequest struct {
	SessionID string `json:"session_id" validate:"omitempty,uuid"`
	Question  string `json:"question" validate:"required,max=2000"`
}

type askResponse struct {
	SessionID string `json:"session_id,omitempty"`
	pipeline.Outcome
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// handleAsk always answers 200 once the request is valid. The outcome kind in
// the body tells refusals and failures apart.
func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "question answering is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAsker); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request askRequest
	if err := decodeJSON(r, &request, false); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	question := strings.TrimSpace(request.Question)
	if question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	current, warnings, ok := resolveSession(deps, w, r, request.SessionID)
	if !ok {
		return
	}

	outcome := deps.Pipeline.Ask(r.Context(), current, question)
	if len(warnings) > 0 {
		outcome.Warnings = append(warnings, outcome.Warnings...)
	}
	response := askResponse{Outcome: outcome, DurationMS: outcome.Duration.Milliseconds()}
	if current.ID != uuid.Nil {
		response.SessionID = current.ID.String()
	}
	if outcome.Err != nil {
		response.Error = outcome.Err.Error()
	}
	writeJSON(w, http.StatusOK, response)
}

// resolveSession loads the requested session or lazily creates one. A failed
// create does not block the answer: the run continues on an unsaved session
// and the caller gets a warning.
func resolveSession(deps Dependencies, w http.ResponseWriter, r *http.Request, rawID string) (*session.Session, []string, bool) {
	if rawID != "" {
		if deps.Sessions == nil {
			writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session store is not configured", false, nil)
			return nil, nil, false
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SESSION_ID", "session id must be a UUID", false, map[string]any{"session_id": rawID})
			return nil, nil, false
		}
		loaded, err := deps.Sessions.Load(r.Context(), id)
		if err != nil {
			writeSessionLookupError(w, r, id, err)
			return nil, nil, false
		}
		return &loaded, nil, true
	}

	if deps.Sessions == nil {
		return &session.Session{}, nil, true
	}
	created, err := deps.Sessions.Create(r.Context(), sessionMetadata(r, nil))
	if err != nil {
		requestLogger(r.Context(), deps).WarnContext(r.Context(), "session create failed, answering without history",
			slog.Any("error", err),
		)
		return &session.Session{}, []string{"session could not be created: " + err.Error()}, true
	}
	return &created, nil, true
}
