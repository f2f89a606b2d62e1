package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/violationsqa/violationsqa/internal/auth"
	"github.com/violationsqa/violationsqa/internal/session"
)

const (
	defaultSessionListLimit = 50
	maxSessionListLimit     = 500
)

type createSessionRequest struct {
	Metadata map[string]string `json:"metadata" validate:"max=32,dive,keys,required,max=64,endkeys,max=1024"`
}

type sessionResponse struct {
	SessionID string            `json:"session_id"`
	StartTime time.Time         `json:"start_time"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Turns     []session.Turn    `json:"turns"`
}

type sessionSummaryResponse struct {
	SessionID string    `json:"session_id"`
	StartTime time.Time `json:"start_time"`
	TurnCount int       `json:"turn_count"`
}

func handleCreateSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session store is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAsker); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request createSessionRequest
	if err := decodeJSON(r, &request, true); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "invalid session request body", false, map[string]any{"details": err.Error()})
		return
	}

	created, err := deps.Sessions.Create(r.Context(), sessionMetadata(r, request.Metadata))
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SESSION_CREATE_FAILED", "failed to create session", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(created))
}

func handleListSessions(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session store is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleViewer, auth.RoleAsker); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	limit := defaultSessionListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxSessionListLimit {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 500", false, map[string]any{"limit": raw})
			return
		}
		limit = parsed
	}

	summaries, err := deps.Sessions.List(r.Context(), limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SESSION_LIST_FAILED", "failed to list sessions", true, map[string]any{"details": err.Error()})
		return
	}
	items := make([]sessionSummaryResponse, 0, len(summaries))
	for _, summary := range summaries {
		items = append(items, sessionSummaryResponse{
			SessionID: summary.ID.String(),
			StartTime: summary.StartTime,
			TurnCount: summary.TurnCount,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": items})
}

func handleGetSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session store is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleViewer, auth.RoleAsker); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	id, ok := sessionIDFromPath(w, r)
	if !ok {
		return
	}

	loaded, err := deps.Sessions.Load(r.Context(), id)
	if err != nil {
		writeSessionLookupError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(loaded))
}

func handleDeleteSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session store is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAsker); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	id, ok := sessionIDFromPath(w, r)
	if !ok {
		return
	}

	if err := deps.Sessions.Delete(r.Context(), id); err != nil {
		writeSessionLookupError(w, r, id, err)
		return
	}
	requestLogger(r.Context(), deps).InfoContext(r.Context(), "session deleted", slog.String("session_id", id.String()))
	w.WriteHeader(http.StatusNoContent)
}

func sessionIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SESSION_ID", "session id must be a UUID", false, map[string]any{"session_id": raw})
		return uuid.Nil, false
	}
	return id, true
}

func writeSessionLookupError(w http.ResponseWriter, r *http.Request, id uuid.UUID, err error) {
	if errors.Is(err, session.ErrNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found", false, map[string]any{"session_id": id.String()})
		return
	}
	writeError(r.Context(), w, http.StatusInternalServerError, "SESSION_STORE_FAILED", "session store request failed", true, map[string]any{"details": err.Error()})
}

// sessionMetadata records the authenticated subject next to caller metadata.
func sessionMetadata(r *http.Request, supplied map[string]string) map[string]string {
	metadata := make(map[string]string, len(supplied)+2)
	for key, value := range supplied {
		metadata[key] = value
	}
	if _, ok := metadata["source"]; !ok {
		metadata["source"] = "api"
	}
	if subject := subjectFromRequest(r); subject != "" {
		metadata["subject"] = subject
	}
	return metadata
}

func toSessionResponse(s session.Session) sessionResponse {
	turns := s.Turns
	if turns == nil {
		turns = []session.Turn{}
	}
	return sessionResponse{
		SessionID: s.ID.String(),
		StartTime: s.StartTime,
		Metadata:  s.Metadata,
		Turns:     turns,
	}
}
