package api

import (
	"net/http"

	"github.com/violationsqa/violationsqa/internal/auth"
)

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema describer is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleViewer, auth.RoleAsker); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	description, err := deps.Schema.Describe(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SCHEMA_UNAVAILABLE", "failed to describe the data source", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, description)
}
