// Package handler provides the HTTP surface: alert webhook ingestion, case
// management and rule assignment administration.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/alertops-platform/caseflow/internal/lifecycle"
	"github.com/alertops-platform/caseflow/internal/repository"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// statusFor maps pipeline errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrTerminalState):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// actor identifies the caller for the audit trail. In production the auth
// middleware sets X-User-ID.
func actor(r *http.Request) string {
	if v := r.Header.Get("X-User-ID"); v != "" {
		return v
	}
	return "system"
}
