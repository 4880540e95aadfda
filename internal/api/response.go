// ABOUTME: JSON response helpers and error-to-status mapping
// ABOUTME: Keeps handler code free of repeated header and encoding boilerplate

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/2389/coven-actuator/internal/reservation"
	"github.com/2389/coven-actuator/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// sendError maps domain errors onto HTTP statuses.
func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *reservation.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Message, "field": verr.Field})
	case errors.Is(err, reservation.ErrNotFound), errors.Is(err, store.ErrNotFound):
		sendJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, reservation.ErrNotOwner):
		sendJSONError(w, http.StatusForbidden, "reservation belongs to another requester")
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}
