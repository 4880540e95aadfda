// ABOUTME: Ledger query handler returning persisted scheduler events
// ABOUTME: Supports device, requester, reservation, type, time range and cursor filters

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/coven-actuator/internal/events"
	"github.com/2389/coven-actuator/internal/store"
)

// LedgerResponse is the JSON response for GET /api/ledger.
type LedgerResponse struct {
	Events     []json.RawMessage `json:"events"`
	NextCursor string            `json:"next_cursor,omitempty"`
	HasMore    bool              `json:"has_more"`
}

// handleLedger handles GET /api/ledger.
func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		sendJSONError(w, http.StatusServiceUnavailable, "ledger disabled")
		return
	}

	q := r.URL.Query()
	params := store.GetEventsParams{
		DeviceID:      q.Get("device"),
		RequesterID:   q.Get("requester"),
		ReservationID: q.Get("reservation"),
		Type:          events.Type(q.Get("type")),
		Cursor:        q.Get("cursor"),
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		params.Limit = limit
	}
	for name, dst := range map[string]**time.Time{"since": &params.Since, "until": &params.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			sendJSONError(w, http.StatusBadRequest, name+" must be an RFC3339 timestamp")
			return
		}
		*dst = &t
	}

	result, err := s.ledger.GetEvents(r.Context(), params)
	if err != nil {
		if errors.Is(err, store.ErrInvalidCursor) {
			sendJSONError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		s.sendError(w, r, err)
		return
	}

	resp := LedgerResponse{
		Events:     make([]json.RawMessage, 0, len(result.Events)),
		NextCursor: result.NextCursor,
		HasMore:    result.HasMore,
	}
	for _, e := range result.Events {
		resp.Events = append(resp.Events, json.RawMessage(e.Payload))
	}
	writeJSON(w, http.StatusOK, resp)
}
