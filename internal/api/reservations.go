// ABOUTME: Reservation, heartbeat and schedule handlers
// ABOUTME: Translates JSON requests into engine calls and decisions into JSON responses

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/2389/coven-actuator/internal/auth"
	"github.com/2389/coven-actuator/internal/reservation"
)

// IdempotencyHeader lets clients retry a reservation request safely.
const IdempotencyHeader = "Idempotency-Key"

// ReservationRequest is the JSON request body for POST /api/reservations.
type ReservationRequest struct {
	DeviceID string    `json:"device_id"`
	TaskID   string    `json:"task_id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Priority int       `json:"priority"`
}

// ReservationResponse describes one reservation.
type ReservationResponse struct {
	ID            string     `json:"id"`
	DeviceID      string     `json:"device_id"`
	RequesterID   string     `json:"requester_id"`
	TaskID        string     `json:"task_id"`
	Start         time.Time  `json:"start"`
	End           time.Time  `json:"end"`
	Priority      int        `json:"priority"`
	State         string     `json:"state"`
	CreatedAt     time.Time  `json:"created_at"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty"`
	GraceDeadline *time.Time `json:"grace_deadline,omitempty"`
	Liveness      string     `json:"liveness,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}

// DecisionResponse is the JSON response for POST /api/reservations.
type DecisionResponse struct {
	Outcome     string               `json:"outcome"`
	Reason      string               `json:"reason,omitempty"`
	Victims     []string             `json:"victims,omitempty"`
	Conflicts   []string             `json:"conflicts,omitempty"`
	Reservation *ReservationResponse `json:"reservation,omitempty"`
}

// HeartbeatRequest is the JSON request body for POST /api/heartbeats.
type HeartbeatRequest struct {
	TaskID string `json:"task_id"`
}

// ReservationListResponse wraps a list of reservations.
type ReservationListResponse struct {
	Reservations []ReservationResponse `json:"reservations"`
}

// handleCreateReservation handles POST /api/reservations.
// Granted requests answer 201, denials 200 with the reason.
func (s *Server) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	var body ReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	idemKey := ""
	if key := r.Header.Get(IdempotencyHeader); key != "" && s.idempotency != nil {
		idemKey = id.RequesterID + ":" + key
		if s.idempotency.CheckAndMark(idemKey) {
			prior, _ := s.idempotency.Get(idemKey)
			if prior == "" {
				sendJSONError(w, http.StatusConflict, "request with this key is in progress")
				return
			}
			writeJSON(w, http.StatusConflict, map[string]string{
				"error":          "duplicate request",
				"reservation_id": prior,
			})
			return
		}
	}

	decision, err := s.scheduler.RequestReservation(r.Context(), reservation.Request{
		DeviceID:    body.DeviceID,
		RequesterID: id.RequesterID,
		TaskID:      body.TaskID,
		Start:       body.Start,
		End:         body.End,
		Priority:    body.Priority,
	})
	if err != nil {
		if idemKey != "" {
			s.idempotency.Forget(idemKey)
		}
		s.sendError(w, r, err)
		return
	}

	resp := DecisionResponse{
		Outcome:   string(decision.Outcome),
		Reason:    string(decision.Reason),
		Victims:   decision.Victims,
		Conflicts: decision.Conflicts,
	}
	status := http.StatusOK
	if decision.Granted() && decision.Reservation != nil {
		status = http.StatusCreated
		rr := s.toResponse(decision.Reservation)
		resp.Reservation = &rr
		if idemKey != "" {
			s.idempotency.Set(idemKey, decision.Reservation.ID)
		}
	} else if idemKey != "" {
		// only granted requests hold their key
		s.idempotency.Forget(idemKey)
	}
	writeJSON(w, status, resp)
}

// handleGetReservation handles GET /api/reservations/{id}.
func (s *Server) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := s.scheduler.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(res))
}

// handleCancelReservation handles DELETE /api/reservations/{id}. Cancelling a
// reservation under preemption releases the device early.
func (s *Server) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	if err := s.scheduler.CancelReservation(r.Context(), id.RequesterID, chi.URLParam(r, "id")); err != nil {
		s.sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHeartbeat handles POST /api/heartbeats.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	var body HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.TaskID == "" {
		sendJSONError(w, http.StatusBadRequest, "task_id is required")
		return
	}

	if err := s.scheduler.Heartbeat(r.Context(), id.RequesterID, body.TaskID); err != nil {
		s.sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMyReservations handles GET /api/reservations for the caller.
func (s *Server) handleMyReservations(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())
	s.writeList(w, s.scheduler.ListByRequester(id.RequesterID))
}

// handleDeviceSchedule handles GET /api/devices/{device}/schedule.
func (s *Server) handleDeviceSchedule(w http.ResponseWriter, r *http.Request) {
	s.writeList(w, s.scheduler.ListByDevice(chi.URLParam(r, "device")))
}

// handleRequesterReservations handles GET /api/requesters/{requester}/reservations.
func (s *Server) handleRequesterReservations(w http.ResponseWriter, r *http.Request) {
	s.writeList(w, s.scheduler.ListByRequester(chi.URLParam(r, "requester")))
}

func (s *Server) writeList(w http.ResponseWriter, rs []*reservation.Reservation) {
	out := ReservationListResponse{Reservations: make([]ReservationResponse, 0, len(rs))}
	for _, res := range rs {
		out.Reservations = append(out.Reservations, s.toResponse(res))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) toResponse(r *reservation.Reservation) ReservationResponse {
	resp := ReservationResponse{
		ID:          r.ID,
		DeviceID:    r.DeviceID,
		RequesterID: r.RequesterID,
		TaskID:      r.TaskID,
		Start:       r.Start,
		End:         r.End,
		Priority:    r.Priority,
		State:       string(r.State),
		CreatedAt:   r.CreatedAt,
		ActivatedAt: r.ActivatedAt,
	}
	if deadline, ok := s.scheduler.GraceDeadline(r.ID); ok {
		resp.GraceDeadline = &deadline
	}
	if st, ok := s.scheduler.HeartbeatStatus(r.ID); ok {
		resp.Liveness = st.Liveness.String()
		last := st.LastSeen
		resp.LastHeartbeat = &last
	}
	return resp
}
