// ABOUTME: Reservation data model shared by the scheduler components
// ABOUTME: Defines Reservation, Request, lifecycle states and interval helpers

package reservation

import (
	"strings"
	"time"
)

// State is the lifecycle state of a reservation.
type State string

const (
	StatePending    State = "PENDING"
	StateActive     State = "ACTIVE"
	StatePreempting State = "PREEMPTING"
	StateCompleted  State = "COMPLETED"
	StateRevoked    State = "REVOKED"
	StateCancelled  State = "CANCELLED"
	StateExpired    State = "EXPIRED"
)

// IsLive reports whether the reservation still has a claim on its window.
// Reservations in any other state are terminal and leave the schedule.
func (s State) IsLive() bool {
	switch s {
	case StatePending, StateActive, StatePreempting:
		return true
	default:
		return false
	}
}

// HoldsDevice reports whether the reservation currently has control of the device.
func (s State) HoldsDevice() bool {
	return s == StateActive || s == StatePreempting
}

// RevokeReason explains an involuntary end of a reservation.
type RevokeReason string

const (
	ReasonPreempted        RevokeReason = "PREEMPTED"
	ReasonHeartbeatTimeout RevokeReason = "HEARTBEAT_TIMEOUT"
)

// Request is a client's ask for exclusive control of a device over [Start, End).
type Request struct {
	DeviceID    string
	RequesterID string
	TaskID      string
	Start       time.Time
	End         time.Time
	Priority    int
}

// Validate checks the request for structural problems.
func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.DeviceID) == "":
		return &ValidationError{Field: "device_id", Message: "is required"}
	case strings.TrimSpace(r.RequesterID) == "":
		return &ValidationError{Field: "requester_id", Message: "is required"}
	case strings.TrimSpace(r.TaskID) == "":
		return &ValidationError{Field: "task_id", Message: "is required"}
	case r.Start.IsZero() || r.End.IsZero():
		return &ValidationError{Field: "interval", Message: "start and end are required"}
	case !r.End.After(r.Start):
		return &ValidationError{Field: "interval", Message: "end_time must be after start_time"}
	}
	return nil
}

// Reservation is one client's exclusive claim on a device for an interval.
type Reservation struct {
	ID          string
	DeviceID    string
	RequesterID string
	TaskID      string
	Start       time.Time
	End         time.Time
	Priority    int
	State       State
	CreatedAt   time.Time
	ActivatedAt *time.Time

	// Seq is the store insertion order, used to break ordering ties.
	Seq uint64
}

// Overlaps reports whether the reservation intersects [start, end).
func (r *Reservation) Overlaps(start, end time.Time) bool {
	return r.Start.Before(end) && start.Before(r.End)
}

// Clone returns a copy that shares no mutable memory with r.
func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	c := *r
	if r.ActivatedAt != nil {
		t := *r.ActivatedAt
		c.ActivatedAt = &t
	}
	return &c
}

// Less orders reservations by start time, then requester ID, then insertion order.
// This is the deterministic ordering used for audit output.
func Less(a, b *Reservation) bool {
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	if a.RequesterID != b.RequesterID {
		return a.RequesterID < b.RequesterID
	}
	return a.Seq < b.Seq
}
