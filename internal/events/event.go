// ABOUTME: Status-change events emitted by the reservation engine
// ABOUTME: Defines Event, event types and the fire-and-forget Publisher interface

package events

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of event.
type Type string

const (
	TypeGranted            Type = "reservation_granted"
	TypeDenied             Type = "reservation_denied"
	TypeActivated          Type = "reservation_activated"
	TypePreemptionStarted  Type = "preemption_started"
	TypePreemptionAborted  Type = "preemption_aborted"
	TypeRevoked            Type = "reservation_revoked"
	TypeCancelled          Type = "reservation_cancelled"
	TypeCompleted          Type = "reservation_completed"
	TypeExpired            Type = "reservation_expired"
	TypeHeartbeatAtRisk    Type = "heartbeat_at_risk"
	TypeInvariantViolation Type = "invariant_violation"
	TypeScheduleSnapshot   Type = "schedule_snapshot"
)

// Event is a single status change. Fields that do not apply to a Type are
// left empty.
type Event struct {
	ID            string     `json:"id"`
	Type          Type       `json:"type"`
	Timestamp     time.Time  `json:"timestamp"`
	DeviceID      string     `json:"device_id"`
	ReservationID string     `json:"reservation_id,omitempty"`
	RequesterID   string     `json:"requester_id,omitempty"`
	TaskID        string     `json:"task_id,omitempty"`
	Priority      int        `json:"priority,omitempty"`
	Start         *time.Time `json:"start,omitempty"`
	End           *time.Time `json:"end,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Deadline      *time.Time `json:"deadline,omitempty"`

	// Related lists other reservations involved: victims of a preemption,
	// conflicts of a denial, or the preemptor of a revocation.
	Related []string `json:"related,omitempty"`

	// Schedule carries the device schedule for snapshot events.
	Schedule []Slot `json:"schedule,omitempty"`
}

// Slot is one entry of a published schedule snapshot.
type Slot struct {
	ReservationID string    `json:"reservation_id"`
	RequesterID   string    `json:"requester_id"`
	TaskID        string    `json:"task_id"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Priority      int       `json:"priority"`
	State         string    `json:"state"`
}

// New creates an event with a fresh ID and timestamp.
func New(typ Type, deviceID string, ts time.Time) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Timestamp: ts,
		DeviceID:  deviceID,
	}
}

// Publisher receives events. Publish must not block for long and must not
// report delivery failures: the engine never depends on delivery.
type Publisher interface {
	Publish(e Event)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(e Event)

// Publish calls f(e).
func (f PublisherFunc) Publish(e Event) { f(e) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(Event) {})

// Multi fans each event out to every publisher in order.
func Multi(pubs ...Publisher) Publisher {
	return PublisherFunc(func(e Event) {
		for _, p := range pubs {
			if p != nil {
				p.Publish(e)
			}
		}
	})
}
