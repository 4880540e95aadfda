// ABOUTME: Schedule snapshot publication for subscribers of device schedules
// ABOUTME: Emits one schedule_snapshot event per device with its live reservations

package engine

import (
	"time"

	"github.com/2389/coven-actuator/internal/events"
	"github.com/2389/coven-actuator/internal/reservation"
)

// Snapshot returns the live schedule of every device, keyed by device ID.
func (e *Engine) Snapshot() map[string][]*reservation.Reservation {
	out := make(map[string][]*reservation.Reservation)
	for _, deviceID := range e.store.Devices() {
		if rs := e.store.ListByDevice(deviceID); len(rs) > 0 {
			out[deviceID] = rs
		}
	}
	return out
}

// PublishSchedules emits a schedule snapshot event for each device that has
// reservations and returns how many were published.
func (e *Engine) PublishSchedules(now time.Time) int {
	n := 0
	for deviceID, rs := range e.Snapshot() {
		ev := events.New(events.TypeScheduleSnapshot, deviceID, now)
		ev.Schedule = Slots(rs)
		e.publisher.Publish(ev)
		n++
	}
	return n
}

// Slots converts reservations to their published form.
func Slots(rs []*reservation.Reservation) []events.Slot {
	slots := make([]events.Slot, 0, len(rs))
	for _, r := range rs {
		slots = append(slots, events.Slot{
			ReservationID: r.ID,
			RequesterID:   r.RequesterID,
			TaskID:        r.TaskID,
			Start:         r.Start,
			End:           r.End,
			Priority:      r.Priority,
			State:         string(r.State),
		})
	}
	return slots
}
