// ABOUTME: Conflict resolver deciding grant, deny or preempt for a request
// ABOUTME: Pure function over the overlapping reservations of one device

// Package resolver decides the outcome of a reservation request.
//
// Resolve never mutates its inputs and has no side effects; the engine applies
// the resulting Decision.
package resolver

import (
	"sort"

	"github.com/2389/coven-actuator/internal/reservation"
)

// Resolve decides what happens to req given the reservations already on its
// device. overlapping may contain records in any state and records that do not
// intersect the requested window; both are ignored.
//
// Rules:
//   - no live overlapping holder: Grant
//   - any holder with priority >= req.Priority: Deny(SCHEDULE_CONFLICT); equal
//     priority always favors the incumbent and a window that cannot be fully
//     cleared is rejected outright
//   - otherwise: PreemptAndGrant naming every holder
//
// Victims and conflicts are ordered by start time, then requester ID, then
// insertion order.
func Resolve(req reservation.Request, overlapping []*reservation.Reservation) reservation.Decision {
	holders := make([]*reservation.Reservation, 0, len(overlapping))
	for _, r := range overlapping {
		if r.DeviceID != req.DeviceID || !r.State.IsLive() || !r.Overlaps(req.Start, req.End) {
			continue
		}
		holders = append(holders, r)
	}
	if len(holders) == 0 {
		return reservation.Grant()
	}

	sort.SliceStable(holders, func(i, j int) bool {
		return reservation.Less(holders[i], holders[j])
	})

	var victims, conflicts []string
	for _, h := range holders {
		if h.Priority >= req.Priority {
			conflicts = append(conflicts, h.ID)
		} else {
			victims = append(victims, h.ID)
		}
	}

	if len(conflicts) > 0 {
		return reservation.Deny(reservation.DenyScheduleConflict, conflicts...)
	}
	return reservation.PreemptAndGrant(victims...)
}
