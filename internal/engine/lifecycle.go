// ABOUTME: Time-driven engine transitions: grace expiry, heartbeat loss, window end
// ABOUTME: Also holds the preemption, revocation and promotion helpers shared by operations

package engine

import (
	"context"
	"time"

	"github.com/2389/coven-actuator/internal/events"
	"github.com/2389/coven-actuator/internal/heartbeat"
	"github.com/2389/coven-actuator/internal/reservation"
)

// Tick advances every time-driven transition up to now. For each device it
// revokes victims whose grace expired, handles heartbeat loss, completes or
// expires reservations whose window ended and finally activates PENDING
// reservations whose start arrived and whose device became free.
func (e *Engine) Tick(ctx context.Context, now time.Time) error {
	transitions := make(map[string][]heartbeat.Transition)
	for _, tr := range e.heartbeats.Tick(now) {
		r, err := e.store.Get(tr.ReservationID)
		if err != nil {
			continue
		}
		transitions[r.DeviceID] = append(transitions[r.DeviceID], tr)
	}

	for _, deviceID := range e.store.Devices() {
		if err := ctx.Err(); err != nil {
			return err
		}
		unlock := e.locks.lock(deviceID)
		e.tickDeviceLocked(deviceID, now, transitions[deviceID])
		unlock()
	}
	return nil
}

func (e *Engine) tickDeviceLocked(deviceID string, now time.Time, transitions []heartbeat.Transition) {
	for _, g := range e.preemption.ExpiredOn(deviceID, now) {
		victim, err := e.store.Get(g.VictimID)
		if err != nil || victim.State != reservation.StatePreempting {
			continue
		}
		e.logger.Info("grace period expired", "reservation_id", victim.ID, "device_id", deviceID, "deadline", g.Deadline)
		e.revokeLocked(victim, reservation.ReasonPreempted, now, g.Preemptors...)
	}

	for _, tr := range transitions {
		e.applyLivenessLocked(tr, now)
	}

	for _, r := range e.store.ListByDevice(deviceID) {
		if r.End.After(now) {
			continue
		}
		switch r.State {
		case reservation.StateActive, reservation.StatePreempting:
			e.heartbeats.Untrack(r.ID)
			e.preemption.Release(r.ID)
			e.finishLocked(r, reservation.StateCompleted, now)
			e.emit(events.TypeCompleted, r, now, nil)
			e.logger.Info("reservation completed", "reservation_id", r.ID, "device_id", deviceID)
		case reservation.StatePending:
			e.finishLocked(r, reservation.StateExpired, now)
			e.emit(events.TypeExpired, r, now, nil)
			e.logger.Info("reservation expired before activation", "reservation_id", r.ID, "device_id", deviceID)
			e.withdrawLocked(r.ID, now)
		}
	}

	e.promoteLocked(deviceID, now)
}

func (e *Engine) applyLivenessLocked(tr heartbeat.Transition, now time.Time) {
	r, err := e.store.Get(tr.ReservationID)
	if err != nil || r.State != reservation.StateActive {
		return
	}
	// a heartbeat may have landed between the monitor tick and the device lock
	st, ok := e.heartbeats.Status(r.ID)
	if !ok || st.Liveness != tr.To {
		return
	}

	switch tr.To {
	case heartbeat.AtRisk:
		e.logger.Warn("heartbeat missed", "reservation_id", r.ID, "device_id", r.DeviceID, "missed", tr.Missed)
		e.emit(events.TypeHeartbeatAtRisk, r, now, func(ev *events.Event) {
			ev.Reason = heartbeat.AtRisk.String()
		})
	case heartbeat.Silent:
		e.logger.Warn("heartbeat lost", "reservation_id", r.ID, "device_id", r.DeviceID, "missed", tr.Missed, "last_seen", tr.LastSeen)
		e.revokeLocked(r, reservation.ReasonHeartbeatTimeout, now)
	}
}

// preemptLocked applies one victim of a PREEMPT_AND_GRANT decision.
func (e *Engine) preemptLocked(victimID string, preemptor *reservation.Reservation, now time.Time) {
	victim, err := e.store.Get(victimID)
	if err != nil {
		return
	}

	switch victim.State {
	case reservation.StateActive:
		if _, err := e.store.SetState(victim.ID, reservation.StatePreempting, now); err != nil {
			e.reportInvariant(victim.DeviceID, err, now)
			return
		}
		e.heartbeats.Untrack(victim.ID)
		g, _ := e.preemption.Begin(victim.ID, victim.DeviceID, preemptor.ID, now)
		e.emit(events.TypePreemptionStarted, victim, now, func(ev *events.Event) {
			ev.Deadline = timePtr(g.Deadline)
			ev.Related = []string{preemptor.ID}
		})
		e.logger.Info("preemption started",
			"reservation_id", victim.ID,
			"device_id", victim.DeviceID,
			"preemptor_id", preemptor.ID,
			"deadline", g.Deadline,
		)
	case reservation.StatePreempting:
		g, _ := e.preemption.Begin(victim.ID, victim.DeviceID, preemptor.ID, now)
		e.logger.Info("preemptor queued behind running grace period",
			"reservation_id", victim.ID,
			"preemptor_id", preemptor.ID,
			"deadline", g.Deadline,
		)
	case reservation.StatePending:
		e.revokeLocked(victim, reservation.ReasonPreempted, now, preemptor.ID)
	}
}

// revokeLocked ends r as REVOKED and releases everything it holds or waits on.
func (e *Engine) revokeLocked(r *reservation.Reservation, reason reservation.RevokeReason, now time.Time, related ...string) {
	e.heartbeats.Untrack(r.ID)
	e.preemption.Release(r.ID)
	e.finishLocked(r, reservation.StateRevoked, now)
	e.emit(events.TypeRevoked, r, now, func(ev *events.Event) {
		ev.Reason = string(reason)
		ev.Related = related
	})
	e.logger.Info("reservation revoked", "reservation_id", r.ID, "device_id", r.DeviceID, "reason", reason)
	e.withdrawLocked(r.ID, now)
}

// finishLocked records a terminal state and drops the reservation from the schedule.
func (e *Engine) finishLocked(r *reservation.Reservation, state reservation.State, now time.Time) {
	if _, err := e.store.SetState(r.ID, state, now); err != nil {
		e.logger.Debug("finishing reservation", "reservation_id", r.ID, "error", err)
	}
	e.store.Remove(r.ID)
	r.State = state
}

// withdrawLocked removes a preemptor that will never run and restores every
// victim it alone was waiting on.
func (e *Engine) withdrawLocked(preemptorID string, now time.Time) {
	for _, g := range e.preemption.Withdraw(preemptorID) {
		victim, err := e.store.SetState(g.VictimID, reservation.StateActive, now)
		if err != nil {
			if reservation.IsOverlap(err) {
				e.reportInvariant(g.DeviceID, err, now)
			}
			continue
		}
		e.heartbeats.Track(victim.ID, now)
		e.emit(events.TypePreemptionAborted, victim, now, func(ev *events.Event) {
			ev.Related = []string{preemptorID}
		})
		e.logger.Info("preemption aborted", "reservation_id", victim.ID, "device_id", victim.DeviceID)
	}
}

// promoteLocked activates PENDING reservations whose start has arrived, that
// are not waiting on a grace period and whose window is free.
func (e *Engine) promoteLocked(deviceID string, now time.Time) {
	for _, r := range e.store.ListByDevice(deviceID) {
		if r.State != reservation.StatePending || r.Start.After(now) {
			continue
		}
		if len(e.preemption.Blocking(r.ID)) > 0 || e.heldLocked(r) {
			continue
		}
		activated, err := e.store.SetState(r.ID, reservation.StateActive, now)
		if err != nil {
			e.reportInvariant(deviceID, err, now)
			continue
		}
		e.heartbeats.Track(activated.ID, now)
		e.emit(events.TypeActivated, activated, now, nil)
		e.logger.Info("reservation activated", "reservation_id", activated.ID, "device_id", deviceID)
	}
}

// heldLocked reports whether another reservation controls part of r's window.
func (e *Engine) heldLocked(r *reservation.Reservation) bool {
	for _, other := range e.store.QueryOverlapping(r.DeviceID, r.Start, r.End) {
		if other.ID != r.ID && other.State.HoldsDevice() {
			return true
		}
	}
	return false
}
