// ABOUTME: Tests for the conflict resolver
// ABOUTME: Covers grant, deny, preempt, partial deny and deterministic ordering

package resolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-actuator/internal/reservation"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func at(min int) time.Time { return t0.Add(time.Duration(min) * time.Minute) }

func holder(id, requester string, start, end, priority int, state reservation.State, seq uint64) *reservation.Reservation {
	return &reservation.Reservation{
		ID:          id,
		DeviceID:    "dev1",
		RequesterID: requester,
		Start:       at(start),
		End:         at(end),
		Priority:    priority,
		State:       state,
		Seq:         seq,
	}
}

func request(start, end, priority int) reservation.Request {
	return reservation.Request{
		DeviceID:    "dev1",
		RequesterID: "new",
		TaskID:      "t",
		Start:       at(start),
		End:         at(end),
		Priority:    priority,
	}
}

func TestResolve_GrantWhenEmpty(t *testing.T) {
	d := Resolve(request(0, 10, 1), nil)
	assert.Equal(t, reservation.OutcomeGrant, d.Outcome)
	assert.True(t, d.Granted())
}

func TestResolve_IgnoresTerminalAndNonOverlapping(t *testing.T) {
	existing := []*reservation.Reservation{
		holder("done", "a", 0, 10, 9, reservation.StateCompleted, 1),
		holder("revoked", "a", 0, 10, 9, reservation.StateRevoked, 2),
		holder("after", "a", 10, 20, 9, reservation.StateActive, 3),
	}
	d := Resolve(request(0, 10, 1), existing)
	assert.Equal(t, reservation.OutcomeGrant, d.Outcome)
}

func TestResolve_DenyOnEqualPriority(t *testing.T) {
	existing := []*reservation.Reservation{holder("r1", "a", 0, 100, 3, reservation.StateActive, 1)}
	d := Resolve(request(10, 50, 3), existing)

	assert.Equal(t, reservation.OutcomeDeny, d.Outcome)
	assert.Equal(t, reservation.DenyScheduleConflict, d.Reason)
	assert.Equal(t, []string{"r1"}, d.Conflicts)
	assert.False(t, d.Granted())
}

func TestResolve_DenyOnLowerPriority(t *testing.T) {
	existing := []*reservation.Reservation{holder("r1", "a", 0, 100, 5, reservation.StatePending, 1)}
	d := Resolve(request(10, 50, 1), existing)
	assert.Equal(t, reservation.OutcomeDeny, d.Outcome)
}

func TestResolve_PreemptLowerPriority(t *testing.T) {
	existing := []*reservation.Reservation{holder("r1", "a", 0, 100, 1, reservation.StateActive, 1)}
	d := Resolve(request(10, 50, 5), existing)

	assert.Equal(t, reservation.OutcomePreemptAndGrant, d.Outcome)
	assert.Equal(t, []string{"r1"}, d.Victims)
	assert.True(t, d.Granted())
}

func TestResolve_PartialDeny(t *testing.T) {
	// one holder can be preempted, the other cannot: the window is not fully
	// clearable so the request is rejected and nothing is preempted
	existing := []*reservation.Reservation{
		holder("low", "a", 0, 20, 1, reservation.StateActive, 1),
		holder("high", "b", 20, 40, 7, reservation.StatePending, 2),
	}
	d := Resolve(request(10, 30, 5), existing)

	assert.Equal(t, reservation.OutcomeDeny, d.Outcome)
	assert.Equal(t, []string{"high"}, d.Conflicts)
	assert.Empty(t, d.Victims)
}

func TestResolve_PreemptingHoldersStillCount(t *testing.T) {
	existing := []*reservation.Reservation{holder("r1", "a", 0, 100, 4, reservation.StatePreempting, 1)}

	assert.Equal(t, reservation.OutcomeDeny, Resolve(request(10, 20, 4), existing).Outcome)
	d := Resolve(request(10, 20, 6), existing)
	assert.Equal(t, reservation.OutcomePreemptAndGrant, d.Outcome)
	assert.Equal(t, []string{"r1"}, d.Victims)
}

func TestResolve_VictimOrderingIsDeterministic(t *testing.T) {
	existing := []*reservation.Reservation{
		holder("v4", "b", 20, 30, 1, reservation.StatePending, 1),
		holder("v3", "zeta", 10, 20, 1, reservation.StatePending, 2),
		holder("v2", "alpha", 10, 15, 1, reservation.StatePending, 3),
		holder("v1", "alpha", 0, 10, 1, reservation.StateActive, 4),
	}
	d := Resolve(request(0, 60, 2), existing)

	assert.Equal(t, []string{"v1", "v2", "v3", "v4"}, d.Victims)
}

func TestResolve_DoesNotMutateInput(t *testing.T) {
	existing := []*reservation.Reservation{
		holder("b", "b", 10, 20, 1, reservation.StateActive, 1),
		holder("a", "a", 0, 10, 1, reservation.StateActive, 2),
	}
	_ = Resolve(request(0, 30, 9), existing)
	assert.Equal(t, "b", existing[0].ID)
	assert.Equal(t, reservation.StateActive, existing[0].State)
}

// A request with priority P is never denied because of reservations whose
// priority is strictly below P.
func TestResolve_PriorityMonotonicity(t *testing.T) {
	for p := 1; p <= 5; p++ {
		var existing []*reservation.Reservation
		for q := 0; q < p; q++ {
			existing = append(existing, holder(
				"h"+string(rune('a'+q)), "r", q*10, q*10+10, q, reservation.StateActive, uint64(q+1)))
		}
		d := Resolve(request(0, 100, p), existing)
		assert.Equal(t, reservation.OutcomePreemptAndGrant, d.Outcome, "priority %d", p)
		assert.Len(t, d.Victims, p)
	}
}
