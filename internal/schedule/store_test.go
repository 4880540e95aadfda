// ABOUTME: Tests for the in-memory schedule store
// ABOUTME: Covers insert invariants, overlap queries, ordering and idempotent removal

package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-actuator/internal/reservation"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func newRes(id, device, requester string, startMin, endMin, priority int, state reservation.State) *reservation.Reservation {
	return &reservation.Reservation{
		ID:          id,
		DeviceID:    device,
		RequesterID: requester,
		TaskID:      "task-" + id,
		Start:       t0.Add(time.Duration(startMin) * time.Minute),
		End:         t0.Add(time.Duration(endMin) * time.Minute),
		Priority:    priority,
		State:       state,
	}
}

func ids(rs []*reservation.Reservation) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func TestStore_AddAndGet(t *testing.T) {
	s := New()
	r := newRes("r1", "dev1", "a", 0, 60, 1, reservation.StatePending)

	require.NoError(t, s.Add(r))
	assert.NotZero(t, r.Seq)

	got, err := s.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, "dev1", got.DeviceID)

	// returned value is a copy
	got.State = reservation.StateCancelled
	again, _ := s.Get("r1")
	assert.Equal(t, reservation.StatePending, again.State)
}

func TestStore_Add_RejectsEqualPriorityOverlap(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(newRes("r1", "dev1", "a", 0, 60, 3, reservation.StateActive)))

	err := s.Add(newRes("r2", "dev1", "b", 30, 90, 3, reservation.StatePending))
	require.Error(t, err)
	var oe *reservation.OverlapError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "r1", oe.Conflicting)

	err = s.Add(newRes("r3", "dev1", "b", 30, 90, 2, reservation.StatePending))
	assert.True(t, reservation.IsOverlap(err))
	assert.Equal(t, 1, s.Len())
}

func TestStore_Add_AllowsHigherPriorityPending(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(newRes("r1", "dev1", "a", 0, 60, 1, reservation.StateActive)))
	require.NoError(t, s.Add(newRes("r2", "dev1", "b", 30, 90, 5, reservation.StatePending)))

	// activation is refused while the incumbent still holds the device
	_, err := s.SetState("r2", reservation.StateActive, t0)
	assert.True(t, reservation.IsOverlap(err))

	_, err = s.SetState("r1", reservation.StateRevoked, t0)
	require.NoError(t, err)
	got, err := s.SetState("r2", reservation.StateActive, t0.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, got.ActivatedAt)
	assert.Equal(t, t0.Add(time.Minute), *got.ActivatedAt)
}

func TestStore_Add_Validation(t *testing.T) {
	s := New()
	bad := newRes("r1", "dev1", "a", 10, 10, 1, reservation.StatePending)
	assert.True(t, reservation.IsValidation(s.Add(bad)))

	terminal := newRes("r2", "dev1", "a", 0, 10, 1, reservation.StateCompleted)
	assert.True(t, reservation.IsValidation(s.Add(terminal)))

	require.NoError(t, s.Add(newRes("r3", "dev1", "a", 0, 10, 1, reservation.StatePending)))
	assert.True(t, reservation.IsValidation(s.Add(newRes("r3", "dev2", "a", 0, 10, 1, reservation.StatePending))), "duplicate id")
}

func TestStore_Add_DifferentDevicesDoNotConflict(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(newRes("r1", "dev1", "a", 0, 60, 1, reservation.StateActive)))
	require.NoError(t, s.Add(newRes("r2", "dev2", "a", 0, 60, 1, reservation.StateActive)))
	assert.Equal(t, []string{"dev1", "dev2"}, s.Devices())
}

func TestStore_QueryOverlapping_Ordering(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(newRes("late", "dev1", "a", 40, 50, 1, reservation.StatePending)))
	require.NoError(t, s.Add(newRes("early", "dev1", "b", 0, 10, 1, reservation.StatePending)))
	require.NoError(t, s.Add(newRes("tie1", "dev1", "z", 20, 25, 1, reservation.StatePending)))
	require.NoError(t, s.Add(newRes("tie2", "dev1", "a", 25, 30, 1, reservation.StatePending)))
	require.NoError(t, s.Add(newRes("outside", "dev1", "a", 100, 110, 1, reservation.StatePending)))

	got := s.QueryOverlapping("dev1", t0, t0.Add(60*time.Minute))
	assert.Equal(t, []string{"early", "tie1", "tie2", "late"}, ids(got))

	// half-open interval: a window ending exactly at 10 does not include "early"
	got = s.QueryOverlapping("dev1", t0.Add(10*time.Minute), t0.Add(21*time.Minute))
	assert.Equal(t, []string{"tie1"}, ids(got))

	assert.Empty(t, s.QueryOverlapping("unknown", t0, t0.Add(time.Hour)))
}

func TestStore_Remove_Idempotent(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(newRes("r1", "dev1", "a", 0, 60, 1, reservation.StatePending)))

	s.Remove("r1")
	s.Remove("r1")
	s.Remove("never-existed")

	_, err := s.Get("r1")
	assert.ErrorIs(t, err, reservation.ErrNotFound)
	assert.Empty(t, s.Devices())

	// task id is free again
	require.NoError(t, s.Add(newRes("r1", "dev1", "a", 0, 60, 1, reservation.StatePending)))
}

func TestStore_FindTaskAndListByRequester(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(newRes("r1", "dev1", "a", 0, 10, 1, reservation.StatePending)))
	require.NoError(t, s.Add(newRes("r2", "dev2", "a", 5, 10, 1, reservation.StatePending)))
	require.NoError(t, s.Add(newRes("r3", "dev1", "b", 20, 30, 1, reservation.StatePending)))

	r, err := s.FindTask("task-r2")
	require.NoError(t, err)
	assert.Equal(t, "r2", r.ID)

	_, err = s.FindTask("task-missing")
	assert.ErrorIs(t, err, reservation.ErrNotFound)

	assert.Equal(t, []string{"r1", "r2"}, ids(s.ListByRequester("a")))
	assert.Equal(t, []string{"r1", "r3"}, ids(s.ListByDevice("dev1")))
}

func TestStore_SetState_Unknown(t *testing.T) {
	s := New()
	_, err := s.SetState("missing", reservation.StateActive, t0)
	assert.ErrorIs(t, err, reservation.ErrNotFound)
}
