// ABOUTME: In-memory schedule store holding every reservation, keyed by device
// ABOUTME: Enforces the no-overlap invariant on insert and on activation

package schedule

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/2389/coven-actuator/internal/reservation"
)

// Store owns all reservation records. Callers receive copies; the only way to
// change a record is through the Store's methods.
type Store struct {
	mu       sync.RWMutex
	byID     map[string]*reservation.Reservation
	byDevice map[string][]*reservation.Reservation // insertion order
	byTask   map[string]string                     // task_id -> reservation id (live records)
	seq      uint64
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		byID:     make(map[string]*reservation.Reservation),
		byDevice: make(map[string][]*reservation.Reservation),
		byTask:   make(map[string]string),
	}
}

// Add inserts a reservation. The committed schedule never holds an overlapping
// pair where the newcomer does not strictly outrank the incumbent, so Add
// fails with an OverlapError when a live overlapping reservation has equal or
// higher priority. Conflicts must be resolved before committing.
func (s *Store) Add(r *reservation.Reservation) error {
	if r == nil || r.ID == "" {
		return &reservation.ValidationError{Field: "id", Message: "is required"}
	}
	if !r.End.After(r.Start) {
		return &reservation.ValidationError{Field: "interval", Message: "end_time must be after start_time"}
	}
	if !r.State.IsLive() {
		return &reservation.ValidationError{Field: "state", Message: fmt.Sprintf("cannot insert reservation in state %s", r.State)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[r.ID]; exists {
		return &reservation.ValidationError{Field: "id", Message: fmt.Sprintf("duplicate reservation id %s", r.ID)}
	}
	if existing, ok := s.byTask[r.TaskID]; ok {
		return &reservation.ValidationError{Field: "task_id", Message: fmt.Sprintf("task %s already held by %s", r.TaskID, existing)}
	}

	for _, other := range s.byDevice[r.DeviceID] {
		if !other.State.IsLive() || !other.Overlaps(r.Start, r.End) {
			continue
		}
		if other.Priority >= r.Priority {
			return &reservation.OverlapError{DeviceID: r.DeviceID, Reservation: r.ID, Conflicting: other.ID}
		}
	}
	if r.State == reservation.StateActive {
		if err := s.checkActivationLocked(r); err != nil {
			return err
		}
	}

	s.seq++
	rec := r.Clone()
	rec.Seq = s.seq
	r.Seq = s.seq

	s.byID[rec.ID] = rec
	s.byDevice[rec.DeviceID] = append(s.byDevice[rec.DeviceID], rec)
	s.byTask[rec.TaskID] = rec.ID
	return nil
}

// Remove deletes a reservation. Removing an unknown ID is a no-op.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	if s.byTask[rec.TaskID] == id {
		delete(s.byTask, rec.TaskID)
	}

	list := s.byDevice[rec.DeviceID]
	for i, r := range list {
		if r.ID == id {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.byDevice, rec.DeviceID)
	} else {
		s.byDevice[rec.DeviceID] = list
	}
}

// SetState moves a reservation to a new state. Activation fails with an
// OverlapError if another reservation already controls an overlapping window.
func (s *Store) SetState(id string, state reservation.State, at time.Time) (*reservation.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, reservation.ErrNotFound
	}
	if state == reservation.StateActive {
		if err := s.checkActivationLocked(rec); err != nil {
			return nil, err
		}
		if rec.ActivatedAt == nil {
			t := at
			rec.ActivatedAt = &t
		}
	}
	rec.State = state
	return rec.Clone(), nil
}

// checkActivationLocked verifies no other record holds an overlapping window.
// Must be called with mu held.
func (s *Store) checkActivationLocked(r *reservation.Reservation) error {
	for _, other := range s.byDevice[r.DeviceID] {
		if other.ID == r.ID || !other.State.HoldsDevice() {
			continue
		}
		if other.Overlaps(r.Start, r.End) {
			return &reservation.OverlapError{DeviceID: r.DeviceID, Reservation: r.ID, Conflicting: other.ID}
		}
	}
	return nil
}

// Get returns a copy of the reservation with the given ID.
func (s *Store) Get(id string) (*reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, reservation.ErrNotFound
	}
	return rec.Clone(), nil
}

// FindTask returns the reservation holding the given task ID.
func (s *Store) FindTask(taskID string) (*reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byTask[taskID]
	if !ok {
		return nil, reservation.ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

// QueryOverlapping returns all reservations on a device intersecting
// [start, end), in any state, ordered by start time then insertion order.
func (s *Store) QueryOverlapping(deviceID string, start, end time.Time) []*reservation.Reservation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*reservation.Reservation
	for _, r := range s.byDevice[deviceID] {
		if r.Overlaps(start, end) {
			out = append(out, r.Clone())
		}
	}
	sortByStart(out)
	return out
}

// ListByDevice returns every reservation on a device ordered by start time.
func (s *Store) ListByDevice(deviceID string) []*reservation.Reservation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*reservation.Reservation, 0, len(s.byDevice[deviceID]))
	for _, r := range s.byDevice[deviceID] {
		out = append(out, r.Clone())
	}
	sortByStart(out)
	return out
}

// ListByRequester returns every reservation held by a requester ordered by start time.
func (s *Store) ListByRequester(requesterID string) []*reservation.Reservation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*reservation.Reservation
	for _, r := range s.byID {
		if r.RequesterID == requesterID {
			out = append(out, r.Clone())
		}
	}
	sortByStart(out)
	return out
}

// Devices returns the IDs of devices with at least one reservation, sorted.
func (s *Store) Devices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.byDevice))
	for id := range s.byDevice {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of stored reservations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func sortByStart(rs []*reservation.Reservation) {
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].Start.Equal(rs[j].Start) {
			return rs[i].Start.Before(rs[j].Start)
		}
		return rs[i].Seq < rs[j].Seq
	})
}
