// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu     sync.RWMutex
	seq    int64
	events []*LedgerEvent
	byID   map[string]*LedgerEvent
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{byID: make(map[string]*LedgerEvent)}
}

// SaveEvent stores a copy of the event.
func (m *MockStore) SaveEvent(ctx context.Context, event *LedgerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[event.ID]; ok {
		return ErrDuplicateEvent
	}
	m.seq++
	event.Seq = m.seq
	e := *event
	m.events = append(m.events, &e)
	m.byID[e.ID] = &e
	return nil
}

// GetEvent retrieves an event by ID.
func (m *MockStore) GetEvent(ctx context.Context, id string) (*LedgerEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *e
	return &out, nil
}

// GetEvents filters and paginates like SQLiteStore.
func (m *MockStore) GetEvents(ctx context.Context, p GetEventsParams) (*GetEventsResult, error) {
	p.Limit = clampLimit(p.Limit)

	var afterSeq int64
	if p.Cursor != "" {
		var err error
		if afterSeq, _, err = decodeCursor(p.Cursor); err != nil {
			return nil, err
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []LedgerEvent
	for _, e := range m.events {
		if e.Seq <= afterSeq || !matches(e, p) {
			continue
		}
		out = append(out, *e)
	}

	result := &GetEventsResult{Events: out}
	if len(out) > p.Limit {
		result.Events = out[:p.Limit]
		result.HasMore = true
		last := result.Events[p.Limit-1]
		result.NextCursor = encodeCursor(last.Seq, last.ID)
	}
	return result, nil
}

// CountEvents returns the number of stored events.
func (m *MockStore) CountEvents(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.events)), nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

func matches(e *LedgerEvent, p GetEventsParams) bool {
	if p.DeviceID != "" && e.DeviceID != p.DeviceID {
		return false
	}
	if p.ReservationID != "" && (e.ReservationID == nil || *e.ReservationID != p.ReservationID) {
		return false
	}
	if p.RequesterID != "" && (e.RequesterID == nil || *e.RequesterID != p.RequesterID) {
		return false
	}
	if p.Type != "" && e.Type != p.Type {
		return false
	}
	if p.Since != nil && e.Timestamp.Before(*p.Since) {
		return false
	}
	if p.Until != nil && e.Timestamp.After(*p.Until) {
		return false
	}
	return true
}
