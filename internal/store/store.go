// ABOUTME: Store interface and ledger models for persisted scheduler events
// ABOUTME: Implemented by SQLiteStore for production and MockStore for tests

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2389/coven-actuator/internal/events"
)

// ErrNotFound is returned when a requested ledger entry does not exist
var ErrNotFound = errors.New("not found")

// LedgerEvent is one persisted scheduler event. The full event is kept as
// JSON in Payload; the other fields are indexed copies used for filtering.
type LedgerEvent struct {
	Seq           int64 // assigned by the store, increasing in insertion order
	ID            string
	Type          events.Type
	DeviceID      string
	ReservationID *string
	RequesterID   *string
	TaskID        *string
	Reason        *string
	Timestamp     time.Time
	Payload       string
}

// NewLedgerEvent converts a published event to its persisted form.
func NewLedgerEvent(e events.Event) (*LedgerEvent, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding event payload: %w", err)
	}
	return &LedgerEvent{
		ID:            e.ID,
		Type:          e.Type,
		DeviceID:      e.DeviceID,
		ReservationID: optional(e.ReservationID),
		RequesterID:   optional(e.RequesterID),
		TaskID:        optional(e.TaskID),
		Reason:        optional(e.Reason),
		Timestamp:     e.Timestamp.UTC(),
		Payload:       string(payload),
	}, nil
}

// Event decodes the stored payload.
func (l *LedgerEvent) Event() (events.Event, error) {
	var e events.Event
	if err := json.Unmarshal([]byte(l.Payload), &e); err != nil {
		return events.Event{}, fmt.Errorf("decoding event payload: %w", err)
	}
	return e, nil
}

// GetEventsParams specifies the filters for retrieving events from the ledger.
// Empty fields do not filter.
type GetEventsParams struct {
	DeviceID      string
	ReservationID string
	RequesterID   string
	Type          events.Type
	Since         *time.Time // Optional: only events at or after this timestamp
	Until         *time.Time // Optional: only events at or before this timestamp
	Limit         int        // 1-500, defaults to 50
	Cursor        string     // Opaque cursor from a previous response for pagination
}

// GetEventsResult contains the results of a GetEvents query.
type GetEventsResult struct {
	Events     []LedgerEvent
	NextCursor string // empty if there are no more events
	HasMore    bool
}

// Store persists the scheduler event ledger.
type Store interface {
	SaveEvent(ctx context.Context, event *LedgerEvent) error
	GetEvent(ctx context.Context, id string) (*LedgerEvent, error)
	GetEvents(ctx context.Context, p GetEventsParams) (*GetEventsResult, error)
	CountEvents(ctx context.Context) (int64, error)
	Close() error
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
