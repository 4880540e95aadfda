// ABOUTME: Ledger event persistence and cursor-paginated queries
// ABOUTME: Events are ordered by insertion sequence for deterministic pagination

package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/2389/coven-actuator/internal/events"
)

// ErrDuplicateEvent is returned when an event ID was already persisted
var ErrDuplicateEvent = errors.New("event already recorded")

// ErrInvalidCursor is returned when a pagination cursor cannot be decoded
var ErrInvalidCursor = errors.New("invalid cursor")

const ledgerColumns = `seq, event_id, type, device_id, reservation_id, requester_id, task_id, reason, ts_unix_nano, payload`

// SaveEvent persists a ledger event and sets its Seq.
func (s *SQLiteStore) SaveEvent(ctx context.Context, event *LedgerEvent) error {
	query := `
		INSERT INTO ledger_events (
			event_id, type, device_id, reservation_id, requester_id, task_id, reason, ts_unix_nano, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		event.ID,
		string(event.Type),
		event.DeviceID,
		event.ReservationID,
		event.RequesterID,
		event.TaskID,
		event.Reason,
		event.Timestamp.UnixNano(),
		event.Payload,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("inserting event: %w", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		event.Seq = seq
	}

	s.logger.Debug("saved ledger event",
		"event_id", event.ID,
		"type", event.Type,
		"device_id", event.DeviceID,
	)
	return nil
}

// GetEvent retrieves a single event by ID
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*LedgerEvent, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_events WHERE event_id = ?`

	event, err := scanEvent(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return event, nil
}

// CountEvents returns the number of persisted events.
func (s *SQLiteStore) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

// GetEvents retrieves events matching the filters with pagination support.
// Events are returned in the order they were recorded.
func (s *SQLiteStore) GetEvents(ctx context.Context, p GetEventsParams) (*GetEventsResult, error) {
	p.Limit = clampLimit(p.Limit)

	var afterSeq int64
	if p.Cursor != "" {
		var err error
		afterSeq, _, err = decodeCursor(p.Cursor)
		if err != nil {
			return nil, err
		}
	}

	// Build the query dynamically based on which parameters are set
	var where []string
	var args []any
	if p.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, p.DeviceID)
	}
	if p.ReservationID != "" {
		where = append(where, "reservation_id = ?")
		args = append(args, p.ReservationID)
	}
	if p.RequesterID != "" {
		where = append(where, "requester_id = ?")
		args = append(args, p.RequesterID)
	}
	if p.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(p.Type))
	}
	if p.Since != nil {
		where = append(where, "ts_unix_nano >= ?")
		args = append(args, p.Since.UnixNano())
	}
	if p.Until != nil {
		where = append(where, "ts_unix_nano <= ?")
		args = append(args, p.Until.UnixNano())
	}
	if p.Cursor != "" {
		where = append(where, "seq > ?")
		args = append(args, afterSeq)
	}

	query := `SELECT ` + ledgerColumns + ` FROM ledger_events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	// Fetch limit+1 to detect if there are more results
	query += ` ORDER BY seq ASC LIMIT ?`
	args = append(args, p.Limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []LedgerEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		out = append(out, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}

	hasMore := len(out) > p.Limit
	if hasMore {
		out = out[:p.Limit]
	}

	result := &GetEventsResult{
		Events:  out,
		HasMore: hasMore,
	}
	if hasMore && len(out) > 0 {
		last := out[len(out)-1]
		result.NextCursor = encodeCursor(last.Seq, last.ID)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*LedgerEvent, error) {
	event := &LedgerEvent{}
	var eventType string
	var ts int64

	if err := row.Scan(
		&event.Seq,
		&event.ID,
		&eventType,
		&event.DeviceID,
		&event.ReservationID,
		&event.RequesterID,
		&event.TaskID,
		&event.Reason,
		&ts,
		&event.Payload,
	); err != nil {
		return nil, err
	}
	event.Type = events.Type(eventType)
	event.Timestamp = time.Unix(0, ts).UTC()
	return event, nil
}

// encodeCursor creates an opaque cursor string from a sequence number and event ID.
// Format is base64(seq|event_id)
func encodeCursor(seq int64, id string) string {
	data := fmt.Sprintf("%d|%s", seq, id)
	return base64.StdEncoding.EncodeToString([]byte(data))
}

// decodeCursor parses an opaque cursor string into a sequence number and event ID.
func decodeCursor(cursor string) (int64, string, error) {
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, "", fmt.Errorf("%w: encoding: %v", ErrInvalidCursor, err)
	}

	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("%w: expected seq|event_id", ErrInvalidCursor)
	}

	seq, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: sequence: %v", ErrInvalidCursor, err)
	}
	return seq, parts[1], nil
}
