// ABOUTME: EventSink adapts a Store to the events.Publisher interface
// ABOUTME: Buffers events and writes them to the ledger from a single goroutine

package store

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/2389/coven-actuator/internal/events"
)

// DefaultSinkBuffer is the number of events an EventSink holds before dropping.
const DefaultSinkBuffer = 1024

// EventSink persists published events without blocking the publisher. When
// the buffer is full the event is dropped and counted.
type EventSink struct {
	store   Store
	logger  *slog.Logger
	ch      chan events.Event
	dropped atomic.Int64
}

// NewEventSink creates a sink writing to s. A non-positive buffer uses DefaultSinkBuffer.
func NewEventSink(s Store, logger *slog.Logger, buffer int) *EventSink {
	if buffer <= 0 {
		buffer = DefaultSinkBuffer
	}
	return &EventSink{
		store:  s,
		logger: logger.With("component", "ledger"),
		ch:     make(chan events.Event, buffer),
	}
}

// Publish queues e for persistence.
func (k *EventSink) Publish(e events.Event) {
	select {
	case k.ch <- e:
	default:
		k.dropped.Add(1)
		k.logger.Warn("ledger buffer full, dropping event", "event_id", e.ID, "type", e.Type)
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (k *EventSink) Dropped() int64 {
	return k.dropped.Load()
}

// Run writes queued events until ctx is done, then flushes what is left.
func (k *EventSink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			k.flush()
			return
		case e := <-k.ch:
			k.save(ctx, e)
		}
	}
}

func (k *EventSink) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case e := <-k.ch:
			k.save(ctx, e)
		default:
			return
		}
	}
}

func (k *EventSink) save(ctx context.Context, e events.Event) {
	le, err := NewLedgerEvent(e)
	if err != nil {
		k.logger.Error("encoding ledger event", "event_id", e.ID, "error", err)
		return
	}
	if err := k.store.SaveEvent(ctx, le); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			return
		}
		k.logger.Error("saving ledger event", "event_id", e.ID, "error", err)
	}
}
