// ABOUTME: In-memory fan-out event broadcaster for status subscribers
// ABOUTME: Delivers engine events per device topic plus a wildcard topic

package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// AllDevices is the topic that receives every event.
	AllDevices = "*"
)

// Broadcaster provides in-memory pub/sub for engine events. Subscribers
// register for a device ID (or AllDevices) and receive events as they are
// published. Slow subscribers lose events rather than stall the engine.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // topic -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for events on the given topic. It returns
// a channel that receives events and a subscription ID for Unsubscribe. The
// subscription is cleaned up automatically when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, topic string) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]chan Event)
	}
	b.subscribers[topic][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "topic", topic, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(topic, subID)
	}()

	return ch, subID
}

// Publish delivers an event to subscribers of its device and of AllDevices.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(e Event) {
	b.mu.RLock()
	var targets []chan Event
	for _, topic := range []string{e.DeviceID, AllDevices} {
		for _, ch := range b.subscribers[topic] {
			targets = append(targets, ch)
		}
	}

	for _, ch := range targets {
		select {
		case ch <- e:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"device_id", e.DeviceID,
				"event_id", e.ID,
				"type", e.Type)
		}
	}
	// sends happen under the read lock so Unsubscribe cannot close a channel mid-send
	b.mu.RUnlock()
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(topic, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}

	b.logger.Debug("subscriber removed", "topic", topic, "sub_id", subID)
}

// SubscriberCount returns the number of subscribers on a topic.
func (b *Broadcaster) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, topic)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
