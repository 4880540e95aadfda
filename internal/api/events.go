// ABOUTME: Server-Sent Events stream of live scheduler events
// ABOUTME: Subscribes to the broadcaster for one device or all devices

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/coven-actuator/internal/events"
)

// handleEvents streams events via Server-Sent Events.
// GET /api/events?device=D1 (omit device for every device)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		sendJSONError(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	topic := r.URL.Query().Get("device")
	if topic == "" {
		topic = events.AllDevices
	}

	ctx := r.Context()
	ch, subID := s.events.Subscribe(ctx, topic)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := sendSSEEvent(w, flusher, "subscribed", map[string]string{"subscription_id": subID, "topic": topic}); err != nil {
		return
	}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := sendSSEEvent(w, flusher, string(ev.Type), ev); err != nil {
				s.logger.Debug("sse client disconnected", "subscription_id", subID, "error", err)
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}

	flusher.Flush()
	return nil
}
