package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/quietloop/engram/internal/engine"
)

// subscriberBuffer bounds each subscriber's queue. A subscriber that
// cannot keep up loses events rather than stalling the write path.
const subscriberBuffer = 16

// EventHub fans engine events out to websocket subscribers.
type EventHub struct {
	mu          sync.Mutex
	subscribers map[chan engine.Event]struct{}
	closed      bool
	logger      *slog.Logger
}

// NewEventHub builds an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{
		subscribers: make(map[chan engine.Event]struct{}),
		logger:      slog.With("component", "events"),
	}
}

// Broadcast delivers an event to every subscriber without blocking.
func (h *EventHub) Broadcast(ev engine.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("slow event subscriber, dropping event", "kind", ev.Kind)
		}
	}
}

// Subscribe upgrades the request to a websocket and streams events until
// the client disconnects or the hub closes.
func (h *EventHub) Subscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ch := h.add()
	if ch == nil {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.remove(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// Close disconnects every subscriber.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, ch)
	}
}

func (h *EventHub) add() chan engine.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	ch := make(chan engine.Event, subscriberBuffer)
	h.subscribers[ch] = struct{}{}
	return ch
}

func (h *EventHub) remove(ch chan engine.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[ch]; ok {
		delete(h.subscribers, ch)
		close(ch)
	}
}
