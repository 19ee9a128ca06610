// Package events fans out session activity to HTTP stream subscribers.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published by the API server and the serve command.
const (
	TraceCompleted = "trace.completed"
	TraceFailed    = "trace.failed"
	EngineExited   = "engine.exited"
)

// subscriberBuffer is how far a subscriber may lag before events are
// dropped for it.
const subscriberBuffer = 64

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Hub publishes events to live subscribers and keeps the most recent ones
// so reconnecting clients can catch up.
type Hub struct {
	now func() time.Time

	mu      sync.Mutex
	lastID  int64
	backlog []Event
	keep    int
	subs    map[chan Event]struct{}
	closed  bool
}

// NewHub returns a hub that retains the last keep events (100 if keep <= 0).
func NewHub(keep int) *Hub {
	if keep <= 0 {
		keep = 100
	}
	return &Hub{
		now:     time.Now,
		backlog: make([]Event, 0, keep),
		keep:    keep,
		subs:    make(map[chan Event]struct{}),
	}
}

// Publish assigns the next ID and delivers the event without blocking:
// subscribers whose buffer is full miss it. Data that fails to marshal is
// published as an empty object.
func (h *Hub) Publish(eventType string, data any) Event {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: h.now().UTC(), Data: payload}
	if h.closed {
		return ev
	}

	if len(h.backlog) == h.keep {
		copy(h.backlog, h.backlog[1:])
		h.backlog = h.backlog[:h.keep-1]
	}
	h.backlog = append(h.backlog, ev)

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// Subscribe returns a channel of future events and a func that releases
// it. The channel is closed on release or when the hub closes.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

// SnapshotSince returns retained events with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, ev := range h.backlog {
		if ev.ID > lastID {
			return append([]Event(nil), h.backlog[i:]...)
		}
	}
	return nil
}

// Close ends every subscription. Later publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
	}
	clear(h.subs)
}
