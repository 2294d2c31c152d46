// Package event is a small in-process pub/sub hub for queue activity.
//
// The engine publishes one event per state change; the websocket transport
// subscribes and pushes frames to connected clients. Delivery is best-effort:
// a subscriber whose buffer is full misses events rather than blocking the
// engine.
package event

import "sync"

// Type identifies what happened to a message or queue.
type Type string

const (
	TypeQueueCreated Type = "queue_created"
	TypeEnqueued     Type = "enqueued"
	TypePolled       Type = "polled"
	TypeDeleted      Type = "deleted"
	TypeExpired      Type = "expired"
	TypePurged       Type = "purged"
)

// Event describes a single queue state change.
type Event struct {
	Type      Type   `json:"type"`
	Queue     string `json:"queue,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	At        int64  `json:"at"` // UTC milliseconds
}

// subscriber buffers events for one consumer.
const subscriberBuffer = 64

// Hub fans events out to subscribers. All methods are safe for concurrent use.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber and returns its channel together with
// an unsubscribe function. The channel is closed on unsubscribe.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber without blocking. Subscribers with
// a full buffer miss the event.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Len returns the current subscriber count.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
