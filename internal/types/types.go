// Package types contains the core domain types shared across all pollq
// internal packages. It deliberately has zero imports of other pollq packages
// so that both the store layer and the engine layer can import from it without
// creating import cycles.
package types

// VisibilityState is the engine-level lifecycle state of a message.
//
// The state is derived, not persisted: the store only knows whether a message
// row exists, and the visibility tracker only knows which IDs are checked out.
type VisibilityState uint8

const (
	// StateAvailable means the message may be returned by the next poll.
	StateAvailable VisibilityState = iota
	// StateInFlight means the message has been polled and is hidden from
	// other consumers until it is deleted or its visibility deadline passes.
	StateInFlight
	// StateDeleted means the message has been acknowledged and its store
	// record removed. Terminal.
	StateDeleted
)

// String returns a human-readable representation of the state.
func (s VisibilityState) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateInFlight:
		return "in_flight"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ValidTransition reports whether the transition from → to is a legal state
// change for a message.
//
// State diagram:
//
//	AVAILABLE ──poll──► IN_FLIGHT ──delete──► DELETED
//	     ▲                  │
//	     └──timeout expiry──┘
//
// Used defensively in tests; production code drives transitions through the
// engine methods (PollQueue, DeleteMessage) and the tracker's expiry path,
// which already enforce the rules.
func ValidTransition(from, to VisibilityState) bool {
	switch from {
	case StateAvailable:
		return to == StateInFlight
	case StateInFlight:
		return to == StateDeleted || to == StateAvailable
	case StateDeleted:
		// Terminal.
		return false
	}
	return false
}

// Queue is a named collection of messages. The name is unique across the
// store; the ID is assigned at creation and never reused.
type Queue struct {
	// ID is a ULID uniquely identifying this queue.
	ID string `json:"id"`

	// Name is the caller-chosen unique queue name.
	Name string `json:"name"`
}

// Message is the canonical unit of data in pollq.
//
// Design rules:
//   - All timestamps are UTC milliseconds since Unix epoch.
//   - IDs are ULID strings generated from a shared monotonic entropy source,
//     so lexicographic ID order is also assignment order. Poll uses
//     (EnqueuedAt, ID) as its FIFO key; the ID breaks same-millisecond ties.
//   - Fields are immutable after enqueue. Visibility state is never stored on
//     the message — it lives in the tracker only.
type Message struct {
	// ID is a ULID uniquely identifying this message.
	ID string `json:"id"`

	// QueueID is the owning queue's ID.
	QueueID string `json:"queue_id"`

	// Value is the opaque message payload. Producers own the encoding.
	Value string `json:"value"`

	// EnqueuedAt is the UTC millisecond at which the store accepted the
	// message. Primary FIFO ordering key.
	EnqueuedAt int64 `json:"enqueued_at"`
}

// Clone returns a copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	return &c
}
