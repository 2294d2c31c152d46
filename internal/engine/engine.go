// Package engine composes the store and the visibility tracker into the five
// public queue operations: create, write, poll, delete, purge.
//
// All transports talk to the Engine — never directly to the store or the
// tracker. The engine owns the locking discipline:
//
//   - Per-queue lock around poll's snapshot → find-oldest → checkout
//     sequence, so two concurrent pollers can never both receive the same
//     message ID.
//   - Per-message lock (shared with the tracker's expiry path) around
//     delete's in-flight check → store delete → release, so a delete and a
//     timeout expiry for the same ID resolve deterministically.
//   - A global RW lock: every operation read-holds it; purge write-holds it,
//     making purge atomic from every caller's perspective.
//
// All methods are safe for concurrent use.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pratyushm/pollq/internal/event"
	"github.com/pratyushm/pollq/internal/ident"
	"github.com/pratyushm/pollq/internal/locks"
	"github.com/pratyushm/pollq/internal/metrics"
	"github.com/pratyushm/pollq/internal/store"
	"github.com/pratyushm/pollq/internal/tracker"
)

// DefaultVisibilityTimeout is how long a polled message stays hidden from
// other pollers before it automatically becomes available again.
const DefaultVisibilityTimeout = 30 * time.Second

// PollResult is the payload a successful poll returns.
type PollResult struct {
	MessageID string `json:"message_id"`
	Value     string `json:"value"`
}

// Stats is a lightweight snapshot of engine state.
type Stats struct {
	InFlight int
}

// Option is a functional option for the Engine.
type Option func(*Engine)

// WithMetrics attaches a metrics registry so every operation increments the
// relevant counter.
func WithMetrics(reg *metrics.Registry) Option {
	return func(e *Engine) { e.metrics = reg }
}

// WithEvents attaches an event hub so every state change is published to it.
func WithEvents(hub *event.Hub) Option {
	return func(e *Engine) { e.events = hub }
}

// Engine orchestrates the store and the visibility tracker.
type Engine struct {
	store      store.Store
	tracker    *tracker.Tracker
	visibility time.Duration

	// global is read-held by every operation and write-held by purge.
	global     sync.RWMutex
	queueLocks *locks.Keyed

	// Optional integrations (set via functional options).
	metrics *metrics.Registry
	events  *event.Hub
}

// New creates an Engine over st. visibility <= 0 selects the default 30s
// timeout; tests pass short durations.
func New(st store.Store, visibility time.Duration, opts ...Option) *Engine {
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}

	e := &Engine{
		store:      st,
		visibility: visibility,
		queueLocks: locks.New(),
	}
	for _, o := range opts {
		o(e)
	}

	e.tracker = tracker.New(tracker.WithExpireFunc(e.onExpire))
	return e
}

// onExpire runs on the tracker's timer path each time a visibility deadline
// passes. The message is available again as of this call.
func (e *Engine) onExpire(messageID string) {
	if e.metrics != nil {
		e.metrics.VisibilityExpired.Inc()
	}
	e.publish(event.Event{Type: event.TypeExpired, MessageID: messageID})
}

// CreateQueue creates a new, empty queue with a unique name.
func (e *Engine) CreateQueue(ctx context.Context, name string) error {
	if name == "" {
		return newError(KindInvalidArgument, "queue name must not be empty")
	}

	e.global.RLock()
	defer e.global.RUnlock()

	if _, err := e.store.CreateQueue(ctx, name); err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			return newError(KindDuplicateName, "a queue with that name already exists")
		}
		return e.storeFailure("create queue", err)
	}

	if e.metrics != nil {
		e.metrics.QueuesCreated.Inc()
	}
	e.publish(event.Event{Type: event.TypeQueueCreated, Queue: name})
	return nil
}

// WriteMessage enqueues value on the named queue and returns the new message
// ID. The message starts available.
func (e *Engine) WriteMessage(ctx context.Context, queueName, value string) (string, error) {
	if queueName == "" {
		return "", newError(KindInvalidArgument, "queue name must not be empty")
	}

	e.global.RLock()
	defer e.global.RUnlock()

	msg, err := e.store.Enqueue(ctx, queueName, value)
	if err != nil {
		if errors.Is(err, store.ErrQueueNotFound) {
			return "", newError(KindQueueNotFound, "no queue with that name exists")
		}
		return "", e.storeFailure("write message", err)
	}

	if e.metrics != nil {
		e.metrics.MessagesWritten.WithLabelValues(queueName).Inc()
	}
	e.publish(event.Event{Type: event.TypeEnqueued, Queue: queueName, MessageID: msg.ID})
	return msg.ID, nil
}

// PollQueue returns the oldest available message in the named queue and
// checks it out for the visibility timeout. The snapshot of in-flight IDs,
// the store lookup, and the checkout run under the queue's lock as one
// critical section.
func (e *Engine) PollQueue(ctx context.Context, queueName string) (*PollResult, error) {
	if queueName == "" {
		return nil, newError(KindInvalidArgument, "queue name must not be empty")
	}

	e.global.RLock()
	defer e.global.RUnlock()

	unlock := e.queueLocks.Lock(queueName)
	defer unlock()

	excluded := e.tracker.InFlightIDs()
	msg, err := e.store.FindOldestUnseen(ctx, queueName, excluded)
	if err != nil {
		if errors.Is(err, store.ErrNoMessage) {
			return nil, newError(KindNoMessagesAvailable,
				"either the queue contains no free messages, or no such queue exists")
		}
		return nil, e.storeFailure("poll queue", err)
	}

	e.tracker.Checkout(msg.ID, e.visibility)

	if e.metrics != nil {
		e.metrics.MessagesPolled.WithLabelValues(queueName).Inc()
	}
	e.publish(event.Event{Type: event.TypePolled, Queue: queueName, MessageID: msg.ID})
	return &PollResult{MessageID: msg.ID, Value: msg.Value}, nil
}

// DeleteMessage acknowledges an in-flight message, removing it permanently.
// The in-flight check, store delete, and release run under the message's
// lock — the same lock the automatic expiry takes — so the two paths never
// interleave for one ID.
func (e *Engine) DeleteMessage(ctx context.Context, messageID string) error {
	if err := validateMessageID(messageID); err != nil {
		return err
	}

	e.global.RLock()
	defer e.global.RUnlock()

	unlock := e.tracker.LockMessage(messageID)
	defer unlock()

	if !e.tracker.IsInFlight(messageID) {
		return newError(KindMessageNotInFlight,
			"the message id is not in the set of messages currently checked out")
	}

	if err := e.store.DeleteMessage(ctx, messageID); err != nil {
		if errors.Is(err, store.ErrMessageNotFound) {
			// Tracked as in-flight but absent from the store.
			return newError(KindInconsistentState, "internal state error")
		}
		return e.storeFailure("delete message", err)
	}

	e.tracker.Release(messageID)

	if e.metrics != nil {
		e.metrics.MessagesDeleted.Inc()
	}
	e.publish(event.Event{Type: event.TypeDeleted, MessageID: messageID})
	return nil
}

// PurgeQueue removes every queue and every message, then drops all in-flight
// tracking. It blocks all other operations for its duration. If the store
// purge fails the tracker is left untouched and the error is surfaced.
func (e *Engine) PurgeQueue(ctx context.Context) error {
	e.global.Lock()
	defer e.global.Unlock()

	if err := e.store.PurgeAll(ctx); err != nil {
		return e.storeFailure("purge", err)
	}
	e.tracker.Clear()

	if e.metrics != nil {
		e.metrics.Purges.Inc()
	}
	e.publish(event.Event{Type: event.TypePurged})
	return nil
}

// Stats returns a snapshot of engine state.
func (e *Engine) Stats() Stats {
	return Stats{InFlight: e.tracker.Len()}
}

// Close stops all outstanding visibility timers. In-flight messages
// become visible again on the next process start since the tracker
// holds no durable state.
func (e *Engine) Close() {
	e.global.Lock()
	defer e.global.Unlock()
	e.tracker.Clear()
}

// validateMessageID rejects IDs that do not parse as ULIDs.
func validateMessageID(id string) error {
	if id == "" {
		return newError(KindInvalidArgument, "message id must not be empty")
	}
	if err := ident.Validate(id); err != nil {
		return wrapError(KindInvalidArgument, "message id is not a valid identifier", err)
	}
	return nil
}

// storeFailure wraps an unexpected store error. The message stays generic;
// the cause travels wrapped for logs only.
func (e *Engine) storeFailure(op string, err error) *Error {
	return wrapError(KindStoreUnavailable, "the backing store failed during "+op, err)
}

// publish sends ev to the hub, stamping the time, when a hub is attached.
func (e *Engine) publish(ev event.Event) {
	if e.events == nil {
		return
	}
	ev.At = time.Now().UnixMilli()
	e.events.Publish(ev)
}
