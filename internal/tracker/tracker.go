// Package tracker is the in-memory visibility tracker: it records which
// message IDs are currently checked out (in-flight) and automatically
// releases each one when its visibility deadline passes.
//
// Each checkout arms one cancellable time.AfterFunc. A generation counter per
// entry makes a stale timer firing after a re-checkout or a manual release a
// no-op, so the race between "timer fires" and "delete arrives at the same
// instant" resolves deterministically: whichever path removes the entry first
// wins, and the loser observes the ID as not tracked.
//
// The tracker owns a per-message keyed mutex. Its own expiry path takes it
// before touching state, and the engine's delete path takes the same lock via
// LockMessage, which is what serialises check-then-delete against expiry.
//
// All methods are safe for concurrent use.
package tracker

import (
	"sync"
	"time"

	"github.com/pratyushm/pollq/internal/locks"
)

type entry struct {
	timer    *time.Timer
	gen      uint64
	deadline time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithExpireFunc registers fn to be called with the message ID each time a
// visibility deadline passes and the automatic release removes the entry.
// fn runs on the timer goroutine and must be fast; it is not called for
// manual releases or Clear.
func WithExpireFunc(fn func(messageID string)) Option {
	return func(t *Tracker) { t.onExpire = fn }
}

// Tracker tracks in-flight message IDs and their automatic release timers.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry
	msgLock *locks.Keyed

	onExpire func(messageID string)
}

// New creates an empty Tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		entries: make(map[string]*entry),
		msgLock: locks.New(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Checkout marks messageID in-flight and arms an automatic release after
// timeout. If the ID is already in-flight the previous deadline is replaced;
// normal operation never re-checks-out an in-flight ID because the engine
// excludes in-flight IDs from poll candidates.
func (t *Tracker) Checkout(messageID string, timeout time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	gen := uint64(1)
	if prev, ok := t.entries[messageID]; ok {
		prev.timer.Stop()
		gen = prev.gen + 1
	}

	e := &entry{gen: gen, deadline: time.Now().Add(timeout)}
	e.timer = time.AfterFunc(timeout, func() { t.expire(messageID, gen) })
	t.entries[messageID] = e
}

// Release removes messageID from the in-flight set and cancels its pending
// automatic release. Releasing an ID that is not tracked is a no-op.
func (t *Tracker) Release(messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[messageID]; ok {
		e.timer.Stop()
		delete(t.entries, messageID)
	}
}

// IsInFlight reports whether messageID is currently checked out.
func (t *Tracker) IsInFlight(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[messageID]
	return ok
}

// InFlightIDs returns a snapshot of the checked-out message IDs, for
// exclusion during the poll candidate search.
func (t *Tracker) InFlightIDs() map[string]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make(map[string]struct{}, len(t.entries))
	for id := range t.entries {
		ids[id] = struct{}{}
	}
	return ids
}

// Len returns the number of in-flight entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Clear drops all tracked entries and cancels all pending timers.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries {
		e.timer.Stop()
	}
	t.entries = make(map[string]*entry)
}

// LockMessage acquires the per-message lock for messageID and returns its
// unlock function. The engine's delete path holds this lock around its
// IsInFlight check, store delete, and Release, so the automatic expiry for
// the same ID cannot interleave with it.
func (t *Tracker) LockMessage(messageID string) func() {
	return t.msgLock.Lock(messageID)
}

// expire is the timer callback. The generation check makes it a no-op when
// the entry was released or re-checked-out after this timer was armed.
func (t *Tracker) expire(messageID string, gen uint64) {
	unlock := t.msgLock.Lock(messageID)
	defer unlock()

	t.mu.Lock()
	e, ok := t.entries[messageID]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.entries, messageID)
	t.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire(messageID)
	}
}
