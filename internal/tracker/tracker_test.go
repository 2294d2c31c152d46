package tracker_test

import (
	"sync"
	"testing"
	"time"

	"github.com/pratyushm/pollq/internal/tracker"
)

func TestCheckoutRelease(t *testing.T) {
	tr := tracker.New()

	tr.Checkout("m1", time.Minute)
	if !tr.IsInFlight("m1") {
		t.Fatal("m1 should be in flight after Checkout")
	}
	if tr.Len() != 1 {
		t.Fatalf("Len: want 1, got %d", tr.Len())
	}

	tr.Release("m1")
	if tr.IsInFlight("m1") {
		t.Fatal("m1 should not be in flight after Release")
	}

	// Releasing an untracked ID is a no-op.
	tr.Release("m1")
	tr.Release("never-seen")
}

func TestInFlightIDs_Snapshot(t *testing.T) {
	tr := tracker.New()
	tr.Checkout("a", time.Minute)
	tr.Checkout("b", time.Minute)

	ids := tr.InFlightIDs()
	if len(ids) != 2 {
		t.Fatalf("snapshot size: want 2, got %d", len(ids))
	}
	if _, ok := ids["a"]; !ok {
		t.Error("snapshot missing a")
	}

	// Mutating the snapshot must not affect the tracker.
	delete(ids, "b")
	if !tr.IsInFlight("b") {
		t.Error("tracker state changed through snapshot")
	}
}

func TestAutomaticExpiry(t *testing.T) {
	expired := make(chan string, 1)
	tr := tracker.New(tracker.WithExpireFunc(func(id string) { expired <- id }))

	tr.Checkout("m1", 20*time.Millisecond)

	select {
	case id := <-expired:
		if id != "m1" {
			t.Fatalf("expired id: want m1, got %s", id)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for expiry")
	}
	if tr.IsInFlight("m1") {
		t.Fatal("m1 still in flight after expiry")
	}
}

func TestRelease_CancelsTimer(t *testing.T) {
	expired := make(chan string, 1)
	tr := tracker.New(tracker.WithExpireFunc(func(id string) { expired <- id }))

	tr.Checkout("m1", 30*time.Millisecond)
	tr.Release("m1")

	select {
	case id := <-expired:
		t.Fatalf("expiry fired for released id %s", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCheckout_ReplacesDeadline(t *testing.T) {
	expired := make(chan string, 2)
	tr := tracker.New(tracker.WithExpireFunc(func(id string) { expired <- id }))

	tr.Checkout("m1", 30*time.Millisecond)
	// Re-checkout resets the clock; the first timer must not fire.
	tr.Checkout("m1", 200*time.Millisecond)

	select {
	case <-expired:
		t.Fatal("stale timer fired after re-checkout")
	case <-time.After(100 * time.Millisecond):
	}
	if !tr.IsInFlight("m1") {
		t.Fatal("m1 should still be in flight under the replaced deadline")
	}

	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("replacement deadline never fired")
	}
}

func TestClear(t *testing.T) {
	expired := make(chan string, 4)
	tr := tracker.New(tracker.WithExpireFunc(func(id string) { expired <- id }))

	tr.Checkout("a", 30*time.Millisecond)
	tr.Checkout("b", 30*time.Millisecond)
	tr.Clear()

	if tr.Len() != 0 {
		t.Fatalf("Len after Clear: want 0, got %d", tr.Len())
	}
	select {
	case id := <-expired:
		t.Fatalf("expiry fired for %s after Clear", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLockMessage_SerialisesWithExpiry(t *testing.T) {
	tr := tracker.New()
	tr.Checkout("m1", 20*time.Millisecond)

	// Hold the per-message lock across the deadline. The expiry path must
	// block until we let go, so the in-flight check inside the critical
	// section stays consistent.
	unlock := tr.LockMessage("m1")
	time.Sleep(60 * time.Millisecond)
	if !tr.IsInFlight("m1") {
		unlock()
		t.Fatal("expiry ran while the per-message lock was held")
	}
	tr.Release("m1")
	unlock()

	// The blocked timer fires now, observes the released entry, and does
	// nothing.
	time.Sleep(50 * time.Millisecond)
	if tr.IsInFlight("m1") {
		t.Fatal("m1 reappeared after release")
	}
}

func TestConcurrentCheckoutRelease(t *testing.T) {
	tr := tracker.New()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			for j := 0; j < 200; j++ {
				tr.Checkout(id, time.Millisecond)
				tr.IsInFlight(id)
				tr.InFlightIDs()
				tr.Release(id)
			}
		}(i)
	}
	wg.Wait()

	// Give any in-progress timers a moment, then everything must be gone.
	time.Sleep(20 * time.Millisecond)
	if n := tr.Len(); n != 0 {
		t.Fatalf("Len after concurrent churn: want 0, got %d", n)
	}
}
