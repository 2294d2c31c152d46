package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pratyushm/pollq/internal/engine"
	"github.com/pratyushm/pollq/internal/ident"
	"github.com/pratyushm/pollq/internal/store"
	"github.com/pratyushm/pollq/internal/store/bolt"
	"github.com/pratyushm/pollq/internal/types"
)

// newEngine builds an Engine over a fresh bolt store with the given
// visibility timeout (0 selects the 30s default).
func newEngine(t *testing.T, visibility time.Duration) *engine.Engine {
	t.Helper()
	s, err := bolt.Open(filepath.Join(t.TempDir(), "pollq.db"))
	if err != nil {
		t.Fatalf("bolt.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return engine.New(s, visibility)
}

func mustCreate(t *testing.T, e *engine.Engine, name string) {
	t.Helper()
	if err := e.CreateQueue(context.Background(), name); err != nil {
		t.Fatalf("CreateQueue %s: %v", name, err)
	}
}

func mustWrite(t *testing.T, e *engine.Engine, queue, value string) string {
	t.Helper()
	id, err := e.WriteMessage(context.Background(), queue, value)
	if err != nil {
		t.Fatalf("WriteMessage %s/%s: %v", queue, value, err)
	}
	return id
}

func wantKind(t *testing.T, err error, kind engine.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("want %s, got nil error", kind)
	}
	if got := engine.KindOf(err); got != kind {
		t.Fatalf("error kind: want %s, got %s (%v)", kind, got, err)
	}
}

// ─── Validation ──────────────────────────────────────────────────────────────

func TestValidation(t *testing.T) {
	e := newEngine(t, 0)
	ctx := context.Background()

	wantKind(t, e.CreateQueue(ctx, ""), engine.KindInvalidArgument)

	_, err := e.WriteMessage(ctx, "", "v")
	wantKind(t, err, engine.KindInvalidArgument)

	_, err = e.PollQueue(ctx, "")
	wantKind(t, err, engine.KindInvalidArgument)

	wantKind(t, e.DeleteMessage(ctx, ""), engine.KindInvalidArgument)
	wantKind(t, e.DeleteMessage(ctx, "not-a-ulid"), engine.KindInvalidArgument)
}

func TestWriteMessage_EmptyValuePermitted(t *testing.T) {
	e := newEngine(t, 0)
	mustCreate(t, e, "a")
	if id := mustWrite(t, e, "a", ""); id == "" {
		t.Fatal("empty id for empty-value message")
	}
}

// ─── P1: name uniqueness ─────────────────────────────────────────────────────

func TestQueueNameUniqueness(t *testing.T) {
	e := newEngine(t, 0)
	mustCreate(t, e, "a")
	wantKind(t, e.CreateQueue(context.Background(), "a"), engine.KindDuplicateName)

	// The original queue still works.
	mustWrite(t, e, "a", "v")
}

// ─── P2: per-queue FIFO ──────────────────────────────────────────────────────

func TestSequentialFIFO(t *testing.T) {
	e := newEngine(t, 0)
	ctx := context.Background()
	mustCreate(t, e, "a")

	values := []string{"m1", "m2", "m3", "m4", "m5"}
	ids := make(map[string]string, len(values))
	for _, v := range values {
		ids[v] = mustWrite(t, e, "a", v)
	}

	for _, want := range values {
		res, err := e.PollQueue(ctx, "a")
		if err != nil {
			t.Fatalf("PollQueue: %v", err)
		}
		if res.Value != want || res.MessageID != ids[want] {
			t.Fatalf("poll order: want %s/%s, got %s/%s", ids[want], want, res.MessageID, res.Value)
		}
		if err := e.DeleteMessage(ctx, res.MessageID); err != nil {
			t.Fatalf("DeleteMessage: %v", err)
		}
	}

	_, err := e.PollQueue(ctx, "a")
	wantKind(t, err, engine.KindNoMessagesAvailable)
}

// ─── P3: visibility exclusivity ──────────────────────────────────────────────

func TestPolledMessageHidden(t *testing.T) {
	e := newEngine(t, 0) // 30s default; nothing expires during the test
	ctx := context.Background()
	mustCreate(t, e, "a")
	mustWrite(t, e, "a", "m1")
	mustWrite(t, e, "a", "m2")

	r1, err := e.PollQueue(ctx, "a")
	if err != nil {
		t.Fatalf("first poll: %v", err)
	}
	r2, err := e.PollQueue(ctx, "a")
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if r1.MessageID == r2.MessageID {
		t.Fatalf("both polls returned %s", r1.MessageID)
	}

	_, err = e.PollQueue(ctx, "a")
	wantKind(t, err, engine.KindNoMessagesAvailable)
}

// ─── P4: timeout re-visibility ───────────────────────────────────────────────

func TestTimeoutMakesMessageVisibleAgain(t *testing.T) {
	e := newEngine(t, 40*time.Millisecond)
	ctx := context.Background()
	mustCreate(t, e, "a")
	mustWrite(t, e, "a", "m1")

	r1, err := e.PollQueue(ctx, "a")
	if err != nil {
		t.Fatalf("first poll: %v", err)
	}

	_, err = e.PollQueue(ctx, "a")
	wantKind(t, err, engine.KindNoMessagesAvailable)

	time.Sleep(100 * time.Millisecond)

	r2, err := e.PollQueue(ctx, "a")
	if err != nil {
		t.Fatalf("poll after expiry: %v", err)
	}
	if r2.MessageID != r1.MessageID || r2.Value != "m1" {
		t.Fatalf("re-delivery: want %s/m1, got %s/%s", r1.MessageID, r2.MessageID, r2.Value)
	}
}

// ─── P5: delete is terminal ──────────────────────────────────────────────────

func TestDeleteIsTerminal(t *testing.T) {
	e := newEngine(t, 0)
	ctx := context.Background()
	mustCreate(t, e, "a")
	mustWrite(t, e, "a", "m1")

	res, err := e.PollQueue(ctx, "a")
	if err != nil {
		t.Fatalf("PollQueue: %v", err)
	}
	if err := e.DeleteMessage(ctx, res.MessageID); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}

	wantKind(t, e.DeleteMessage(ctx, res.MessageID), engine.KindMessageNotInFlight)

	_, err = e.PollQueue(ctx, "a")
	wantKind(t, err, engine.KindNoMessagesAvailable)
}

func TestDeleteNeverPolled(t *testing.T) {
	e := newEngine(t, 0)
	mustCreate(t, e, "a")
	id := mustWrite(t, e, "a", "m1")

	// Written but never polled: not in flight.
	wantKind(t, e.DeleteMessage(context.Background(), id), engine.KindMessageNotInFlight)
}

func TestDeleteAfterExpiry(t *testing.T) {
	e := newEngine(t, 30*time.Millisecond)
	ctx := context.Background()
	mustCreate(t, e, "a")
	mustWrite(t, e, "a", "m1")

	res, err := e.PollQueue(ctx, "a")
	if err != nil {
		t.Fatalf("PollQueue: %v", err)
	}

	time.Sleep(80 * time.Millisecond)

	// The visibility window has passed; the delete loses the race by design.
	wantKind(t, e.DeleteMessage(ctx, res.MessageID), engine.KindMessageNotInFlight)
}

func TestDeleteUnknownULID(t *testing.T) {
	e := newEngine(t, 0)
	wantKind(t, e.DeleteMessage(context.Background(), ident.MustNew()), engine.KindMessageNotInFlight)
}

// ─── P6: purge ───────────────────────────────────────────────────────────────

func TestPurge(t *testing.T) {
	e := newEngine(t, 0)
	ctx := context.Background()
	mustCreate(t, e, "a")
	mustWrite(t, e, "a", "m1")
	if _, err := e.PollQueue(ctx, "a"); err != nil {
		t.Fatalf("PollQueue: %v", err)
	}

	if err := e.PurgeQueue(ctx); err != nil {
		t.Fatalf("PurgeQueue: %v", err)
	}

	_, err := e.PollQueue(ctx, "a")
	wantKind(t, err, engine.KindNoMessagesAvailable)

	_, err = e.WriteMessage(ctx, "a", "v")
	wantKind(t, err, engine.KindQueueNotFound)

	if got := e.Stats().InFlight; got != 0 {
		t.Fatalf("in-flight after purge: want 0, got %d", got)
	}

	// The name is free again.
	mustCreate(t, e, "a")
}

// ─── P7: concurrent pollers ──────────────────────────────────────────────────

func TestConcurrentPollersNoDoubleDelivery(t *testing.T) {
	e := newEngine(t, 0)
	ctx := context.Background()
	mustCreate(t, e, "a")

	const n = 16
	want := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		want[mustWrite(t, e, "a", "v")] = true
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		got      = make(map[string]int, n)
		failures int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.PollQueue(ctx, "a")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				return
			}
			got[res.MessageID]++
		}()
	}
	wg.Wait()

	if failures != 0 {
		t.Fatalf("%d of %d pollers got an error with %d messages available", failures, n, n)
	}
	if len(got) != n {
		t.Fatalf("distinct messages delivered: want %d, got %d", n, len(got))
	}
	for id, count := range got {
		if count != 1 {
			t.Errorf("message %s delivered %d times", id, count)
		}
		if !want[id] {
			t.Errorf("unknown message id %s delivered", id)
		}
	}
}

// ─── Literal scenario from the API contract ──────────────────────────────────

func TestEndToEndScenario(t *testing.T) {
	e := newEngine(t, 50*time.Millisecond)
	ctx := context.Background()

	mustCreate(t, e, "a")
	id1 := mustWrite(t, e, "a", "msg1")
	id2 := mustWrite(t, e, "a", "msg2")

	r, err := e.PollQueue(ctx, "a")
	if err != nil || r.MessageID != id1 || r.Value != "msg1" {
		t.Fatalf("poll 1: want %s/msg1, got %+v (%v)", id1, r, err)
	}
	r, err = e.PollQueue(ctx, "a")
	if err != nil || r.MessageID != id2 || r.Value != "msg2" {
		t.Fatalf("poll 2: want %s/msg2, got %+v (%v)", id2, r, err)
	}

	_, err = e.PollQueue(ctx, "a")
	wantKind(t, err, engine.KindNoMessagesAvailable)

	time.Sleep(120 * time.Millisecond)

	r, err = e.PollQueue(ctx, "a")
	if err != nil || r.MessageID != id1 || r.Value != "msg1" {
		t.Fatalf("poll after expiry: want %s/msg1 again, got %+v (%v)", id1, r, err)
	}

	if err := e.DeleteMessage(ctx, id1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	wantKind(t, e.DeleteMessage(ctx, id1), engine.KindMessageNotInFlight)
}

// ─── Store failure propagation ───────────────────────────────────────────────

var errDiskGone = errors.New("i/o error: device gone")

// brokenStore fails every operation with a non-sentinel error.
type brokenStore struct{}

var _ store.Store = brokenStore{}

func (brokenStore) CreateQueue(ctx context.Context, name string) (string, error) {
	return "", errDiskGone
}

func (brokenStore) Enqueue(ctx context.Context, queueName, value string) (*types.Message, error) {
	return nil, errDiskGone
}

func (brokenStore) FindOldestUnseen(ctx context.Context, queueName string, excluded map[string]struct{}) (*types.Message, error) {
	return nil, errDiskGone
}

func (brokenStore) DeleteMessage(ctx context.Context, messageID string) error { return errDiskGone }
func (brokenStore) PurgeAll(ctx context.Context) error                        { return errDiskGone }
func (brokenStore) Close() error                                              { return nil }

func TestStoreFailureIsStoreUnavailable(t *testing.T) {
	e := engine.New(brokenStore{}, 0)
	ctx := context.Background()

	wantKind(t, e.CreateQueue(ctx, "a"), engine.KindStoreUnavailable)

	_, err := e.WriteMessage(ctx, "a", "v")
	wantKind(t, err, engine.KindStoreUnavailable)

	_, err = e.PollQueue(ctx, "a")
	wantKind(t, err, engine.KindStoreUnavailable)

	wantKind(t, e.PurgeQueue(ctx), engine.KindStoreUnavailable)

	// The cause stays reachable for logging but must not leak into the
	// caller-facing message.
	err = e.CreateQueue(ctx, "a")
	if !errors.Is(err, errDiskGone) {
		t.Errorf("cause not wrapped: %v", err)
	}
	var ee *engine.Error
	if !errors.As(err, &ee) {
		t.Fatalf("not an engine error: %v", err)
	}
	if strings.Contains(ee.Message, "device gone") {
		t.Errorf("cause leaked into caller-facing message: %q", ee.Message)
	}
}

// vanishingStore delegates to a real store but reports every delete as
// targeting a missing row, simulating a record that disappeared while the
// tracker still holds it in-flight.
type vanishingStore struct {
	store.Store
}

func (v vanishingStore) DeleteMessage(ctx context.Context, messageID string) error {
	return store.ErrMessageNotFound
}

func TestDeleteOfVanishedRowIsInconsistentState(t *testing.T) {
	s, err := bolt.Open(filepath.Join(t.TempDir(), "pollq.db"))
	if err != nil {
		t.Fatalf("bolt.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	e := engine.New(vanishingStore{Store: s}, 0)
	ctx := context.Background()

	mustCreate(t, e, "a")
	mustWrite(t, e, "a", "v")
	r, err := e.PollQueue(ctx, "a")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}

	err = e.DeleteMessage(ctx, r.MessageID)
	wantKind(t, err, engine.KindInconsistentState)

	// The message stays generic; internals must not leak.
	var ee *engine.Error
	if !errors.As(err, &ee) {
		t.Fatalf("not an engine error: %v", err)
	}
	if ee.Message != "internal state error" {
		t.Errorf("message: want generic internal state error, got %q", ee.Message)
	}

	// The failed delete must not release the checkout.
	if got := e.Stats().InFlight; got != 1 {
		t.Errorf("in-flight after failed delete: want 1, got %d", got)
	}
}
