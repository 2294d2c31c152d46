// Package bolt is the bbolt-backed implementation of store.Store.
//
// bbolt is the default backend because it is:
//   - Pure Go (no CGO, no external process)
//   - ACID — every Store method runs in a single bbolt transaction, which
//     gives the per-call atomicity the store contract requires for free
//   - Single file inside the data directory
//   - Well-maintained (used by etcd in production)
//
// Layout:
//
//	bucket "queues"   queue name → JSON types.Queue
//	bucket "messages" message ID → JSON types.Message
//	bucket "order"    queueID ‖ 8-byte big-endian EnqueuedAt ms ‖ message ID → message ID
//
// The order bucket makes FindOldestUnseen a prefix cursor scan in
// (EnqueuedAt, ID) order — bbolt keys iterate byte-sorted, and ULIDs are a
// fixed 26 bytes, so the concatenated key sorts exactly by the FIFO key.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/pratyushm/pollq/internal/ident"
	"github.com/pratyushm/pollq/internal/store"
	"github.com/pratyushm/pollq/internal/types"
)

var (
	bucketQueues   = []byte("queues")
	bucketMessages = []byte("messages")
	bucketOrder    = []byte("order")
)

// Store is the bbolt-backed store.Store implementation.
// All methods are safe for concurrent use; bbolt serialises writers itself.
type Store struct {
	db *bbolt.DB
}

// Ensure *Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Open opens (or creates) the store database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o640, &bbolt.Options{Timeout: 0})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketQueues, bucketMessages, bucketOrder} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: init buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// CreateQueue persists a new queue record under its name.
func (s *Store) CreateQueue(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id, err := ident.New()
	if err != nil {
		return "", fmt.Errorf("bolt: generate queue id: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketQueues)
		if b.Get([]byte(name)) != nil {
			return store.ErrDuplicateName
		}
		val, err := json.Marshal(types.Queue{ID: id, Name: name})
		if err != nil {
			return err
		}
		return b.Put([]byte(name), val)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Enqueue stores a message in the named queue with a fresh ID and timestamp.
func (s *Store) Enqueue(ctx context.Context, queueName, value string) (*types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id, err := ident.New()
	if err != nil {
		return nil, fmt.Errorf("bolt: generate message id: %w", err)
	}

	msg := &types.Message{
		ID:         id,
		Value:      value,
		EnqueuedAt: time.Now().UnixMilli(),
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		q, err := getQueue(tx, queueName)
		if err != nil {
			return store.ErrQueueNotFound
		}
		msg.QueueID = q.ID

		val, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketMessages).Put([]byte(msg.ID), val); err != nil {
			return err
		}
		return tx.Bucket(bucketOrder).Put(orderKey(q.ID, msg.EnqueuedAt, msg.ID), []byte(msg.ID))
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// FindOldestUnseen scans the order bucket for the named queue's prefix and
// returns the first message whose ID is not excluded.
func (s *Store) FindOldestUnseen(ctx context.Context, queueName string, excluded map[string]struct{}) (*types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var msg *types.Message

	err := s.db.View(func(tx *bbolt.Tx) error {
		q, err := getQueue(tx, queueName)
		if err != nil {
			return store.ErrNoMessage
		}

		prefix := []byte(q.ID)
		c := tx.Bucket(bucketOrder).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if _, skip := excluded[string(v)]; skip {
				continue
			}
			raw := tx.Bucket(bucketMessages).Get(v)
			if raw == nil {
				// Dangling order entry; should not happen.
				continue
			}
			var m types.Message
			if err := json.Unmarshal(raw, &m); err != nil {
				return fmt.Errorf("bolt: unmarshal message %s: %w", v, err)
			}
			msg = &m
			return nil
		}
		return store.ErrNoMessage
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// DeleteMessage removes the message record and its order-bucket entry.
func (s *Store) DeleteMessage(ctx context.Context, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		msgs := tx.Bucket(bucketMessages)
		raw := msgs.Get([]byte(messageID))
		if raw == nil {
			return store.ErrMessageNotFound
		}
		var m types.Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("bolt: unmarshal message %s: %w", messageID, err)
		}
		if err := msgs.Delete([]byte(messageID)); err != nil {
			return err
		}
		return tx.Bucket(bucketOrder).Delete(orderKey(m.QueueID, m.EnqueuedAt, m.ID))
	})
}

// PurgeAll drops and recreates every bucket.
func (s *Store) PurgeAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketQueues, bucketMessages, bucketOrder} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// getQueue loads the queue record stored under name within tx.
func getQueue(tx *bbolt.Tx, name string) (*types.Queue, error) {
	raw := tx.Bucket(bucketQueues).Get([]byte(name))
	if raw == nil {
		return nil, store.ErrQueueNotFound
	}
	var q types.Queue
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, fmt.Errorf("bolt: unmarshal queue %s: %w", name, err)
	}
	return &q, nil
}

// orderKey builds the order-bucket key queueID ‖ big-endian ms ‖ msgID.
func orderKey(queueID string, enqueuedAt int64, msgID string) []byte {
	k := make([]byte, 0, len(queueID)+8+len(msgID))
	k = append(k, queueID...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(enqueuedAt))
	k = append(k, ts[:]...)
	return append(k, msgID...)
}
