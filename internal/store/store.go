// Package store defines the Store abstraction behind which all queue and
// message persistence lives.
//
// Design principle: the engine (and every layer above it) must ONLY interact
// with persistence through this interface. The store is a pure CRUD facade —
// it has no notion of visibility state; that belongs to the tracker.
//
// Implementations:
//   - bolt.Store     — single-file bbolt backend (default)
//   - postgres.Store — pgx-backed backend for shared-database deployments
package store

import (
	"context"
	"errors"

	"github.com/pratyushm/pollq/internal/types"
)

// ErrDuplicateName is returned by CreateQueue when a queue with the same
// name already exists.
var ErrDuplicateName = errors.New("store: queue name already exists")

// ErrQueueNotFound is returned by Enqueue when the named queue does not exist.
var ErrQueueNotFound = errors.New("store: queue not found")

// ErrMessageNotFound is returned by DeleteMessage when no message with the
// given ID exists.
var ErrMessageNotFound = errors.New("store: message not found")

// ErrNoMessage is returned by FindOldestUnseen when the named queue does not
// exist or contains no message outside the excluded set. The two cases are
// deliberately not distinguished.
var ErrNoMessage = errors.New("store: no message available")

// Store is the persistence interface for queues and messages.
//
// Every method is atomic with respect to every other: no two concurrent
// calls may produce an inconsistent read. No multi-call transactions are
// offered beyond that.
//
// All methods must be safe for concurrent use.
type Store interface {
	// CreateQueue persists a new queue and returns its ID.
	// Returns ErrDuplicateName if the name is already taken.
	CreateQueue(ctx context.Context, name string) (string, error)

	// Enqueue persists a message with a fresh ID and the current timestamp
	// in the named queue, and returns the stored message.
	// Returns ErrQueueNotFound if no queue with that name exists.
	Enqueue(ctx context.Context, queueName, value string) (*types.Message, error)

	// FindOldestUnseen returns the message with the smallest
	// (EnqueuedAt, ID) in the named queue whose ID is not in excluded.
	// Returns ErrNoMessage if the queue does not exist or no such message
	// exists.
	FindOldestUnseen(ctx context.Context, queueName string, excluded map[string]struct{}) (*types.Message, error)

	// DeleteMessage removes a message by ID.
	// Returns ErrMessageNotFound if it does not exist.
	DeleteMessage(ctx context.Context, messageID string) error

	// PurgeAll removes every queue and every message.
	PurgeAll(ctx context.Context) error

	// Close flushes pending writes and releases resources.
	Close() error
}
