// Package postgres is the pgx-backed implementation of store.Store, for
// deployments that keep queue state in a shared database instead of a local
// file.
//
// All values are passed as bound parameters — nothing caller-supplied is ever
// interpolated into SQL text.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pratyushm/pollq/internal/ident"
	"github.com/pratyushm/pollq/internal/store"
	"github.com/pratyushm/pollq/internal/types"
)

// Ensure *Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Store is the postgres store.Store implementation. It holds a pgx pool and
// is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to the database at dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// SQL templates
const (
	sqlSchema = `
CREATE TABLE IF NOT EXISTS queues (
  id   text PRIMARY KEY,
  name text NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS messages (
  id          text PRIMARY KEY,
  queue_id    text NOT NULL REFERENCES queues(id) ON DELETE CASCADE,
  value       text NOT NULL,
  enqueued_at bigint NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_fifo ON messages (queue_id, enqueued_at, id);`

	sqlCreateQueue = `INSERT INTO queues (id, name) VALUES ($1, $2);`

	sqlEnqueue = `
INSERT INTO messages (id, queue_id, value, enqueued_at)
SELECT $1, q.id, $2, (extract(epoch FROM now()) * 1000)::bigint
FROM queues q WHERE q.name = $3
RETURNING queue_id, enqueued_at;`

	sqlFindOldest = `
SELECT m.id, m.queue_id, m.value, m.enqueued_at
FROM messages m
JOIN queues q ON q.id = m.queue_id
WHERE q.name = $1
  AND NOT (m.id = ANY($2))
ORDER BY m.enqueued_at, m.id
LIMIT 1;`

	sqlDeleteMessage = `DELETE FROM messages WHERE id = $1;`

	sqlPurgeAll = `TRUNCATE messages, queues;`
)

// uniqueViolation is the postgres error code for a unique constraint breach.
const uniqueViolation = "23505"

// EnsureSchema creates the queues and messages tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlSchema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

// CreateQueue inserts a queue row, relying on the unique index on name.
func (s *Store) CreateQueue(ctx context.Context, name string) (string, error) {
	id, err := ident.New()
	if err != nil {
		return "", fmt.Errorf("postgres: generate queue id: %w", err)
	}

	if _, err := s.pool.Exec(ctx, sqlCreateQueue, id, name); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", store.ErrDuplicateName
		}
		return "", fmt.Errorf("postgres: create queue: %w", err)
	}
	return id, nil
}

// Enqueue inserts a message row resolved against the queue name in a single
// statement; zero rows back means the queue does not exist.
func (s *Store) Enqueue(ctx context.Context, queueName, value string) (*types.Message, error) {
	id, err := ident.New()
	if err != nil {
		return nil, fmt.Errorf("postgres: generate message id: %w", err)
	}

	msg := &types.Message{ID: id, Value: value}
	err = s.pool.QueryRow(ctx, sqlEnqueue, id, value, queueName).
		Scan(&msg.QueueID, &msg.EnqueuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrQueueNotFound
		}
		return nil, fmt.Errorf("postgres: enqueue: %w", err)
	}
	return msg, nil
}

// FindOldestUnseen selects the FIFO head outside the excluded set. The
// excluded IDs travel as a bound text-array parameter.
func (s *Store) FindOldestUnseen(ctx context.Context, queueName string, excluded map[string]struct{}) (*types.Message, error) {
	ids := make([]string, 0, len(excluded))
	for id := range excluded {
		ids = append(ids, id)
	}

	var m types.Message
	err := s.pool.QueryRow(ctx, sqlFindOldest, queueName, ids).
		Scan(&m.ID, &m.QueueID, &m.Value, &m.EnqueuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNoMessage
		}
		return nil, fmt.Errorf("postgres: find oldest unseen: %w", err)
	}
	return &m, nil
}

// DeleteMessage removes a message row by ID.
func (s *Store) DeleteMessage(ctx context.Context, messageID string) error {
	ct, err := s.pool.Exec(ctx, sqlDeleteMessage, messageID)
	if err != nil {
		return fmt.Errorf("postgres: delete message: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrMessageNotFound
	}
	return nil
}

// PurgeAll truncates both tables in one statement.
func (s *Store) PurgeAll(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlPurgeAll); err != nil {
		return fmt.Errorf("postgres: purge: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
