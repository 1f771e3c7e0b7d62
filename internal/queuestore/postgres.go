package queuestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sungwon/flowgate/internal/queue"
	"github.com/sungwon/flowgate/internal/storage"
)

// PostgresBackend stores queue items in the queue_items table ordered by seq.
type PostgresBackend struct {
	db *storage.DB
}

// NewPostgresBackend creates a PostgresBackend. The schema must already be
// migrated and the pool is owned by the caller.
func NewPostgresBackend(db *storage.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// Open returns the storage for name.
func (b *PostgresBackend) Open(_ context.Context, name string) (queue.Storage, error) {
	return &postgresStorage{db: b.db, name: name}, nil
}

// Ping verifies database connectivity.
func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.db.Ping(ctx)
}

// Close is a no-op; the pool belongs to the caller.
func (b *PostgresBackend) Close() error { return nil }

type postgresStorage struct {
	db   *storage.DB
	name string
}

const (
	insertTailSQL = `INSERT INTO queue_items (queue_name, seq, item_id, payload, enqueued_at)
SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4 FROM queue_items WHERE queue_name = $1`

	insertHeadSQL = `INSERT INTO queue_items (queue_name, seq, item_id, payload, enqueued_at)
SELECT $1, COALESCE(MIN(seq), 0) - 1, $2, $3, $4 FROM queue_items WHERE queue_name = $1`

	popHeadSQL = `DELETE FROM queue_items
WHERE queue_name = $1 AND seq = (
	SELECT seq FROM queue_items WHERE queue_name = $1
	ORDER BY seq LIMIT 1 FOR UPDATE SKIP LOCKED
)
RETURNING item_id, payload, enqueued_at`

	peekHeadSQL = `SELECT item_id, payload, enqueued_at FROM queue_items
WHERE queue_name = $1 ORDER BY seq LIMIT 1`
)

// insert runs one statement per item inside a single transaction so a batch
// lands completely or not at all.
func (s *postgresStorage) insert(ctx context.Context, sql string, items []queue.Item) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, item := range items {
		payload := item.Payload
		if payload == nil {
			payload = []byte{}
		}
		if _, err := tx.Exec(ctx, sql, s.name, item.ID, payload, item.EnqueuedAt); err != nil {
			return fmt.Errorf("insert queue item: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *postgresStorage) PushTail(ctx context.Context, items ...queue.Item) error {
	return s.insert(ctx, insertTailSQL, items)
}

func (s *postgresStorage) PushHead(ctx context.Context, items ...queue.Item) error {
	reversed := make([]queue.Item, len(items))
	for i, item := range items {
		reversed[len(items)-1-i] = item
	}
	return s.insert(ctx, insertHeadSQL, reversed)
}

func (s *postgresStorage) scanHead(ctx context.Context, sql string) (queue.Item, bool, error) {
	var item queue.Item
	err := s.db.Pool.QueryRow(ctx, sql, s.name).Scan(&item.ID, &item.Payload, &item.EnqueuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return queue.Item{}, false, nil
	}
	if err != nil {
		return queue.Item{}, false, fmt.Errorf("query queue head: %w", err)
	}
	return item, true, nil
}

func (s *postgresStorage) PopHead(ctx context.Context) (queue.Item, bool, error) {
	return s.scanHead(ctx, popHeadSQL)
}

func (s *postgresStorage) PeekHead(ctx context.Context) (queue.Item, bool, error) {
	return s.scanHead(ctx, peekHeadSQL)
}

func (s *postgresStorage) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM queue_items WHERE queue_name = $1`, s.name,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count queue items: %w", err)
	}
	return n, nil
}

func (s *postgresStorage) Clear(ctx context.Context) error {
	if _, err := s.db.Pool.Exec(ctx, `DELETE FROM queue_items WHERE queue_name = $1`, s.name); err != nil {
		return fmt.Errorf("delete queue items: %w", err)
	}
	return nil
}

func (s *postgresStorage) Drop(ctx context.Context) error {
	return s.Clear(ctx)
}
