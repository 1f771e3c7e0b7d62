package queue

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Item is one stored queue entry.
type Item struct {
	ID         string    `json:"id"`
	Payload    []byte    `json:"payload"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewItem wraps a copy of payload in an Item with a fresh ID.
func NewItem(payload []byte) Item {
	return Item{
		ID:         uuid.NewString(),
		Payload:    slices.Clone(payload),
		EnqueuedAt: time.Now().UTC(),
	}
}

// Storage holds the ordered content of one queue. The queue serializes every
// call under its own lock, so implementations need not lock per queue, but a
// backend shared by many queues must be safe for concurrent use.
type Storage interface {
	// PushTail appends items in order.
	PushTail(ctx context.Context, items ...Item) error
	// PushHead inserts items before the current head; items[0] becomes the new head.
	PushHead(ctx context.Context, items ...Item) error
	// PopHead removes and returns the head. ok is false when empty.
	PopHead(ctx context.Context) (item Item, ok bool, err error)
	// PeekHead returns the head without removing it. ok is false when empty.
	PeekHead(ctx context.Context) (item Item, ok bool, err error)
	// Len returns the number of stored items.
	Len(ctx context.Context) (int, error)
	// Clear removes every item.
	Clear(ctx context.Context) error
	// Drop discards the storage. The Storage is unusable afterwards.
	Drop(ctx context.Context) error
}

// Backend opens per-queue storages. Durable backends must return the content
// previously stored under name, including after a process restart.
type Backend interface {
	Open(ctx context.Context, name string) (Storage, error)
	Ping(ctx context.Context) error
	Close() error
}

// MemoryBackend keeps queue content in process memory. Every Open returns a
// fresh empty storage.
type MemoryBackend struct{}

// NewMemoryBackend returns the in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Open returns an empty in-memory storage.
func (b *MemoryBackend) Open(_ context.Context, _ string) (Storage, error) {
	return &memoryStorage{}, nil
}

// Ping always succeeds.
func (b *MemoryBackend) Ping(context.Context) error { return nil }

// Close is a no-op.
func (b *MemoryBackend) Close() error { return nil }

// memoryStorage is a slice-backed deque; head is items[head].
type memoryStorage struct {
	items []Item
	head  int
}

func (s *memoryStorage) PushTail(_ context.Context, items ...Item) error {
	s.items = append(s.items, items...)
	return nil
}

func (s *memoryStorage) PushHead(_ context.Context, items ...Item) error {
	if len(items) <= s.head {
		s.head -= len(items)
		copy(s.items[s.head:], items)
		return nil
	}
	live := s.items[s.head:]
	merged := make([]Item, 0, len(items)+len(live))
	merged = append(merged, items...)
	merged = append(merged, live...)
	s.items = merged
	s.head = 0
	return nil
}

func (s *memoryStorage) PopHead(_ context.Context) (Item, bool, error) {
	if s.head >= len(s.items) {
		return Item{}, false, nil
	}
	item := s.items[s.head]
	s.items[s.head] = Item{}
	s.head++
	if s.head == len(s.items) {
		s.items = s.items[:0]
		s.head = 0
	} else if s.head > 64 && s.head*2 > len(s.items) {
		s.items = slices.Clone(s.items[s.head:])
		s.head = 0
	}
	return item, true, nil
}

func (s *memoryStorage) PeekHead(_ context.Context) (Item, bool, error) {
	if s.head >= len(s.items) {
		return Item{}, false, nil
	}
	return s.items[s.head], true, nil
}

func (s *memoryStorage) Len(context.Context) (int, error) {
	return len(s.items) - s.head, nil
}

func (s *memoryStorage) Clear(context.Context) error {
	s.items = nil
	s.head = 0
	return nil
}

func (s *memoryStorage) Drop(ctx context.Context) error {
	return s.Clear(ctx)
}
