package queuestore

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sungwon/flowgate/internal/queue"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func payloads(t *testing.T, s queue.Storage) []string {
	t.Helper()
	var out []string
	for {
		item, ok, err := s.PopHead(context.Background())
		if err != nil {
			t.Fatalf("PopHead() error = %v", err)
		}
		if !ok {
			return out
		}
		out = append(out, string(item.Payload))
	}
}

func items(values ...string) []queue.Item {
	out := make([]queue.Item, len(values))
	for i, v := range values {
		out[i] = queue.NewItem([]byte(v))
	}
	return out
}

// testStorageContract exercises the ordering rules every backend must obey.
// The backend must not already hold content for the queue names it uses.
func testStorageContract(t *testing.T, b queue.Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("fifo", func(t *testing.T) {
		s, err := b.Open(ctx, "contract-fifo")
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if err := s.PushTail(ctx, items("a", "b", "c")...); err != nil {
			t.Fatalf("PushTail() error = %v", err)
		}
		if n, _ := s.Len(ctx); n != 3 {
			t.Errorf("Len() = %d, want 3", n)
		}
		head, ok, err := s.PeekHead(ctx)
		if err != nil || !ok || string(head.Payload) != "a" {
			t.Errorf("PeekHead() = %q, %v, %v; want a", head.Payload, ok, err)
		}
		if got := payloads(t, s); !equal(got, []string{"a", "b", "c"}) {
			t.Errorf("order = %v, want [a b c]", got)
		}
	})

	t.Run("push head", func(t *testing.T) {
		s, _ := b.Open(ctx, "contract-head")
		_ = s.PushTail(ctx, items("c")...)
		if err := s.PushHead(ctx, items("a", "b")...); err != nil {
			t.Fatalf("PushHead() error = %v", err)
		}
		_ = s.PushHead(ctx, items("first")...)
		_ = s.PushTail(ctx, items("last")...)
		if got, want := payloads(t, s), []string{"first", "a", "b", "c", "last"}; !equal(got, want) {
			t.Errorf("order = %v, want %v", got, want)
		}
	})

	t.Run("reopen keeps content", func(t *testing.T) {
		s, _ := b.Open(ctx, "contract-reopen")
		_ = s.PushTail(ctx, items("x", "y")...)
		reopened, err := b.Open(ctx, "contract-reopen")
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if got := payloads(t, reopened); !equal(got, []string{"x", "y"}) {
			t.Errorf("reopened order = %v, want [x y]", got)
		}
	})

	t.Run("clear and drop", func(t *testing.T) {
		s, _ := b.Open(ctx, "contract-clear")
		_ = s.PushTail(ctx, items("a", "b")...)
		if err := s.Clear(ctx); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}
		if n, _ := s.Len(ctx); n != 0 {
			t.Errorf("Len() after Clear = %d, want 0", n)
		}
		_ = s.PushTail(ctx, items("c")...)
		if err := s.Drop(ctx); err != nil {
			t.Fatalf("Drop() error = %v", err)
		}
		fresh, _ := b.Open(ctx, "contract-clear")
		if n, _ := fresh.Len(ctx); n != 0 {
			t.Errorf("Len() after Drop and reopen = %d, want 0", n)
		}
	})

	t.Run("empty pop", func(t *testing.T) {
		s, _ := b.Open(ctx, "contract-empty")
		if _, ok, err := s.PopHead(ctx); ok || err != nil {
			t.Errorf("PopHead() on empty = %v, %v; want false, nil", ok, err)
		}
		if _, ok, err := s.PeekHead(ctx); ok || err != nil {
			t.Errorf("PeekHead() on empty = %v, %v; want false, nil", ok, err)
		}
	})

	if err := b.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

// testColdRestart checks that a new manager over the same backend reloads
// persistent content.
func testColdRestart(t *testing.T, b queue.Backend) {
	t.Helper()
	ctx := context.Background()
	cfg := queue.Config{Persistent: true, Capacity: 10}

	first := queue.NewManager(testLogger(), queue.WithDurableBackend(b))
	_ = first.SetQueueConfig("durable-orders", cfg)
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	q, err := first.Session().Queue(ctx, "durable-orders")
	if err != nil {
		t.Fatalf("Queue() error = %v", err)
	}
	for _, p := range []string{"a", "b"} {
		if err := q.Put(ctx, []byte(p)); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	_ = first.Stop(ctx)

	second := queue.NewManager(testLogger(), queue.WithDurableBackend(b))
	_ = second.SetQueueConfig("durable-orders", cfg)
	_ = second.Start(ctx)
	q, err = second.Session().Queue(ctx, "durable-orders")
	if err != nil {
		t.Fatalf("Queue() error = %v", err)
	}
	if got := q.Size(ctx); got != 2 {
		t.Fatalf("Size() after cold restart = %d, want 2", got)
	}
	got, err := q.Take(ctx)
	if err != nil || string(got) != "a" {
		t.Errorf("Take() = %q, %v; want a", got, err)
	}
	_ = q.Dispose(ctx)
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
