package queue

import (
	"context"
	"testing"
)

func TestMemoryStorage_Deque(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := NewMemoryBackend().Open(ctx, "deque")
	_ = s.PushTail(ctx, NewItem([]byte("c")), NewItem([]byte("d")))
	_ = s.PushHead(ctx, NewItem([]byte("a")), NewItem([]byte("b")))

	head, ok, _ := s.PeekHead(ctx)
	if !ok || string(head.Payload) != "a" {
		t.Fatalf("PeekHead() = %q, want a", head.Payload)
	}

	// pop then push head reuses the freed prefix
	first, _, _ := s.PopHead(ctx)
	_ = s.PushHead(ctx, first)

	var got []string
	for {
		item, ok, err := s.PopHead(ctx)
		if err != nil {
			t.Fatalf("PopHead() error = %v", err)
		}
		if !ok {
			break
		}
		got = append(got, string(item.Payload))
	}
	if want := []string{"a", "b", "c", "d"}; !equalStrings(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	if n, _ := s.Len(ctx); n != 0 {
		t.Errorf("Len() = %d, want 0", n)
	}
}

func TestNewItem_CopiesPayload(t *testing.T) {
	t.Parallel()

	payload := []byte("abc")
	item := NewItem(payload)
	payload[0] = 'x'
	if string(item.Payload) != "abc" {
		t.Errorf("Payload = %q, want abc", item.Payload)
	}
	if item.ID == "" {
		t.Error("ID is empty")
	}
}
