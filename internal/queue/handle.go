package queue

import (
	"context"
	"time"
)

// Queue is a session-bound handle on a named queue. Inside a session
// transaction its operations are provisional until commit.
type Queue struct {
	name string
	q    *boundedQueue
	s    *Session
}

// Name returns the queue name.
func (h *Queue) Name() string { return h.name }

// Config returns the queue's configuration.
func (h *Queue) Config() Config { return h.q.cfg }

// Put appends payload, blocking until there is room.
func (h *Queue) Put(ctx context.Context, payload []byte) error {
	_, err := h.offer(ctx, payload, true, 0)
	return err
}

// Offer appends payload if room becomes available within timeout. A zero
// timeout never blocks. Unbounded queues always accept.
func (h *Queue) Offer(ctx context.Context, payload []byte, timeout time.Duration) (bool, error) {
	return h.offer(ctx, payload, false, timeout)
}

func (h *Queue) offer(ctx context.Context, payload []byte, block bool, timeout time.Duration) (bool, error) {
	item := NewItem(payload)
	tx := h.s.current()
	if tx == nil {
		return h.q.put(ctx, item, block, timeout)
	}
	ok, err := h.q.reserve(ctx, block, timeout)
	if err != nil || !ok {
		return false, err
	}
	if !h.s.record(tx, h.q, func(l *queueTx) { l.puts = append(l.puts, item) }) {
		h.q.release(1)
		return false, ErrNoTransaction
	}
	return true, nil
}

// Take removes and returns the head, blocking until an item is available.
func (h *Queue) Take(ctx context.Context) ([]byte, error) {
	item, _, err := h.take(ctx, true, 0)
	if err != nil {
		return nil, err
	}
	return item.Payload, nil
}

// Poll is Take bounded by timeout; ok is false when nothing arrived in time.
func (h *Queue) Poll(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	item, ok, err := h.take(ctx, false, timeout)
	if err != nil || !ok {
		return nil, false, err
	}
	return item.Payload, true, nil
}

// take consumes the session's pending untakes first, then the shared
// queue, then the session's own pending puts.
func (h *Queue) take(ctx context.Context, block bool, timeout time.Duration) (Item, bool, error) {
	tx := h.s.current()
	if tx == nil {
		return h.q.take(ctx, block, timeout, false)
	}

	var local Item
	var found bool
	h.s.view(tx, h.q, func(l *queueTx) {
		if l != nil && len(l.untakes) > 0 {
			local, found = l.untakes[0], true
			l.untakes = l.untakes[1:]
		}
	})
	if found {
		return local, true, nil
	}

	item, ok, err := h.q.take(ctx, false, 0, true)
	if err != nil {
		return Item{}, false, err
	}
	if !ok {
		h.s.view(tx, h.q, func(l *queueTx) {
			if l != nil && len(l.puts) > 0 {
				local, found = l.puts[0], true
				l.puts = l.puts[1:]
			}
		})
		if found {
			h.q.release(1)
			return local, true, nil
		}
		if !block && timeout <= 0 {
			return Item{}, false, nil
		}
		item, ok, err = h.q.take(ctx, block, timeout, true)
		if err != nil || !ok {
			return Item{}, false, err
		}
	}

	if !h.s.record(tx, h.q, func(l *queueTx) { l.taken = append(l.taken, item) }) {
		// the transaction ended while this take was waiting
		_ = h.q.rollback(ctx, &queueTx{taken: []Item{item}})
		return Item{}, false, ErrNoTransaction
	}
	return item, true, nil
}

// Peek returns the head visible to this session without removing it.
func (h *Queue) Peek(ctx context.Context) ([]byte, bool, error) {
	tx := h.s.current()
	if tx == nil {
		item, ok, err := h.q.peek(ctx)
		return item.Payload, ok, err
	}

	var local Item
	var found bool
	h.s.view(tx, h.q, func(l *queueTx) {
		if l != nil && len(l.untakes) > 0 {
			local, found = l.untakes[0], true
		}
	})
	if found {
		return local.Payload, true, nil
	}
	item, ok, err := h.q.peek(ctx)
	if err != nil || ok {
		return item.Payload, ok, err
	}
	h.s.view(tx, h.q, func(l *queueTx) {
		if l != nil && len(l.puts) > 0 {
			local, found = l.puts[0], true
		}
	})
	return local.Payload, found, nil
}

// Untake reinserts payload at the head. Successive untakes stack, so
// untaking items in reverse take order restores their original order.
// Capacity is not checked.
func (h *Queue) Untake(ctx context.Context, payload []byte) error {
	item := NewItem(payload)
	tx := h.s.current()
	if tx == nil {
		return h.q.untake(ctx, item)
	}
	if h.q.isDisposed() {
		return ErrDisposed
	}
	if !h.s.record(tx, h.q, func(l *queueTx) {
		l.untakes = append([]Item{item}, l.untakes...)
	}) {
		return ErrNoTransaction
	}
	return nil
}

// Clear empties the queue. It is not provisional: committed content is
// removed at once. Inside a transaction the session's pending puts and
// untakes are discarded too; items it already took are still returned on
// rollback.
func (h *Queue) Clear(ctx context.Context) error {
	tx := h.s.current()
	if tx != nil {
		var released int
		h.s.view(tx, h.q, func(l *queueTx) {
			if l != nil {
				released = len(l.puts)
				l.puts = nil
				l.untakes = nil
			}
		})
		h.q.release(released)
	}
	return h.q.clear(ctx)
}

// Dispose releases the queue's storage. The handle is unusable afterwards
// and a later lookup of the same name yields a fresh empty queue.
func (h *Queue) Dispose(ctx context.Context) error {
	return h.s.mgr.dispose(ctx, h.name, h.q)
}

// Size returns the number of items visible to this session: committed items
// plus the session's pending puts and untakes.
func (h *Queue) Size(_ context.Context) int {
	n := h.q.committedSize()
	if tx := h.s.current(); tx != nil {
		h.s.view(tx, h.q, func(l *queueTx) {
			if l != nil {
				n += len(l.puts) + len(l.untakes)
			}
		})
	}
	return n
}
