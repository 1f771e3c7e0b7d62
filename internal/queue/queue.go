package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// boundedQueue is the shared, committed state of one named queue. All state
// changes happen under mu; waiters block on changed, which is closed and
// replaced on every change so they re-check their condition.
type boundedQueue struct {
	name    string
	cfg     Config
	storage Storage
	log     zerolog.Logger

	mu       sync.Mutex
	size     int // committed items in storage
	reserved int // capacity slots held by open transactions
	stopped  bool
	disposed bool
	changed  chan struct{}
}

func newBoundedQueue(ctx context.Context, name string, cfg Config, storage Storage, log zerolog.Logger) (*boundedQueue, error) {
	n, err := storage.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("load queue %q: %w", name, err)
	}
	q := &boundedQueue{
		name:    name,
		cfg:     cfg,
		storage: storage,
		log:     log.With().Str("queue", name).Logger(),
		size:    n,
		changed: make(chan struct{}),
	}
	QueueDepth.WithLabelValues(name).Set(float64(n))
	return q, nil
}

func (q *boundedQueue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
	QueueDepth.WithLabelValues(q.name).Set(float64(q.size))
}

func (q *boundedQueue) usableLocked() error {
	if q.disposed {
		return ErrDisposed
	}
	if q.stopped {
		return ErrStopped
	}
	return nil
}

func (q *boundedQueue) hasRoomLocked() bool {
	return !q.cfg.Bounded() || q.size+q.reserved < q.cfg.Capacity
}

// waitLocked releases mu until the queue changes, timer fires or ctx ends.
// mu is held again on return.
func (q *boundedQueue) waitLocked(ctx context.Context, timer <-chan time.Time) (timedOut bool, err error) {
	ch := q.changed
	q.mu.Unlock()
	defer q.mu.Lock()
	select {
	case <-ch:
		return false, nil
	case <-timer:
		return true, nil
	case <-ctx.Done():
		return false, interrupted(ctx.Err())
	}
}

// awaitLocked waits until cond holds. block waits without a deadline;
// otherwise timeout bounds the wait and a zero timeout does not wait at all.
func (q *boundedQueue) awaitLocked(ctx context.Context, block bool, timeout time.Duration, cond func() bool) (bool, error) {
	var timer <-chan time.Time
	for {
		if err := q.usableLocked(); err != nil {
			return false, err
		}
		if cond() {
			return true, nil
		}
		if !block && timeout <= 0 {
			return false, nil
		}
		if !block && timer == nil {
			t := time.NewTimer(timeout)
			defer t.Stop()
			timer = t.C
		}
		timedOut, err := q.waitLocked(ctx, timer)
		if err != nil {
			return false, err
		}
		if timedOut {
			return false, nil
		}
	}
}

func (q *boundedQueue) hasItemsLocked() bool {
	return q.size > 0
}

// put appends item once there is room.
func (q *boundedQueue) put(ctx context.Context, item Item, block bool, timeout time.Duration) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ok, err := q.awaitLocked(ctx, block, timeout, q.hasRoomLocked)
	if err != nil || !ok {
		if err == nil {
			QueueOfferRejectedTotal.WithLabelValues(q.name).Inc()
		}
		return false, err
	}
	if err := q.storage.PushTail(ctx, item); err != nil {
		return false, fmt.Errorf("queue %q: put: %w", q.name, err)
	}
	q.size++
	q.broadcastLocked()
	QueueOperationsTotal.WithLabelValues(q.name, "put").Inc()
	return true, nil
}

// reserve holds one capacity slot for a transactional put.
func (q *boundedQueue) reserve(ctx context.Context, block bool, timeout time.Duration) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ok, err := q.awaitLocked(ctx, block, timeout, q.hasRoomLocked)
	if err != nil || !ok {
		if err == nil {
			QueueOfferRejectedTotal.WithLabelValues(q.name).Inc()
		}
		return false, err
	}
	q.reserved++
	return true, nil
}

// release returns n reserved slots.
func (q *boundedQueue) release(n int) {
	if n == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reserved -= n
	q.broadcastLocked()
}

// take removes the head. keepSlot leaves its capacity slot reserved so a
// rollback can return the item without overflowing.
func (q *boundedQueue) take(ctx context.Context, block bool, timeout time.Duration, keepSlot bool) (Item, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		ok, err := q.awaitLocked(ctx, block, timeout, q.hasItemsLocked)
		if err != nil || !ok {
			return Item{}, false, err
		}
		item, ok, err := q.storage.PopHead(ctx)
		if err != nil {
			return Item{}, false, fmt.Errorf("queue %q: take: %w", q.name, err)
		}
		if !ok {
			// storage was emptied behind our back; resync and wait again
			q.log.Warn().Int("cached_size", q.size).Msg("Queue storage empty while size was positive")
			q.size = 0
			continue
		}
		q.size--
		if keepSlot {
			q.reserved++
		}
		q.broadcastLocked()
		QueueOperationsTotal.WithLabelValues(q.name, "take").Inc()
		return item, true, nil
	}
}

func (q *boundedQueue) peek(ctx context.Context) (Item, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.usableLocked(); err != nil {
		return Item{}, false, err
	}
	item, ok, err := q.storage.PeekHead(ctx)
	if err != nil {
		return Item{}, false, fmt.Errorf("queue %q: peek: %w", q.name, err)
	}
	return item, ok, nil
}

// untake reinserts items at the head; items[0] becomes the head. Capacity is
// not checked, so an untake may push a bounded queue past its capacity.
func (q *boundedQueue) untake(ctx context.Context, items ...Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.usableLocked(); err != nil {
		return err
	}
	if err := q.storage.PushHead(ctx, items...); err != nil {
		return fmt.Errorf("queue %q: untake: %w", q.name, err)
	}
	q.size += len(items)
	q.broadcastLocked()
	QueueOperationsTotal.WithLabelValues(q.name, "untake").Add(float64(len(items)))
	return nil
}

func (q *boundedQueue) clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.usableLocked(); err != nil {
		return err
	}
	if err := q.storage.Clear(ctx); err != nil {
		return fmt.Errorf("queue %q: clear: %w", q.name, err)
	}
	q.size = 0
	q.broadcastLocked()
	QueueOperationsTotal.WithLabelValues(q.name, "clear").Inc()
	return nil
}

func (q *boundedQueue) dispose(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.disposed {
		return ErrDisposed
	}
	q.disposed = true
	q.size = 0
	q.reserved = 0
	q.broadcastLocked()
	QueueDepth.DeleteLabelValues(q.name)
	QueueOperationsTotal.WithLabelValues(q.name, "dispose").Inc()
	if err := q.storage.Drop(ctx); err != nil {
		return fmt.Errorf("queue %q: dispose: %w", q.name, err)
	}
	return nil
}

func (q *boundedQueue) setStopped(stopped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = stopped
	q.broadcastLocked()
}

func (q *boundedQueue) committedSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *boundedQueue) isDisposed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.disposed
}

// commit merges a transaction log: untakes go to the head, puts to the tail,
// and every slot the transaction reserved is released.
func (q *boundedQueue) commit(ctx context.Context, tx *queueTx) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.disposed {
		return nil
	}
	defer q.broadcastLocked()
	q.reserved -= len(tx.puts) + len(tx.taken)
	if len(tx.untakes) > 0 {
		if err := q.storage.PushHead(ctx, tx.untakes...); err != nil {
			return fmt.Errorf("queue %q: commit untakes: %w", q.name, err)
		}
		q.size += len(tx.untakes)
	}
	if len(tx.puts) > 0 {
		if err := q.storage.PushTail(ctx, tx.puts...); err != nil {
			return fmt.Errorf("queue %q: commit puts: %w", q.name, err)
		}
		q.size += len(tx.puts)
		QueueOperationsTotal.WithLabelValues(q.name, "put").Add(float64(len(tx.puts)))
	}
	return nil
}

// rollback returns taken items to the head in their original order and
// releases every reserved slot.
func (q *boundedQueue) rollback(ctx context.Context, tx *queueTx) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.disposed {
		return nil
	}
	defer q.broadcastLocked()
	q.reserved -= len(tx.puts) + len(tx.taken)
	if len(tx.taken) == 0 {
		return nil
	}
	if err := q.storage.PushHead(ctx, tx.taken...); err != nil {
		return fmt.Errorf("queue %q: rollback takes: %w", q.name, err)
	}
	q.size += len(tx.taken)
	return nil
}
