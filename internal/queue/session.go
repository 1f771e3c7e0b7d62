package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Session scopes queue access to one unit of work. It holds at most one
// transaction and implements txn.Resource. A session is not meant to be
// shared by concurrent transactions.
type Session struct {
	id  string
	mgr *Manager
	log zerolog.Logger

	mu sync.Mutex
	tx *txLog
}

// txLog is the provisional state of one session transaction.
type txLog struct {
	queues map[*boundedQueue]*queueTx
	order  []*boundedQueue
}

// queueTx is the provisional log for one queue. Every put and every item in
// taken holds one reserved capacity slot.
type queueTx struct {
	puts    []Item
	untakes []Item // untakes[0] is the head-most
	taken   []Item // in take order
}

func (l *txLog) forQueue(q *boundedQueue) *queueTx {
	qt, ok := l.queues[q]
	if !ok {
		qt = &queueTx{}
		l.queues[q] = qt
		l.order = append(l.order, q)
	}
	return qt
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Queue returns a handle on name, materializing the queue if needed.
func (s *Session) Queue(ctx context.Context, name string) (*Queue, error) {
	q, err := s.mgr.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Queue{name: name, q: q, s: s}, nil
}

// ExistingQueue is like Queue but never materializes name. It returns
// ErrQueueNotFound when name is not in use, e.g. after it was disposed.
func (s *Session) ExistingQueue(name string) (*Queue, error) {
	q, ok := s.mgr.lookupExisting(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrQueueNotFound, name)
	}
	return &Queue{name: name, q: q, s: s}, nil
}

// InTransaction reports whether a transaction is active.
func (s *Session) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil
}

// Begin starts a transaction.
func (s *Session) Begin(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return ErrTransactionActive
	}
	s.tx = &txLog{queues: make(map[*boundedQueue]*queueTx)}
	return nil
}

// Prepare votes on the active transaction. It fails if any touched queue
// belongs to a stopped manager.
func (s *Session) Prepare(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return ErrNoTransaction
	}
	for _, q := range s.tx.order {
		q.mu.Lock()
		stopped := q.stopped && !q.disposed
		q.mu.Unlock()
		if stopped {
			return fmt.Errorf("prepare queue %q: %w", q.name, ErrStopped)
		}
	}
	return nil
}

// Commit publishes the transaction's puts and untakes and makes its takes
// final. Disposed queues are skipped.
func (s *Session) Commit(ctx context.Context) error {
	tx, err := s.end()
	if err != nil {
		return err
	}
	var errs []error
	for _, q := range tx.order {
		if err := q.commit(ctx, tx.queues[q]); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		SessionTransactionsTotal.WithLabelValues("commit_failed").Inc()
		s.log.Error().Err(err).Msg("Queue session commit failed")
		return err
	}
	SessionTransactionsTotal.WithLabelValues("committed").Inc()
	return nil
}

// Rollback discards the transaction's puts and untakes and returns taken
// items to the head of their queues in their original order.
func (s *Session) Rollback(ctx context.Context) error {
	tx, err := s.end()
	if err != nil {
		return err
	}
	var errs []error
	for _, q := range tx.order {
		if err := q.rollback(ctx, tx.queues[q]); err != nil {
			errs = append(errs, err)
		}
	}
	SessionTransactionsTotal.WithLabelValues("rolled_back").Inc()
	if err := errors.Join(errs...); err != nil {
		s.log.Error().Err(err).Msg("Queue session rollback failed")
		return err
	}
	return nil
}

func (s *Session) end() (*txLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil, ErrNoTransaction
	}
	tx := s.tx
	s.tx = nil
	return tx, nil
}

func (s *Session) current() *txLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx
}

// record applies fn to q's log if tx is still the active transaction.
func (s *Session) record(tx *txLog, q *boundedQueue, fn func(*queueTx)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != tx {
		return false
	}
	fn(tx.forQueue(q))
	return true
}

// view runs fn on q's log without creating it. fn receives nil when the
// transaction has not touched q.
func (s *Session) view(tx *txLog, q *boundedQueue, fn func(*queueTx)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != tx {
		return false
	}
	fn(tx.queues[q])
	return true
}
