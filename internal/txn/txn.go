// Package txn coordinates two-phase commit across transactional resources
// enlisted in one unit of work, such as several queue sessions or a queue
// session plus a credential store.
package txn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrCompleted is returned when a committed or rolled-back transaction is used again.
	ErrCompleted = errors.New("txn: transaction already completed")
	// ErrTimedOut is returned by Commit when the transaction outlived its timeout.
	// The transaction has been rolled back.
	ErrTimedOut = errors.New("txn: transaction timed out")
	// ErrPrepareFailed is returned by Commit when a resource refused to prepare.
	// Every resource has been rolled back.
	ErrPrepareFailed = errors.New("txn: prepare failed")
	// ErrHeuristic is returned when some resources failed to commit after all
	// of them prepared successfully.
	ErrHeuristic = errors.New("txn: heuristic outcome")
)

// Resource is a participant in a two-phase-commit unit of work. Implementations
// must be pointer types so the same resource is only enlisted once.
type Resource interface {
	Begin(ctx context.Context) error
	Prepare(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Status is the lifecycle position of a Transaction.
type Status int

const (
	StatusActive Status = iota
	StatusCommitted
	StatusRolledBack
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCommitted:
		return "committed"
	case StatusRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Transaction is one coordinated unit of work.
type Transaction struct {
	id       string
	log      zerolog.Logger
	deadline time.Time

	mu        sync.Mutex
	status    Status
	resources []Resource
}

// New starts a transaction. A zero timeout means the transaction never expires.
func New(timeout time.Duration, log zerolog.Logger) *Transaction {
	t := &Transaction{
		id:     uuid.NewString(),
		status: StatusActive,
	}
	if timeout > 0 {
		t.deadline = time.Now().Add(timeout)
	}
	t.log = log.With().Str("txn_id", t.id).Logger()
	return t
}

// ID returns the transaction identifier.
func (t *Transaction) ID() string { return t.id }

// Status returns the current status.
func (t *Transaction) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Enlist begins r inside this transaction. Enlisting the same resource twice
// is a no-op.
func (t *Transaction) Enlist(ctx context.Context, r Resource) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusActive {
		return ErrCompleted
	}
	for _, existing := range t.resources {
		if existing == r {
			return nil
		}
	}
	if err := r.Begin(ctx); err != nil {
		return fmt.Errorf("txn: enlist resource: %w", err)
	}
	t.resources = append(t.resources, r)
	return nil
}

// Commit prepares every enlisted resource and, when all of them agree,
// commits each one. A failed prepare or an expired timeout rolls everything
// back instead.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusActive {
		return ErrCompleted
	}

	if !t.deadline.IsZero() && time.Now().After(t.deadline) {
		rerr := t.rollbackLocked(ctx)
		TransactionsTotal.WithLabelValues("timed_out").Inc()
		t.log.Warn().Msg("transaction timed out before commit, rolled back")
		return errors.Join(ErrTimedOut, rerr)
	}

	for i, r := range t.resources {
		if err := r.Prepare(ctx); err != nil {
			t.log.Warn().Err(err).Int("resource", i).Msg("prepare failed, rolling back")
			rerr := t.rollbackLocked(ctx)
			TransactionsTotal.WithLabelValues("prepare_failed").Inc()
			return errors.Join(fmt.Errorf("%w: %w", ErrPrepareFailed, err), rerr)
		}
	}

	var errs []error
	for _, r := range t.resources {
		if err := r.Commit(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	t.status = StatusCommitted

	if len(errs) > 0 {
		TransactionsTotal.WithLabelValues("heuristic").Inc()
		t.log.Error().Err(errors.Join(errs...)).Msg("commit failed after successful prepare")
		return fmt.Errorf("%w: %w", ErrHeuristic, errors.Join(errs...))
	}

	TransactionsTotal.WithLabelValues("committed").Inc()
	return nil
}

// Rollback rolls back every enlisted resource.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusActive {
		return ErrCompleted
	}
	err := t.rollbackLocked(ctx)
	TransactionsTotal.WithLabelValues("rolled_back").Inc()
	return err
}

func (t *Transaction) rollbackLocked(ctx context.Context) error {
	var errs []error
	for i := len(t.resources) - 1; i >= 0; i-- {
		if err := t.resources[i].Rollback(ctx); err != nil {
			t.log.Error().Err(err).Int("resource", i).Msg("resource rollback failed")
			errs = append(errs, err)
		}
	}
	t.status = StatusRolledBack
	return errors.Join(errs...)
}

type contextKey struct{}

// WithTransaction returns a context carrying t.
func WithTransaction(ctx context.Context, t *Transaction) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext returns the active transaction carried by ctx, if any.
func FromContext(ctx context.Context) (*Transaction, bool) {
	t, ok := ctx.Value(contextKey{}).(*Transaction)
	if !ok || t.Status() != StatusActive {
		return nil, false
	}
	return t, true
}
