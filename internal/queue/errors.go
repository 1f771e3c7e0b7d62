package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueFull reports that an item could not be queued within its timeout.
	ErrQueueFull = errors.New("queue: queue full")
	// ErrDisposed is returned by every operation on a disposed queue handle.
	ErrDisposed = errors.New("queue: queue disposed")
	// ErrStopped is returned while the owning manager is stopped.
	ErrStopped = errors.New("queue: manager stopped")
	// ErrTransactionActive is returned by Begin when the session already has a transaction.
	ErrTransactionActive = errors.New("queue: transaction already active")
	// ErrNoTransaction is returned by Commit, Rollback and Prepare without an active transaction.
	ErrNoTransaction = errors.New("queue: no active transaction")
	// ErrInterrupted wraps the context error of a cancelled blocking operation.
	ErrInterrupted = errors.New("queue: wait interrupted")
	// ErrQueueMaterialized is returned when a configuration change targets a
	// queue that is already in use. Configure queues before their first lookup.
	ErrQueueMaterialized = errors.New("queue: queue already materialized with a different configuration")
	// ErrNoDurableBackend is returned when a persistent queue is looked up on a
	// manager without a durable backend.
	ErrNoDurableBackend = errors.New("queue: persistent queue requires a durable backend")
	// ErrQueueNotFound is returned by Session.ExistingQueue for names that are
	// not materialized.
	ErrQueueNotFound = errors.New("queue: queue not found")
)

func interrupted(err error) error {
	return fmt.Errorf("%w: %w", ErrInterrupted, err)
}
