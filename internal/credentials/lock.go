package credentials

import (
	"context"
	"sync"
)

// LockRegistry hands out named mutexes. Locks are created on first use and
// never removed, so a name always maps to the same lock.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[string]*NamedLock
}

// NewLockRegistry creates an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[string]*NamedLock)}
}

// Get returns the lock for name, creating it if needed.
func (r *LockRegistry) Get(name string) *NamedLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[name]
	if !ok {
		l = &NamedLock{name: name, ch: make(chan struct{}, 1)}
		r.locks[name] = l
	}
	return l
}

// Len returns the number of locks created so far.
func (r *LockRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}

// NamedLock is a mutex whose acquisition can be abandoned via a context.
type NamedLock struct {
	name string
	ch   chan struct{}
}

// Name returns the lock's registry name.
func (l *NamedLock) Name() string { return l.name }

// Lock blocks until the lock is held or ctx ends.
func (l *NamedLock) Lock(ctx context.Context) error {
	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryLock acquires the lock if it is free.
func (l *NamedLock) TryLock() bool {
	select {
	case l.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock releases the lock. Unlocking a free lock panics.
func (l *NamedLock) Unlock() {
	select {
	case <-l.ch:
	default:
		panic("credentials: unlock of unlocked lock " + l.name)
	}
}
