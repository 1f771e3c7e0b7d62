package processing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Sink is the admission point of one pipeline instance. It tracks in-flight
// events with an atomic counter and applies the strategy's backpressure.
type Sink struct {
	pipelineID string
	strategy   *Strategy
	fn         PipelineFunc
	log        zerolog.Logger
	sem        *semaphore.Weighted // set when bounded without eager check

	inFlight atomic.Int64

	mu       sync.RWMutex // guards disposed against wg.Add
	disposed bool
	wg       sync.WaitGroup

	// stopped is cancelled by Dispose and aborts semaphore waits.
	stopped context.Context
	stop    context.CancelFunc
}

// Future is the pending result of an emitted event.
type Future struct {
	done chan struct{}
	ev   *Event
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(ev *Event, err error) {
	f.ev, f.err = ev, err
	close(f.done)
}

// Done is closed when the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx ends.
func (f *Future) Wait(ctx context.Context) (*Event, error) {
	select {
	case <-f.done:
		return f.ev, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PipelineID returns the ID of the pipeline this sink feeds.
func (k *Sink) PipelineID() string { return k.pipelineID }

// InFlight returns the number of admitted events not yet completed.
func (k *Sink) InFlight() int {
	return int(k.inFlight.Load())
}

// admit reserves an execution slot. With eager check at the ceiling it fails
// with *CapacityError; otherwise it may wait on the semaphore. The wait is
// done outside k.mu so Dispose is never blocked behind a queued submitter.
func (k *Sink) admit(ctx context.Context) error {
	k.mu.RLock()
	if k.disposed {
		k.mu.RUnlock()
		return ErrSinkDisposed
	}
	k.wg.Add(1)
	k.mu.RUnlock()

	cfg := k.strategy.cfg
	if cfg.MaxConcurrency > 0 && cfg.EagerCheck {
		limit := int64(cfg.MaxConcurrency)
		for {
			cur := k.inFlight.Load()
			if cur >= limit {
				k.wg.Done()
				AdmissionsTotal.WithLabelValues(k.pipelineID, "rejected").Inc()
				return &CapacityError{PipelineID: k.pipelineID, MaxConcurrency: cfg.MaxConcurrency}
			}
			if k.inFlight.CompareAndSwap(cur, cur+1) {
				break
			}
		}
	} else {
		if k.sem != nil {
			if err := k.acquire(ctx); err != nil {
				k.wg.Done()
				return err
			}
		}
		k.inFlight.Add(1)
	}

	AdmissionsTotal.WithLabelValues(k.pipelineID, "accepted").Inc()
	InFlight.WithLabelValues(k.pipelineID).Inc()
	return nil
}

// acquire waits for a semaphore slot until ctx ends or the sink is disposed.
func (k *Sink) acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	unregister := context.AfterFunc(k.stopped, cancel)
	defer unregister()

	if err := k.sem.Acquire(waitCtx, 1); err != nil {
		if k.stopped.Err() != nil && ctx.Err() == nil {
			return ErrSinkDisposed
		}
		return fmt.Errorf("processing: wait for capacity: %w", err)
	}
	return nil
}

// finish releases the slot taken by admit. It runs exactly once per admission.
func (k *Sink) finish() {
	k.inFlight.Add(-1)
	if k.sem != nil {
		k.sem.Release(1)
	}
	InFlight.WithLabelValues(k.pipelineID).Dec()
	k.wg.Done()
}

func (k *Sink) run(ctx context.Context, ev *Event) (out *Event, err error) {
	defer k.finish()
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &PanicError{PipelineID: k.pipelineID, Value: r}
			k.log.Error().Interface("panic", r).Str("event_id", ev.ID).Msg("Pipeline panicked")
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return k.fn(ctx, ev)
}

// Accept runs ev through the pipeline on the calling goroutine and returns
// its result.
func (k *Sink) Accept(ctx context.Context, ev *Event) (*Event, error) {
	if err := k.admit(ctx); err != nil {
		return nil, err
	}
	return k.run(ctx, ev)
}

// Emit submits ev. A rejection is returned directly and means the event was
// not accepted. Synchronous strategies run the pipeline before returning a
// completed Future; asynchronous ones run it on a new goroutine.
func (k *Sink) Emit(ctx context.Context, ev *Event) (*Future, error) {
	if err := k.admit(ctx); err != nil {
		return nil, err
	}
	f := newFuture()
	if k.strategy.cfg.Synchronous {
		f.complete(k.run(ctx, ev))
		return f, nil
	}
	go func() {
		f.complete(k.run(context.WithoutCancel(ctx), ev))
	}()
	return f, nil
}

// Dispose stops admission, aborts submitters still waiting for a slot and
// waits for in-flight events or ctx. It must be
// called exactly once per pipeline stop; later calls return ErrSinkDisposed.
func (k *Sink) Dispose(ctx context.Context) error {
	k.mu.Lock()
	if k.disposed {
		k.mu.Unlock()
		return ErrSinkDisposed
	}
	k.disposed = true
	k.mu.Unlock()
	k.stop()
	k.strategy.release(k.pipelineID, k)

	drained := make(chan struct{})
	go func() {
		k.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		k.log.Debug().Msg("Sink disposed")
		return nil
	case <-ctx.Done():
		k.log.Warn().Int("in_flight", k.InFlight()).Msg("Sink disposed before in-flight events drained")
		return ctx.Err()
	}
}
