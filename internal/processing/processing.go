// Package processing admits events into pipelines under a concurrency
// ceiling and reports backpressure to the submitter.
package processing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrCapacityExceeded is returned when an event is rejected because the
	// sink is at its concurrency ceiling. The event was never accepted and may
	// be resubmitted.
	ErrCapacityExceeded = errors.New("processing: capacity exceeded")
	// ErrSinkActive is returned by CreateSink while the pipeline's previous sink is live.
	ErrSinkActive = errors.New("processing: sink already active for pipeline")
	// ErrSinkDisposed is returned by operations on a disposed sink.
	ErrSinkDisposed = errors.New("processing: sink disposed")
)

// CapacityError describes a rejected admission. It matches ErrCapacityExceeded.
type CapacityError struct {
	PipelineID     string
	MaxConcurrency int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("processing: pipeline %s at capacity (%d in flight)", e.PipelineID, e.MaxConcurrency)
}

// Is makes errors.Is(err, ErrCapacityExceeded) hold for *CapacityError.
func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacityExceeded
}

// Retryable reports that the rejected event can be submitted again.
func (e *CapacityError) Retryable() bool { return true }

// PanicError wraps a value recovered from a panicking pipeline.
type PanicError struct {
	PipelineID string
	Value      any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("processing: pipeline %s panicked: %v", e.PipelineID, e.Value)
}

// Event is the unit of work flowing through a pipeline.
type Event struct {
	ID            string            `json:"id"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Payload       []byte            `json:"payload"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// NewEvent creates an event with a fresh ID.
func NewEvent(payload []byte) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Payload:    payload,
		Attributes: make(map[string]string),
		CreatedAt:  time.Now().UTC(),
	}
}

// PipelineFunc processes one event and returns the result event.
type PipelineFunc func(ctx context.Context, ev *Event) (*Event, error)

// ExceptionHandler receives pipeline failures. It may recover by returning
// a result event and nil, or return the error to propagate.
type ExceptionHandler func(ctx context.Context, ev *Event, err error) (*Event, error)

// Config controls admission for sinks created by a Strategy.
type Config struct {
	// MaxConcurrency caps in-flight events per sink; 0 means unbounded.
	MaxConcurrency int `mapstructure:"max_concurrency"`
	// EagerCheck rejects at once when the cap is reached instead of waiting.
	EagerCheck bool `mapstructure:"eager_check"`
	// Synchronous runs pipelines on the submitting goroutine.
	Synchronous bool `mapstructure:"synchronous"`
}

// DefaultConfig returns an unbounded, eager, asynchronous configuration.
func DefaultConfig() Config {
	return Config{EagerCheck: true}
}

// Validate rejects negative concurrency.
func (c Config) Validate() error {
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("processing: max_concurrency must be >= 0, got %d", c.MaxConcurrency)
	}
	return nil
}
