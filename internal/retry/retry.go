// Package retry holds the jittered backoff schedule shared by callers that
// retry transient rejections (admission capacity, receiver back-off, DLQ
// reprocessing). The core components never retry on their own.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// DefaultSchedule is tuned for in-process backpressure, not network retries.
var DefaultSchedule = []time.Duration{
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	1 * time.Second,
}

// Strategy implements capped, scheduled backoff with jitter.
type Strategy struct {
	MaxRetries int
	Schedule   []time.Duration
}

// New returns a Strategy using DefaultSchedule.
func New(maxRetries int) *Strategy {
	return &Strategy{
		MaxRetries: maxRetries,
		Schedule:   DefaultSchedule,
	}
}

// ShouldRetry reports whether attempt (zero based) is still within budget.
func (s *Strategy) ShouldRetry(attempt int) bool {
	return attempt < s.MaxRetries
}

// NextBackoff returns the delay before the given attempt, jittered to
// base * (0.5 + rand*0.5). Attempts past the schedule reuse its last entry.
func (s *Strategy) NextBackoff(attempt int) time.Duration {
	if len(s.Schedule) == 0 {
		return 0
	}
	idx := attempt
	if idx < 0 {
		idx = 0
	}
	if idx >= len(s.Schedule) {
		idx = len(s.Schedule) - 1
	}

	base := s.Schedule[idx]
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(base) * jitter)
}

// Wait sleeps for NextBackoff(attempt) or until ctx is done.
func (s *Strategy) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(s.NextBackoff(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
