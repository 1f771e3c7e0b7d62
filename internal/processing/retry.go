package processing

import (
	"context"
	"errors"

	"github.com/sungwon/flowgate/internal/retry"
)

// SubmitWithRetry emits ev and retries capacity rejections with the
// strategy's jittered backoff. Other errors are returned at once.
func SubmitWithRetry(ctx context.Context, k *Sink, ev *Event, rs *retry.Strategy) (*Future, error) {
	for attempt := 0; ; attempt++ {
		f, err := k.Emit(ctx, ev)
		if err == nil || !errors.Is(err, ErrCapacityExceeded) {
			return f, err
		}
		if !rs.ShouldRetry(attempt) {
			return nil, err
		}
		RetriesTotal.WithLabelValues(k.pipelineID).Inc()
		if werr := rs.Wait(ctx, attempt); werr != nil {
			return nil, werr
		}
	}
}
