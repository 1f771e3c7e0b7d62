package vm

import (
	"errors"
	"fmt"

	"github.com/sungwon/flowgate/internal/queue"
)

// ErrResponseTimeout is returned by Send when no reply arrives in time.
var ErrResponseTimeout = errors.New("vm: response timeout")

// ErrReplyQueueGone is returned by Reply when the requester's reply queue no
// longer exists, typically because Send timed out.
var ErrReplyQueueGone = errors.New("vm: reply queue gone")

// QueueFullError reports a dispatch refused because the endpoint queue
// stayed full for the whole dispatch timeout. Nothing was enqueued.
type QueueFullError struct {
	Queue string
	Size  int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("vm: queue %q is full (size %d)", e.Queue, e.Size)
}

// Is makes errors.Is(err, queue.ErrQueueFull) hold for *QueueFullError.
func (e *QueueFullError) Is(target error) bool {
	return target == queue.ErrQueueFull
}
