// Package dlq stores messages that vm receivers gave up on and sends them
// back to their endpoints on request.
package dlq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sungwon/flowgate/internal/vm"
)

// ErrUnsupported is returned by backends that cannot list entries.
var ErrUnsupported = errors.New("dlq: operation not supported by backend")

// Entry wraps a failed message with failure metadata.
type Entry struct {
	ID              string      `json:"id,omitempty"`
	OriginalMessage *vm.Message `json:"original_message"`
	Endpoint        string      `json:"endpoint"`
	FailureReason   string      `json:"failure_reason"`
	MovedAt         time.Time   `json:"moved_at"`
}

func newEntry(msg *vm.Message, reason string) Entry {
	return Entry{
		OriginalMessage: msg,
		Endpoint:        msg.Headers[vm.HeaderEndpoint],
		FailureReason:   reason,
		MovedAt:         time.Now().UTC(),
	}
}

// Dispatcher re-enqueues reprocessed messages.
type Dispatcher interface {
	Dispatch(ctx context.Context, endpoint string, msg *vm.Message) error
}

// Queue is a dead letter queue backend.
type Queue interface {
	MoveToDLQ(ctx context.Context, msg *vm.Message, reason string) error
	List(ctx context.Context, limit int) ([]Entry, error)
	Reprocess(ctx context.Context, ids []string) (int, error)
}

// Config selects the backend.
type Config struct {
	Type      string `mapstructure:"type"` // "redis", "sqs" or "" for none
	StreamKey string `mapstructure:"stream_key"`
	QueueURL  string `mapstructure:"queue_url"`
	Region    string `mapstructure:"region"`
}

// New builds the configured backend. An empty type disables the dead letter
// queue and returns nil.
func New(ctx context.Context, cfg Config, client *redis.Client, dispatcher Dispatcher, log zerolog.Logger) (Queue, error) {
	switch cfg.Type {
	case "":
		log.Warn().Msg("No dead letter queue configured, failing messages are retried indefinitely")
		return nil, nil
	case "redis":
		if client == nil {
			return nil, errors.New("dlq: redis backend requires a redis client")
		}
		return NewRedisDLQ(client, cfg.StreamKey, dispatcher, log), nil
	case "sqs":
		if cfg.QueueURL == "" {
			return nil, errors.New("dlq: sqs backend requires queue_url")
		}
		c, err := newAWSSQSClient(ctx, cfg.Region)
		if err != nil {
			return nil, err
		}
		return NewSQSDLQ(c, cfg.QueueURL, dispatcher, log), nil
	default:
		return nil, fmt.Errorf("dlq: unknown type %q", cfg.Type)
	}
}

// requeue resets the retry count and dispatches the entry back to the
// endpoint it failed on.
func requeue(ctx context.Context, d Dispatcher, e Entry) error {
	if e.OriginalMessage == nil {
		return fmt.Errorf("dlq entry %s has no message", e.ID)
	}
	if e.Endpoint == "" {
		return fmt.Errorf("dlq entry %s has no endpoint", e.ID)
	}
	msg := *e.OriginalMessage
	msg.RetryCount = 0
	if err := d.Dispatch(ctx, e.Endpoint, &msg); err != nil {
		return fmt.Errorf("re-enqueue message %s: %w", msg.ID, err)
	}
	ReprocessedTotal.WithLabelValues(e.Endpoint).Inc()
	return nil
}
