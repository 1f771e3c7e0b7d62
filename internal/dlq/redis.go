package dlq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sungwon/flowgate/internal/vm"
)

// DefaultStreamKey is the Redis stream holding dead letters.
const DefaultStreamKey = "flowgate:dlq"

// RedisDLQ keeps dead letters in a Redis stream.
type RedisDLQ struct {
	client     *redis.Client
	stream     string
	dispatcher Dispatcher
	log        zerolog.Logger
}

// NewRedisDLQ creates a RedisDLQ on stream, or DefaultStreamKey when empty.
func NewRedisDLQ(client *redis.Client, stream string, dispatcher Dispatcher, log zerolog.Logger) *RedisDLQ {
	if stream == "" {
		stream = DefaultStreamKey
	}
	return &RedisDLQ{client: client, stream: stream, dispatcher: dispatcher, log: log}
}

// MoveToDLQ appends msg to the stream.
func (d *RedisDLQ) MoveToDLQ(ctx context.Context, msg *vm.Message, reason string) error {
	entry := newEntry(msg, reason)
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dlq message: %w", err)
	}

	err = d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: d.stream,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd to dlq stream %s: %w", d.stream, err)
	}

	MessagesTotal.WithLabelValues(entry.Endpoint).Inc()
	return nil
}

// List returns up to limit entries, oldest first.
func (d *RedisDLQ) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	msgs, err := d.client.XRangeN(ctx, d.stream, "-", "+", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange dlq stream %s: %w", d.stream, err)
	}

	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		e, ok := d.decode(m)
		if !ok {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Reprocess sends the given entries back to their endpoints and removes
// them from the stream. It returns the number reprocessed.
func (d *RedisDLQ) Reprocess(ctx context.Context, ids []string) (int, error) {
	reprocessed := 0

	for _, id := range ids {
		msgs, err := d.client.XRange(ctx, d.stream, id, id).Result()
		if err != nil {
			return reprocessed, fmt.Errorf("xrange dlq message %s: %w", id, err)
		}
		if len(msgs) == 0 {
			continue
		}
		e, ok := d.decode(msgs[0])
		if !ok {
			continue
		}

		if err := requeue(ctx, d.dispatcher, e); err != nil {
			return reprocessed, err
		}
		if err := d.client.XDel(ctx, d.stream, id).Err(); err != nil {
			return reprocessed, fmt.Errorf("xdel dlq message %s: %w", id, err)
		}
		reprocessed++
	}

	return reprocessed, nil
}

func (d *RedisDLQ) decode(m redis.XMessage) (Entry, bool) {
	data, ok := m.Values["data"].(string)
	if !ok {
		d.log.Warn().Str("entry_id", m.ID).Msg("Skipping dlq entry without data")
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		d.log.Warn().Err(err).Str("entry_id", m.ID).Msg("Skipping malformed dlq entry")
		return Entry{}, false
	}
	e.ID = m.ID
	return e, true
}
