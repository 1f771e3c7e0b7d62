package dlq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sungwon/flowgate/internal/vm"
)

// maxReceiveBatch is the SQS per-call receive limit.
const maxReceiveBatch = 10

// SQSDLQ keeps dead letters in an SQS queue.
type SQSDLQ struct {
	client     sqsAPI
	queueURL   string
	dispatcher Dispatcher
	log        zerolog.Logger
}

// NewSQSDLQ creates an SQSDLQ on queueURL.
func NewSQSDLQ(client sqsAPI, queueURL string, dispatcher Dispatcher, log zerolog.Logger) *SQSDLQ {
	return &SQSDLQ{client: client, queueURL: queueURL, dispatcher: dispatcher, log: log}
}

// MoveToDLQ sends msg wrapped in an Entry to the queue.
func (d *SQSDLQ) MoveToDLQ(ctx context.Context, msg *vm.Message, reason string) error {
	entry := newEntry(msg, reason)
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dlq message: %w", err)
	}
	if _, err := d.client.SendMessage(ctx, d.queueURL, string(data)); err != nil {
		return fmt.Errorf("sqs send to dlq: %w", err)
	}
	MessagesTotal.WithLabelValues(entry.Endpoint).Inc()
	return nil
}

// List is not supported: SQS offers no way to browse a queue without
// receiving from it.
func (d *SQSDLQ) List(context.Context, int) ([]Entry, error) {
	return nil, ErrUnsupported
}

// Reprocess receives up to len(ids) entries and sends them back. SQS cannot
// read by ID, so the IDs only bound the batch size.
func (d *SQSDLQ) Reprocess(ctx context.Context, ids []string) (int, error) {
	batch := len(ids)
	if batch == 0 {
		return 0, nil
	}
	if batch > maxReceiveBatch {
		batch = maxReceiveBatch
	}

	msgs, err := d.client.ReceiveMessages(ctx, d.queueURL, int32(batch), 30)
	if err != nil {
		return 0, fmt.Errorf("sqs receive from dlq: %w", err)
	}

	reprocessed := 0
	for _, m := range msgs {
		var e Entry
		if err := json.Unmarshal([]byte(m.Body), &e); err != nil {
			d.log.Warn().Err(err).Str("sqs_message_id", m.MessageID).Msg("Skipping malformed dlq message")
			continue
		}
		e.ID = m.MessageID

		if err := requeue(ctx, d.dispatcher, e); err != nil {
			return reprocessed, err
		}
		if err := d.client.DeleteMessage(ctx, d.queueURL, m.ReceiptHandle); err != nil {
			return reprocessed, fmt.Errorf("delete dlq message: %w", err)
		}
		reprocessed++
	}
	return reprocessed, nil
}
