// Package vm carries messages between components over queue manager
// endpoints, with optional claim-check storage for large bodies and
// transactional receivers.
package vm

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Header names set by receivers on dead-lettered messages.
const (
	HeaderEndpoint = "x-flowgate-endpoint"
	HeaderError    = "x-flowgate-error"
)

// Message is the envelope carried by vm endpoint queues.
//
// The body travels either inline in Payload or, for large bodies, in the
// payload store under PayloadRef; the receiver resolves the reference.
type Message struct {
	ID            string            `json:"id"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	ReplyTo       string            `json:"reply_to,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Payload       []byte            `json:"payload,omitempty"`
	PayloadRef    string            `json:"payload_ref,omitempty"`
	RetryCount    int               `json:"retry_count"`
	CreatedAt     time.Time         `json:"created_at"`
}

// NewMessage creates a Message with a generated ID and current timestamp.
func NewMessage(payload []byte) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Headers:   make(map[string]string),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// NewReply creates a response to m, correlated by m's ID.
func NewReply(m *Message, payload []byte) *Message {
	r := NewMessage(payload)
	r.CorrelationID = m.ID
	return r
}

// HasInlineBody reports whether the body travels inside the message.
func (m *Message) HasInlineBody() bool {
	return m.PayloadRef == ""
}

// SetHeader sets a header, allocating the map when needed.
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// Encode serializes m for queueing.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return data, nil
}

// DecodeMessage parses a queued message.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("unmarshal message: missing id")
	}
	return &m, nil
}
