package transport

import (
	"encoding/json"
	"time"

	"github.com/streadway/amqp"
)

// Message is one consumed, not-yet-acked AMQP delivery decoded as a JSON
// object, matching messaging.Message.
type Message struct {
	ID        string
	ReplyTo   string
	Body      map[string]any
	Signature []byte

	delivery amqp.Delivery
}

// signatureFromHeaders extracts the opaque "signature" header (§4.B's
// payload, carried as raw bytes or as a string when the broker coerces
// table values), returning nil when absent.
func signatureFromHeaders(headers amqp.Table) []byte {
	v, ok := headers["signature"]
	if !ok {
		return nil
	}
	switch sig := v.(type) {
	case []byte:
		return sig
	case string:
		return []byte(sig)
	default:
		return nil
	}
}

// Ack acknowledges the underlying delivery. A Message built without a real
// delivery (NewTestMessage) acks as a no-op.
func (m *Message) Ack() error {
	if m.delivery.Acknowledger == nil {
		return nil
	}
	return m.delivery.Ack(false)
}

// NewTestMessage builds a Message with no backing AMQP delivery, for
// exercising consumers of *Message outside this package. Ack on the result
// is a no-op.
func NewTestMessage(id, replyTo string, body map[string]any, signature []byte) *Message {
	return &Message{ID: id, ReplyTo: replyTo, Body: body, Signature: signature}
}

// Subscription is an open consumer on one queue.
type Subscription struct {
	deliveries     <-chan amqp.Delivery
	checkException func() error
}

// GetMessage waits up to timeout for the next delivery, returning (nil, nil)
// on timeout (matching subscription.get_message's None return) and
// discarding any delivery that isn't a JSON object body.
func (s *Subscription) GetMessage(timeout time.Duration) (*Message, error) {
	if err := s.checkException(); err != nil {
		return nil, err
	}

	select {
	case d, ok := <-s.deliveries:
		if !ok {
			return nil, nil
		}
		var body map[string]any
		if err := json.Unmarshal(d.Body, &body); err != nil {
			// Not a JSON object: ack it away so a poison message doesn't
			// wedge the queue, and report nothing received this tick.
			_ = d.Ack(false)
			return nil, nil
		}
		return &Message{
			ID:        d.MessageId,
			ReplyTo:   d.ReplyTo,
			Body:      body,
			Signature: signatureFromHeaders(d.Headers),
			delivery:  d,
		}, nil
	case <-time.After(timeout):
		return nil, nil
	}
}
