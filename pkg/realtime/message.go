package realtime

import (
	"context"
	"encoding/json"
	"fmt"
)

// Message is one named push event with its raw JSON payload.
type Message struct {
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Sink receives messages in arrival order.
type Sink func(Message)

// Source streams push messages until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, sink Sink) error
	Close() error
}

// DecodeEnvelope parses the {"event","payload"} wire envelope.
func DecodeEnvelope(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}
	if msg.Name == "" {
		return Message{}, fmt.Errorf("decode envelope: missing event name")
	}
	return msg, nil
}
