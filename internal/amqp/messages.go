package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// LedgerEventMessage announces one committed ledger change. Consumers fetch
// current state by AggregateID; Payload carries the snapshot for rows that
// no longer exist.
type LedgerEventMessage struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// NewLedgerEventMessage creates a message stamped with the current time
func NewLedgerEventMessage(id int64, eventType, aggregateID string, payload json.RawMessage) *LedgerEventMessage {
	return &LedgerEventMessage{
		ID:          id,
		Type:        eventType,
		AggregateID: aggregateID,
		Timestamp:   time.Now().UTC(),
		Payload:     payload,
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// Validate rejects messages a consumer cannot act on
func (m *LedgerEventMessage) Validate() error {
	if m.ID <= 0 {
		return errors.New("message id is required")
	}
	if m.Type == "" {
		return errors.New("message type is required")
	}
	return nil
}

// LedgerEventMessageFromJSON decodes and validates a message
func LedgerEventMessageFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
