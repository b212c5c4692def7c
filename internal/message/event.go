package message

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"courier/pkg/errors"
)

// Event types reported by transports for an outbound message.
const (
	EventAck            = "ack"
	EventNack           = "nack"
	EventDeliveryReport = "delivery_report"
)

// Delivery report statuses.
const (
	DeliveryPending   = "pending"
	DeliveryFailed    = "failed"
	DeliveryDelivered = "delivered"
)

// Event is a transport-level acknowledgement or delivery report for a
// previously sent user message.
type Event struct {
	EventID        string                 `json:"event_id"`
	EventType      string                 `json:"event_type"`
	UserMessageID  string                 `json:"user_message_id"`
	SentMessageID  string                 `json:"sent_message_id,omitempty"`
	NackReason     string                 `json:"nack_reason,omitempty"`
	DeliveryStatus string                 `json:"delivery_status,omitempty"`
	SandboxID      string                 `json:"sandbox_id,omitempty"`
	Endpoint       string                 `json:"routing_endpoint,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	HelperMetadata map[string]interface{} `json:"helper_metadata,omitempty"`
}

// NewAck builds an ack event for the given user message.
func NewAck(userMessageID, sentMessageID string) *Event {
	return &Event{
		EventID:       uuid.New().String(),
		EventType:     EventAck,
		UserMessageID: userMessageID,
		SentMessageID: sentMessageID,
		Timestamp:     time.Now().UTC(),
	}
}

// NewNack builds a nack event with the given reason.
func NewNack(userMessageID, reason string) *Event {
	return &Event{
		EventID:       uuid.New().String(),
		EventType:     EventNack,
		UserMessageID: userMessageID,
		NackReason:    reason,
		Timestamp:     time.Now().UTC(),
	}
}

// NewDeliveryReport builds a delivery report event with the given status.
func NewDeliveryReport(userMessageID, status string) *Event {
	return &Event{
		EventID:        uuid.New().String(),
		EventType:      EventDeliveryReport,
		UserMessageID:  userMessageID,
		DeliveryStatus: status,
		Timestamp:      time.Now().UTC(),
	}
}

// RoutingEndpoint returns the endpoint this event is addressed to,
// defaulting to "default" when unset.
func (e *Event) RoutingEndpoint() string {
	if e.Endpoint == "" {
		return "default"
	}
	return e.Endpoint
}

// Encode serializes the event to JSON.
func (e *Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, errors.InvalidParams)
	}
	return data, nil
}

// DecodeEvent parses a JSON-encoded event.
func DecodeEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrapf(err, errors.InvalidParams, "invalid event: %v", err)
	}
	if e.UserMessageID == "" {
		return nil, errors.New(errors.RequiredFieldEmpty).
			WithMessage("event missing user_message_id")
	}
	return &e, nil
}
