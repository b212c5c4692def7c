package message

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"courier/pkg/errors"
)

// Session event values carried on user messages.
const (
	SessionNone   = ""
	SessionNew    = "new"
	SessionResume = "resume"
	SessionClose  = "close"
)

// UserMessage is a single inbound or outbound user-facing message.
type UserMessage struct {
	MessageID      string                 `json:"message_id"`
	ToAddr         string                 `json:"to_addr"`
	FromAddr       string                 `json:"from_addr"`
	Group          string                 `json:"group,omitempty"`
	InReplyTo      string                 `json:"in_reply_to,omitempty"`
	Content        string                 `json:"content"`
	SessionEvent   string                 `json:"session_event,omitempty"`
	TransportName  string                 `json:"transport_name,omitempty"`
	TransportType  string                 `json:"transport_type,omitempty"`
	SandboxID      string                 `json:"sandbox_id,omitempty"`
	Endpoint       string                 `json:"routing_endpoint,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	HelperMetadata map[string]interface{} `json:"helper_metadata,omitempty"`
}

// NewOutbound builds an outbound message addressed to the given recipient.
func NewOutbound(toAddr, fromAddr, content string) *UserMessage {
	return &UserMessage{
		MessageID: uuid.New().String(),
		ToAddr:    toAddr,
		FromAddr:  fromAddr,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// Reply constructs a response to this message. The reply swaps the
// addresses, references the original message id and continues or closes
// the session.
func (m *UserMessage) Reply(content string, continueSession bool) *UserMessage {
	sessionEvent := SessionNone
	if !continueSession {
		sessionEvent = SessionClose
	}
	return &UserMessage{
		MessageID:     uuid.New().String(),
		ToAddr:        m.FromAddr,
		FromAddr:      m.ToAddr,
		InReplyTo:     m.MessageID,
		Content:       content,
		SessionEvent:  sessionEvent,
		TransportName: m.TransportName,
		TransportType: m.TransportType,
		SandboxID:     m.SandboxID,
		Endpoint:      m.Endpoint,
		Timestamp:     time.Now().UTC(),
	}
}

// ReplyGroup constructs a response addressed to the message's group
// rather than its individual sender.
func (m *UserMessage) ReplyGroup(content string, continueSession bool) (*UserMessage, error) {
	if m.Group == "" {
		return nil, errors.New(errors.InvalidParams).
			WithMessage("cannot reply to group: message has no group")
	}
	reply := m.Reply(content, continueSession)
	reply.ToAddr = m.Group
	reply.Group = m.Group
	return reply, nil
}

// RoutingEndpoint returns the endpoint this message is addressed to,
// defaulting to "default" when unset.
func (m *UserMessage) RoutingEndpoint() string {
	if m.Endpoint == "" {
		return "default"
	}
	return m.Endpoint
}

// Encode serializes the message to JSON.
func (m *UserMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, errors.InvalidParams)
	}
	return data, nil
}

// DecodeUserMessage parses a JSON-encoded user message.
func DecodeUserMessage(data []byte) (*UserMessage, error) {
	var m UserMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, errors.InvalidParams, "invalid user message: %v", err)
	}
	if m.MessageID == "" {
		return nil, errors.New(errors.RequiredFieldEmpty).
			WithMessage("user message missing message_id")
	}
	return &m, nil
}
