package message_test

import (
	"testing"

	"courier/internal/message"
)

func TestReplySwapsAddresses(t *testing.T) {
	t.Parallel()

	inbound := &message.UserMessage{
		MessageID:     "msg-1",
		ToAddr:        "service",
		FromAddr:      "+123456",
		Content:       "hello",
		TransportName: "sms",
		TransportType: "sms",
		SandboxID:     "sb-1",
	}

	reply := inbound.Reply("hi there", true)

	if reply.ToAddr != "+123456" {
		t.Fatalf("reply to_addr = %q, want %q", reply.ToAddr, "+123456")
	}
	if reply.FromAddr != "service" {
		t.Fatalf("reply from_addr = %q, want %q", reply.FromAddr, "service")
	}
	if reply.InReplyTo != "msg-1" {
		t.Fatalf("reply in_reply_to = %q, want %q", reply.InReplyTo, "msg-1")
	}
	if reply.SessionEvent != message.SessionNone {
		t.Fatalf("reply session_event = %q, want none", reply.SessionEvent)
	}
	if reply.SandboxID != "sb-1" {
		t.Fatalf("reply sandbox_id = %q, want %q", reply.SandboxID, "sb-1")
	}
	if reply.MessageID == "" || reply.MessageID == inbound.MessageID {
		t.Fatalf("reply must have a fresh message id, got %q", reply.MessageID)
	}
}

func TestReplyEndsSession(t *testing.T) {
	t.Parallel()

	inbound := &message.UserMessage{MessageID: "msg-1", ToAddr: "a", FromAddr: "b"}
	reply := inbound.Reply("bye", false)

	if reply.SessionEvent != message.SessionClose {
		t.Fatalf("session_event = %q, want %q", reply.SessionEvent, message.SessionClose)
	}
}

func TestReplyGroupRequiresGroup(t *testing.T) {
	t.Parallel()

	inbound := &message.UserMessage{MessageID: "msg-1", ToAddr: "a", FromAddr: "b"}
	if _, err := inbound.ReplyGroup("hi", true); err == nil {
		t.Fatal("expected error replying to group without a group")
	}

	inbound.Group = "#room"
	reply, err := inbound.ReplyGroup("hi", true)
	if err != nil {
		t.Fatalf("ReplyGroup: %v", err)
	}
	if reply.ToAddr != "#room" {
		t.Fatalf("group reply to_addr = %q, want %q", reply.ToAddr, "#room")
	}
}

func TestDecodeUserMessageRoundTrip(t *testing.T) {
	t.Parallel()

	orig := message.NewOutbound("+111", "service", "ping")
	orig.HelperMetadata = map[string]interface{}{"tag": "x"}

	data, err := orig.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := message.DecodeUserMessage(data)
	if err != nil {
		t.Fatalf("DecodeUserMessage: %v", err)
	}
	if decoded.MessageID != orig.MessageID {
		t.Fatalf("message_id = %q, want %q", decoded.MessageID, orig.MessageID)
	}
	if decoded.Content != "ping" {
		t.Fatalf("content = %q, want %q", decoded.Content, "ping")
	}
}

func TestDecodeUserMessageRejectsMissingID(t *testing.T) {
	t.Parallel()

	if _, err := message.DecodeUserMessage([]byte(`{"content":"x"}`)); err == nil {
		t.Fatal("expected error for message without message_id")
	}
}

func TestDefaultRoutingEndpoint(t *testing.T) {
	t.Parallel()

	m := &message.UserMessage{MessageID: "m"}
	if got := m.RoutingEndpoint(); got != "default" {
		t.Fatalf("RoutingEndpoint = %q, want %q", got, "default")
	}

	m.Endpoint = "extra"
	if got := m.RoutingEndpoint(); got != "extra" {
		t.Fatalf("RoutingEndpoint = %q, want %q", got, "extra")
	}
}

func TestEventConstructors(t *testing.T) {
	t.Parallel()

	ack := message.NewAck("um-1", "sm-1")
	if ack.EventType != message.EventAck {
		t.Fatalf("event_type = %q, want ack", ack.EventType)
	}
	if ack.SentMessageID != "sm-1" {
		t.Fatalf("sent_message_id = %q, want sm-1", ack.SentMessageID)
	}

	nack := message.NewNack("um-1", "no route")
	if nack.NackReason != "no route" {
		t.Fatalf("nack_reason = %q, want %q", nack.NackReason, "no route")
	}

	dr := message.NewDeliveryReport("um-1", message.DeliveryDelivered)
	if dr.DeliveryStatus != message.DeliveryDelivered {
		t.Fatalf("delivery_status = %q, want delivered", dr.DeliveryStatus)
	}

	data, err := dr.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := message.DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if decoded.UserMessageID != "um-1" {
		t.Fatalf("user_message_id = %q, want um-1", decoded.UserMessageID)
	}
}
