package sandbox_test

import (
	"context"
	"testing"

	"courier/internal/message"
	"courier/internal/sandbox"
)

type messengerCall struct {
	kind            string
	orig            *message.UserMessage
	toAddr          string
	content         string
	endpoint        string
	continueSession bool
}

// fakeMessenger records outbound activity instead of publishing it.
type fakeMessenger struct {
	calls []messengerCall
}

func (m *fakeMessenger) Reply(ctx context.Context, orig *message.UserMessage, content string, continueSession bool) (*message.UserMessage, error) {
	m.calls = append(m.calls, messengerCall{
		kind: "reply", orig: orig, content: content, continueSession: continueSession,
	})
	return orig.Reply(content, continueSession), nil
}

func (m *fakeMessenger) ReplyGroup(ctx context.Context, orig *message.UserMessage, content string, continueSession bool) (*message.UserMessage, error) {
	m.calls = append(m.calls, messengerCall{
		kind: "reply_group", orig: orig, content: content, continueSession: continueSession,
	})
	return orig.ReplyGroup(content, continueSession)
}

func (m *fakeMessenger) SendTo(ctx context.Context, toAddr, content, endpoint string) (*message.UserMessage, error) {
	m.calls = append(m.calls, messengerCall{
		kind: "send_to", toAddr: toAddr, content: content, endpoint: endpoint,
	})
	return message.NewOutbound(toAddr, "", content), nil
}

func newOutboundAPI(t *testing.T) (*sandbox.API, sandbox.Resource, *fakeMessenger) {
	t.Helper()

	resources, err := sandbox.NewResourceRegistry().Build(
		map[string]map[string]interface{}{"outbound": {"cls": "outbound"}},
		sandbox.ResourceEnv{},
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	messenger := &fakeMessenger{}
	api := sandbox.NewAPI(resources, "sb-1", messenger)
	return api, resources.Get("outbound"), messenger
}

func TestOutboundReplyToTrackedMessage(t *testing.T) {
	t.Parallel()

	api, res, messenger := newOutboundAPI(t)
	inbound := message.NewOutbound("app-1", "+1000", "hi")
	api.TrackMessage(inbound)

	cmd := sandbox.NewCommand("reply_to", map[string]interface{}{
		"in_reply_to": inbound.MessageID,
		"content":     "hello back",
	})
	reply, err := res.Dispatch(context.Background(), api, cmd)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if reply != nil {
		t.Fatalf("reply_to produced a reply command: %v", reply)
	}

	if len(messenger.calls) != 1 {
		t.Fatalf("messenger saw %d calls, want 1", len(messenger.calls))
	}
	call := messenger.calls[0]
	if call.kind != "reply" || call.orig != inbound || call.content != "hello back" {
		t.Fatalf("unexpected call %+v", call)
	}
	if !call.continueSession {
		t.Fatal("continue_session defaulted to false, want true")
	}
}

func TestOutboundReplyToEndsSessionOnRequest(t *testing.T) {
	t.Parallel()

	api, res, messenger := newOutboundAPI(t)
	inbound := message.NewOutbound("app-1", "+1000", "hi")
	api.TrackMessage(inbound)

	cmd := sandbox.NewCommand("reply_to", map[string]interface{}{
		"in_reply_to":      inbound.MessageID,
		"content":          "goodbye",
		"continue_session": false,
	})
	if _, err := res.Dispatch(context.Background(), api, cmd); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if messenger.calls[0].continueSession {
		t.Fatal("continue_session not honored")
	}
}

func TestOutboundReplyToUnknownMessageIsDropped(t *testing.T) {
	t.Parallel()

	api, res, messenger := newOutboundAPI(t)

	cmd := sandbox.NewCommand("reply_to", map[string]interface{}{
		"in_reply_to": "no-such-id",
		"content":     "hello",
	})
	if _, err := res.Dispatch(context.Background(), api, cmd); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(messenger.calls) != 0 {
		t.Fatalf("messenger saw %d calls, want none", len(messenger.calls))
	}
}

func TestOutboundSendTo(t *testing.T) {
	t.Parallel()

	api, res, messenger := newOutboundAPI(t)

	cmd := sandbox.NewCommand("send_to", map[string]interface{}{
		"to_addr":  "+2000",
		"content":  "fresh message",
		"endpoint": "default",
	})
	if _, err := res.Dispatch(context.Background(), api, cmd); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(messenger.calls) != 1 {
		t.Fatalf("messenger saw %d calls, want 1", len(messenger.calls))
	}
	call := messenger.calls[0]
	if call.kind != "send_to" || call.toAddr != "+2000" || call.endpoint != "default" {
		t.Fatalf("unexpected call %+v", call)
	}
}
