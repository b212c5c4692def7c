package command_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"courier/internal/broker"
	"courier/internal/cli/command"
	"courier/internal/cli/state"
	"courier/internal/kvstore"
	"courier/internal/message"
)

type collector struct {
	mu   sync.Mutex
	msgs []*broker.Message
}

func (c *collector) handle(ctx context.Context, m *broker.Message) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
	return nil
}

func (c *collector) all() []*broker.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*broker.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func newTestEnv(t *testing.T) (*command.Env, *broker.MemoryBroker, kvstore.Store) {
	t.Helper()

	b := broker.NewMemoryBroker()
	t.Cleanup(func() { _ = b.Close() })

	mr := miniredis.RunT(t)
	store, err := kvstore.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("NewRedisStoreWithClient: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	env := &command.Env{
		Broker: b,
		Store:  store,
		State: &state.SessionState{
			Transport: "sms",
			FromAddr:  "+10001",
		},
		Print: func(format string, args ...interface{}) {},
	}
	return env, b, store
}

func TestSendPublishesInboundMessage(t *testing.T) {
	t.Parallel()

	env, b, _ := newTestEnv(t)
	inbound := &collector{}
	if _, err := b.Subscribe(context.Background(), "sms.inbound", inbound.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	send := command.Registry()["send"]
	if err := send.Run(context.Background(), env, []string{"app-1", "hello", "there"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, func() bool { return len(inbound.all()) == 1 })
	msg, err := message.DecodeUserMessage(inbound.all()[0].Body)
	if err != nil {
		t.Fatalf("DecodeUserMessage: %v", err)
	}
	if msg.ToAddr != "app-1" || msg.FromAddr != "+10001" {
		t.Fatalf("addresses = %s -> %s", msg.FromAddr, msg.ToAddr)
	}
	if msg.Content != "hello there" {
		t.Fatalf("content = %q", msg.Content)
	}
	if msg.TransportName != "sms" {
		t.Fatalf("transport = %q", msg.TransportName)
	}
}

func TestSendRequiresRecipientAndText(t *testing.T) {
	t.Parallel()

	env, _, _ := newTestEnv(t)
	send := command.Registry()["send"]
	if err := send.Run(context.Background(), env, []string{"app-1"}); err == nil {
		t.Fatal("send without text accepted")
	}
}

func TestEventPublishesTypedEvent(t *testing.T) {
	t.Parallel()

	env, b, _ := newTestEnv(t)
	events := &collector{}
	if _, err := b.Subscribe(context.Background(), "sms.event", events.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	eventCmd := command.Registry()["event"]
	if err := eventCmd.Run(context.Background(), env, []string{"nack", "msg-1", "no route"}); err != nil {
		t.Fatalf("event: %v", err)
	}

	waitFor(t, func() bool { return len(events.all()) == 1 })
	ev, err := message.DecodeEvent(events.all()[0].Body)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.EventType != message.EventNack || ev.UserMessageID != "msg-1" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.NackReason != "no route" {
		t.Fatalf("nack reason = %q", ev.NackReason)
	}
}

func TestEventRejectsUnknownType(t *testing.T) {
	t.Parallel()

	env, _, _ := newTestEnv(t)
	eventCmd := command.Registry()["event"]
	if err := eventCmd.Run(context.Background(), env, []string{"boom", "msg-1"}); err == nil {
		t.Fatal("unknown event type accepted")
	}
}

func TestKVInspection(t *testing.T) {
	t.Parallel()

	env, _, store := newTestEnv(t)
	ctx := context.Background()
	if err := store.Set(ctx, "sandboxes#sb-1#color", `"blue"`, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := store.IncrBy(ctx, "count#sb-1", 1); err != nil {
		t.Fatalf("IncrBy: %v", err)
	}

	var lines []string
	env.Print = func(format string, args ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}
	kv := command.Registry()["kv"]

	lines = nil
	if err := kv.Run(ctx, env, []string{"get", "sb-1", "color"}); err != nil {
		t.Fatalf("kv get: %v", err)
	}
	if len(lines) != 1 || lines[0] != `"blue"` {
		t.Fatalf("kv get printed %v", lines)
	}

	lines = nil
	if err := kv.Run(ctx, env, []string{"keys", "sb-1"}); err != nil {
		t.Fatalf("kv keys: %v", err)
	}
	if len(lines) != 2 || lines[0] != "color" {
		t.Fatalf("kv keys printed %v", lines)
	}

	lines = nil
	if err := kv.Run(ctx, env, []string{"count", "sb-1"}); err != nil {
		t.Fatalf("kv count: %v", err)
	}
	if len(lines) != 1 || lines[0] != "1" {
		t.Fatalf("kv count printed %v", lines)
	}
}
