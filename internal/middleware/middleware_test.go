package middleware_test

import (
	"context"
	"testing"

	"courier/internal/message"
	"courier/internal/middleware"
	"courier/pkg/errors"
)

// tagging appends its name to message content so tests can observe
// traversal order.
type tagging struct {
	middleware.Base
	tag string
}

func newTagging(name, tag string) *tagging {
	return &tagging{Base: middleware.NewBase(name), tag: tag}
}

func (m *tagging) HandleInbound(ctx context.Context, msg *message.UserMessage, endpoint string) (*message.UserMessage, error) {
	msg.Content += m.tag
	return msg, nil
}

func (m *tagging) HandleOutbound(ctx context.Context, msg *message.UserMessage, endpoint string) (*message.UserMessage, error) {
	msg.Content += m.tag
	return msg, nil
}

// swallowing returns nil without error, which the stack must reject.
type swallowing struct {
	middleware.Base
}

func (m *swallowing) HandleInbound(ctx context.Context, msg *message.UserMessage, endpoint string) (*message.UserMessage, error) {
	return nil, nil
}

func TestInboundAppliesFirstToLast(t *testing.T) {
	t.Parallel()

	stack := middleware.NewStack(newTagging("m1", "a"), newTagging("m2", "b"))
	msg := &message.UserMessage{MessageID: "m", Content: ""}

	out, err := stack.ApplyInbound(context.Background(), msg, "default")
	if err != nil {
		t.Fatalf("ApplyInbound: %v", err)
	}
	if out.Content != "ab" {
		t.Fatalf("content = %q, want %q", out.Content, "ab")
	}
}

func TestOutboundAppliesLastToFirst(t *testing.T) {
	t.Parallel()

	stack := middleware.NewStack(newTagging("m1", "a"), newTagging("m2", "b"))
	msg := &message.UserMessage{MessageID: "m", Content: ""}

	out, err := stack.ApplyOutbound(context.Background(), msg, "default")
	if err != nil {
		t.Fatalf("ApplyOutbound: %v", err)
	}
	if out.Content != "ba" {
		t.Fatalf("content = %q, want %q", out.Content, "ba")
	}
}

func TestNilReturnIsError(t *testing.T) {
	t.Parallel()

	stack := middleware.NewStack(&swallowing{Base: middleware.NewBase("bad")})
	msg := &message.UserMessage{MessageID: "m"}

	_, err := stack.ApplyInbound(context.Background(), msg, "default")
	if err == nil {
		t.Fatal("expected error for nil middleware result")
	}
	if !errors.Is(err, errors.MiddlewareError) {
		t.Fatalf("error code = %v, want MiddlewareError", errors.GetCode(err))
	}
}

func TestRegistryBuildsConfiguredStack(t *testing.T) {
	t.Parallel()

	registry := middleware.NewRegistry()
	registry.Register("tag", func(name string, config map[string]interface{}) (middleware.Middleware, error) {
		tag, _ := config["tag"].(string)
		return newTagging(name, tag), nil
	})

	stack, err := registry.Build(context.Background(), []middleware.Spec{
		{Name: "first", Kind: "tag", Config: map[string]interface{}{"tag": "x"}},
		{Name: "logger", Kind: "logging"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(stack.Middlewares()) != 2 {
		t.Fatalf("stack has %d middlewares, want 2", len(stack.Middlewares()))
	}

	msg := &message.UserMessage{MessageID: "m"}
	out, err := stack.ApplyInbound(context.Background(), msg, "default")
	if err != nil {
		t.Fatalf("ApplyInbound: %v", err)
	}
	if out.Content != "x" {
		t.Fatalf("content = %q, want %q", out.Content, "x")
	}
}

func TestRegistryRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	registry := middleware.NewRegistry()
	_, err := registry.Build(context.Background(), []middleware.Spec{
		{Name: "mystery", Kind: "does-not-exist"},
	})
	if err == nil {
		t.Fatal("expected error for unknown middleware kind")
	}
	if !errors.Is(err, errors.MiddlewareConfig) {
		t.Fatalf("error code = %v, want MiddlewareConfig", errors.GetCode(err))
	}
}
