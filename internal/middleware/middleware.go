package middleware

import (
	"context"

	"courier/internal/message"
	"courier/pkg/errors"
)

// Middleware transforms messages as they pass through a connector.
// Handlers may return a modified message or the input unchanged.
// Returning a nil message without an error is a protocol violation.
type Middleware interface {
	// Name returns the configured instance name.
	Name() string

	// Setup prepares the middleware before the worker starts consuming.
	Setup(ctx context.Context) error

	// Teardown releases resources after the worker stops.
	Teardown(ctx context.Context) error

	// HandleInbound processes a user message consumed from a connector.
	HandleInbound(ctx context.Context, msg *message.UserMessage, endpoint string) (*message.UserMessage, error)

	// HandleOutbound processes a user message about to be published.
	HandleOutbound(ctx context.Context, msg *message.UserMessage, endpoint string) (*message.UserMessage, error)

	// HandleEvent processes a transport event consumed from a connector.
	HandleEvent(ctx context.Context, ev *message.Event, endpoint string) (*message.Event, error)
}

// Base is a no-op middleware intended for embedding. Implementations
// override only the handlers they care about.
type Base struct {
	name string
}

// NewBase creates a Base with the given instance name.
func NewBase(name string) Base {
	return Base{name: name}
}

func (b Base) Name() string { return b.name }

func (b Base) Setup(ctx context.Context) error { return nil }

func (b Base) Teardown(ctx context.Context) error { return nil }

func (b Base) HandleInbound(ctx context.Context, msg *message.UserMessage, endpoint string) (*message.UserMessage, error) {
	return msg, nil
}

func (b Base) HandleOutbound(ctx context.Context, msg *message.UserMessage, endpoint string) (*message.UserMessage, error) {
	return msg, nil
}

func (b Base) HandleEvent(ctx context.Context, ev *message.Event, endpoint string) (*message.Event, error) {
	return ev, nil
}

// Stack applies an ordered list of middleware. Consume-direction
// traffic passes first to last, publish-direction traffic passes last
// to first, so a message travelling in and back out sees each
// middleware as a layer.
type Stack struct {
	middlewares []Middleware
}

// NewStack creates a stack over the given middleware, ordered
// outermost first.
func NewStack(middlewares ...Middleware) *Stack {
	return &Stack{middlewares: middlewares}
}

// Middlewares returns the stack's middleware in consume order.
func (s *Stack) Middlewares() []Middleware {
	return s.middlewares
}

// Setup runs Setup on each middleware in order. The first failure
// aborts and is returned.
func (s *Stack) Setup(ctx context.Context) error {
	for _, m := range s.middlewares {
		if err := m.Setup(ctx); err != nil {
			return errors.Wrapf(err, errors.MiddlewareConfig, "middleware %q setup failed: %v", m.Name(), err)
		}
	}
	return nil
}

// Teardown runs Teardown on each middleware in reverse order,
// continuing past failures and returning the first error seen.
func (s *Stack) Teardown(ctx context.Context) error {
	var firstErr error
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		if err := s.middlewares[i].Teardown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ApplyInbound passes a consumed user message through the stack
// first to last.
func (s *Stack) ApplyInbound(ctx context.Context, msg *message.UserMessage, endpoint string) (*message.UserMessage, error) {
	for _, m := range s.middlewares {
		next, err := m.HandleInbound(ctx, msg, endpoint)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, errors.Newf(errors.MiddlewareError,
				"middleware %q returned no message for inbound handling", m.Name())
		}
		msg = next
	}
	return msg, nil
}

// ApplyOutbound passes a message about to be published through the
// stack last to first.
func (s *Stack) ApplyOutbound(ctx context.Context, msg *message.UserMessage, endpoint string) (*message.UserMessage, error) {
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		m := s.middlewares[i]
		next, err := m.HandleOutbound(ctx, msg, endpoint)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, errors.Newf(errors.MiddlewareError,
				"middleware %q returned no message for outbound handling", m.Name())
		}
		msg = next
	}
	return msg, nil
}

// ApplyEvent passes a consumed event through the stack first to last.
func (s *Stack) ApplyEvent(ctx context.Context, ev *message.Event, endpoint string) (*message.Event, error) {
	for _, m := range s.middlewares {
		next, err := m.HandleEvent(ctx, ev, endpoint)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, errors.Newf(errors.MiddlewareError,
				"middleware %q returned no event for event handling", m.Name())
		}
		ev = next
	}
	return ev, nil
}
