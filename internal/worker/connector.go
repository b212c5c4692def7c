package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"courier/internal/broker"
	"courier/internal/message"
	"courier/internal/middleware"
	"courier/pkg/errors"
	"courier/pkg/utils/logger"
)

// InboundHandler consumes a user message arriving from a transport.
type InboundHandler func(ctx context.Context, msg *message.UserMessage) error

// EventHandler consumes a transport event.
type EventHandler func(ctx context.Context, ev *message.Event) error

// Connector binds a named trio of broker topics: <name>.inbound,
// <name>.outbound and <name>.event. Application-side connectors consume
// inbound and event traffic and publish outbound messages. All traffic
// passes through the connector's middleware stack.
type Connector struct {
	name   string
	broker broker.Broker
	stack  *middleware.Stack

	subs   []broker.Subscription
	paused bool
}

// NewConnector creates a connector over the given broker. The stack
// may be nil for middleware-free connectors.
func NewConnector(b broker.Broker, name string, stack *middleware.Stack) *Connector {
	if stack == nil {
		stack = middleware.NewStack()
	}
	return &Connector{name: name, broker: b, stack: stack}
}

// Name returns the connector name.
func (c *Connector) Name() string { return c.name }

func (c *Connector) inboundTopic() string { return fmt.Sprintf("%s.inbound", c.name) }

func (c *Connector) outboundTopic() string { return fmt.Sprintf("%s.outbound", c.name) }

func (c *Connector) eventTopic() string { return fmt.Sprintf("%s.event", c.name) }

// SubscribeInbound registers a handler for user messages on
// <name>.inbound. Decode failures and middleware failures are logged
// and the delivery is dropped rather than retried.
func (c *Connector) SubscribeInbound(ctx context.Context, handler InboundHandler) error {
	sub, err := c.broker.Subscribe(ctx, c.inboundTopic(), func(ctx context.Context, bm *broker.Message) error {
		msg, err := message.DecodeUserMessage(bm.Body)
		if err != nil {
			logger.Error(ctx, "dropping undecodable inbound message",
				zap.String("connector", c.name), zap.Error(err))
			return nil
		}
		msg, err = c.stack.ApplyInbound(ctx, msg, msg.RoutingEndpoint())
		if err != nil {
			logger.Error(ctx, "middleware failed for inbound message",
				zap.String("connector", c.name),
				zap.String("message_id", msg.MessageID),
				zap.Error(err))
			return nil
		}
		return handler(ctx, msg)
	})
	if err != nil {
		return errors.Wrapf(err, errors.SubscribeFailed,
			"subscribing %s: %v", c.inboundTopic(), err)
	}
	c.addSub(sub)
	return nil
}

// SubscribeEvent registers a handler for events on <name>.event.
func (c *Connector) SubscribeEvent(ctx context.Context, handler EventHandler) error {
	sub, err := c.broker.Subscribe(ctx, c.eventTopic(), func(ctx context.Context, bm *broker.Message) error {
		ev, err := message.DecodeEvent(bm.Body)
		if err != nil {
			logger.Error(ctx, "dropping undecodable event",
				zap.String("connector", c.name), zap.Error(err))
			return nil
		}
		ev, err = c.stack.ApplyEvent(ctx, ev, ev.RoutingEndpoint())
		if err != nil {
			logger.Error(ctx, "middleware failed for event",
				zap.String("connector", c.name),
				zap.String("event_id", ev.EventID),
				zap.Error(err))
			return nil
		}
		return handler(ctx, ev)
	})
	if err != nil {
		return errors.Wrapf(err, errors.SubscribeFailed,
			"subscribing %s: %v", c.eventTopic(), err)
	}
	c.addSub(sub)
	return nil
}

// PublishOutbound sends a user message to <name>.outbound after
// passing it through the middleware stack in publish order.
func (c *Connector) PublishOutbound(ctx context.Context, msg *message.UserMessage) error {
	msg, err := c.stack.ApplyOutbound(ctx, msg, msg.RoutingEndpoint())
	if err != nil {
		return err
	}
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	bm := broker.NewMessage(body)
	bm.ID = msg.MessageID
	if err := c.broker.Publish(ctx, c.outboundTopic(), bm); err != nil {
		return errors.Wrapf(err, errors.PublishFailed,
			"publishing %s: %v", c.outboundTopic(), err)
	}
	return nil
}

// addSub tracks a subscription and applies the connector's current
// pause state to it.
func (c *Connector) addSub(sub broker.Subscription) {
	if c.paused {
		_ = sub.Pause()
	}
	c.subs = append(c.subs, sub)
}

// Pause stops delivery on all of the connector's subscriptions.
// Subscriptions added later start paused too.
func (c *Connector) Pause() {
	c.paused = true
	for _, sub := range c.subs {
		_ = sub.Pause()
	}
}

// Unpause resumes delivery on all of the connector's subscriptions.
func (c *Connector) Unpause() {
	c.paused = false
	for _, sub := range c.subs {
		_ = sub.Unpause()
	}
}

// Paused reports whether the connector is paused.
func (c *Connector) Paused() bool {
	return c.paused
}
