package middleware

import (
	"context"

	"go.uber.org/zap"

	"courier/internal/message"
	"courier/pkg/utils/logger"
)

// loggingMiddleware logs every message and event passing through a
// connector. It never modifies traffic.
type loggingMiddleware struct {
	Base
}

func newLoggingMiddleware(name string, config map[string]interface{}) (Middleware, error) {
	return &loggingMiddleware{Base: NewBase(name)}, nil
}

func (l *loggingMiddleware) HandleInbound(ctx context.Context, msg *message.UserMessage, endpoint string) (*message.UserMessage, error) {
	logger.Info(ctx, "inbound message",
		zap.String("middleware", l.Name()),
		zap.String("endpoint", endpoint),
		zap.String("message_id", msg.MessageID),
		zap.String("from_addr", msg.FromAddr))
	return msg, nil
}

func (l *loggingMiddleware) HandleOutbound(ctx context.Context, msg *message.UserMessage, endpoint string) (*message.UserMessage, error) {
	logger.Info(ctx, "outbound message",
		zap.String("middleware", l.Name()),
		zap.String("endpoint", endpoint),
		zap.String("message_id", msg.MessageID),
		zap.String("to_addr", msg.ToAddr))
	return msg, nil
}

func (l *loggingMiddleware) HandleEvent(ctx context.Context, ev *message.Event, endpoint string) (*message.Event, error) {
	logger.Info(ctx, "event",
		zap.String("middleware", l.Name()),
		zap.String("endpoint", endpoint),
		zap.String("event_type", ev.EventType),
		zap.String("user_message_id", ev.UserMessageID))
	return ev, nil
}
