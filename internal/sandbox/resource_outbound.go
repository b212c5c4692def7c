package sandbox

import (
	"context"

	"go.uber.org/zap"

	"courier/pkg/utils/logger"
)

// outboundResource lets sandboxed code send messages through the
// application. None of its verbs produce a reply command.
type outboundResource struct {
	BaseResource
}

func newOutboundResource(name string, config map[string]interface{}, env ResourceEnv) (Resource, error) {
	r := &outboundResource{BaseResource: NewBaseResource(name, config)}
	r.Register("reply_to", r.handleReplyTo)
	r.Register("reply_to_group", r.handleReplyToGroup)
	r.Register("send_to", r.handleSendTo)
	return r, nil
}

func (r *outboundResource) handleReplyTo(ctx context.Context, api *API, cmd *Command) (*Command, error) {
	orig := api.InboundMessage(cmd.String("in_reply_to"))
	if orig == nil {
		logger.Error(ctx, "reply_to for unknown message",
			zap.String("in_reply_to", cmd.String("in_reply_to")),
			zap.String("sandbox_id", api.SandboxID()))
		return nil, nil
	}
	continueSession := true
	if v, ok := cmd.Extra["continue_session"].(bool); ok {
		continueSession = v
	}
	if _, err := api.Messenger().Reply(ctx, orig, cmd.String("content"), continueSession); err != nil {
		logger.Error(ctx, "reply_to failed",
			zap.String("message_id", orig.MessageID), zap.Error(err))
	}
	return nil, nil
}

func (r *outboundResource) handleReplyToGroup(ctx context.Context, api *API, cmd *Command) (*Command, error) {
	orig := api.InboundMessage(cmd.String("in_reply_to"))
	if orig == nil {
		logger.Error(ctx, "reply_to_group for unknown message",
			zap.String("in_reply_to", cmd.String("in_reply_to")),
			zap.String("sandbox_id", api.SandboxID()))
		return nil, nil
	}
	continueSession := true
	if v, ok := cmd.Extra["continue_session"].(bool); ok {
		continueSession = v
	}
	if _, err := api.Messenger().ReplyGroup(ctx, orig, cmd.String("content"), continueSession); err != nil {
		logger.Error(ctx, "reply_to_group failed",
			zap.String("message_id", orig.MessageID), zap.Error(err))
	}
	return nil, nil
}

func (r *outboundResource) handleSendTo(ctx context.Context, api *API, cmd *Command) (*Command, error) {
	if _, err := api.Messenger().SendTo(ctx, cmd.String("to_addr"), cmd.String("content"), cmd.String("endpoint")); err != nil {
		logger.Error(ctx, "send_to failed",
			zap.String("to_addr", cmd.String("to_addr")), zap.Error(err))
	}
	return nil, nil
}
