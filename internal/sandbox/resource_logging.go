package sandbox

import (
	"context"

	"go.uber.org/zap"

	"courier/pkg/utils/logger"
)

// loggingResource forwards messages from sandboxed code to the host
// log. Every verb replies success.
type loggingResource struct {
	BaseResource
}

func newLoggingResource(name string, config map[string]interface{}, env ResourceEnv) (Resource, error) {
	r := &loggingResource{BaseResource: NewBaseResource(name, config)}
	r.Register("debug", r.logAt(logger.Debug))
	r.Register("info", r.logAt(logger.Info))
	r.Register("warning", r.logAt(logger.Warn))
	r.Register("error", r.logAt(logger.Error))
	return r, nil
}

func (r *loggingResource) logAt(log func(ctx context.Context, msg string, fields ...zap.Field)) HandlerFunc {
	return func(ctx context.Context, api *API, cmd *Command) (*Command, error) {
		log(ctx, cmd.String("msg"),
			zap.String("sandbox_id", api.SandboxID()))
		return SuccessReply(cmd, nil), nil
	}
}
