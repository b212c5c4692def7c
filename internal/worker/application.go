package worker

import (
	"context"

	"go.uber.org/zap"

	"courier/internal/broker"
	"courier/internal/message"
	"courier/internal/middleware"
	"courier/pkg/errors"
	"courier/pkg/utils/logger"
)

// Handler receives the traffic an application worker consumes.
type Handler interface {
	// ConsumeUserMessage handles an inbound user message.
	ConsumeUserMessage(ctx context.Context, msg *message.UserMessage) error

	// CloseSession handles a session-close message. The user may
	// never see a reply sent from here.
	CloseSession(ctx context.Context, msg *message.UserMessage) error

	// ConsumeAck handles a transport ack.
	ConsumeAck(ctx context.Context, ev *message.Event) error

	// ConsumeNack handles a transport nack.
	ConsumeNack(ctx context.Context, ev *message.Event) error

	// ConsumeDeliveryReport handles a delivery report.
	ConsumeDeliveryReport(ctx context.Context, ev *message.Event) error
}

// NewSessionHandler is implemented by handlers that treat session-open
// messages specially. Without it, session opens go to
// ConsumeUserMessage.
type NewSessionHandler interface {
	NewSession(ctx context.Context, msg *message.UserMessage) error
}

// SetupHandler is implemented by handlers needing initialization after
// connectors exist.
type SetupHandler interface {
	SetupApplication(ctx context.Context) error
}

// TeardownHandler is implemented by handlers needing cleanup on stop.
type TeardownHandler interface {
	TeardownApplication(ctx context.Context) error
}

// ApplicationConfig holds options for application workers.
type ApplicationConfig struct {
	BaseConfig `yaml:",inline"`

	// TransportName is the connector the application consumes from
	// and replies through.
	TransportName string `yaml:"transport_name" json:"transport_name"`

	// AllowedEndpoints restricts which endpoints SendTo may use.
	// Empty means only "default" is allowed; a single "*" entry
	// allows any endpoint.
	AllowedEndpoints []string `yaml:"allowed_endpoints" json:"allowed_endpoints"`

	// StartPaused leaves connectors paused after setup. The owner
	// then chooses when consumption begins via UnpauseConnectors.
	StartPaused bool `yaml:"start_paused" json:"start_paused"`
}

// ApplicationWorker consumes user messages and transport events from a
// single named connector and publishes outbound messages back through
// it. Inbound traffic is dispatched to the Handler by session event
// and event type.
type ApplicationWorker struct {
	*BaseWorker

	cfg     ApplicationConfig
	handler Handler

	transport *Connector
}

// NewApplicationWorker creates an application worker around the given
// handler.
func NewApplicationWorker(cfg ApplicationConfig, b broker.Broker, registry *middleware.Registry, handler Handler) *ApplicationWorker {
	return &ApplicationWorker{
		BaseWorker: NewBaseWorker(cfg.BaseConfig, b, registry),
		cfg:        cfg,
		handler:    handler,
	}
}

// AppConfig returns the worker's application configuration.
func (a *ApplicationWorker) AppConfig() ApplicationConfig { return a.cfg }

// Transport returns the application's connector, available after Start.
func (a *ApplicationWorker) Transport() *Connector { return a.transport }

// Start runs the worker lifecycle with this application's hooks.
func (a *ApplicationWorker) Start(ctx context.Context) error {
	return a.BaseWorker.Start(ctx, a)
}

// Stop shuts the worker down.
func (a *ApplicationWorker) Stop(ctx context.Context) error {
	return a.BaseWorker.Stop(ctx, a)
}

// ValidateConfig implements Hooks.
func (a *ApplicationWorker) ValidateConfig() error {
	if a.cfg.TransportName == "" {
		return errors.New(errors.ConfigMissingField).
			WithMessage("transport_name is required")
	}
	return nil
}

// SetupConnectors implements Hooks.
func (a *ApplicationWorker) SetupConnectors(ctx context.Context) error {
	c, err := a.SetupConnector(a.cfg.TransportName)
	if err != nil {
		return err
	}
	a.transport = c

	if err := c.SubscribeInbound(ctx, a.dispatchUserMessage); err != nil {
		return err
	}
	if err := c.SubscribeEvent(ctx, a.dispatchEvent); err != nil {
		return err
	}
	return nil
}

// SetupWorker implements Hooks. Connectors are unpaused only after the
// handler finishes its own setup, and not at all when StartPaused is
// set.
func (a *ApplicationWorker) SetupWorker(ctx context.Context) error {
	if s, ok := a.handler.(SetupHandler); ok {
		if err := s.SetupApplication(ctx); err != nil {
			return err
		}
	}
	if !a.cfg.StartPaused {
		a.UnpauseConnectors()
	}
	return nil
}

// TeardownWorker implements Hooks.
func (a *ApplicationWorker) TeardownWorker(ctx context.Context) error {
	a.PauseConnectors()
	if t, ok := a.handler.(TeardownHandler); ok {
		return t.TeardownApplication(ctx)
	}
	return nil
}

func (a *ApplicationWorker) dispatchUserMessage(ctx context.Context, msg *message.UserMessage) error {
	switch msg.SessionEvent {
	case message.SessionClose:
		return a.handler.CloseSession(ctx, msg)
	case message.SessionNew:
		if ns, ok := a.handler.(NewSessionHandler); ok {
			return ns.NewSession(ctx, msg)
		}
		return a.handler.ConsumeUserMessage(ctx, msg)
	default:
		return a.handler.ConsumeUserMessage(ctx, msg)
	}
}

// dispatchEvent routes transport events by type. Unknown event types
// are logged and discarded, never treated as failures.
func (a *ApplicationWorker) dispatchEvent(ctx context.Context, ev *message.Event) error {
	switch ev.EventType {
	case message.EventAck:
		return a.handler.ConsumeAck(ctx, ev)
	case message.EventNack:
		return a.handler.ConsumeNack(ctx, ev)
	case message.EventDeliveryReport:
		return a.handler.ConsumeDeliveryReport(ctx, ev)
	default:
		logger.Warn(ctx, "discarding unknown event type",
			zap.String("event_type", ev.EventType),
			zap.String("event_id", ev.EventID))
		return nil
	}
}

// endpointAllowed checks an endpoint against AllowedEndpoints.
func (a *ApplicationWorker) endpointAllowed(endpoint string) bool {
	if len(a.cfg.AllowedEndpoints) == 0 {
		return endpoint == "" || endpoint == "default"
	}
	for _, e := range a.cfg.AllowedEndpoints {
		if e == "*" || e == endpoint {
			return true
		}
	}
	return false
}

// Reply publishes a response to an inbound message.
func (a *ApplicationWorker) Reply(ctx context.Context, orig *message.UserMessage, content string, continueSession bool) (*message.UserMessage, error) {
	reply := orig.Reply(content, continueSession)
	if err := a.transport.PublishOutbound(ctx, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// ReplyGroup publishes a response to an inbound message's group.
func (a *ApplicationWorker) ReplyGroup(ctx context.Context, orig *message.UserMessage, content string, continueSession bool) (*message.UserMessage, error) {
	reply, err := orig.ReplyGroup(content, continueSession)
	if err != nil {
		return nil, err
	}
	if err := a.transport.PublishOutbound(ctx, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// SendTo publishes a new outbound message to an address via the given
// endpoint. The endpoint must be in AllowedEndpoints.
func (a *ApplicationWorker) SendTo(ctx context.Context, toAddr, content, endpoint string) (*message.UserMessage, error) {
	if endpoint == "" {
		endpoint = "default"
	}
	if !a.endpointAllowed(endpoint) {
		return nil, errors.Newf(errors.EndpointNotAllowed,
			"endpoint %q not in allowed endpoints", endpoint)
	}
	msg := message.NewOutbound(toAddr, "", content)
	msg.Endpoint = endpoint
	if err := a.transport.PublishOutbound(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

var _ Hooks = (*ApplicationWorker)(nil)
