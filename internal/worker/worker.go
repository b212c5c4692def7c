package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"courier/internal/broker"
	"courier/internal/middleware"
	"courier/pkg/errors"
	"courier/pkg/utils/logger"
)

// BaseConfig holds options common to every worker.
type BaseConfig struct {
	// WorkerName enables heartbeats when set. Anonymous workers send
	// no heartbeats.
	WorkerName string `yaml:"worker_name" json:"worker_name"`

	// SystemID identifies the deployment this worker belongs to.
	SystemID string `yaml:"system_id" json:"system_id"`

	// Middleware lists the middleware applied to every connector,
	// outermost first.
	Middleware []middleware.Spec `yaml:"middleware" json:"middleware"`

	// HeartbeatInterval overrides the default heartbeat period.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
}

// Hooks are the worker-specific stages BaseWorker drives during
// startup and shutdown.
type Hooks interface {
	// ValidateConfig checks worker configuration before any setup runs.
	ValidateConfig() error

	// SetupConnectors creates the worker's connectors. Connectors
	// start paused.
	SetupConnectors(ctx context.Context) error

	// SetupWorker performs worker-specific initialization after
	// connectors exist.
	SetupWorker(ctx context.Context) error

	// TeardownWorker reverses SetupWorker.
	TeardownWorker(ctx context.Context) error
}

// BaseWorker drives the ordered startup and shutdown lifecycle shared
// by all workers: validate config, set up heartbeat, middleware,
// connectors and finally the worker itself. A failure in any stage
// aborts startup. Teardown runs the stages in reverse and keeps going
// past failures.
type BaseWorker struct {
	cfg      BaseConfig
	broker   broker.Broker
	registry *middleware.Registry

	stack      *middleware.Stack
	connectors map[string]*Connector
	heartbeat  *Heartbeat
	started    bool
}

// NewBaseWorker creates a BaseWorker over the given broker. A nil
// registry gets the built-in middleware kinds.
func NewBaseWorker(cfg BaseConfig, b broker.Broker, registry *middleware.Registry) *BaseWorker {
	if registry == nil {
		registry = middleware.NewRegistry()
	}
	return &BaseWorker{
		cfg:        cfg,
		broker:     b,
		registry:   registry,
		connectors: make(map[string]*Connector),
	}
}

// Config returns the worker's base configuration.
func (w *BaseWorker) Config() BaseConfig { return w.cfg }

// Broker returns the worker's broker.
func (w *BaseWorker) Broker() broker.Broker { return w.broker }

// Middleware returns the stack built during Start, or nil before then.
func (w *BaseWorker) Middleware() *middleware.Stack { return w.stack }

// Start runs the startup stages in order. It returns on the first
// stage failure, leaving already-completed stages to be unwound by
// Stop.
func (w *BaseWorker) Start(ctx context.Context, hooks Hooks) error {
	if w.started {
		return errors.New(errors.WorkerAlreadyStarted)
	}

	if err := hooks.ValidateConfig(); err != nil {
		return errors.Wrapf(err, errors.ConfigInvalid, "config validation failed: %v", err)
	}

	if w.cfg.WorkerName != "" {
		w.heartbeat = NewHeartbeat(w.broker, w.cfg.SystemID, w.cfg.WorkerName, w.cfg.HeartbeatInterval)
		w.heartbeat.Start(ctx)
		logger.Info(ctx, "heartbeat started",
			zap.String("worker_id", w.heartbeat.WorkerID()))
	}

	stack, err := w.registry.Build(ctx, w.cfg.Middleware)
	if err != nil {
		return err
	}
	w.stack = stack

	if err := hooks.SetupConnectors(ctx); err != nil {
		return err
	}

	if err := hooks.SetupWorker(ctx); err != nil {
		return errors.Wrapf(err, errors.WorkerStartFailed, "worker setup failed: %v", err)
	}

	if err := w.broker.Start(); err != nil {
		return errors.Wrapf(err, errors.BrokerError, "starting broker consumers: %v", err)
	}

	w.started = true
	return nil
}

// Stop unwinds the startup stages in reverse order. Failures are
// logged and the first one is returned after all stages have run.
func (w *BaseWorker) Stop(ctx context.Context, hooks Hooks) error {
	var firstErr error

	if err := hooks.TeardownWorker(ctx); err != nil {
		logger.Error(ctx, "worker teardown failed", zap.Error(err))
		firstErr = err
	}

	w.PauseConnectors()

	if w.stack != nil {
		if err := w.stack.Teardown(ctx); err != nil {
			logger.Error(ctx, "middleware teardown failed", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if w.heartbeat != nil {
		w.heartbeat.Stop()
	}

	w.started = false
	return firstErr
}

// SetupConnector creates a named connector. The connector starts
// paused so no traffic is handled until the worker unpauses it.
func (w *BaseWorker) SetupConnector(name string) (*Connector, error) {
	if _, ok := w.connectors[name]; ok {
		return nil, errors.Newf(errors.DuplicateConnector,
			"connector %q already set up", name)
	}
	c := NewConnector(w.broker, name, w.stack)
	c.Pause()
	w.connectors[name] = c
	return c, nil
}

// Connector returns a previously set up connector.
func (w *BaseWorker) Connector(name string) (*Connector, error) {
	c, ok := w.connectors[name]
	if !ok {
		return nil, errors.Newf(errors.ConnectorNotFound, "no connector %q", name)
	}
	return c, nil
}

// ConnectorStates reports each connector's paused state by name.
func (w *BaseWorker) ConnectorStates() map[string]bool {
	states := make(map[string]bool, len(w.connectors))
	for name, c := range w.connectors {
		states[name] = c.Paused()
	}
	return states
}

// PauseConnectors pauses every connector.
func (w *BaseWorker) PauseConnectors() {
	for _, c := range w.connectors {
		c.Pause()
	}
}

// UnpauseConnectors resumes every connector.
func (w *BaseWorker) UnpauseConnectors() {
	for _, c := range w.connectors {
		c.Unpause()
	}
}
