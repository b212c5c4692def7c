package sandbox

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"courier/internal/kvstore"
	"courier/internal/message"
	"courier/internal/worker"
	"courier/pkg/errors"
	"courier/pkg/utils/logger"
)

// AppConfig configures the sandbox application worker.
type AppConfig struct {
	worker.ApplicationConfig `yaml:",inline"`

	// Executable and Args name the sandboxed program.
	Executable string   `yaml:"executable" json:"executable"`
	Args       []string `yaml:"args" json:"args"`

	// Path is the child's working directory.
	Path string `yaml:"path" json:"path"`

	// Env adds variables to the child's environment.
	Env map[string]string `yaml:"env" json:"env"`

	// HelperPath locates the resource-limiter shim. Empty disables
	// resource limits and execs the target directly.
	HelperPath string `yaml:"helper_path" json:"helper_path"`

	// Rlimits overrides individual default resource limits, keyed by
	// symbolic name.
	Rlimits map[string][]uint64 `yaml:"rlimits" json:"rlimits"`

	// Timeout is the wall-clock limit per run. Default 60s.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// RecvLimit caps combined stdout+stderr bytes per run.
	// Default 1 MiB.
	RecvLimit int64 `yaml:"recv_limit" json:"recv_limit"`

	// Resources maps resource names to their config blocks; each
	// block's "cls" field selects the implementation.
	Resources map[string]map[string]interface{} `yaml:"resources" json:"resources"`

	// SandboxID fixes the session namespace. Empty means it is
	// derived per message.
	SandboxID string `yaml:"sandbox_id" json:"sandbox_id"`

	// AppContext is passed to script sandboxes at initialization.
	AppContext string `yaml:"app_context" json:"app_context"`
}

// runConfig is the per-message resolution of AppConfig. It is
// recomputed for every invocation so the sandbox id can vary by
// message.
type runConfig struct {
	proc      ProcessConfig
	sandboxID string
}

// App runs each inbound message or event through a fresh sandboxed
// subprocess. It implements the application worker's handler surface.
type App struct {
	cfg      AppConfig
	store    kvstore.Store
	registry *ResourceRegistry

	worker    *worker.ApplicationWorker
	resources *Resources
	rlimits   Rlimits
}

// NewApp creates the sandbox application. A nil registry gets the
// built-in resource kinds.
func NewApp(cfg AppConfig, store kvstore.Store, registry *ResourceRegistry) *App {
	if registry == nil {
		registry = NewResourceRegistry()
	}
	return &App{cfg: cfg, store: store, registry: registry}
}

// BindWorker attaches the owning application worker. Must be called
// before the worker starts.
func (a *App) BindWorker(w *worker.ApplicationWorker) {
	a.worker = w
}

// AppContext implements AppContexter for script sandboxes.
func (a *App) AppContext() string { return a.cfg.AppContext }

// SetupApplication resolves limits, builds the resource set and runs
// each resource's setup.
func (a *App) SetupApplication(ctx context.Context) error {
	if a.cfg.Executable == "" {
		return errors.New(errors.ConfigMissingField).
			WithMessage("executable is required")
	}

	rlimits, err := ResolveRlimits(a.cfg.Rlimits)
	if err != nil {
		return err
	}
	a.rlimits = rlimits

	resources, err := a.registry.Build(a.cfg.Resources, ResourceEnv{Store: a.store})
	if err != nil {
		return err
	}
	a.resources = resources

	for _, name := range resources.Names() {
		if js, ok := resources.Get(name).(*jsResource); ok {
			js.SetAppContext(a)
		}
	}

	return resources.Setup(ctx)
}

// TeardownApplication tears the resource set down.
func (a *App) TeardownApplication(ctx context.Context) error {
	if a.resources == nil {
		return nil
	}
	return a.resources.Teardown(ctx)
}

// sandboxIDFor picks the session namespace for one message.
func (a *App) sandboxIDFor(sandboxID, fallback string) string {
	if a.cfg.SandboxID != "" {
		return a.cfg.SandboxID
	}
	if sandboxID != "" {
		return sandboxID
	}
	return fallback
}

func (a *App) configFor(sandboxID string) runConfig {
	env := os.Environ()
	for k, v := range a.cfg.Env {
		env = append(env, k+"="+v)
	}
	return runConfig{
		sandboxID: sandboxID,
		proc: ProcessConfig{
			Executable: a.cfg.Executable,
			Args:       a.cfg.Args,
			Env:        env,
			Dir:        a.cfg.Path,
			HelperPath: a.cfg.HelperPath,
			Rlimits:    a.rlimits,
			Timeout:    a.cfg.Timeout,
			RecvLimit:  a.cfg.RecvLimit,
		},
	}
}

// run executes one full sandbox session: spawn, init handshake,
// trigger injection, and completion. Faults are logged; the returned
// status is null when the outcome could not be determined.
func (a *App) run(ctx context.Context, rc runConfig, api *API, trigger *Command) ExitStatus {
	proc := NewProcess(rc.proc, api.Dispatch)
	if err := api.BindProcess(proc); err != nil {
		logger.Error(ctx, "sandbox bind failed", zap.Error(err))
		return NullStatus(err.Error())
	}

	if err := proc.Spawn(ctx); err != nil {
		logger.Error(ctx, "sandbox process failed to start",
			zap.String("executable", rc.proc.Executable),
			zap.String("sandbox_id", rc.sandboxID),
			zap.Error(err))
		return NullStatus("process failed to start")
	}

	if err := a.resources.SandboxInit(ctx, api); err != nil {
		logger.Error(ctx, "sandbox init failed",
			zap.String("sandbox_id", rc.sandboxID), zap.Error(err))
		proc.Kill()
	} else if err := proc.Send(trigger); err != nil {
		logger.Error(ctx, "failed to inject trigger into sandbox",
			zap.String("cmd", trigger.Cmd),
			zap.String("sandbox_id", rc.sandboxID),
			zap.Error(err))
	}

	status, err := proc.Done().Wait(ctx)
	if err != nil {
		logger.Error(ctx, "sandbox run interrupted",
			zap.String("sandbox_id", rc.sandboxID), zap.Error(err))
		proc.Kill()
		return NullStatus(err.Error())
	}
	if _, ok := status.Code(); !ok {
		logger.Error(ctx, "sandbox run ended without exit status",
			zap.String("sandbox_id", rc.sandboxID),
			zap.String("reason", status.Reason()))
	}
	return status
}

// ProcessMessage runs one user message through a sandbox session and
// returns the child's exit status.
func (a *App) ProcessMessage(ctx context.Context, msg *message.UserMessage) ExitStatus {
	sandboxID := a.sandboxIDFor(msg.SandboxID, msg.FromAddr)
	rc := a.configFor(sandboxID)
	api := NewAPI(a.resources, sandboxID, a.worker)
	api.TrackMessage(msg)

	trigger := NewCommand("inbound-message", map[string]interface{}{"msg": msg})
	return a.run(ctx, rc, api, trigger)
}

// ProcessEvent runs one transport event through a sandbox session.
func (a *App) ProcessEvent(ctx context.Context, ev *message.Event) ExitStatus {
	sandboxID := a.sandboxIDFor(ev.SandboxID, ev.UserMessageID)
	rc := a.configFor(sandboxID)
	api := NewAPI(a.resources, sandboxID, a.worker)

	trigger := NewCommand("inbound-event", map[string]interface{}{"msg": ev})
	return a.run(ctx, rc, api, trigger)
}

// ConsumeUserMessage implements worker.Handler.
func (a *App) ConsumeUserMessage(ctx context.Context, msg *message.UserMessage) error {
	a.ProcessMessage(ctx, msg)
	return nil
}

// CloseSession implements worker.Handler. Session closes run through
// the sandbox like ordinary messages.
func (a *App) CloseSession(ctx context.Context, msg *message.UserMessage) error {
	a.ProcessMessage(ctx, msg)
	return nil
}

// ConsumeAck implements worker.Handler.
func (a *App) ConsumeAck(ctx context.Context, ev *message.Event) error {
	a.ProcessEvent(ctx, ev)
	return nil
}

// ConsumeNack implements worker.Handler.
func (a *App) ConsumeNack(ctx context.Context, ev *message.Event) error {
	a.ProcessEvent(ctx, ev)
	return nil
}

// ConsumeDeliveryReport implements worker.Handler.
func (a *App) ConsumeDeliveryReport(ctx context.Context, ev *message.Event) error {
	a.ProcessEvent(ctx, ev)
	return nil
}

var (
	_ worker.Handler         = (*App)(nil)
	_ worker.SetupHandler    = (*App)(nil)
	_ worker.TeardownHandler = (*App)(nil)
	_ AppContexter           = (*App)(nil)
)
