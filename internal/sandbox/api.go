package sandbox

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"courier/internal/message"
	"courier/pkg/errors"
	"courier/pkg/utils/logger"
)

// Messenger exposes the application's outbound messaging primitives to
// resources.
type Messenger interface {
	Reply(ctx context.Context, orig *message.UserMessage, content string, continueSession bool) (*message.UserMessage, error)
	ReplyGroup(ctx context.Context, orig *message.UserMessage, content string, continueSession bool) (*message.UserMessage, error)
	SendTo(ctx context.Context, toAddr, content, endpoint string) (*message.UserMessage, error)
}

// API routes commands from one sandboxed process to the resource set
// and writes replies back. An API instance is bound to exactly one
// process for its lifetime.
type API struct {
	resources *Resources
	sandboxID string
	messenger Messenger

	mu      sync.Mutex
	proc    *Process
	inbound map[string]*message.UserMessage
}

// NewAPI creates a dispatcher for one sandbox session.
func NewAPI(resources *Resources, sandboxID string, messenger Messenger) *API {
	return &API{
		resources: resources,
		sandboxID: sandboxID,
		messenger: messenger,
		inbound:   make(map[string]*message.UserMessage),
	}
}

// SandboxID returns the session's namespace identifier.
func (a *API) SandboxID() string { return a.sandboxID }

// Messenger returns the application's messaging primitives.
func (a *API) Messenger() Messenger { return a.messenger }

// BindProcess attaches the running process. A second bind is an error.
func (a *API) BindProcess(p *Process) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.proc != nil {
		return errors.New(errors.SandboxBound).
			WithMessage("sandbox already has a process bound")
	}
	a.proc = p
	return nil
}

func (a *API) process() *Process {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.proc
}

// SendCommand writes a command into the sandbox.
func (a *API) SendCommand(cmd *Command) error {
	p := a.process()
	if p == nil {
		return errors.New(errors.SandboxBound).
			WithMessage("sandbox has no process bound")
	}
	return p.Send(cmd)
}

// Kill forcibly terminates the bound process.
func (a *API) Kill() {
	if p := a.process(); p != nil {
		p.Kill()
	}
}

// TrackMessage records an inbound message so resources can reply to it
// by message id.
func (a *API) TrackMessage(msg *message.UserMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inbound[msg.MessageID] = msg
}

// InboundMessage returns a tracked inbound message, or nil.
func (a *API) InboundMessage(id string) *message.UserMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inbound[id]
}

// Dispatch routes one command to its resource. The resource name is
// everything before the first separator; a bare verb or an
// unregistered name is a protocol violation. A child that does not
// speak the protocol cannot be trusted to continue, so violations kill
// the process.
func (a *API) Dispatch(ctx context.Context, cmd *Command) error {
	name, verb, hasPrefix := splitCmd(cmd.Cmd)

	var res Resource
	if hasPrefix {
		res = a.resources.Get(name)
	}
	if res == nil {
		a.violation(ctx, cmd, errors.Newf(errors.UnknownCommand,
			"no resource for command %q", cmd.Cmd))
		return nil
	}

	sub := *cmd
	sub.Cmd = verb
	reply, err := res.Dispatch(ctx, a, &sub)
	if err != nil {
		if errors.Is(err, errors.UnknownCommand) {
			a.violation(ctx, cmd, err)
			return nil
		}
		return err
	}
	if reply == nil {
		return nil
	}
	// The child must see the same cmd name it sent; the handler only
	// knows the verb, so the prefix is reattached here.
	reply.Cmd = name + "." + reply.Cmd
	return a.SendCommand(reply)
}

// violation logs a protocol violation and kills the sandbox.
func (a *API) violation(ctx context.Context, cmd *Command, err error) {
	logger.Error(ctx, "killing sandbox due to protocol violation",
		zap.String("cmd", cmd.Cmd),
		zap.String("cmd_id", cmd.CmdID),
		zap.String("sandbox_id", a.sandboxID),
		zap.Error(err))
	a.Kill()
}

func splitCmd(cmd string) (name, verb string, hasPrefix bool) {
	idx := strings.Index(cmd, ".")
	if idx < 0 {
		return "", cmd, false
	}
	return cmd[:idx], cmd[idx+1:], true
}
