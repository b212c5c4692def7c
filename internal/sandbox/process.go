package sandbox

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"courier/pkg/errors"
	"courier/pkg/utils/logger"
)

// DefaultRecvLimit caps combined stdout and stderr bytes per run.
const DefaultRecvLimit = 1024 * 1024

// DefaultRunTimeout is the wall-clock limit per sandbox run.
const DefaultRunTimeout = 60 * time.Second

// ExitStatus is a subprocess's final status. A run killed by signal,
// timeout or quota has no exit code; Code reports that distinctly.
type ExitStatus struct {
	code   int
	exited bool
	reason string
}

// Code returns the process exit code and whether one exists. The
// second value is false when the process was killed or the run never
// produced a status.
func (s ExitStatus) Code() (int, bool) {
	return s.code, s.exited
}

// Reason describes an abnormal termination, or "" for a clean exit.
func (s ExitStatus) Reason() string { return s.reason }

// NullStatus is the status of a run whose outcome could not be
// determined.
func NullStatus(reason string) ExitStatus {
	return ExitStatus{reason: reason}
}

// DispatchFunc receives each command parsed from the subprocess's
// stdout. Handlers are invoked one at a time in the order the lines
// were read; errors are logged, never propagated to the stream.
type DispatchFunc func(ctx context.Context, cmd *Command) error

// ProcessConfig describes one subprocess invocation.
type ProcessConfig struct {
	Executable string
	Args       []string
	Env        []string
	Dir        string

	// HelperPath is the resource-limiter shim. When set, the target
	// is launched as "<helper> -- <executable> <args...>" with the
	// limit map in the environment. Empty means a direct exec with no
	// limits applied.
	HelperPath string
	Rlimits    Rlimits

	Timeout   time.Duration
	RecvLimit int64
}

func (c *ProcessConfig) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultRunTimeout
	}
	if c.RecvLimit <= 0 {
		c.RecvLimit = DefaultRecvLimit
	}
}

// Process owns one sandboxed subprocess: spawn, the line protocol over
// its pipes, stderr logging, the run timeout and the receive quota.
type Process struct {
	cfg      ProcessConfig
	dispatch DispatchFunc

	cmd   *exec.Cmd
	stdin io.WriteCloser

	started *Signal[struct{}]
	done    *Signal[ExitStatus]

	recvd     atomic.Int64
	overQuota atomic.Bool
	killOnce  sync.Once
	pending   sync.WaitGroup
	timer     *time.Timer

	queueMu   sync.Mutex
	queue     []*Command
	queueKick chan struct{}

	stdinMu sync.Mutex
}

// NewProcess creates an unstarted process.
func NewProcess(cfg ProcessConfig, dispatch DispatchFunc) *Process {
	cfg.setDefaults()
	return &Process{
		cfg:       cfg,
		dispatch:  dispatch,
		started:   NewSignal[struct{}](),
		done:      NewSignal[ExitStatus](),
		queueKick: make(chan struct{}, 1),
	}
}

// Started resolves once the subprocess has been spawned, or with an
// error if the spawn failed.
func (p *Process) Started() *Signal[struct{}] { return p.started }

// Done resolves with the final exit status after the process has
// exited and every in-flight command dispatch has settled.
func (p *Process) Done() *Signal[ExitStatus] { return p.done }

func (p *Process) buildCmd() *exec.Cmd {
	var cmd *exec.Cmd
	if p.cfg.HelperPath != "" {
		argv := append([]string{"--", p.cfg.Executable}, p.cfg.Args...)
		cmd = exec.Command(p.cfg.HelperPath, argv...)
	} else {
		cmd = exec.Command(p.cfg.Executable, p.cfg.Args...)
	}
	cmd.Dir = p.cfg.Dir
	cmd.Env = p.cfg.Env
	cmd.SysProcAttr = sysProcAttr()
	return cmd
}

// Spawn launches the subprocess and begins servicing its pipes. The
// context bounds command dispatch, not the process lifetime; the run
// timeout and Kill end the process.
func (p *Process) Spawn(ctx context.Context) error {
	cmd := p.buildCmd()

	if p.cfg.HelperPath != "" {
		spec, err := p.cfg.Rlimits.EncodeEnv()
		if err != nil {
			p.started.Fire(struct{}{}, err)
			return err
		}
		cmd.Env = append(cmd.Env, RlimitsEnvVar+"="+spec)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		p.started.Fire(struct{}{}, err)
		return errors.Wrap(err, errors.ProcessSpawnFailed)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.started.Fire(struct{}{}, err)
		return errors.Wrap(err, errors.ProcessSpawnFailed)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.started.Fire(struct{}{}, err)
		return errors.Wrap(err, errors.ProcessSpawnFailed)
	}

	if err := cmd.Start(); err != nil {
		err = errors.Wrapf(err, errors.ProcessStartFailed, "process failed to start: %v", err)
		p.started.Fire(struct{}{}, err)
		return err
	}
	p.cmd = cmd
	p.stdin = stdin
	p.started.Fire(struct{}{}, nil)

	p.timer = time.AfterFunc(p.cfg.Timeout, func() {
		logger.Error(ctx, "sandbox run exceeded timeout, killing process",
			zap.Duration("timeout", p.cfg.Timeout),
			zap.Int("pid", cmd.Process.Pid))
		p.Kill()
	})

	var pipes sync.WaitGroup
	pipes.Add(2)
	go func() {
		defer pipes.Done()
		p.consumeStdout(ctx, stdout)
	}()
	go func() {
		defer pipes.Done()
		p.consumeStderr(ctx, stderr)
	}()
	go p.drainQueue(ctx)

	go func() {
		pipes.Wait()
		close(p.queueKick)
		waitErr := cmd.Wait()
		p.timer.Stop()
		p.pending.Wait()
		p.done.Fire(p.exitStatus(ctx, waitErr), nil)
	}()
	return nil
}

func (p *Process) exitStatus(ctx context.Context, waitErr error) ExitStatus {
	if p.overQuota.Load() {
		return NullStatus("receive quota exceeded")
	}
	state := p.cmd.ProcessState
	if state != nil && state.Exited() {
		return ExitStatus{code: state.ExitCode(), exited: true}
	}
	reason := "killed"
	if waitErr != nil {
		reason = waitErr.Error()
	}
	logger.Error(ctx, "sandbox process terminated abnormally",
		zap.String("reason", reason))
	return NullStatus(reason)
}

// checkRecv accounts chunk bytes against the cumulative quota across
// both streams. Crossing the quota kills the process and discards the
// whole offending chunk.
func (p *Process) checkRecv(ctx context.Context, n int) bool {
	if p.overQuota.Load() {
		return false
	}
	total := p.recvd.Add(int64(n))
	if total > p.cfg.RecvLimit {
		p.overQuota.Store(true)
		logger.Error(ctx, "sandbox exceeded receive quota, killing process",
			zap.Int64("limit", p.cfg.RecvLimit),
			zap.Int64("received", total))
		p.Kill()
		return false
	}
	return true
}

func (p *Process) consumeStdout(ctx context.Context, r io.Reader) {
	p.consumeLines(ctx, r, func(line []byte) {
		p.dispatchLine(ctx, line)
	})
}

func (p *Process) consumeStderr(ctx context.Context, r io.Reader) {
	p.consumeLines(ctx, r, func(line []byte) {
		logger.Error(ctx, "sandbox stderr", zap.ByteString("line", line))
	})
}

// consumeLines reads chunks, enforces the receive quota per chunk and
// splits the surviving bytes into newline-terminated lines. A trailing
// unterminated line is flushed when the stream closes.
func (p *Process) consumeLines(ctx context.Context, r io.Reader, handle func(line []byte)) {
	var pendingLine []byte
	buf := make([]byte, 8192)
	for {
		n, err := r.Read(buf)
		if n > 0 && p.checkRecv(ctx, n) {
			pendingLine = append(pendingLine, buf[:n]...)
			for {
				idx := bytes.IndexByte(pendingLine, '\n')
				if idx < 0 {
					break
				}
				line := pendingLine[:idx]
				pendingLine = pendingLine[idx+1:]
				if len(line) > 0 {
					handle(append([]byte(nil), line...))
				}
			}
		}
		if err != nil {
			break
		}
	}
	if len(pendingLine) > 0 && !p.overQuota.Load() {
		handle(pendingLine)
	}
}

// dispatchLine parses one line and queues the command without blocking
// the read loop. Commands are handled in queue order by drainQueue.
func (p *Process) dispatchLine(ctx context.Context, line []byte) {
	cmd := ParseCommandOrUnknown(line)
	p.pending.Add(1)
	p.queueMu.Lock()
	p.queue = append(p.queue, cmd)
	p.queueMu.Unlock()
	select {
	case p.queueKick <- struct{}{}:
	default:
	}
}

// drainQueue invokes the dispatch function for queued commands in the
// order their terminating newlines were read. Handlers run one at a
// time; replies may still arrive out of order and are correlated by
// cmd_id. Dispatch failures are logged individually.
func (p *Process) drainQueue(ctx context.Context) {
	for range p.queueKick {
		for {
			p.queueMu.Lock()
			if len(p.queue) == 0 {
				p.queueMu.Unlock()
				break
			}
			cmd := p.queue[0]
			p.queue = p.queue[1:]
			p.queueMu.Unlock()
			if err := p.dispatch(ctx, cmd); err != nil {
				logger.Error(ctx, "sandbox command dispatch failed",
					zap.String("cmd", cmd.Cmd),
					zap.String("cmd_id", cmd.CmdID),
					zap.Error(err))
			}
			p.pending.Done()
		}
	}
}

// Send writes a command line to the subprocess's stdin. No reply is
// awaited.
func (p *Process) Send(cmd *Command) error {
	data, err := cmd.Encode()
	if err != nil {
		return err
	}
	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()
	if p.stdin == nil {
		return errors.New(errors.ProcessKilled).WithMessage("process has no stdin")
	}
	if _, err := p.stdin.Write(append(data, '\n')); err != nil {
		return errors.Wrap(err, errors.ProtocolViolation)
	}
	return nil
}

// Kill forcibly terminates the process group. Idempotent; a no-op if
// the process already exited.
func (p *Process) Kill() {
	p.killOnce.Do(func() {
		if p.cmd == nil || p.cmd.Process == nil {
			return
		}
		if err := killGroup(p.cmd.Process.Pid); err != nil {
			_ = p.cmd.Process.Kill()
		}
	})
}
