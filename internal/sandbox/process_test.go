package sandbox_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"courier/internal/sandbox"
)

type cmdCollector struct {
	mu   sync.Mutex
	cmds []*sandbox.Command
}

func (c *cmdCollector) dispatch(ctx context.Context, cmd *sandbox.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmds = append(c.cmds, cmd)
	return nil
}

func (c *cmdCollector) all() []*sandbox.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*sandbox.Command, len(c.cmds))
	copy(out, c.cmds)
	return out
}

func runShell(t *testing.T, script string, mutate func(*sandbox.ProcessConfig)) (*cmdCollector, sandbox.ExitStatus) {
	t.Helper()

	cfg := sandbox.ProcessConfig{
		Executable: "/bin/sh",
		Args:       []string{"-c", script},
		Timeout:    5 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	var c cmdCollector
	proc := sandbox.NewProcess(cfg, c.dispatch)
	if err := proc.Spawn(context.Background()); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	status, err := proc.Done().Wait(ctx)
	if err != nil {
		t.Fatalf("waiting for done: %v", err)
	}
	return &c, status
}

func TestProcessDispatchesStdoutCommands(t *testing.T) {
	t.Parallel()

	script := `echo '{"cmd":"log.info","cmd_id":"1","reply":false,"msg":"hello"}'`
	c, status := runShell(t, script, nil)

	cmds := c.all()
	if len(cmds) != 1 {
		t.Fatalf("dispatched %d commands, want 1", len(cmds))
	}
	if cmds[0].Cmd != "log.info" {
		t.Fatalf("cmd = %q, want %q", cmds[0].Cmd, "log.info")
	}
	if cmds[0].String("msg") != "hello" {
		t.Fatalf("msg = %q, want %q", cmds[0].String("msg"), "hello")
	}
	if code, ok := status.Code(); !ok || code != 0 {
		t.Fatalf("status = (%d, %v), want (0, true)", code, ok)
	}
}

func TestCommandsDispatchedInReadOrder(t *testing.T) {
	t.Parallel()

	script := `i=0; while [ $i -lt 200 ]; do echo "{\"cmd\":\"seq.next\",\"cmd_id\":\"$i\",\"reply\":false,\"n\":$i}"; i=$((i+1)); done`
	c, status := runShell(t, script, nil)

	if code, ok := status.Code(); !ok || code != 0 {
		t.Fatalf("status = (%d, %v), want (0, true)", code, ok)
	}
	cmds := c.all()
	if len(cmds) != 200 {
		t.Fatalf("dispatched %d commands, want 200", len(cmds))
	}
	for i, cmd := range cmds {
		n, ok := cmd.Float("n")
		if !ok || int(n) != i {
			t.Fatalf("command at position %d carries n=%v, want %d", i, cmd.Extra["n"], i)
		}
	}
}

func TestTrailingUnterminatedLineIsFlushed(t *testing.T) {
	t.Parallel()

	script := `printf '{"cmd":"tail.cmd","cmd_id":"2","reply":false}'`
	c, _ := runShell(t, script, nil)

	cmds := c.all()
	if len(cmds) != 1 {
		t.Fatalf("dispatched %d commands, want 1", len(cmds))
	}
	if cmds[0].Cmd != "tail.cmd" {
		t.Fatalf("cmd = %q, want %q", cmds[0].Cmd, "tail.cmd")
	}
}

func TestMalformedLineBecomesUnknownCommand(t *testing.T) {
	t.Parallel()

	c, status := runShell(t, `echo 'definitely not json'`, nil)

	cmds := c.all()
	if len(cmds) != 1 {
		t.Fatalf("dispatched %d commands, want 1", len(cmds))
	}
	if cmds[0].Cmd != sandbox.UnknownCmd {
		t.Fatalf("cmd = %q, want %q", cmds[0].Cmd, sandbox.UnknownCmd)
	}
	if code, ok := status.Code(); !ok || code != 0 {
		t.Fatalf("status = (%d, %v), want (0, true)", code, ok)
	}
}

func TestStderrIsNotParsed(t *testing.T) {
	t.Parallel()

	script := `echo 'noise on stderr' >&2; echo '{"cmd":"a.b","cmd_id":"3","reply":false}'`
	c, _ := runShell(t, script, nil)

	cmds := c.all()
	if len(cmds) != 1 {
		t.Fatalf("dispatched %d commands, want 1: %+v", len(cmds), cmds)
	}
	if cmds[0].Cmd != "a.b" {
		t.Fatalf("cmd = %q, want %q", cmds[0].Cmd, "a.b")
	}
}

func TestExitCodeReported(t *testing.T) {
	t.Parallel()

	_, status := runShell(t, `exit 3`, nil)
	if code, ok := status.Code(); !ok || code != 3 {
		t.Fatalf("status = (%d, %v), want (3, true)", code, ok)
	}
}

func TestTimeoutKillsProcess(t *testing.T) {
	t.Parallel()

	start := time.Now()
	_, status := runShell(t, `sleep 30`, func(cfg *sandbox.ProcessConfig) {
		cfg.Timeout = 200 * time.Millisecond
	})

	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout kill took %v", elapsed)
	}
	if _, ok := status.Code(); ok {
		t.Fatal("timed-out run reported an exit code, want null status")
	}
}

func TestRecvQuotaKillsProcess(t *testing.T) {
	t.Parallel()

	// Stream far more than the quota, never terminating on its own.
	_, status := runShell(t, `while true; do echo aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa; done`, func(cfg *sandbox.ProcessConfig) {
		cfg.RecvLimit = 4096
	})

	if _, ok := status.Code(); ok {
		t.Fatal("over-quota run reported an exit code, want null status")
	}
	if status.Reason() != "receive quota exceeded" {
		t.Fatalf("reason = %q, want %q", status.Reason(), "receive quota exceeded")
	}
}

func TestQuotaCountsStderrToo(t *testing.T) {
	t.Parallel()

	_, status := runShell(t, `while true; do echo bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb >&2; done`, func(cfg *sandbox.ProcessConfig) {
		cfg.RecvLimit = 4096
	})

	if _, ok := status.Code(); ok {
		t.Fatal("over-quota run reported an exit code, want null status")
	}
}

func TestSendReachesChildStdin(t *testing.T) {
	t.Parallel()

	cfg := sandbox.ProcessConfig{
		Executable: "/bin/sh",
		Args:       []string{"-c", "head -n 1"},
		Timeout:    5 * time.Second,
	}
	var c cmdCollector
	proc := sandbox.NewProcess(cfg, c.dispatch)
	if err := proc.Spawn(context.Background()); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	sent := sandbox.NewCommand("ping", map[string]interface{}{"n": float64(1)})
	if err := proc.Send(sent); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := proc.Done().Wait(ctx); err != nil {
		t.Fatalf("waiting for done: %v", err)
	}

	cmds := c.all()
	if len(cmds) != 1 {
		t.Fatalf("dispatched %d commands, want 1", len(cmds))
	}
	if cmds[0].Cmd != "ping" || cmds[0].CmdID != sent.CmdID {
		t.Fatalf("echoed command = %+v, want the sent one", cmds[0])
	}
}

func TestSpawnFailureFiresStarted(t *testing.T) {
	t.Parallel()

	cfg := sandbox.ProcessConfig{Executable: "/no/such/binary"}
	proc := sandbox.NewProcess(cfg, func(ctx context.Context, cmd *sandbox.Command) error { return nil })

	if err := proc.Spawn(context.Background()); err == nil {
		t.Fatal("expected Spawn to fail")
	}
	if _, err := proc.Started().Wait(context.Background()); err == nil {
		t.Fatal("started signal should carry the spawn failure")
	}
}

func TestKillIsIdempotent(t *testing.T) {
	t.Parallel()

	cfg := sandbox.ProcessConfig{
		Executable: "/bin/sh",
		Args:       []string{"-c", "sleep 30"},
		Timeout:    30 * time.Second,
	}
	proc := sandbox.NewProcess(cfg, func(ctx context.Context, cmd *sandbox.Command) error { return nil })
	if err := proc.Spawn(context.Background()); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	proc.Kill()
	proc.Kill()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	status, err := proc.Done().Wait(ctx)
	if err != nil {
		t.Fatalf("waiting for done: %v", err)
	}
	if _, ok := status.Code(); ok {
		t.Fatal("killed run reported an exit code, want null status")
	}
}
