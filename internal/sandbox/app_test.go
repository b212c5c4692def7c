package sandbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"courier/internal/kvstore"
	"courier/internal/message"
	"courier/internal/sandbox"
	"courier/pkg/errors"
)

func newAppStore(t *testing.T) kvstore.Store {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := kvstore.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("NewRedisStoreWithClient: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newShellApp(t *testing.T, store kvstore.Store, script string, mutate func(*sandbox.AppConfig)) *sandbox.App {
	t.Helper()

	cfg := sandbox.AppConfig{
		Executable: "/bin/sh",
		Args:       []string{"-c", script},
		Timeout:    10 * time.Second,
		Resources: map[string]map[string]interface{}{
			"log": {"cls": "log"},
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	app := sandbox.NewApp(cfg, store, nil)
	if err := app.SetupApplication(context.Background()); err != nil {
		t.Fatalf("SetupApplication: %v", err)
	}
	t.Cleanup(func() { _ = app.TeardownApplication(context.Background()) })
	return app
}

func inboundFor(sandboxID string) *message.UserMessage {
	msg := message.NewOutbound("app-1", "+1000", "hi")
	msg.SandboxID = sandboxID
	return msg
}

func TestAppRunsMessageToCompletion(t *testing.T) {
	t.Parallel()

	app := newShellApp(t, newAppStore(t),
		`echo '{"cmd":"log.info","cmd_id":"c1","reply":false,"msg":"hello"}'`, nil)

	status := app.ProcessMessage(context.Background(), inboundFor("sb-1"))
	code, ok := status.Code()
	if !ok {
		t.Fatalf("no exit status, reason %q", status.Reason())
	}
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
}

func TestAppReportsChildExitCode(t *testing.T) {
	t.Parallel()

	app := newShellApp(t, newAppStore(t), "exit 5", nil)

	status := app.ProcessEvent(context.Background(),
		message.NewAck("m1", "remote-1"))
	code, ok := status.Code()
	if !ok {
		t.Fatalf("no exit status, reason %q", status.Reason())
	}
	if code != 5 {
		t.Fatalf("exit code = %d, want 5", code)
	}
}

func TestAppKVCommandsReachTheStore(t *testing.T) {
	t.Parallel()

	store := newAppStore(t)
	app := newShellApp(t, store,
		`echo '{"cmd":"kv.set","cmd_id":"c1","reply":false,"key":"color","value":"blue"}'`,
		func(cfg *sandbox.AppConfig) {
			cfg.Resources["kv"] = map[string]interface{}{"cls": "kv"}
		})

	status := app.ProcessMessage(context.Background(), inboundFor("sb-kv"))
	if code, ok := status.Code(); !ok || code != 0 {
		t.Fatalf("status = %v %v, want exit 0", code, ok)
	}

	raw, err := store.Get(context.Background(), "sandboxes#sb-kv#color")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if raw != `"blue"` {
		t.Fatalf("stored value = %q, want %q", raw, `"blue"`)
	}
}

func TestAppTimeoutYieldsNullStatus(t *testing.T) {
	t.Parallel()

	app := newShellApp(t, newAppStore(t), "sleep 30", func(cfg *sandbox.AppConfig) {
		cfg.Timeout = 200 * time.Millisecond
	})

	status := app.ProcessMessage(context.Background(), inboundFor("sb-1"))
	if _, ok := status.Code(); ok {
		t.Fatal("timed-out run reported an exit code")
	}
}

func TestAppScriptResourceSendsInitialization(t *testing.T) {
	t.Parallel()

	// The child exits cleanly only after a line arrives on stdin. The
	// script resource's initialize command is the only line sent.
	app := newShellApp(t, newAppStore(t), "read line; exit 0", func(cfg *sandbox.AppConfig) {
		cfg.Timeout = 5 * time.Second
		cfg.Resources["js"] = map[string]interface{}{
			"cls":        "js",
			"javascript": "api.done();",
		}
	})

	status := app.ProcessMessage(context.Background(), inboundFor("sb-1"))
	if code, ok := status.Code(); !ok || code != 0 {
		t.Fatalf("status = %v %v, want exit 0", code, ok)
	}
}

func TestAppRequiresExecutable(t *testing.T) {
	t.Parallel()

	app := sandbox.NewApp(sandbox.AppConfig{}, newAppStore(t), nil)
	err := app.SetupApplication(context.Background())
	if !errors.Is(err, errors.ConfigMissingField) {
		t.Fatalf("error = %v, want ConfigMissingField", err)
	}
}

func TestAppRejectsBadRlimits(t *testing.T) {
	t.Parallel()

	app := sandbox.NewApp(sandbox.AppConfig{
		Executable: "/bin/true",
		Rlimits:    map[string][]uint64{"cpu": {100, 1}},
	}, newAppStore(t), nil)
	err := app.SetupApplication(context.Background())
	if !errors.Is(err, errors.RlimitInvalid) {
		t.Fatalf("error = %v, want RlimitInvalid", err)
	}
}

func TestAppFixedSandboxIDOverridesMessage(t *testing.T) {
	t.Parallel()

	store := newAppStore(t)
	app := newShellApp(t, store,
		`echo '{"cmd":"kv.set","cmd_id":"c1","reply":false,"key":"k","value":1}'`,
		func(cfg *sandbox.AppConfig) {
			cfg.SandboxID = "pinned"
			cfg.Resources["kv"] = map[string]interface{}{"cls": "kv"}
		})

	status := app.ProcessMessage(context.Background(), inboundFor("sb-ignored"))
	if code, ok := status.Code(); !ok || code != 0 {
		t.Fatalf("status = %v %v, want exit 0", code, ok)
	}

	if raw, err := store.Get(context.Background(), "sandboxes#pinned#k"); err != nil || raw == "" {
		t.Fatalf("pinned namespace missing key: %q %v", raw, err)
	}
}
