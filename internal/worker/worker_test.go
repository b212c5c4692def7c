package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"courier/internal/broker"
	"courier/internal/worker"
	"courier/pkg/errors"
)

// stageRecorder tracks which lifecycle stages ran, in order.
type stageRecorder struct {
	base   *worker.BaseWorker
	mu     sync.Mutex
	stages []string

	failStage string
}

func (r *stageRecorder) record(stage string) error {
	r.mu.Lock()
	r.stages = append(r.stages, stage)
	r.mu.Unlock()
	if stage == r.failStage {
		return errors.Newf(errors.InternalError, "stage %s failed", stage)
	}
	return nil
}

func (r *stageRecorder) ValidateConfig() error { return r.record("validate") }

func (r *stageRecorder) SetupConnectors(ctx context.Context) error {
	if err := r.record("connectors"); err != nil {
		return err
	}
	_, err := r.base.SetupConnector("transport")
	return err
}

func (r *stageRecorder) SetupWorker(ctx context.Context) error { return r.record("worker") }

func (r *stageRecorder) TeardownWorker(ctx context.Context) error { return r.record("teardown") }

func (r *stageRecorder) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.stages))
	copy(out, r.stages)
	return out
}

func TestStartRunsStagesInOrder(t *testing.T) {
	t.Parallel()

	b := broker.NewMemoryBroker()
	defer b.Close()

	w := worker.NewBaseWorker(worker.BaseConfig{}, b, nil)
	rec := &stageRecorder{base: w}

	if err := w.Start(context.Background(), rec); err != nil {
		t.Fatalf("Start: %v", err)
	}

	want := []string{"validate", "connectors", "worker"}
	got := rec.order()
	if len(got) != len(want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stages = %v, want %v", got, want)
		}
	}
}

func TestStartAbortsOnStageFailure(t *testing.T) {
	t.Parallel()

	b := broker.NewMemoryBroker()
	defer b.Close()

	w := worker.NewBaseWorker(worker.BaseConfig{}, b, nil)
	rec := &stageRecorder{base: w, failStage: "connectors"}

	if err := w.Start(context.Background(), rec); err == nil {
		t.Fatal("expected Start to fail")
	}

	for _, stage := range rec.order() {
		if stage == "worker" {
			t.Fatal("worker stage ran after connectors stage failed")
		}
	}
}

func TestStartTwiceFails(t *testing.T) {
	t.Parallel()

	b := broker.NewMemoryBroker()
	defer b.Close()

	w := worker.NewBaseWorker(worker.BaseConfig{}, b, nil)
	rec := &stageRecorder{base: w}

	if err := w.Start(context.Background(), rec); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := w.Start(context.Background(), rec)
	if !errors.Is(err, errors.WorkerAlreadyStarted) {
		t.Fatalf("second Start error = %v, want WorkerAlreadyStarted", err)
	}
}

func TestDuplicateConnector(t *testing.T) {
	t.Parallel()

	b := broker.NewMemoryBroker()
	defer b.Close()

	w := worker.NewBaseWorker(worker.BaseConfig{}, b, nil)
	if _, err := w.SetupConnector("sms"); err != nil {
		t.Fatalf("SetupConnector: %v", err)
	}
	_, err := w.SetupConnector("sms")
	if !errors.Is(err, errors.DuplicateConnector) {
		t.Fatalf("error = %v, want DuplicateConnector", err)
	}
}

func TestConnectorsStartPaused(t *testing.T) {
	t.Parallel()

	b := broker.NewMemoryBroker()
	defer b.Close()

	w := worker.NewBaseWorker(worker.BaseConfig{}, b, nil)
	c, err := w.SetupConnector("sms")
	if err != nil {
		t.Fatalf("SetupConnector: %v", err)
	}
	if !c.Paused() {
		t.Fatal("new connector should be paused")
	}

	w.UnpauseConnectors()
	if c.Paused() {
		t.Fatal("connector should be unpaused")
	}
}

func TestHeartbeatPublishesPayload(t *testing.T) {
	t.Parallel()

	b := broker.NewMemoryBroker()
	defer b.Close()

	var mu sync.Mutex
	var beats []*broker.Message
	if _, err := b.Subscribe(context.Background(), worker.HeartbeatTopic, func(ctx context.Context, m *broker.Message) error {
		mu.Lock()
		beats = append(beats, m)
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	hb := worker.NewHeartbeat(b, "sys1", "worker1", time.Hour)
	hb.Start(context.Background())
	defer hb.Stop()

	if hb.WorkerID() != "sys1:worker1" {
		t.Fatalf("WorkerID = %q, want %q", hb.WorkerID(), "sys1:worker1")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(beats)
		mu.Unlock()
		if n >= 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no heartbeat published")
}
