package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"courier/internal/broker"
	"courier/pkg/utils/logger"
)

// HeartbeatTopic is the topic heartbeat payloads are published to.
const HeartbeatTopic = "heartbeat.inbound"

// heartbeatVersion identifies the heartbeat payload format.
const heartbeatVersion = "20130319"

// DefaultHeartbeatInterval is how often heartbeats are emitted.
const DefaultHeartbeatInterval = 10 * time.Second

// HeartbeatPayload is the periodic liveness report for a named worker.
type HeartbeatPayload struct {
	Version    string `json:"version"`
	SystemID   string `json:"system_id"`
	WorkerID   string `json:"worker_id"`
	WorkerName string `json:"worker_name"`
	Hostname   string `json:"hostname"`
	Timestamp  int64  `json:"timestamp"`
	PID        int    `json:"pid"`
}

// Heartbeat periodically publishes liveness payloads for a worker.
type Heartbeat struct {
	broker     broker.Broker
	systemID   string
	workerName string
	interval   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeartbeat creates a heartbeat publisher. The worker id is derived
// from the system id and worker name.
func NewHeartbeat(b broker.Broker, systemID, workerName string, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeat{
		broker:     b,
		systemID:   systemID,
		workerName: workerName,
		interval:   interval,
	}
}

// WorkerID returns the globally unique id heartbeats report.
func (h *Heartbeat) WorkerID() string {
	return fmt.Sprintf("%s:%s", h.systemID, h.workerName)
}

func (h *Heartbeat) payload() *HeartbeatPayload {
	hostname, _ := os.Hostname()
	return &HeartbeatPayload{
		Version:    heartbeatVersion,
		SystemID:   h.systemID,
		WorkerID:   h.WorkerID(),
		WorkerName: h.workerName,
		Hostname:   hostname,
		Timestamp:  time.Now().Unix(),
		PID:        os.Getpid(),
	}
}

func (h *Heartbeat) beat(ctx context.Context) {
	body, err := json.Marshal(h.payload())
	if err != nil {
		logger.Error(ctx, "failed to encode heartbeat", zap.Error(err))
		return
	}
	if err := h.broker.Publish(ctx, HeartbeatTopic, broker.NewMessage(body)); err != nil {
		logger.Warn(ctx, "failed to publish heartbeat",
			zap.String("worker_id", h.WorkerID()), zap.Error(err))
	}
}

// Start begins emitting heartbeats. The first beat is sent immediately.
func (h *Heartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})

	go func() {
		defer close(h.done)
		h.beat(runCtx)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				h.beat(runCtx)
			}
		}
	}()
}

// Stop halts heartbeat emission and waits for the publisher goroutine.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	done := h.done
	h.cancel = nil
	h.done = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
