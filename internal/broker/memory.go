package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// MemoryBroker is an in-process Broker used by tests and the local CLI.
// Published messages are queued per subscription and delivered in order
// by a dedicated goroutine once Start is called.
type MemoryBroker struct {
	mu            sync.Mutex
	subscriptions map[string][]*memorySubscription
	started       bool
	closed        bool
}

type memorySubscription struct {
	topic   string
	handler HandlerFunc
	opts    SubscribeOptions
	baseCtx context.Context

	mu      sync.Mutex
	queue   []*Message
	wake    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	paused  atomic.Bool
	running bool
}

func (s *memorySubscription) Topic() string { return s.topic }

func (s *memorySubscription) Pause() error {
	s.paused.Store(true)
	return nil
}

func (s *memorySubscription) Unpause() error {
	s.paused.Store(false)
	s.signal()
	return nil
}

func (s *memorySubscription) Paused() bool { return s.paused.Load() }

func (s *memorySubscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memorySubscription) enqueue(m *Message) {
	s.mu.Lock()
	s.queue = append(s.queue, m)
	s.mu.Unlock()
	s.signal()
}

func (s *memorySubscription) dequeue() *Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	m := s.queue[0]
	s.queue = s.queue[1:]
	return m
}

func (s *memorySubscription) run() {
	defer close(s.done)
	for {
		if s.paused.Load() {
			select {
			case <-s.ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}
		m := s.dequeue()
		if m == nil {
			select {
			case <-s.ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}
		if err := s.handler(s.ctx, m); err != nil {
			m.RetryCount++
			if m.RetryCount <= m.MaxRetries {
				s.mu.Lock()
				s.queue = append([]*Message{m}, s.queue...)
				s.mu.Unlock()
			}
		}
	}
}

// NewMemoryBroker creates an in-memory broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		subscriptions: make(map[string][]*memorySubscription),
	}
}

// Publish delivers a message to every subscription on the topic.
// Messages published to a topic with no subscribers are dropped.
func (b *MemoryBroker) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("broker is closed")
	}
	subs := make([]*memorySubscription, len(b.subscriptions[topic]))
	copy(subs, b.subscriptions[topic])
	b.mu.Unlock()

	for _, sub := range subs {
		copied := *message
		sub.enqueue(&copied)
	}
	return nil
}

// Subscribe subscribes to a topic with default options.
func (b *MemoryBroker) Subscribe(ctx context.Context, topic string, handler HandlerFunc) (Subscription, error) {
	return b.SubscribeWithOptions(ctx, topic, handler, nil)
}

// SubscribeWithOptions subscribes to a topic with custom options.
func (b *MemoryBroker) SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) (Subscription, error) {
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	var options SubscribeOptions
	if opts != nil {
		options = *opts
	}
	options.SetDefaults()

	sub := &memorySubscription{
		topic:   topic,
		handler: handler,
		opts:    options,
		baseCtx: ctx,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("broker is closed")
	}
	b.subscriptions[topic] = append(b.subscriptions[topic], sub)
	if b.started {
		b.startSubscription(sub)
	}
	return sub, nil
}

// Start starts delivery for all registered subscriptions.
func (b *MemoryBroker) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("broker is closed")
	}
	if b.started {
		return nil
	}
	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			b.startSubscription(sub)
		}
	}
	b.started = true
	return nil
}

func (b *MemoryBroker) startSubscription(sub *memorySubscription) {
	if sub.running {
		return
	}
	baseCtx := sub.baseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	sub.ctx, sub.cancel = context.WithCancel(baseCtx)
	sub.running = true
	go sub.run()
}

// Stop stops all delivery goroutines.
func (b *MemoryBroker) Stop() error {
	b.mu.Lock()
	var running []*memorySubscription
	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			if sub.running {
				sub.cancel()
				running = append(running, sub)
			}
		}
	}
	b.started = false
	b.mu.Unlock()

	for _, sub := range running {
		<-sub.done
		sub.running = false
		sub.done = make(chan struct{})
	}
	return nil
}

// Ping always succeeds for the in-memory broker.
func (b *MemoryBroker) Ping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("broker is closed")
	}
	return nil
}

// Close stops delivery and rejects further use.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.Stop()
}

var _ Broker = (*MemoryBroker)(nil)
