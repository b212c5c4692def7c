package broker

import (
	"context"
	"time"
)

// Broker is the unified transport for worker messaging. Implementations
// deliver published payloads to every subscription on the same topic's
// consumer group semantics.
type Broker interface {
	// Publish publishes a message to the given topic.
	Publish(ctx context.Context, topic string, message *Message) error

	// Subscribe registers a handler for a topic and returns a
	// Subscription that can pause and resume delivery independently
	// of other subscriptions. Consumption begins once Start is called.
	Subscribe(ctx context.Context, topic string, handler HandlerFunc) (Subscription, error)

	// SubscribeWithOptions subscribes with custom options.
	SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) (Subscription, error)

	// Start starts consuming messages for all registered subscriptions.
	Start() error

	// Stop gracefully stops all consumers.
	Stop() error

	// Ping verifies the broker connection is alive.
	Ping(ctx context.Context) error

	// Close stops consumers and releases the broker's resources.
	Close() error
}

// Subscription controls delivery for a single topic handler.
type Subscription interface {
	// Topic returns the topic this subscription consumes.
	Topic() string

	// Pause stops delivering messages to the handler. Messages stay
	// queued at the broker until Unpause.
	Pause() error

	// Unpause resumes delivery after Pause.
	Unpause() error

	// Paused reports whether delivery is currently paused.
	Paused() bool
}

// Message represents a message on the wire.
type Message struct {
	// ID is the unique identifier for the message
	ID string `json:"id"`

	// Body is the message payload
	Body []byte `json:"body"`

	// Headers contains metadata about the message
	Headers map[string]string `json:"headers"`

	// Timestamp is when the message was created
	Timestamp time.Time `json:"timestamp"`

	// Retry information
	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// HandlerFunc is the function signature for message handlers.
// A non-nil error marks the delivery as failed and eligible for retry.
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions defines options for subscribing to a topic.
type SubscribeOptions struct {
	// ConsumerGroup is the consumer group name
	ConsumerGroup string

	// PrefetchCount sets the number of messages to prefetch
	// Default: 1
	PrefetchCount int

	// Concurrency sets the number of concurrent workers
	// Default: 1
	Concurrency int

	// MaxRetries sets the maximum number of retries for failed messages
	// Default: 3
	MaxRetries int

	// RetryDelay sets the delay between retries
	// Default: 1 second
	RetryDelay time.Duration

	// DeadLetterTopic is where messages go after max retries
	DeadLetterTopic string
}

// SetDefaults sets default values for subscribe options
func (o *SubscribeOptions) SetDefaults() {
	if o.PrefetchCount == 0 {
		o.PrefetchCount = 1
	}
	if o.Concurrency == 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
}

// NewMessage creates a new message with the given body
func NewMessage(body []byte) *Message {
	return &Message{
		Body:       body,
		Headers:    make(map[string]string),
		Timestamp:  time.Now(),
		RetryCount: 0,
		MaxRetries: 3,
	}
}

// SetHeader sets a header value
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// GetHeader retrieves a header value
func (m *Message) GetHeader(key string) (string, bool) {
	if m.Headers == nil {
		return "", false
	}
	val, ok := m.Headers[key]
	return val, ok
}
