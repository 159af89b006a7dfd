// Package eventbus abstracts the at-least-once Event Bus collaborator the
// Stream Processor consumes from: subscribe to topics, read a stream of
// messages carrying topic/partition/offset, and commit offsets once
// processed. Two adapters implement it: a go-redis-backed RedisBus (Redis
// Streams) and an in-process MemoryBus; callers should depend on the
// interfaces, never on *redis.Client directly.
package eventbus

import (
	"context"
	"time"
)

// Message is one unit of data read from the bus.
type Message struct {
	Topic     string
	Partition string
	Offset    string
	Key       string
	Payload   []byte
	Headers   map[string]string
	Timestamp *time.Time
}

// SubscribeOptions configures a subscription.
type SubscribeOptions struct {
	// ConsumerGroup names the at-least-once delivery group; messages are
	// acknowledged per-group via Commit.
	ConsumerGroup string
	// ConsumerName identifies this subscriber within ConsumerGroup.
	ConsumerName string
	// StartID is the stream position a brand-new consumer group starts
	// from ("0" for beginning, "$" for only-new). Ignored once the group exists.
	StartID string
	// BlockFor bounds how long one poll waits for new messages.
	BlockFor time.Duration
}

// MessageStream is a live subscription: callers read Messages and Errors.
// Read errors are reported on Errors and do not end the stream. The Redis
// stream closes Messages on Close; the in-memory stream never closes it.
type MessageStream interface {
	Messages() <-chan Message
	Errors() <-chan error
	// Commit synchronously acknowledges offsets, fulfilling the "at least
	// once" contract: a crash before Commit redelivers the message.
	Commit(ctx context.Context, offsets []Message) error
	Close() error
}

// PublishResult reports where a published message landed.
type PublishResult struct {
	Partition string
	Offset    string
}

// EventBus is the full collaborator contract: subscribe to consume,
// publish to produce.
type EventBus interface {
	Subscribe(ctx context.Context, topics []string, opts SubscribeOptions) (MessageStream, error)
	Publish(ctx context.Context, topic string, payload []byte, headers map[string]string, partition string, timestamp *time.Time) (PublishResult, error)
	Close() error
}
