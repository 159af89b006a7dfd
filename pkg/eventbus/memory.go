package eventbus

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/controlplane/pkg/apperrors"
)

// MemoryBus is an in-process EventBus for tests: topics are unbounded
// channels fanned out to every active subscription, offsets are a
// monotonic counter per topic.
type MemoryBus struct {
	mu      sync.Mutex
	offsets map[string]*uint64
	subs    map[string][]*memoryStream
	closed  bool
}

// NewMemoryBus returns an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		offsets: make(map[string]*uint64),
		subs:    make(map[string][]*memoryStream),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte, headers map[string]string, partition string, timestamp *time.Time) (PublishResult, error) {
	if partition == "" {
		partition = defaultPartition
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return PublishResult{}, apperrors.New(apperrors.UpstreamUnavailable, "event bus closed")
	}
	counter, ok := b.offsets[topic]
	if !ok {
		var zero uint64
		counter = &zero
		b.offsets[topic] = counter
	}
	offset := atomic.AddUint64(counter, 1)
	targets := append([]*memoryStream(nil), b.subs[topic]...)
	b.mu.Unlock()

	msg := Message{
		Topic: topic, Partition: partition, Offset: strconv.FormatUint(offset, 10),
		Payload: append([]byte(nil), payload...), Headers: headers, Timestamp: timestamp,
	}
	for _, s := range targets {
		s.deliver(msg)
	}
	return PublishResult{Partition: partition, Offset: msg.Offset}, nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topics []string, opts SubscribeOptions) (MessageStream, error) {
	s := &memoryStream{
		bus:    b,
		topics: topics,
		msgs:   make(chan Message, 256),
		errs:   make(chan error, 1),
	}
	b.mu.Lock()
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], s)
	}
	b.mu.Unlock()
	return s, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

type memoryStream struct {
	bus    *MemoryBus
	topics []string
	msgs   chan Message
	errs   chan error
}

func (s *memoryStream) Messages() <-chan Message { return s.msgs }
func (s *memoryStream) Errors() <-chan error     { return s.errs }

func (s *memoryStream) deliver(msg Message) {
	select {
	case s.msgs <- msg:
	default:
		select {
		case s.errs <- apperrors.New(apperrors.Internal, "subscriber channel full, message dropped"):
		default:
		}
	}
}

// Commit is a no-op: MemoryBus has no durable offset ledger to ack against.
func (s *memoryStream) Commit(ctx context.Context, offsets []Message) error { return nil }

func (s *memoryStream) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	for _, t := range s.topics {
		remaining := s.bus.subs[t][:0]
		for _, sub := range s.bus.subs[t] {
			if sub != s {
				remaining = append(remaining, sub)
			}
		}
		s.bus.subs[t] = remaining
	}
	return nil
}
