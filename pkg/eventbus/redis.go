package eventbus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/controlplane/pkg/apperrors"
	"github.com/cuemby/controlplane/pkg/log"
	"github.com/redis/go-redis/v9"
)

// defaultPartition is used when a caller publishes or subscribes without
// naming one; Redis Streams have no native partition concept, so each
// (topic, partition) pair maps to its own stream key.
const defaultPartition = "0"

// RedisBus is an EventBus backed by Redis Streams: XADD to publish,
// consumer-group XREADGROUP to subscribe, XACK to commit.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus wraps an already-configured *redis.Client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func streamKey(topic, partition string) string {
	if partition == "" {
		partition = defaultPartition
	}
	return "controlplane:stream:" + topic + ":" + partition
}

func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte, headers map[string]string, partition string, timestamp *time.Time) (PublishResult, error) {
	key := streamKey(topic, partition)
	values := map[string]any{"payload": payload}
	for k, v := range headers {
		values["hdr:"+k] = v
	}
	if timestamp != nil {
		values["ts"] = timestamp.UnixMilli()
	}

	id, err := b.client.XAdd(ctx, &redis.XAddArgs{Stream: key, Values: values}).Result()
	if err != nil {
		return PublishResult{}, apperrors.Wrap(apperrors.UpstreamUnavailable, "publish to event bus", err)
	}
	if partition == "" {
		partition = defaultPartition
	}
	return PublishResult{Partition: partition, Offset: id}, nil
}

func (b *RedisBus) Subscribe(ctx context.Context, topics []string, opts SubscribeOptions) (MessageStream, error) {
	if opts.ConsumerGroup == "" {
		return nil, apperrors.New(apperrors.InvalidRequest, "subscribe requires a consumer group")
	}
	if opts.ConsumerName == "" {
		opts.ConsumerName = "consumer-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	if opts.StartID == "" {
		opts.StartID = "0"
	}
	if opts.BlockFor <= 0 {
		opts.BlockFor = 5 * time.Second
	}

	keys := make([]string, 0, len(topics))
	for _, t := range topics {
		key := streamKey(t, defaultPartition)
		keys = append(keys, key)
		if err := b.client.XGroupCreateMkStream(ctx, key, opts.ConsumerGroup, opts.StartID).Err(); err != nil && !isBusyGroupErr(err) {
			return nil, apperrors.Wrap(apperrors.UpstreamUnavailable, "create consumer group", err)
		}
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	s := &redisStream{
		client:  b.client,
		group:    opts.ConsumerGroup,
		consumer: opts.ConsumerName,
		keys:    keys,
		block:   opts.BlockFor,
		msgs:    make(chan Message, 256),
		errs:    make(chan error, 8),
		ctx:     streamCtx,
		cancel:  cancel,
		topicOf: topicsByKey(topics, keys),
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

func isBusyGroupErr(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func topicsByKey(topics, keys []string) map[string]string {
	m := make(map[string]string, len(keys))
	for i, k := range keys {
		m[k] = topics[i]
	}
	return m
}

// redisStream polls XREADGROUP in a loop and fans parsed messages onto msgs.
type redisStream struct {
	client  *redis.Client
	group    string
	consumer string
	keys    []string
	block   time.Duration
	topicOf map[string]string

	msgs chan Message
	errs chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *redisStream) Messages() <-chan Message { return s.msgs }
func (s *redisStream) Errors() <-chan error     { return s.errs }

func (s *redisStream) run() {
	defer s.wg.Done()
	defer close(s.msgs)

	args := make([]string, 0, len(s.keys)*2)
	args = append(args, s.keys...)
	for range s.keys {
		args = append(args, ">")
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		res, err := s.client.XReadGroup(s.ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.consumer,
			Streams:  args,
			Count:    64,
			Block:    s.block,
		}).Result()
		if err != nil {
			if err == redis.Nil || s.ctx.Err() != nil {
				continue
			}
			select {
			case s.errs <- apperrors.Wrap(apperrors.UpstreamUnavailable, "read event bus stream", err):
			default:
				log.Warn("eventbus: dropped error, receiver not draining Errors()")
			}
			continue
		}

		for _, stream := range res {
			topic := s.topicOf[stream.Stream]
			for _, entry := range stream.Messages {
				msg := parseMessage(topic, defaultPartition, entry)
				select {
				case s.msgs <- msg:
				case <-s.ctx.Done():
					return
				}
			}
		}
	}
}

func parseMessage(topic, partition string, entry redis.XMessage) Message {
	msg := Message{
		Topic:     topic,
		Partition: partition,
		Offset:    entry.ID,
		Headers:   make(map[string]string),
	}
	if p, ok := entry.Values["payload"]; ok {
		if s, ok := p.(string); ok {
			msg.Payload = []byte(s)
		}
	}
	for k, v := range entry.Values {
		if len(k) > 4 && k[:4] == "hdr:" {
			if s, ok := v.(string); ok {
				msg.Headers[k[4:]] = s
			}
		}
	}
	if tsRaw, ok := entry.Values["ts"]; ok {
		if s, ok := tsRaw.(string); ok {
			if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
				t := time.UnixMilli(ms)
				msg.Timestamp = &t
			}
		}
	}
	return msg
}

func (s *redisStream) Commit(ctx context.Context, offsets []Message) error {
	byStream := make(map[string][]string)
	for _, m := range offsets {
		key := streamKey(m.Topic, m.Partition)
		byStream[key] = append(byStream[key], m.Offset)
	}
	for key, ids := range byStream {
		if err := s.client.XAck(ctx, key, s.group, ids...).Err(); err != nil {
			return apperrors.Wrap(apperrors.UpstreamUnavailable, fmt.Sprintf("commit offsets for %s", key), err)
		}
	}
	return nil
}

func (s *redisStream) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}
