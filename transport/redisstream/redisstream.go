// Package redisstream provides a Redis Streams transport. Publishing is an
// XADD per message; subscribers read through a consumer group with
// XREADGROUP and XACK each message once the handler acks it.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"

	"github.com/drblury/flowscope/transport"
)

const TransportName = "redis"

const (
	fieldUUID       = "uuid"
	fieldPayload    = "payload"
	fieldMetaPrefix = "md:"

	defaultGroup = "flowscope"
	defaultBlock = 2 * time.Second
	readCount    = 16
	maxBackoff   = 5 * time.Second
)

// Client is the subset of the go-redis client the transport uses.
type Client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	Close() error
}

// ClientFactory allows overriding the client creation for testing.
var ClientFactory = func(opts *redis.Options) Client {
	return redis.NewClient(opts)
}

func init() {
	Register()
}

func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RedisCapabilities)
}

// Build creates a publisher and subscriber sharing one client. The client is
// closed when the subscriber is closed.
func Build(_ context.Context, opts transport.Options, logger watermill.LoggerAdapter) (transport.Transport, error) {
	o := opts.Redis
	if o.Addr == "" {
		return transport.Transport{}, fmt.Errorf("redis: addr is required")
	}
	client := ClientFactory(&redis.Options{
		Addr:       o.Addr,
		Password:   o.Password,
		DB:         o.DB,
		MaxRetries: 3,
	})
	return transport.Transport{
		Publisher:  NewPublisher(client, o.MaxLen),
		Subscriber: NewSubscriber(client, o, logger),
	}, nil
}

func Capabilities() transport.Capabilities {
	return transport.RedisCapabilities
}

// Publisher appends messages to the stream named after the topic.
type Publisher struct {
	client Client
	maxLen int64
}

func NewPublisher(client Client, maxLen int64) *Publisher {
	return &Publisher{client: client, maxLen: maxLen}
}

func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	for _, msg := range messages {
		ctx := msg.Context()
		args := &redis.XAddArgs{Stream: topic, ID: "*", Values: encode(msg)}
		if p.maxLen > 0 {
			args.MaxLen = p.maxLen
			args.Approx = true
		}
		if err := p.client.XAdd(ctx, args).Err(); err != nil {
			return fmt.Errorf("redis xadd %s: %w", topic, err)
		}
	}
	return nil
}

func (p *Publisher) Close() error { return nil }

func encode(msg *message.Message) map[string]any {
	values := make(map[string]any, 2+len(msg.Metadata))
	values[fieldUUID] = msg.UUID
	values[fieldPayload] = string(msg.Payload)
	for k, v := range msg.Metadata {
		values[fieldMetaPrefix+k] = v
	}
	return values
}

func decode(entry redis.XMessage) *message.Message {
	uuid, _ := entry.Values[fieldUUID].(string)
	if uuid == "" {
		uuid = entry.ID
	}
	payload, _ := entry.Values[fieldPayload].(string)
	msg := message.NewMessage(uuid, []byte(payload))
	for k, v := range entry.Values {
		if key, ok := strings.CutPrefix(k, fieldMetaPrefix); ok {
			msg.Metadata.Set(key, fmt.Sprint(v))
		}
	}
	return msg
}

// Subscriber reads streams through a consumer group.
type Subscriber struct {
	client   Client
	group    string
	consumer string
	block    time.Duration
	logger   watermill.LoggerAdapter

	mu     sync.Mutex
	closed bool
	cancel []context.CancelFunc
	wg     sync.WaitGroup
}

func NewSubscriber(client Client, o transport.RedisOptions, logger watermill.LoggerAdapter) *Subscriber {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	s := &Subscriber{
		client:   client,
		group:    o.Group,
		consumer: o.Consumer,
		block:    o.Block,
		logger:   logger,
	}
	if s.group == "" {
		s.group = defaultGroup
	}
	if s.consumer == "" {
		host, _ := os.Hostname()
		s.consumer = fmt.Sprintf("%s-%s-%d", s.group, host, os.Getpid())
	}
	if s.block <= 0 {
		s.block = defaultBlock
	}
	return s
}

func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("redis subscriber closed")
	}

	err := s.client.XGroupCreateMkStream(ctx, topic, s.group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("redis create group %s on %s: %w", s.group, topic, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = append(s.cancel, cancel)
	out := make(chan *message.Message)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(out)
		s.poll(ctx, topic, out)
	}()
	return out, nil
}

func (s *Subscriber) poll(ctx context.Context, topic string, out chan<- *message.Message) {
	args := &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{topic, ">"},
		Count:    readCount,
		Block:    s.block,
	}
	backoff := 100 * time.Millisecond
	fields := watermill.LogFields{"topic": topic, "group": s.group}

	for ctx.Err() == nil {
		streams, err := s.client.XReadGroup(ctx, args).Result()
		switch {
		case err == nil:
			backoff = 100 * time.Millisecond
		case errors.Is(err, redis.Nil):
			continue
		case ctx.Err() != nil:
			return
		default:
			s.logger.Error("Redis XREADGROUP failed", err, fields)
			select {
			case <-time.After(backoff):
				backoff = min(backoff*2, maxBackoff)
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				if !s.deliver(ctx, topic, entry, out) {
					return
				}
			}
		}
	}
}

// deliver hands one entry to the consumer and acks it in Redis once the
// handler acks. Nacked entries stay pending in the group.
func (s *Subscriber) deliver(ctx context.Context, topic string, entry redis.XMessage, out chan<- *message.Message) bool {
	msg := decode(entry)
	msg.SetContext(ctx)
	select {
	case out <- msg:
	case <-ctx.Done():
		return false
	}
	select {
	case <-msg.Acked():
		if err := s.client.XAck(ctx, topic, s.group, entry.ID).Err(); err != nil {
			s.logger.Error("Redis XACK failed", err, watermill.LogFields{"topic": topic, "id": entry.ID})
		}
	case <-msg.Nacked():
		s.logger.Debug("Redis message nacked, left pending", watermill.LogFields{"topic": topic, "id": entry.ID})
	case <-ctx.Done():
		return false
	}
	return true
}

// Close stops every subscription and closes the client.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, cancel := range s.cancel {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return s.client.Close()
}
