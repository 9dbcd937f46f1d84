// Package jetstream provides a durable NATS JetStream transport. Every topic
// is a subject of one stream and is consumed through a durable pull
// consumer, so broker routes and exported events survive consumer restarts.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/flowscope/transport"
)

const TransportName = "nats-jetstream"

const (
	DefaultStreamName = "FLOWSCOPE"
	DefaultMaxDeliver = 3
	DefaultAckWait    = 30 * time.Second

	fetchBatch = 10
	fetchWait  = time.Second
)

var errClosed = errors.New("jetstream: transport is closed")

func init() {
	Register()
}

func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds the stream and consumer settings.
type Config struct {
	URL        string
	StreamName string
	// MaxDeliver bounds redeliveries of a nacked message by the server.
	MaxDeliver int
	AckWait    time.Duration
	Replicas   int
	// Retention is "limits" (default), "interest" or "workqueue".
	Retention string
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

func (c Config) streamConfig() *nats.StreamConfig {
	cfg := &nats.StreamConfig{
		Name:     c.StreamName,
		Subjects: []string{c.StreamName + ".>"},
		MaxAge:   7 * 24 * time.Hour,
		Replicas: c.Replicas,
	}
	switch c.Retention {
	case "interest":
		cfg.Retention = nats.InterestPolicy
	case "workqueue":
		cfg.Retention = nats.WorkQueuePolicy
	default:
		cfg.Retention = nats.LimitsPolicy
	}
	return cfg
}

// Connect opens the connection and its JetStream context. Tests replace it.
var Connect = func(url string) (*nats.Conn, nats.JetStreamContext, error) {
	conn, err := nats.Connect(url,
		nats.Name("flowscope-jetstream"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return conn, js, nil
}

// Build creates the transport from the NATS options. One value serves as
// publisher and subscriber.
func Build(_ context.Context, opts transport.Options, logger watermill.LoggerAdapter) (transport.Transport, error) {
	if opts.NATS.URL == "" {
		return transport.Transport{}, errors.New("nats-jetstream: URL is required")
	}
	t, err := New(Config{
		URL:        opts.NATS.URL,
		StreamName: opts.NATS.Stream,
		MaxDeliver: opts.NATS.MaxDeliver,
		AckWait:    opts.NATS.AckWait,
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{Publisher: t, Subscriber: t}, nil
}

// Transport implements message.Publisher and message.Subscriber.
type Transport struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	mu     sync.Mutex
	subs   map[string]*nats.Subscription
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	conn, js, err := Connect(cfg.URL)
	if err != nil {
		return nil, err
	}
	t := newTransport(conn, js, cfg, logger)
	if err := t.ensureStream(); err != nil {
		_ = t.Close()
		return nil, err
	}
	return t, nil
}

func newTransport(conn *nats.Conn, js nats.JetStreamContext, cfg Config, logger watermill.LoggerAdapter) *Transport {
	return &Transport{
		conn:   conn,
		js:     js,
		config: cfg,
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
		done:   make(chan struct{}),
	}
}

// ensureStream creates the stream or brings an existing one up to date.
func (t *Transport) ensureStream() error {
	cfg := t.config.streamConfig()
	_, err := t.js.AddStream(cfg)
	if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		_, err = t.js.UpdateStream(cfg)
	}
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
	}
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Publish stores the messages in the stream. The message UUID doubles as
// the JetStream deduplication id.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return errClosed
	}
	subject := t.subject(topic)
	for _, msg := range messages {
		if _, err := t.js.PublishMsg(toNATS(subject, msg)); err != nil {
			return fmt.Errorf("publish to %s: %w", subject, err)
		}
	}
	return nil
}

// Subscribe binds a durable pull consumer to topic and streams its messages
// until ctx is done or the transport closes. Acks and nacks are forwarded
// to the server.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if t.isClosed() {
		return nil, errClosed
	}
	subject := t.subject(topic)
	durable := consumerName(topic)
	consumer := &nats.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     nats.AckExplicitPolicy,
		MaxDeliver:    t.config.MaxDeliver,
		AckWait:       t.config.AckWait,
		DeliverPolicy: nats.DeliverAllPolicy,
	}
	if _, err := t.js.AddConsumer(t.config.StreamName, consumer); err != nil {
		if _, err := t.js.UpdateConsumer(t.config.StreamName, consumer); err != nil {
			return nil, fmt.Errorf("consumer %s: %w", durable, err)
		}
	}
	sub, err := t.js.PullSubscribe(subject, durable, nats.Bind(t.config.StreamName, durable))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = sub.Unsubscribe()
		return nil, errClosed
	}
	t.subs[topic] = sub
	t.wg.Add(1)
	t.mu.Unlock()

	out := make(chan *message.Message)
	go t.consume(ctx, sub, topic, out)
	return out, nil
}

func (t *Transport) consume(ctx context.Context, sub *nats.Subscription, topic string, out chan<- *message.Message) {
	defer t.wg.Done()
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		msgs, err := sub.Fetch(fetchBatch, nats.MaxWait(fetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrBadSubscription) || errors.Is(err, nats.ErrConnectionClosed) {
				return
			}
			t.logger.Error("JetStream fetch failed", err, watermill.LogFields{"topic": topic})
			continue
		}
		for _, raw := range msgs {
			if !t.forward(ctx, raw, topic, out) {
				return
			}
		}
	}
}

// forward hands one message to the router and settles it on the server.
// It reports false once the subscription should end.
func (t *Transport) forward(ctx context.Context, raw *nats.Msg, topic string, out chan<- *message.Message) bool {
	msg := fromNATS(raw)
	msgCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	msg.SetContext(msgCtx)

	select {
	case out <- msg:
	case <-ctx.Done():
		return false
	case <-t.done:
		return false
	}

	var err error
	select {
	case <-msg.Acked():
		err = raw.Ack()
	case <-msg.Nacked():
		err = raw.Nak()
	case <-ctx.Done():
		return false
	case <-t.done:
		return false
	}
	if err != nil {
		t.logger.Error("JetStream settle failed", err, watermill.LogFields{
			"topic":        topic,
			"message_uuid": msg.UUID,
		})
	}
	return true
}

// Close stops every subscription and the connection. It is safe to call
// more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	subs := t.subs
	t.subs = make(map[string]*nats.Subscription)
	t.mu.Unlock()

	var errs []error
	for topic, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", topic, err))
		}
	}
	t.wg.Wait()
	if t.conn != nil {
		t.conn.Close()
	}
	return errors.Join(errs...)
}

func (t *Transport) Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

func (t *Transport) subject(topic string) string {
	return t.config.StreamName + "." + topic
}

var consumerNameReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// consumerName derives a durable name from topic. Durable names cannot
// contain subject tokens.
func consumerName(topic string) string {
	return "flowscope_" + consumerNameReplacer.Replace(topic)
}

func toNATS(subject string, msg *message.Message) *nats.Msg {
	header := nats.Header{}
	for k, v := range msg.Metadata {
		header.Set(k, v)
	}
	header.Set(nats.MsgIdHdr, msg.UUID)
	return &nats.Msg{Subject: subject, Data: msg.Payload, Header: header}
}

func fromNATS(raw *nats.Msg) *message.Message {
	uuid := raw.Header.Get(nats.MsgIdHdr)
	if uuid == "" {
		uuid = watermill.NewUUID()
	}
	msg := message.NewMessage(uuid, raw.Data)
	for k, v := range raw.Header {
		if k == nats.MsgIdHdr || len(v) == 0 {
			continue
		}
		msg.Metadata.Set(k, v[0])
	}
	return msg
}
