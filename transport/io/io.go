// Package io provides a file journal transport. Every published message is
// appended to the file as one JSON line; subscribers tail the file and
// receive the lines of their topic.
package io

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/flowscope/internal/runtime/jsoncodec"
	"github.com/drblury/flowscope/transport"
)

const TransportName = "io"

// DefaultFilePath is used when no file is configured.
const DefaultFilePath = "flowscope-journal.jsonl"

// PollInterval is how often a subscriber at end of file checks for new lines.
var PollInterval = 50 * time.Millisecond

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return NewPublisher(filePath, logger), nil
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return NewSubscriber(filePath, logger), nil
}

func init() {
	Register()
}

func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.IOCapabilities)
}

func Build(_ context.Context, opts transport.Options, logger watermill.LoggerAdapter) (transport.Transport, error) {
	path := opts.IO.File
	if path == "" {
		path = DefaultFilePath
	}
	pub, err := PublisherFactory(path, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	sub, err := SubscriberFactory(path, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{Publisher: pub, Subscriber: sub}, nil
}

func Capabilities() transport.Capabilities {
	return transport.IOCapabilities
}

// record is one journal line.
type record struct {
	UUID     string            `json:"uuid"`
	Topic    string            `json:"topic"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Payload  []byte            `json:"payload"`
}

type Publisher struct {
	path   string
	logger watermill.LoggerAdapter
	mu     sync.Mutex
}

func NewPublisher(path string, logger watermill.LoggerAdapter) *Publisher {
	return &Publisher{path: path, logger: logger}
}

func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.OpenFile(p.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, msg := range messages {
		line, err := jsoncodec.Marshal(record{UUID: msg.UUID, Topic: topic, Metadata: msg.Metadata, Payload: msg.Payload})
		if err != nil {
			return err
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	return w.Flush()
}

func (p *Publisher) Close() error { return nil }

type Subscriber struct {
	path   string
	logger watermill.LoggerAdapter
}

func NewSubscriber(path string, logger watermill.LoggerAdapter) *Subscriber {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Subscriber{path: path, logger: logger}
}

// Subscribe tails the journal from its start. Each message must be acked or
// nacked before the next line is delivered.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	f, err := os.OpenFile(s.path, os.O_RDONLY|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	out := make(chan *message.Message)
	go func() {
		defer close(out)
		defer f.Close()
		s.tail(ctx, f, topic, out)
	}()
	return out, nil
}

func (s *Subscriber) tail(ctx context.Context, f *os.File, topic string, out chan<- *message.Message) {
	reader := bufio.NewReader(f)
	var partial []byte
	for {
		chunk, err := reader.ReadBytes('\n')
		partial = append(partial, chunk...)
		if errors.Is(err, io.EOF) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(PollInterval):
				continue
			}
		}
		if err != nil {
			s.logger.Error("Failed to read journal", err, watermill.LogFields{"file": s.path})
			return
		}
		line := partial
		partial = nil

		var rec record
		if err := jsoncodec.Unmarshal(line, &rec); err != nil {
			s.logger.Error("Skipping malformed journal line", err, watermill.LogFields{"file": s.path})
			continue
		}
		if rec.Topic != topic {
			continue
		}
		if !s.deliver(ctx, rec, out) {
			return
		}
	}
}

func (s *Subscriber) deliver(ctx context.Context, rec record, out chan<- *message.Message) bool {
	msg := message.NewMessage(rec.UUID, rec.Payload)
	for k, v := range rec.Metadata {
		msg.Metadata.Set(k, v)
	}
	msg.SetContext(ctx)

	select {
	case out <- msg:
	case <-ctx.Done():
		return false
	}
	select {
	case <-msg.Acked():
	case <-msg.Nacked():
		s.logger.Debug("Journal message nacked", watermill.LogFields{"uuid": msg.UUID})
	case <-ctx.Done():
		return false
	}
	return true
}

func (s *Subscriber) Close() error { return nil }
