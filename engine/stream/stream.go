// Package stream implements the durable news transport on NATS JetStream:
// an approximately bounded, multi-consumer log with consumer-group semantics.
// Serialization of Item drafts happens here and nowhere else.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/fintrendai/fintrend/engine/news"
	"github.com/fintrendai/fintrend/pkg/natsutil"
)

const (
	// DefaultName is the default stream name.
	DefaultName = "NEWS"
	// DefaultSubject is the default subject items are published on.
	DefaultSubject = "news.items"
	// DefaultMaxMsgs bounds the stream; oldest messages are trimmed once the
	// cap is exceeded. The store, not the stream, is the durability point.
	DefaultMaxMsgs = 10000
	// DefaultAckWait is how long a delivered message may stay unacknowledged
	// before the server redelivers it to another group member.
	DefaultAckWait = 30 * time.Second
)

// Config describes the news stream.
type Config struct {
	Name    string
	Subject string
	MaxMsgs int64
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.Subject == "" {
		c.Subject = DefaultSubject
	}
	if c.MaxMsgs <= 0 {
		c.MaxMsgs = DefaultMaxMsgs
	}
	return c
}

// Stream is a handle on the bounded news stream.
type Stream struct {
	js  jetstream.JetStream
	cfg Config
}

// Ensure creates or updates the bounded stream. Calling it for an existing
// stream is not an error.
func Ensure(ctx context.Context, js jetstream.JetStream, cfg Config) (*Stream, error) {
	cfg = cfg.withDefaults()
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Name,
		Subjects: []string{cfg.Subject},
		MaxMsgs:  cfg.MaxMsgs,
		Discard:  jetstream.DiscardOld,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
	}
	return &Stream{js: js, cfg: cfg}, nil
}

// Publish serializes an Item draft and appends it to the stream, returning
// the assigned message id.
func (s *Stream) Publish(ctx context.Context, it news.Item) (uint64, error) {
	if err := news.ValidateItem(it); err != nil {
		return 0, err
	}
	return natsutil.Publish(ctx, s.js, s.cfg.Subject, it)
}

// Group is a durable consumer group over the stream. Each message is
// delivered to exactly one member until acknowledged; unacknowledged
// messages are redelivered after the ack wait elapses.
type Group struct {
	cons jetstream.Consumer
	name string
}

// EnsureGroup creates the durable consumer group, starting at new messages
// unless fromStart is set. A group that already exists is reused; the
// creation race is not an error.
func (s *Stream) EnsureGroup(ctx context.Context, group string, fromStart bool) (*Group, error) {
	deliver := jetstream.DeliverNewPolicy
	if fromStart {
		deliver = jetstream.DeliverAllPolicy
	}
	cons, err := s.js.CreateConsumer(ctx, s.cfg.Name, jetstream.ConsumerConfig{
		Durable:       group,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: deliver,
		AckWait:       DefaultAckWait,
		FilterSubject: s.cfg.Subject,
	})
	if errors.Is(err, jetstream.ErrConsumerExists) {
		cons, err = s.js.Consumer(ctx, s.cfg.Name, group)
	}
	if err != nil {
		return nil, fmt.Errorf("ensure group %s: %w", group, err)
	}
	return &Group{cons: cons, name: group}, nil
}

// Msg is one delivered stream message.
type Msg struct {
	raw jetstream.Msg
}

// ID returns the message's stream sequence as a string.
func (m Msg) ID() string {
	md, err := m.raw.Metadata()
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%d", md.Sequence.Stream)
}

// Item decodes the Item draft payload.
func (m Msg) Item() (news.Item, error) {
	return natsutil.Decode[news.Item](m.raw.Data())
}

// Context returns a context carrying the publisher's trace state.
func (m Msg) Context() context.Context {
	return natsutil.ExtractContext(m.raw.Headers())
}

// Ack marks delivery complete. Call only once the write decision is final.
func (m Msg) Ack() error {
	return m.raw.Ack()
}

// Fetch delivers up to count messages, blocking up to maxWait when none are
// immediately available. An empty batch is a normal outcome.
func (g *Group) Fetch(count int, maxWait time.Duration) ([]Msg, error) {
	batch, err := g.cons.Fetch(count, jetstream.FetchMaxWait(maxWait))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", g.name, err)
	}
	var msgs []Msg
	for m := range batch.Messages() {
		msgs = append(msgs, Msg{raw: m})
	}
	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return msgs, fmt.Errorf("fetch %s: %w", g.name, err)
	}
	return msgs, nil
}
