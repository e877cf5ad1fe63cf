// Package ingest consumes Item drafts from the news stream and lands them
// in the relational store. Delivery is at-least-once; the insert is
// idempotent, so a redelivered draft becomes a counted duplicate rather
// than a second row.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/fintrendai/fintrend/engine/news"
	"github.com/fintrendai/fintrend/pkg/metrics"
)

const (
	// DefaultBatchSize is how many drafts one fetch asks for.
	DefaultBatchSize = 24
	// DefaultIdleWait is how long a fetch blocks when the stream is empty.
	DefaultIdleWait = 3 * time.Second
)

// Message is one delivered draft. Acking it tells the stream the write
// decision is final.
type Message interface {
	ID() string
	Item() (news.Item, error)
	Context() context.Context
	Ack() error
}

// ItemWriter persists drafts. Fresh inserts return true; an already
// present id returns false with no error.
type ItemWriter interface {
	InsertItem(ctx context.Context, it news.Item) (bool, error)
}

// Deps holds the external dependencies of a Consumer.
type Deps struct {
	// Fetch delivers up to count messages, blocking up to maxWait.
	Fetch   func(count int, maxWait time.Duration) ([]Message, error)
	Store   ItemWriter
	Logger  *slog.Logger
	Metrics *metrics.Registry

	BatchSize int
	IdleWait  time.Duration
}

// Consumer drains the news stream into the store.
type Consumer struct {
	deps Deps

	ingested  *metrics.Counter
	duplicate *metrics.Counter
	failed    *metrics.Counter
}

// New creates a Consumer. Fetch and Store are required.
func New(deps Deps) *Consumer {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.BatchSize <= 0 {
		deps.BatchSize = DefaultBatchSize
	}
	if deps.IdleWait <= 0 {
		deps.IdleWait = DefaultIdleWait
	}
	return &Consumer{
		deps:      deps,
		ingested:  deps.Metrics.Counter("fintrend_news_ingested_total", "Fresh items written to the store."),
		duplicate: deps.Metrics.Counter("fintrend_news_duplicate_total", "Redelivered or already stored drafts."),
		failed:    deps.Metrics.Counter("fintrend_news_failed_total", "Drafts left unacked for redelivery."),
	}
}

// Run consumes batches until the context is cancelled. An empty batch is
// the idle path, not an error.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := c.deps.Fetch(c.deps.BatchSize, c.deps.IdleWait)
		if err != nil {
			c.deps.Logger.Error("ingest: fetch failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.deps.IdleWait):
			}
			continue
		}
		c.ProcessBatch(ctx, msgs)
	}
}

// ProcessBatch lands one batch. Each message is acked only after its write
// decision: fresh insert and duplicate both ack, failures leave the message
// unacked for redelivery.
func (c *Consumer) ProcessBatch(ctx context.Context, msgs []Message) {
	for _, m := range msgs {
		c.processOne(ctx, m)
	}
}

func (c *Consumer) processOne(ctx context.Context, m Message) {
	it, err := m.Item()
	if err != nil {
		c.failed.Inc()
		c.deps.Logger.Error("ingest: decode failed", "msg_id", m.ID(), "error", err)
		return
	}
	if err := news.ValidateItem(it); err != nil {
		c.failed.Inc()
		c.deps.Logger.Error("ingest: invalid draft", "msg_id", m.ID(), "item_id", it.ID, "error", err)
		return
	}

	mctx := m.Context()
	if mctx == nil {
		mctx = ctx
	}

	created, err := c.deps.Store.InsertItem(mctx, it)
	if err != nil {
		c.failed.Inc()
		c.deps.Logger.Error("ingest: insert failed", "item_id", it.ID, "error", err)
		return
	}

	if created {
		c.ingested.Inc()
		c.deps.Logger.Info("ingest: stored", "item_id", it.ID, "source", it.Source)
	} else {
		c.duplicate.Inc()
		c.deps.Logger.Info("ingest: duplicate", "item_id", it.ID)
	}

	if err := m.Ack(); err != nil {
		c.deps.Logger.Warn("ingest: ack failed", "msg_id", m.ID(), "error", err)
	}
}
