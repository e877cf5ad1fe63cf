package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fintrendai/fintrend/engine/news"
	"github.com/fintrendai/fintrend/pkg/metrics"
)

// DefaultInterval is the pause between polling cycles.
const DefaultInterval = 60 * time.Second

// Ledger records which content ids have been seen. Claim returns true
// exactly once per id across all pollers sharing the ledger.
type Ledger interface {
	Claim(ctx context.Context, id string) (bool, error)
}

// Publisher appends an Item draft to the news stream.
type Publisher interface {
	Publish(ctx context.Context, it news.Item) (uint64, error)
}

// Deps holds the external dependencies of a Poller.
type Deps struct {
	Sources   []Source
	Ledger    Ledger
	Publisher Publisher
	Logger    *slog.Logger
	Metrics   *metrics.Registry

	// Limiter paces publishes across sources. Nil means unpaced.
	Limiter *rate.Limiter
	// Interval between cycles; DefaultInterval when zero.
	Interval time.Duration
	// Now is injectable for tests.
	Now func() time.Time
}

// Poller runs fetch cycles over its sources and publishes fresh drafts.
type Poller struct {
	deps Deps

	published *metrics.Counter
	duplicate *metrics.Counter
	errors    *metrics.Counter
}

// New creates a Poller. Sources, Ledger and Publisher are required.
func New(deps Deps) *Poller {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Poller{
		deps:      deps,
		published: deps.Metrics.Counter("fintrend_poll_published_total", "Item drafts published to the stream."),
		duplicate: deps.Metrics.Counter("fintrend_poll_duplicate_total", "Entries skipped because the ledger already held their content id."),
		errors:    deps.Metrics.Counter("fintrend_poll_source_errors_total", "Source fetch cycles that failed."),
	}
}

// Run polls until the context is cancelled, one cycle per interval.
// Sources run concurrently within a cycle; a failing source never stops
// the others.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.deps.Interval)
	defer ticker.Stop()

	for {
		p.RunCycle(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle fetches every source once and publishes whatever is fresh.
func (p *Poller) RunCycle(ctx context.Context) {
	var wg sync.WaitGroup
	for _, src := range p.deps.Sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			if err := p.pollSource(ctx, src); err != nil {
				p.errors.Inc()
				p.deps.Logger.Warn("poll: source failed", "source", src.Name(), "error", err)
			}
		}(src)
	}
	wg.Wait()
}

func (p *Poller) pollSource(ctx context.Context, src Source) error {
	entries, err := src.Fetch(ctx)
	if err != nil {
		return err
	}

	var fresh, dupes int
	for _, e := range entries {
		it, ok, err := p.publishEntry(ctx, src.Name(), e)
		if err != nil {
			p.deps.Logger.Warn("poll: entry skipped", "source", src.Name(), "url", e.URL, "error", err)
			continue
		}
		if !ok {
			dupes++
			continue
		}
		fresh++
		p.deps.Logger.Info("poll: published", "source", src.Name(), "item_id", it.ID, "tickers", it.Tickers)
	}

	p.published.Add(int64(fresh))
	p.duplicate.Add(int64(dupes))
	p.deps.Logger.Info("poll: cycle", "source", src.Name(), "entries", len(entries), "fresh", fresh, "duplicate", dupes)
	return nil
}

// publishEntry claims the entry's content id and, when the claim wins,
// publishes the draft. A lost claim is the normal duplicate path.
func (p *Poller) publishEntry(ctx context.Context, source string, e Entry) (news.Item, bool, error) {
	hash := news.URLHash(e.URL)

	won, err := p.deps.Ledger.Claim(ctx, hash)
	if err != nil {
		return news.Item{}, false, err
	}
	if !won {
		return news.Item{}, false, nil
	}

	it := news.Item{
		ID:         hash[:news.IDLen],
		Source:     source,
		URL:        news.NormalizeURL(e.URL),
		Title:      e.Title,
		Body:       e.Body,
		Tickers:    news.ExtractTickers(e.Title + " " + e.Body),
		IngestedAt: p.deps.Now().UTC(),
	}

	if p.deps.Limiter != nil {
		if err := p.deps.Limiter.Wait(ctx); err != nil {
			return news.Item{}, false, err
		}
	}
	if _, err := p.deps.Publisher.Publish(ctx, it); err != nil {
		return news.Item{}, false, err
	}
	return it, true, nil
}
