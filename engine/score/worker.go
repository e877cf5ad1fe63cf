package score

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fintrendai/fintrend/engine/news"
	"github.com/fintrendai/fintrend/pkg/fn"
	"github.com/fintrendai/fintrend/pkg/metrics"
	"github.com/fintrendai/fintrend/pkg/resilience"
)

const (
	// DefaultBatchSize is how many unscored items one cycle claims.
	DefaultBatchSize = 24
	// DefaultIdleSleep is the pause after a cycle with nothing to score.
	DefaultIdleSleep = 3 * time.Second
)

// State names the outcome of one worker cycle.
type State int

const (
	// Idle means the backlog was empty.
	Idle State = iota
	// Scored means at least one result was written.
	Scored
	// ScorerDown means the scorer rejected the whole batch.
	ScorerDown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scored:
		return "scored"
	case ScorerDown:
		return "scorer_down"
	default:
		return "unknown"
	}
}

// Backlog reads and claims unscored items for one model.
type Backlog interface {
	CountUnscored(ctx context.Context, model string) (int, error)
	ListUnscored(ctx context.Context, model string, limit int) ([]news.Doc, error)
}

// ResultWriter persists sentiment results. A result already present for
// the (item, model) pair returns false with no error.
type ResultWriter interface {
	InsertSentiment(ctx context.Context, r news.SentimentResult) (bool, error)
}

// Store is the storage surface the worker needs.
type Store interface {
	Backlog
	ResultWriter
}

// Deps holds the external dependencies of a Worker.
type Deps struct {
	Store   Store
	Scorer  Scorer
	Model   string
	Logger  *slog.Logger
	Metrics *metrics.Registry

	BatchSize int
	IdleSleep time.Duration
	// Breaker guards ScoreBatch; nil means unguarded.
	Breaker *resilience.Breaker
}

// Worker drains the scoring backlog, oldest first.
type Worker struct {
	deps  Deps
	score fn.Stage[[]news.Doc, []RawScore]

	scored  *metrics.Counter
	failed  *metrics.Counter
	backlog *metrics.Gauge
}

// NewWorker creates a Worker. Store, Scorer and Model are required.
func NewWorker(deps Deps) *Worker {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.BatchSize <= 0 {
		deps.BatchSize = DefaultBatchSize
	}
	if deps.IdleSleep <= 0 {
		deps.IdleSleep = DefaultIdleSleep
	}

	var stage fn.Stage[[]news.Doc, []RawScore] = func(ctx context.Context, docs []news.Doc) fn.Result[[]RawScore] {
		return fn.FromPair(deps.Scorer.ScoreBatch(ctx, docs))
	}
	if deps.Breaker != nil {
		stage = resilience.BreakerStage(deps.Breaker, stage)
	}
	stage = fn.TracedStage("score.batch", stage)

	return &Worker{
		deps:    deps,
		score:   stage,
		scored:  deps.Metrics.Counter("fintrend_sent_scored_total", "Sentiment results written."),
		failed:  deps.Metrics.Counter("fintrend_sent_failed_total", "Items whose scoring attempt failed."),
		backlog: deps.Metrics.Gauge("fintrend_sent_backlog", "Items awaiting a score for the configured model."),
	}
}

// Run cycles until the context is cancelled, sleeping only when idle or
// when the scorer is down.
func (w *Worker) Run(ctx context.Context) error {
	for {
		state, err := w.RunOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.deps.Logger.Error("score: cycle failed", "state", state.String(), "error", err)
		}

		if state == Scored {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.deps.IdleSleep):
		}
	}
}

// RunOnce claims one batch, scores it, and writes the results. The whole
// batch fails together when the scorer errors; a single bad row only
// loses that row.
func (w *Worker) RunOnce(ctx context.Context) (State, error) {
	count, err := w.deps.Store.CountUnscored(ctx, w.deps.Model)
	if err != nil {
		return Idle, err
	}
	w.backlog.Set(int64(count))
	if count == 0 {
		return Idle, nil
	}

	docs, err := w.deps.Store.ListUnscored(ctx, w.deps.Model, w.deps.BatchSize)
	if err != nil {
		return Idle, err
	}
	if len(docs) == 0 {
		return Idle, nil
	}

	wrote, err := w.scoreAndWrite(ctx, docs)
	if err != nil {
		return ScorerDown, err
	}
	if wrote == 0 {
		return Idle, nil
	}
	return Scored, nil
}

func (w *Worker) scoreAndWrite(ctx context.Context, docs []news.Doc) (int, error) {
	raws, err := w.score(ctx, docs).Unwrap()
	if err != nil {
		w.failed.Add(int64(len(docs)))
		return 0, err
	}

	var wrote int
	for _, raw := range raws {
		r := MapRaw(raw, w.deps.Model)
		if err := news.ValidateResult(r); err != nil {
			w.failed.Inc()
			w.deps.Logger.Warn("score: invalid result", "item_id", raw.ID, "error", err)
			continue
		}
		created, err := w.deps.Store.InsertSentiment(ctx, r)
		if err != nil {
			w.failed.Inc()
			w.deps.Logger.Warn("score: write failed", "item_id", r.ItemID, "error", err)
			continue
		}
		if created {
			wrote++
		}
	}

	w.scored.Add(int64(wrote))
	w.deps.Logger.Info("score: batch", "docs", len(docs), "wrote", wrote)
	return wrote, nil
}

// Backfill drains up to limit items in bounded batches, then stops. It is
// the one-shot variant of the worker for historical items.
func Backfill(ctx context.Context, deps Deps, limit, batch int) (int, error) {
	if limit <= 0 {
		limit = 500
	}
	if batch <= 0 {
		batch = 32
	}
	deps.BatchSize = batch
	w := NewWorker(deps)

	var total int
	for total < limit {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		n := batch
		if rest := limit - total; rest < n {
			n = rest
		}
		docs, err := deps.Store.ListUnscored(ctx, deps.Model, n)
		if err != nil {
			return total, err
		}
		if len(docs) == 0 {
			return total, nil
		}

		wrote, err := w.scoreAndWrite(ctx, docs)
		if err != nil {
			return total, err
		}
		total += wrote
		if wrote == 0 {
			return total, nil
		}
	}
	return total, nil
}
