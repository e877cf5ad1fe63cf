package score

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fintrendai/fintrend/engine/news"
	"github.com/fintrendai/fintrend/pkg/metrics"
	"github.com/fintrendai/fintrend/pkg/resilience"
)

func TestMapRaw(t *testing.T) {
	tests := []struct {
		name       string
		raw        RawScore
		wantLabel  news.Label
		wantScore  float64
		wantConfid float64
	}{
		{"positive", RawScore{ID: "a", Label: "positive", Confidence: 0.9}, news.LabelPositive, 0.9, 0.9},
		{"negative", RawScore{ID: "b", Label: "negative", Confidence: 0.8}, news.LabelNegative, -0.8, 0.8},
		{"neutral", RawScore{ID: "c", Label: "neutral", Confidence: 0.7}, news.LabelNeutral, 0, 0.7},
		{"unknown label", RawScore{ID: "d", Label: "bullish", Confidence: 0.99}, news.LabelNeutral, 0, 0},
		{"empty label", RawScore{ID: "e", Label: "", Confidence: 0.5}, news.LabelNeutral, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := MapRaw(tt.raw, "finbert")
			if r.Label != tt.wantLabel {
				t.Errorf("label = %q, want %q", r.Label, tt.wantLabel)
			}
			if r.Score != tt.wantScore {
				t.Errorf("score = %v, want %v", r.Score, tt.wantScore)
			}
			if r.Confidence != tt.wantConfid {
				t.Errorf("confidence = %v, want %v", r.Confidence, tt.wantConfid)
			}
			if r.Model != "finbert" || r.ItemID != tt.raw.ID {
				t.Errorf("identity fields: %+v", r)
			}
		})
	}
}

func TestPrepText(t *testing.T) {
	tests := []struct {
		doc  news.Doc
		want string
	}{
		{news.Doc{Title: "AAPL up", Body: "Shares rose."}, "AAPL up. Shares rose."},
		{news.Doc{Title: "AAPL up"}, "AAPL up"},
		{news.Doc{Body: "Shares rose."}, "Shares rose."},
		{news.Doc{Title: "  spaced  ", Body: " body "}, "spaced. body"},
	}
	for _, tt := range tests {
		if got := PrepText(tt.doc); got != tt.want {
			t.Errorf("PrepText(%+v) = %q, want %q", tt.doc, got, tt.want)
		}
	}
}

// fakeScoreStore backs the worker with an in-memory backlog.
type fakeScoreStore struct {
	docs        []news.Doc
	results     map[string]news.SentimentResult
	failInserts map[string]bool
	listErr     error
}

func newFakeScoreStore(docs ...news.Doc) *fakeScoreStore {
	return &fakeScoreStore{
		docs:        docs,
		results:     make(map[string]news.SentimentResult),
		failInserts: make(map[string]bool),
	}
}

func (s *fakeScoreStore) key(id, model string) string { return id + "/" + model }

func (s *fakeScoreStore) unscored(model string) []news.Doc {
	var out []news.Doc
	for _, d := range s.docs {
		if _, ok := s.results[s.key(d.ID, model)]; !ok {
			out = append(out, d)
		}
	}
	return out
}

func (s *fakeScoreStore) CountUnscored(_ context.Context, model string) (int, error) {
	return len(s.unscored(model)), nil
}

func (s *fakeScoreStore) ListUnscored(_ context.Context, model string, limit int) ([]news.Doc, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := s.unscored(model)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeScoreStore) InsertSentiment(_ context.Context, r news.SentimentResult) (bool, error) {
	if s.failInserts[r.ItemID] {
		return false, errors.New("insert failed")
	}
	k := s.key(r.ItemID, r.Model)
	if _, ok := s.results[k]; ok {
		return false, nil
	}
	s.results[k] = r
	return true, nil
}

// stubScorer labels everything the same way.
type stubScorer struct {
	label      string
	confidence float64
	err        error
	calls      int
}

func (s *stubScorer) ScoreBatch(_ context.Context, docs []news.Doc) ([]RawScore, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]RawScore, len(docs))
	for i, d := range docs {
		out[i] = RawScore{ID: d.ID, Label: s.label, Confidence: s.confidence}
	}
	return out, nil
}

func docN(n int) news.Doc {
	return news.Doc{ID: news.ContentID(fmt.Sprintf("http://x.com/doc-%d", n)), Title: fmt.Sprintf("headline %d", n)}
}

func newTestWorker(store Store, sc Scorer) (*Worker, *metrics.Registry) {
	reg := metrics.New()
	return NewWorker(Deps{
		Store:     store,
		Scorer:    sc,
		Model:     "finbert",
		Metrics:   reg,
		BatchSize: 8,
		IdleSleep: time.Millisecond,
	}), reg
}

func TestRunOnceScoresBacklog(t *testing.T) {
	store := newFakeScoreStore(docN(1), docN(2), docN(3))
	sc := &stubScorer{label: "positive", confidence: 0.9}
	w, reg := newTestWorker(store, sc)

	state, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if state != Scored {
		t.Fatalf("state = %v", state)
	}
	if len(store.results) != 3 {
		t.Fatalf("results = %d", len(store.results))
	}
	for _, r := range store.results {
		if r.Score != 0.9 || r.Label != news.LabelPositive {
			t.Errorf("unexpected result %+v", r)
		}
	}
	if v := reg.Counter("fintrend_sent_scored_total", "").Value(); v != 3 {
		t.Errorf("scored counter = %d", v)
	}
	if v := reg.Gauge("fintrend_sent_backlog", "").Value(); v != 3 {
		t.Errorf("backlog gauge observed before scoring = %d", v)
	}

	// Second cycle: backlog empty.
	state, err = w.RunOnce(context.Background())
	if err != nil || state != Idle {
		t.Fatalf("state = %v err = %v", state, err)
	}
	if v := reg.Gauge("fintrend_sent_backlog", "").Value(); v != 0 {
		t.Errorf("backlog gauge = %d", v)
	}
}

func TestBatchFailureWritesNothing(t *testing.T) {
	store := newFakeScoreStore(docN(1), docN(2))
	sc := &stubScorer{err: errors.New("model server 500")}
	w, reg := newTestWorker(store, sc)

	state, err := w.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if state != ScorerDown {
		t.Fatalf("state = %v", state)
	}
	if len(store.results) != 0 {
		t.Fatalf("batch failure must write nothing, wrote %d", len(store.results))
	}
	if v := reg.Counter("fintrend_sent_failed_total", "").Value(); v != 2 {
		t.Errorf("failed counter = %d", v)
	}

	// The batch stays in the backlog for the next cycle.
	sc.err = nil
	sc.label, sc.confidence = "neutral", 0.5
	state, err = w.RunOnce(context.Background())
	if err != nil || state != Scored {
		t.Fatalf("recovery cycle: state = %v err = %v", state, err)
	}
	if len(store.results) != 2 {
		t.Fatalf("results = %d", len(store.results))
	}
}

func TestRowFailureDoesNotAbortBatch(t *testing.T) {
	store := newFakeScoreStore(docN(1), docN(2), docN(3))
	store.failInserts[docN(2).ID] = true
	sc := &stubScorer{label: "negative", confidence: 0.6}
	w, reg := newTestWorker(store, sc)

	state, err := w.RunOnce(context.Background())
	if err != nil || state != Scored {
		t.Fatalf("state = %v err = %v", state, err)
	}
	if len(store.results) != 2 {
		t.Fatalf("expected 2 written despite one bad row, got %d", len(store.results))
	}
	if v := reg.Counter("fintrend_sent_failed_total", "").Value(); v != 1 {
		t.Errorf("failed counter = %d", v)
	}
}

func TestDuplicateResultNotRecounted(t *testing.T) {
	store := newFakeScoreStore(docN(1))
	sc := &stubScorer{label: "positive", confidence: 0.9}
	w, reg := newTestWorker(store, sc)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Force a rescore of the same doc through the writer directly.
	created, err := store.InsertSentiment(context.Background(), MapRaw(RawScore{ID: docN(1).ID, Label: "positive", Confidence: 0.9}, "finbert"))
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("second write for same (item, model) must be a no-op")
	}
	if v := reg.Counter("fintrend_sent_scored_total", "").Value(); v != 1 {
		t.Errorf("scored counter = %d", v)
	}
}

func TestBreakerShortCircuitsFlappingScorer(t *testing.T) {
	store := newFakeScoreStore(docN(1))
	sc := &stubScorer{err: errors.New("down")}
	reg := metrics.New()
	br := resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 2, Timeout: time.Hour})
	w := NewWorker(Deps{
		Store: store, Scorer: sc, Model: "finbert",
		Metrics: reg, BatchSize: 4, Breaker: br,
	})

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		w.RunOnce(ctx)
	}
	if sc.calls != 2 {
		t.Fatalf("breaker should stop calls after threshold, scorer saw %d", sc.calls)
	}
	_, err := w.RunOnce(ctx)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
}

func TestBackfillBounded(t *testing.T) {
	docs := make([]news.Doc, 10)
	for i := range docs {
		docs[i] = docN(i)
	}
	store := newFakeScoreStore(docs...)
	sc := &stubScorer{label: "positive", confidence: 0.9}

	n, err := Backfill(context.Background(), Deps{
		Store: store, Scorer: sc, Model: "finbert", Metrics: metrics.New(),
	}, 6, 2)
	if err != nil {
		t.Fatal(err)
	}
	if n != 6 {
		t.Fatalf("expected 6 scored, got %d", n)
	}
	if len(store.results) != 6 {
		t.Fatalf("results = %d", len(store.results))
	}

	// Draining the rest stops on empty backlog before the limit.
	n, err = Backfill(context.Background(), Deps{
		Store: store, Scorer: sc, Model: "finbert", Metrics: metrics.New(),
	}, 500, 32)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Fatalf("expected remaining 4, got %d", n)
	}
}
