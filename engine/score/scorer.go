// Package score assigns sentiment to stored items that nobody has scored
// yet for a given model. Scoring runs beside ingestion, not inline with
// it, so a slow or dead scorer never blocks the write path.
package score

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fintrendai/fintrend/engine/news"
	"github.com/fintrendai/fintrend/pkg/fn"
)

// MaxBatchDocs caps how many docs go into one scorer request; larger
// inputs are chunked client-side.
const MaxBatchDocs = 64

// RawScore is the scorer's verdict on one doc, before mapping.
type RawScore struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Scorer assigns labels to a batch of docs. An error means the whole
// batch failed; partial results are not returned.
type Scorer interface {
	ScoreBatch(ctx context.Context, docs []news.Doc) ([]RawScore, error)
}

// MapRaw turns a raw verdict into a stored result: signed confidence,
// with unknown labels collapsing to a zero-score neutral.
func MapRaw(raw RawScore, model string) news.SentimentResult {
	label := news.Label(raw.Label)
	if !news.ValidLabels[label] {
		return news.SentimentResult{
			ItemID: raw.ID,
			Model:  model,
			Label:  news.LabelNeutral,
			Score:  0,
		}
	}
	return news.SentimentResult{
		ItemID:     raw.ID,
		Model:      model,
		Label:      label,
		Score:      label.Sign() * raw.Confidence,
		Confidence: raw.Confidence,
	}
}

// PrepText joins title and body into the scorer input.
func PrepText(d news.Doc) string {
	title := strings.TrimSpace(d.Title)
	body := strings.TrimSpace(d.Body)
	switch {
	case title == "":
		return body
	case body == "":
		return title
	default:
		return title + ". " + body
	}
}

// HTTPScorer calls a sentiment model server over JSON HTTP.
type HTTPScorer struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewHTTPScorer creates an HTTPScorer with a traced HTTP client.
func NewHTTPScorer(baseURL, model string) *HTTPScorer {
	return &HTTPScorer{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client: &http.Client{
			Timeout:   60 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type scoreReq struct {
	Model string     `json:"model"`
	Texts []scoreDoc `json:"texts"`
}

type scoreDoc struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type scoreResp struct {
	Results []RawScore `json:"results"`
}

// ScoreBatch sends docs to the model server, chunking oversized batches.
func (s *HTTPScorer) ScoreBatch(ctx context.Context, docs []news.Doc) ([]RawScore, error) {
	var all []RawScore
	for _, chunk := range fn.Chunk(docs, MaxBatchDocs) {
		scores, err := s.scoreChunk(ctx, chunk)
		if err != nil {
			return nil, err
		}
		all = append(all, scores...)
	}
	return all, nil
}

func (s *HTTPScorer) scoreChunk(ctx context.Context, docs []news.Doc) ([]RawScore, error) {
	req := scoreReq{Model: s.model, Texts: make([]scoreDoc, len(docs))}
	for i, d := range docs {
		req.Texts[i] = scoreDoc{ID: d.ID, Text: PrepText(d)}
	}
	body, _ := json.Marshal(req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("scorer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scorer: status %d", resp.StatusCode)
	}

	var result scoreResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("scorer decode: %w", err)
	}
	return result.Results, nil
}
