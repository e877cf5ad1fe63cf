// Package news defines core domain types, normalization, and validation for
// the FinTrend ingestion pipeline. It acts as the validation gate at pipeline
// entry points.
package news

import "time"

// Item is one ingested document. Created once by a poller at publish time,
// immutable afterwards.
type Item struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Tickers    []string  `json:"tickers"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Label classifies the sentiment of an item.
type Label string

const (
	LabelPositive Label = "positive"
	LabelNeutral  Label = "neutral"
	LabelNegative Label = "negative"
)

// ValidLabels is the set of recognised sentiment labels.
var ValidLabels = map[Label]bool{
	LabelPositive: true, LabelNeutral: true, LabelNegative: true,
}

// Sign returns +1, 0, or -1 for positive, neutral, and negative labels.
// Unrecognised labels count as neutral.
func (l Label) Sign() float64 {
	switch l {
	case LabelPositive:
		return 1
	case LabelNegative:
		return -1
	default:
		return 0
	}
}

// SentimentResult is a scorer's judgment of one item under one model.
// At most one exists per (ItemID, Model) pair.
type SentimentResult struct {
	ItemID     string  `json:"item_id"`
	Model      string  `json:"model"`
	Label      Label   `json:"label"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

// Doc is the slice of an Item handed to a scorer.
type Doc struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}
