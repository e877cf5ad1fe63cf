package news

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation failures.
var (
	ErrInvalidID       = errors.New("invalid item id")
	ErrMissingSource   = errors.New("missing source")
	ErrMissingURL      = errors.New("missing url")
	ErrInvalidLabel    = errors.New("invalid label")
	ErrScoreOutOfRange = errors.New("score out of range")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// ValidateItem checks an Item draft before it is published or persisted.
func ValidateItem(it Item) error {
	if len(it.ID) != IDLen {
		return NewValidationError("id", it.ID, ErrInvalidID)
	}
	if it.Source == "" {
		return NewValidationError("source", it.Source, ErrMissingSource)
	}
	if it.URL == "" {
		return NewValidationError("url", it.URL, ErrMissingURL)
	}
	return nil
}

// ValidateResult checks a SentimentResult before it is persisted.
func ValidateResult(r SentimentResult) error {
	if len(r.ItemID) != IDLen {
		return NewValidationError("item_id", r.ItemID, ErrInvalidID)
	}
	if !ValidLabels[r.Label] {
		return NewValidationError("label", string(r.Label), ErrInvalidLabel)
	}
	if r.Score < -1 || r.Score > 1 || r.Confidence < 0 || r.Confidence > 1 {
		return NewValidationError("score", fmt.Sprintf("%g/%g", r.Score, r.Confidence), ErrScoreOutOfRange)
	}
	return nil
}
