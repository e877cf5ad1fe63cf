package poll

import (
	"context"
	"sync"
)

// MemoryLedger is a process-local Ledger for tests and single-poller runs.
type MemoryLedger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]struct{})}
}

// Claim marks the id seen and reports whether this call was the first.
func (l *MemoryLedger) Claim(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[id]; ok {
		return false, nil
	}
	l.seen[id] = struct{}{}
	return true, nil
}

// Len reports how many ids the ledger holds.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
