package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cloudx-io/dutchauction/core"
)

// Memory is an in-process ledger.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	runs    map[string]bool
}

func NewMemory() *Memory {
	return &Memory{runs: make(map[string]bool)}
}

func (m *Memory) Record(_ context.Context, runID string, outcome core.Outcome) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.runs[runID] {
		return Entry{}, fmt.Errorf("%w: %s", ErrDuplicate, runID)
	}

	prev := ""
	if n := len(m.entries); n > 0 {
		prev = m.entries[n-1].Hash
	}
	entry := Entry{
		Sequence:   int64(len(m.entries) + 1),
		RunID:      runID,
		Outcome:    outcome,
		PrevHash:   prev,
		Hash:       core.ComputeOutcomeHash(prev, outcome),
		RecordedAt: time.Now().UTC(),
	}
	m.entries = append(m.entries, entry)
	m.runs[runID] = true
	return entry, nil
}

func (m *Memory) List(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...), nil
}
