// Package ledger journals auction outcomes. Every entry carries a hash chained to the previous
// entry, so a rewritten or reordered history is detectable with Verify.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudx-io/dutchauction/core"
)

// ErrDuplicate is returned when a run is recorded twice.
var ErrDuplicate = errors.New("run already recorded")

// ErrBrokenChain is returned by Verify when an entry's hash does not match its content.
var ErrBrokenChain = errors.New("ledger hash chain broken")

// Entry is one recorded outcome.
type Entry struct {
	Sequence   int64        `json:"sequence"`
	RunID      string       `json:"run_id"`
	Outcome    core.Outcome `json:"outcome"`
	PrevHash   string       `json:"prev_hash"`
	Hash       string       `json:"hash"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// Ledger is an append-only outcome journal.
type Ledger interface {
	// Record appends the outcome of one coordinator run. Recording the same runID twice
	// returns ErrDuplicate.
	Record(ctx context.Context, runID string, outcome core.Outcome) (Entry, error)
	// List returns every entry in recording order.
	List(ctx context.Context) ([]Entry, error)
}

// Verify recomputes the hash chain of entries in order.
func Verify(entries []Entry) error {
	prev := ""
	for _, e := range entries {
		if e.PrevHash != prev {
			return fmt.Errorf("%w: entry %d does not follow its predecessor", ErrBrokenChain, e.Sequence)
		}
		if e.Hash != core.ComputeOutcomeHash(prev, e.Outcome) {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrBrokenChain, e.Sequence)
		}
		prev = e.Hash
	}
	return nil
}
