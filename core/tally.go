package core

import "slices"

// Tally is the aggregator-local state of one federated auction: which delegates are still
// expected to report, and the reports received so far in arrival order.
type Tally struct {
	item        string
	delegates   int
	outstanding map[string]bool
	results     []DelegateResult
}

// NewTally starts a tally expecting one report from every listed delegate.
func NewTally(item string, delegates []string) *Tally {
	outstanding := make(map[string]bool, len(delegates))
	for _, d := range delegates {
		outstanding[d] = true
	}
	return &Tally{
		item:        item,
		delegates:   len(outstanding),
		outstanding: outstanding,
	}
}

// Record registers a delegate's outcome. Reports from unknown delegates and repeated reports are
// ignored and Record returns false for them. Successful outcomes are collected; every accepted
// report, successful or not, removes the delegate from the outstanding set.
func (t *Tally) Record(delegate string, outcome Outcome) bool {
	if !t.outstanding[delegate] {
		return false
	}
	delete(t.outstanding, delegate)
	if outcome.Won {
		t.results = append(t.results, DelegateResult{Delegate: delegate, Outcome: outcome})
	}
	return true
}

// Complete reports whether every expected delegate has reported.
func (t *Tally) Complete() bool {
	return len(t.outstanding) == 0
}

// Outstanding returns the delegates that have not reported yet, sorted.
func (t *Tally) Outstanding() []string {
	out := make([]string, 0, len(t.outstanding))
	for d := range t.outstanding {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}

// Successes returns the successful local outcomes received so far, in arrival order.
func (t *Tally) Successes() []DelegateResult {
	return t.results
}

// Select selects the global winner. It must only be called once the tally is complete.
func (t *Tally) Select() GlobalDecision {
	winner, losers := SelectGlobalWinner(t.results)
	return GlobalDecision{
		Item:      t.item,
		Won:       winner != nil,
		Winner:    winner,
		Losers:    losers,
		Delegates: t.delegates,
	}
}
