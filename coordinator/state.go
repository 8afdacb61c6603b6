package coordinator

import "fmt"

// State is the protocol state of one coordinator run.
type State int32

const (
	StateAnnounced State = iota
	StateRoundOpen
	StateEvaluating
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAnnounced:
		return "ANNOUNCED"
	case StateRoundOpen:
		return "ROUND_OPEN"
	case StateEvaluating:
		return "EVALUATING"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}
