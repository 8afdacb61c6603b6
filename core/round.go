package core

import "fmt"

// Decision is the verdict of one round evaluation.
type Decision int

const (
	DecisionSucceeded Decision = iota
	DecisionNextRound
	DecisionReserveReached
	DecisionNoBiddersLeft
)

func (d Decision) String() string {
	switch d {
	case DecisionSucceeded:
		return "succeeded"
	case DecisionNextRound:
		return "next_round"
	case DecisionReserveReached:
		return "reserve_reached"
	case DecisionNoBiddersLeft:
		return "no_bidders_left"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Terminal reports whether the decision ends the auction.
func (d Decision) Terminal() bool {
	return d != DecisionNextRound
}

// RoundDecision contains everything the coordinator needs to act on a closed round.
type RoundDecision struct {
	Decision Decision

	// Winner is set when Decision is DecisionSucceeded.
	Winner *Response

	// Bids, Declines, Faults and TimedOut partition the eligible bidders of the round.
	Bids     []Response
	Declines []Response
	Faults   []Response
	TimedOut []string

	// Rejected lists the bidders of the round that must receive a rejection notice on success.
	Rejected []string

	// Eligible is the bidder set for the next round: the round's eligible set minus protocol faults.
	Eligible []string

	// NextAskingPrice is the lowered price when Decision is DecisionNextRound.
	NextAskingPrice float64
}

// FailureReason maps a failing decision onto the reason reported in the outcome.
func (d RoundDecision) FailureReason() FailureReason {
	switch d.Decision {
	case DecisionReserveReached:
		return ReasonReserveReached
	case DecisionNoBiddersLeft:
		return ReasonNoBiddersLeft
	default:
		return ""
	}
}

// EvaluateRound executes the deterministic end-of-round logic.
// It is a pure function: evaluating the same round and responses twice yields the same decision.
//
// Parameters:
//   - round: the round that was open, including its eligible bidders
//   - responses: bidder responses in arrival order
//
// Processing flow:
//  1. Partition responses into bids, declines, protocol faults and non-responses.
//     Responses from bidders outside the eligible set and repeated responses are ignored.
//  2. Drop protocol-fault bidders from the eligible set for every later round.
//  3. Select the highest acceptable bid (strict >, first seen wins ties).
//  4. A winner ends the auction immediately.
//  5. Without a winner: fail at the floor, fail with an empty pool, or lower the price.
func EvaluateRound(round Round, responses []Response) RoundDecision {
	eligible := make(map[string]bool, len(round.Eligible))
	for _, b := range round.Eligible {
		eligible[b] = true
	}

	// Step 1: Partition
	decision := RoundDecision{}
	answered := make(map[string]bool, len(responses))
	faulted := make(map[string]bool)
	for _, r := range responses {
		if !eligible[r.Bidder] || answered[r.Bidder] {
			continue
		}
		answered[r.Bidder] = true

		switch r.Kind {
		case ResponseBid:
			if !Finite(r.Amount) {
				decision.Faults = append(decision.Faults, r)
				faulted[r.Bidder] = true
			} else if BidMeetsAsk(r.Amount, round.AskingPrice) {
				decision.Bids = append(decision.Bids, r)
			} else {
				// an underbid is treated as refusing the current price
				decision.Declines = append(decision.Declines, r)
			}
		case ResponseProtocolFault:
			decision.Faults = append(decision.Faults, r)
			faulted[r.Bidder] = true
		case ResponseTimeout:
			answered[r.Bidder] = false
		default:
			decision.Declines = append(decision.Declines, r)
		}
	}

	for _, b := range round.Eligible {
		if !answered[b] {
			decision.TimedOut = append(decision.TimedOut, b)
		}
	}

	// Step 2: Remove protocol faults permanently
	decision.Eligible = make([]string, 0, len(round.Eligible))
	for _, b := range round.Eligible {
		if !faulted[b] {
			decision.Eligible = append(decision.Eligible, b)
		}
	}

	// Step 3: Highest acceptable bid
	if winner, ok := SelectHighestBid(decision.Bids, round.AskingPrice); ok {
		// Step 4: Conclude
		decision.Decision = DecisionSucceeded
		decision.Winner = &winner
		for _, b := range decision.Eligible {
			if b != winner.Bidder {
				decision.Rejected = append(decision.Rejected, b)
			}
		}
		return decision
	}

	// Step 5: No winner
	switch {
	case AtFloor(round.AskingPrice, round.FloorPrice):
		decision.Decision = DecisionReserveReached
	case len(decision.Eligible) == 0:
		decision.Decision = DecisionNoBiddersLeft
	default:
		decision.Decision = DecisionNextRound
		decision.NextAskingPrice = LowerAskingPrice(round.AskingPrice, round.FloorPrice)
	}
	return decision
}
