package core

import "github.com/shopspring/decimal"

// AcceptableBids filters responses down to bids that meet the asking price, preserving order.
func AcceptableBids(responses []Response, askingPrice float64) []Response {
	acceptable := make([]Response, 0, len(responses))
	for _, r := range responses {
		if r.Kind == ResponseBid && BidMeetsAsk(r.Amount, askingPrice) {
			acceptable = append(acceptable, r)
		}
	}
	return acceptable
}

// SelectHighestBid returns the acceptable bid with the highest amount.
//
// The running best starts at zero and is only replaced by a strictly greater amount,
// so on exact ties the bid that appears first in responses wins. Callers pass responses
// in arrival order, which makes the tie-break first-seen.
func SelectHighestBid(responses []Response, askingPrice float64) (Response, bool) {
	best := decimal.Zero
	var winner Response
	found := false

	for _, bid := range AcceptableBids(responses, askingPrice) {
		amount := toMoney(bid.Amount)
		if amount.GreaterThan(best) {
			best = amount
			winner = bid
			found = true
		}
	}

	return winner, found
}

// SelectGlobalWinner picks the successful delegate result with the strictly highest winning bid.
// Ties go to the result that was reported first. Every other successful result is returned as a loser.
func SelectGlobalWinner(results []DelegateResult) (*DelegateResult, []DelegateResult) {
	best := decimal.NewFromInt(-1)
	winnerIdx := -1

	for i, r := range results {
		if !r.Outcome.Won {
			continue
		}
		amount := toMoney(r.Outcome.WinningBid)
		if amount.GreaterThan(best) {
			best = amount
			winnerIdx = i
		}
	}

	if winnerIdx < 0 {
		return nil, nil
	}

	winner := results[winnerIdx]
	losers := make([]DelegateResult, 0, len(results)-1)
	for i, r := range results {
		if i != winnerIdx && r.Outcome.Won {
			losers = append(losers, r)
		}
	}
	return &winner, losers
}
