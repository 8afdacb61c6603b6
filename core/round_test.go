package core

import (
	"math"
	"slices"
	"testing"

	"github.com/peterldowns/testy/check"
)

func newRound(number int, ask, floor float64, eligible ...string) Round {
	return Round{Number: number, AskingPrice: ask, FloorPrice: floor, Eligible: eligible}
}

func TestEvaluateRound_WinnerEndsAuction(t *testing.T) {
	round := newRound(2, 900, 550, "a", "b", "c")
	responses := []Response{
		Decline("a", "too expensive"),
		Bid("b", 900),
		Bid("c", 900),
	}

	decision := EvaluateRound(round, responses)

	check.Equal(t, DecisionSucceeded, decision.Decision)
	check.NotNil(t, decision.Winner)
	check.Equal(t, "b", decision.Winner.Bidder)
	check.Equal(t, 900.0, decision.Winner.Amount)
	check.Equal(t, []string{"a", "c"}, decision.Rejected)
	check.True(t, decision.Decision.Terminal())
}

func TestEvaluateRound_LowersPrice(t *testing.T) {
	round := newRound(1, 1000, 550, "a")

	decision := EvaluateRound(round, []Response{Decline("a", "too expensive")})

	check.Equal(t, DecisionNextRound, decision.Decision)
	check.Equal(t, 900.0, decision.NextAskingPrice)
	check.Equal(t, []string{"a"}, decision.Eligible)
	check.Nil(t, decision.Winner)
	check.False(t, decision.Decision.Terminal())
}

func TestEvaluateRound_ProtocolFaultIsRemoved(t *testing.T) {
	round := newRound(1, 1000, 550, "a", "b", "c")
	responses := []Response{
		ProtocolFault("a", "unreadable offer"),
		Decline("b", "too expensive"),
		Decline("c", "too expensive"),
	}

	decision := EvaluateRound(round, responses)

	check.Equal(t, DecisionNextRound, decision.Decision)
	check.Equal(t, []string{"b", "c"}, decision.Eligible)
	check.Equal(t, 1, len(decision.Faults))
	check.Equal(t, 900.0, decision.NextAskingPrice)
}

func TestEvaluateRound_TimeoutsStayEligible(t *testing.T) {
	round := newRound(1, 400, 220, "a", "b")

	decision := EvaluateRound(round, nil)

	check.Equal(t, DecisionNextRound, decision.Decision)
	check.Equal(t, []string{"a", "b"}, decision.TimedOut)
	check.Equal(t, []string{"a", "b"}, decision.Eligible)
}

func TestEvaluateRound_ReserveReached(t *testing.T) {
	round := newRound(7, 220, 220, "a")

	decision := EvaluateRound(round, []Response{Decline("a", "too expensive")})

	check.Equal(t, DecisionReserveReached, decision.Decision)
	check.Equal(t, ReasonReserveReached, decision.FailureReason())
}

func TestEvaluateRound_ReserveCheckedBeforeEmptyPool(t *testing.T) {
	round := newRound(7, 220, 220, "a")

	decision := EvaluateRound(round, []Response{ProtocolFault("a", "bad")})

	check.Equal(t, DecisionReserveReached, decision.Decision)
}

func TestEvaluateRound_NoBiddersLeft(t *testing.T) {
	round := newRound(1, 400, 220, "a", "b")
	responses := []Response{
		ProtocolFault("a", "bad"),
		ProtocolFault("b", "bad"),
	}

	decision := EvaluateRound(round, responses)

	check.Equal(t, DecisionNoBiddersLeft, decision.Decision)
	check.Equal(t, ReasonNoBiddersLeft, decision.FailureReason())
	check.Equal(t, 0, len(decision.Eligible))
}

func TestEvaluateRound_IgnoresStrangersAndDuplicates(t *testing.T) {
	round := newRound(1, 1000, 550, "a")
	responses := []Response{
		Bid("mallory", 1000),
		Decline("a", "too expensive"),
		Bid("a", 1000),
	}

	decision := EvaluateRound(round, responses)

	check.Equal(t, DecisionNextRound, decision.Decision)
	check.Equal(t, 1, len(decision.Declines))
}

func TestEvaluateRound_UnderbidCountsAsDecline(t *testing.T) {
	round := newRound(1, 1000, 550, "a")

	decision := EvaluateRound(round, []Response{Bid("a", 999)})

	check.Equal(t, DecisionNextRound, decision.Decision)
	check.Equal(t, 1, len(decision.Declines))
}

func TestEvaluateRound_NonNumericBidIsFault(t *testing.T) {
	round := newRound(1, 1000, 550, "a", "b", "c", "d")
	responses := []Response{
		Bid("a", math.NaN()),
		Bid("b", math.Inf(1)),
		Bid("c", math.Inf(-1)),
		Bid("d", 1000),
	}

	decision := EvaluateRound(round, responses)

	check.Equal(t, DecisionSucceeded, decision.Decision)
	check.Equal(t, "d", decision.Winner.Bidder)
	check.Equal(t, 3, len(decision.Faults))
	check.Equal(t, 0, len(decision.Rejected))
}

func TestEvaluateRound_Idempotent(t *testing.T) {
	round := newRound(3, 810, 550, "a", "b", "c")
	responses := []Response{
		Bid("c", 810),
		ProtocolFault("a", "bad"),
		Bid("b", 810),
	}

	first := EvaluateRound(round, responses)
	second := EvaluateRound(round, responses)

	check.Equal(t, first, second)
	check.Equal(t, "c", first.Winner.Bidder)
}

// Walks the price ladder the way a coordinator does and checks the auction-level properties.
func TestEvaluateRound_Scenarios(t *testing.T) {
	medium := Profile{Subjects: []string{"Portrait"}, Media: []string{"Oil"}, Strategy: StrategyMedium}

	t.Run("single interested bidder wins in round two", func(t *testing.T) {
		outcome := simulate(monaLisa, map[string]Profile{"curator-1": medium})
		check.Equal(t, Success("auction-Mona Lisa", "Mona Lisa", "curator-1", 900, 2), outcome)
	})

	t.Run("nobody reaches the floor", func(t *testing.T) {
		bouquet := Item{Name: "Bouquet", BaseValue: 200, Attributes: Attributes{Subject: "StillLife", Medium: "Oil"}}
		outcome := simulate(bouquet, map[string]Profile{"curator-1": {}, "curator-2": {}})
		check.Equal(t, Failure("auction-Bouquet", "Bouquet", ReasonReserveReached, 7), outcome)
	})
}

func simulate(item Item, bidders map[string]Profile) Outcome {
	ids := make([]string, 0, len(bidders))
	for id := range bidders {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	round := Round{
		Number:      1,
		AskingPrice: InitialAskingPrice(item.BaseValue),
		FloorPrice:  FloorPrice(item.BaseValue),
		Eligible:    ids,
	}
	for {
		responses := make([]Response, 0, len(round.Eligible))
		for _, id := range round.Eligible {
			responses = append(responses, Evaluate(id, bidders[id], item, round.AskingPrice))
		}

		decision := EvaluateRound(round, responses)
		switch decision.Decision {
		case DecisionSucceeded:
			return Success(ConversationID(item.Name), item.Name, decision.Winner.Bidder, decision.Winner.Amount, round.Number)
		case DecisionNextRound:
			if decision.NextAskingPrice > round.AskingPrice {
				panic("asking price increased")
			}
			round = Round{
				Number:      round.Number + 1,
				AskingPrice: decision.NextAskingPrice,
				FloorPrice:  round.FloorPrice,
				Eligible:    decision.Eligible,
			}
		default:
			return Failure(ConversationID(item.Name), item.Name, decision.FailureReason(), round.Number)
		}
	}
}
