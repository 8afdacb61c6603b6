package core

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

const declineReasonTooExpensive = "too expensive"

var (
	interestBase      = decimal.NewFromInt(1)
	interestIncrement = decimal.RequireFromString("0.3")
)

var strategyFactors = map[Strategy]decimal.Decimal{
	StrategyPassive:    decimal.NewFromInt(1),
	StrategyMedium:     decimal.RequireFromString("1.2"),
	StrategyAggressive: decimal.RequireFromString("1.4"),
}

func interested(values []string, value string) bool {
	return value != "" && slices.ContainsFunc(values, func(v string) bool {
		return strings.EqualFold(v, value)
	})
}

// InterestMultiplier returns 1.0 plus 0.3 for every interest dimension the item matches
// (subject, medium, creator). Matching is case-insensitive.
func InterestMultiplier(profile Profile, item Item) float64 {
	m := interestMultiplier(profile, item)
	f, _ := m.Float64()
	return f
}

func interestMultiplier(profile Profile, item Item) decimal.Decimal {
	m := interestBase
	if interested(profile.Subjects, item.Attributes.Subject) {
		m = m.Add(interestIncrement)
	}
	if interested(profile.Media, item.Attributes.Medium) {
		m = m.Add(interestIncrement)
	}
	if interested(profile.Creators, item.Attributes.Creator) {
		m = m.Add(interestIncrement)
	}
	return m
}

// StrategyFactor returns the willingness scale of a strategy tier. Unknown tiers scale by 1.
func StrategyFactor(s Strategy) float64 {
	f, _ := strategyFactor(s).Float64()
	return f
}

func strategyFactor(s Strategy) decimal.Decimal {
	if factor, ok := strategyFactors[s]; ok {
		return factor
	}
	return interestBase
}

// WillingnessToPay is base value × interest multiplier × strategy factor.
func WillingnessToPay(profile Profile, item Item) float64 {
	return fromMoney(toMoney(item.BaseValue).
		Mul(interestMultiplier(profile, item)).
		Mul(strategyFactor(profile.Strategy)))
}

// Evaluate decides how a bidder with the given profile answers an offer.
// A bidder always bids exactly the asking price when it is willing to pay at least that much,
// otherwise it declines.
func Evaluate(bidder string, profile Profile, item Item, askingPrice float64) Response {
	if BidMeetsAsk(WillingnessToPay(profile, item), askingPrice) {
		return Bid(bidder, askingPrice)
	}
	return Decline(bidder, declineReasonTooExpensive)
}
