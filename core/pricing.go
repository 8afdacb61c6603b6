package core

import (
	"math"

	"github.com/shopspring/decimal"
)

const monetaryPrecision int32 = 4 // prices are compared and stored at 0.0001 precision

var (
	initialPriceFactor = decimal.NewFromInt(2)
	floorPriceFactor   = decimal.RequireFromString("1.1")
	priceDecayFactor   = decimal.RequireFromString("0.9")
)

// Finite reports whether v can be used as a price or bid amount.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func toMoney(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(monetaryPrecision)
}

func fromMoney(d decimal.Decimal) float64 {
	f, _ := d.Round(monetaryPrecision).Float64()
	return f
}

// InitialAskingPrice is the price offered in round 1: twice the item's base value.
func InitialAskingPrice(baseValue float64) float64 {
	return fromMoney(toMoney(baseValue).Mul(initialPriceFactor))
}

// FloorPrice is the reserve price the coordinator never goes below: 1.1 times the base value.
func FloorPrice(baseValue float64) float64 {
	return fromMoney(toMoney(baseValue).Mul(floorPriceFactor))
}

// LowerAskingPrice lowers the asking price by 10%, clamped so it never drops below the floor.
func LowerAskingPrice(askingPrice, floorPrice float64) float64 {
	next := toMoney(askingPrice).Mul(priceDecayFactor)
	floor := toMoney(floorPrice)
	if next.LessThan(floor) {
		next = floor
	}
	return fromMoney(next)
}

// AtFloor returns true if the asking price has reached the floor price.
func AtFloor(askingPrice, floorPrice float64) bool {
	return toMoney(askingPrice).LessThanOrEqual(toMoney(floorPrice))
}

// BidMeetsAsk returns true if the bid amount meets or exceeds the asking price.
// Uses decimal arithmetic with monetaryPrecision to avoid floating-point errors.
func BidMeetsAsk(amount, askingPrice float64) bool {
	return toMoney(amount).GreaterThanOrEqual(toMoney(askingPrice))
}

// PriceLadder returns every asking price an auction for the given base value can offer,
// from the initial price down to and including the floor.
func PriceLadder(baseValue float64) []float64 {
	ask := InitialAskingPrice(baseValue)
	floor := FloorPrice(baseValue)

	ladder := []float64{ask}
	for !AtFloor(ask, floor) {
		ask = LowerAskingPrice(ask, floor)
		ladder = append(ladder, ask)
	}
	return ladder
}
