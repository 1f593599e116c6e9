// Package pricing derives tradable dollar prices from live win
// probabilities.
//
// A side's price is its pregame payout scaled by how its win probability has
// moved against the pregame baseline:
//
//	price = (currentWinProb / pregameWinProb) * pregamePayout
//
// Payouts are decimal bookmaker odds scaled by 100, matching how win
// probabilities are themselves expressed 0–100. Prices and buy/sell prices on
// positions are recorded in that same scale end-to-end.
//
// All monetary values use shopspring/decimal — never float64 for money.
package pricing

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PriceScale is the number of decimal places for derived price rounding.
const PriceScale int32 = 2

// Price derives one side's current dollar price. Returns zero when either
// probability is missing or non-positive — a zero pregame baseline would be a
// division by nothing, and a zero current probability means the side has lost
// all realistic chance. The current probability may exceed the pregame
// baseline: a team whose fortunes improve trades above its initial payout.
func Price(currentWinProb, pregameWinProb float64, pregamePayout decimal.Decimal) decimal.Decimal {
	if currentWinProb <= 0 || pregameWinProb <= 0 {
		return decimal.Zero
	}
	ratio := decimal.NewFromFloat(currentWinProb).Div(decimal.NewFromFloat(pregameWinProb))
	return ratio.Mul(pregamePayout).Round(PriceScale)
}

// Probability converts decimal bookmaker odds to a win probability on the
// 0–100 scale, rounded to 2 decimals. Odds of zero convert to probability
// zero rather than dividing by it.
func Probability(decimalOdds float64) float64 {
	if decimalOdds == 0 {
		return 0
	}
	p := decimal.NewFromFloat(1).Div(decimal.NewFromFloat(decimalOdds)).Mul(hundred)
	f, _ := p.Round(2).Float64()
	return f
}

// Payout converts decimal bookmaker odds to the payout scale used for all
// prices: decimal odds × 100.
func Payout(decimalOdds float64) decimal.Decimal {
	return decimal.NewFromFloat(decimalOdds).Mul(hundred).Round(PriceScale)
}

// MarkToMarket values an open position at the current price for its side:
// buyAmount * currentPrice / buyPrice. Returns zero when the buy price is
// zero (nothing meaningful to scale against).
func MarkToMarket(buyAmount, buyPrice, currentPrice decimal.Decimal) decimal.Decimal {
	if buyPrice.IsZero() {
		return decimal.Zero
	}
	return buyAmount.Mul(currentPrice).Div(buyPrice)
}
