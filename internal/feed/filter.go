package feed

import "github.com/shopspring/decimal"

// AmountFilter decides which transfer amounts count as shame.
type AmountFilter struct {
	Min         decimal.Decimal
	Max         decimal.Decimal
	Exceptional decimal.Decimal
}

// DefaultAmountFilter accepts whole-token amounts 1 through 10, and 69.
func DefaultAmountFilter() AmountFilter {
	return AmountFilter{
		Min:         decimal.NewFromInt(1),
		Max:         decimal.NewFromInt(10),
		Exceptional: decimal.NewFromInt(69),
	}
}

// Matches rounds amount to the nearest whole token and tests it.
func (f AmountFilter) Matches(amount decimal.Decimal) bool {
	rounded := amount.Round(0)
	if rounded.Equal(f.Exceptional) {
		return true
	}
	return rounded.GreaterThanOrEqual(f.Min) && rounded.LessThanOrEqual(f.Max)
}
