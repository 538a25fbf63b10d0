package returns

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// ConcentrationThreshold is the portfolio weight at which a single
// symbol triggers a warning.
var ConcentrationThreshold = decimal.NewFromFloat(0.35)

// ConcentrationWarning flags one symbol holding an outsized share of
// total market value.
type ConcentrationWarning struct {
	Symbol      string          `json:"symbol"`
	MarketValue decimal.Decimal `json:"market_value"`
	Weight      decimal.Decimal `json:"weight"`
}

// Concentration checks open positions for symbols whose absolute market
// value exceeds the threshold share of the portfolio.
func (c *Calculator) Concentration(ctx context.Context, accountID string) ([]ConcentrationWarning, error) {
	positions, err := c.store.ListOpenPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	bySymbol := make(map[string]decimal.Decimal)
	total := decimal.Zero
	for i := range positions {
		v := positions[i].MarketValue.Abs()
		bySymbol[positions[i].Symbol] = bySymbol[positions[i].Symbol].Add(v)
		total = total.Add(v)
	}
	if !total.IsPositive() {
		return nil, nil
	}

	var warnings []ConcentrationWarning
	for sym, v := range bySymbol {
		weight := v.Div(total)
		if weight.GreaterThanOrEqual(ConcentrationThreshold) {
			warnings = append(warnings, ConcentrationWarning{Symbol: sym, MarketValue: v, Weight: weight})
		}
	}
	sort.Slice(warnings, func(i, j int) bool { return warnings[i].Weight.GreaterThan(warnings[j].Weight) })
	return warnings, nil
}
