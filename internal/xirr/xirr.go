// Package xirr solves the internal rate of return for irregularly dated
// cash-flow schedules. Flows cross the package boundary as decimals; the
// discounting math runs on float64 internally since it is transcendental
// and the result feeds analytics, not ledger rows.
package xirr

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// CashFlow is one dated flow. Negative amounts are money invested,
// positive amounts are money returned.
type CashFlow struct {
	Date   time.Time
	Amount decimal.Decimal
}

const (
	flowEpsilon = 1e-9
	tolerance   = 1e-10

	bracketLow      = -0.9999
	bracketHigh     = 1.0
	bracketAttempts = 80
	maxBisections   = 200
)

// Solve returns the annualized rate that discounts the flows to zero and
// true, or zero and false when the schedule is degenerate (fewer than two
// nonzero flows, all flows one sign, or no sign change found while
// expanding the bracket). Bisection over a bracket is deliberate: real
// portfolio schedules can make faster gradient methods diverge.
func Solve(flows []CashFlow) (decimal.Decimal, bool) {
	dated := make([]CashFlow, 0, len(flows))
	for _, f := range flows {
		v, _ := f.Amount.Float64()
		if math.Abs(v) <= flowEpsilon {
			continue
		}
		dated = append(dated, f)
	}
	if len(dated) < 2 {
		return decimal.Zero, false
	}
	sort.SliceStable(dated, func(i, j int) bool { return dated[i].Date.Before(dated[j].Date) })

	amounts := make([]float64, len(dated))
	years := make([]float64, len(dated))
	anchor := dated[0].Date
	hasPos, hasNeg := false, false
	sameDate := true
	net := 0.0
	for i, f := range dated {
		v, _ := f.Amount.Float64()
		amounts[i] = v
		years[i] = f.Date.Sub(anchor).Hours() / 24 / 365
		net += v
		if v > 0 {
			hasPos = true
		} else {
			hasNeg = true
		}
		if !f.Date.Equal(anchor) {
			sameDate = false
		}
	}
	if !hasPos || !hasNeg {
		return decimal.Zero, false
	}
	if sameDate {
		if math.Abs(net) <= flowEpsilon {
			return decimal.Zero, true
		}
		return decimal.Zero, false
	}

	xnpv := func(rate float64) float64 {
		total := 0.0
		for i := range amounts {
			total += amounts[i] / math.Pow(1+rate, years[i])
		}
		return total
	}

	low, high := bracketLow, bracketHigh
	fLow, fHigh := xnpv(low), xnpv(high)
	attempts := 0
	for fLow*fHigh > 0 {
		attempts++
		if attempts > bracketAttempts {
			return decimal.Zero, false
		}
		high = high*2 + 1
		fHigh = xnpv(high)
	}

	for i := 0; i < maxBisections; i++ {
		mid := (low + high) / 2
		fMid := xnpv(mid)
		if math.Abs(fMid) <= tolerance {
			return decimal.NewFromFloat(mid), true
		}
		if fLow*fMid < 0 {
			high = mid
		} else {
			low, fLow = mid, fMid
		}
	}
	return decimal.NewFromFloat((low + high) / 2), true
}

// PeriodReturn converts an annualized rate into the total return over a
// window of the given calendar length, comparable to a benchmark's
// close-to-close return over the same window.
func PeriodReturn(annualized decimal.Decimal, days int) decimal.Decimal {
	if days < 1 {
		days = 1
	}
	r, _ := annualized.Float64()
	return decimal.NewFromFloat(math.Pow(1+r, float64(days)/365) - 1)
}
