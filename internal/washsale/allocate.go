package washsale

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/folioworks/basis-engine/internal/model"
)

// Mode selects the disallowance methodology.
type Mode string

const (
	// ModeBroker reproduces the narrower broker-reported convention:
	// replacements in the same account and instrument as the sale, in
	// taxable accounts only, so output lines up with 1099-B columns.
	ModeBroker Mode = "BROKER"
	// ModeIRS applies the full statutory rule: replacements in any
	// account including IRAs, and option buys on the sold underlying.
	ModeIRS Mode = "IRS"
)

// Match records one replacement buy's allocation against a loss sale.
type Match struct {
	TradeID        string               `json:"trade_id"`
	AccountID      string               `json:"account_id"`
	BuyDate        time.Time            `json:"buy_date"`
	Instrument     model.InstrumentType `json:"instrument_type"`
	CrossAccount   bool                 `json:"cross_account"`
	IRAReplacement bool                 `json:"ira_replacement"`
	AllocatedQtyEq decimal.Decimal      `json:"allocated_qty_eq"`
	OffsetDays     int                  `json:"offset_days"`
}

// SaleDisallowance is the allocator's output for one loss sale.
type SaleDisallowance struct {
	RealizedID   string          `json:"realized_id"`
	Symbol       string          `json:"symbol"`
	SaleDate     time.Time       `json:"sale_date"`
	SaleQtyEq    decimal.Decimal `json:"sale_qty_eq"`
	MatchedQtyEq decimal.Decimal `json:"matched_qty_eq"`
	Disallowed   decimal.Decimal `json:"disallowed"`
	Matches      []Match         `json:"matches"`
}

// Report aggregates one mode's disallowances for one tax year.
type Report struct {
	Mode         Mode                       `json:"mode"`
	Year         int                        `json:"year"`
	Sales        []SaleDisallowance         `json:"sales"`
	ByRealizedID map[string]decimal.Decimal `json:"by_realized_id"`
	Total        decimal.Decimal            `json:"total"`
}

// Disallowances allocates replacement-buy quantity against every taxable
// loss sale closed in the given year. Sales are processed in
// (close date, id) order and replacements earliest-first; a
// replacement's unallocated quantity carries forward to later qualifying
// sales. The disallowed amount is the loss prorated by the matched share
// of the sale's share-equivalent quantity, capped at the full loss.
func Disallowances(realized []model.RealizedClose, trades []model.Trade, year int, mode Mode, windowDays int) Report {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	rep := Report{
		Mode:         mode,
		Year:         year,
		ByRealizedID: make(map[string]decimal.Decimal),
		Total:        decimal.Zero,
	}

	var sales []*model.RealizedClose
	for i := range realized {
		row := &realized[i]
		if !row.PnL.IsNegative() || row.AccountType.TaxAdvantaged() {
			continue
		}
		if row.ClosedAt.Year() != year {
			continue
		}
		sales = append(sales, row)
	}
	sort.SliceStable(sales, func(i, j int) bool {
		if !sales[i].ClosedAt.Equal(sales[j].ClosedAt) {
			return sales[i].ClosedAt.Before(sales[j].ClosedAt)
		}
		return sales[i].ID < sales[j].ID
	})

	candidates := openSideTrades(trades)
	capacity := make(map[string]decimal.Decimal, len(candidates))
	for _, tr := range candidates {
		capacity[tr.ID] = shareEquivalent(tr)
	}

	for _, sale := range sales {
		saleQtyEq := sale.Quantity.Mul(decimal.NewFromInt(sale.Multiplier))
		if saleQtyEq.IsZero() {
			continue
		}
		remaining := saleQtyEq
		var matches []Match
		matched := decimal.Zero

		for _, tr := range candidates {
			if remaining.IsZero() {
				break
			}
			if !qualifies(sale, tr, mode, windowDays) {
				continue
			}
			avail := capacity[tr.ID]
			if !avail.IsPositive() {
				continue
			}
			alloc := decimal.Min(avail, remaining)
			capacity[tr.ID] = avail.Sub(alloc)
			remaining = remaining.Sub(alloc)
			matched = matched.Add(alloc)
			matches = append(matches, Match{
				TradeID:        tr.ID,
				AccountID:      tr.AccountID,
				BuyDate:        tr.ExecutedAt,
				Instrument:     tr.Instrument,
				CrossAccount:   tr.AccountID != sale.AccountID,
				IRAReplacement: tr.AccountType.TaxAdvantaged(),
				AllocatedQtyEq: alloc,
				OffsetDays:     offsetDays(sale.ClosedAt, tr.ExecutedAt),
			})
		}
		if len(matches) == 0 {
			continue
		}
		loss := sale.PnL.Abs()
		disallowed := decimal.Min(loss.Mul(matched).Div(saleQtyEq), loss)
		rep.Sales = append(rep.Sales, SaleDisallowance{
			RealizedID:   sale.ID,
			Symbol:       sale.Symbol,
			SaleDate:     sale.ClosedAt,
			SaleQtyEq:    saleQtyEq,
			MatchedQtyEq: matched,
			Disallowed:   disallowed,
			Matches:      matches,
		})
		rep.ByRealizedID[sale.ID] = disallowed
		rep.Total = rep.Total.Add(disallowed)
	}
	return rep
}

// qualifies applies the mode's replacement rules to one candidate buy.
func qualifies(sale *model.RealizedClose, tr *model.Trade, mode Mode, windowDays int) bool {
	if tr.ID == sale.OpenTradeID || tr.ID == sale.CloseTradeID {
		return false
	}
	offset := offsetDays(sale.ClosedAt, tr.ExecutedAt)
	if offset > windowDays || offset < -windowDays {
		return false
	}
	if poolingSymbol(tr) != sale.Symbol {
		return false
	}
	switch mode {
	case ModeBroker:
		if tr.AccountID != sale.AccountID || tr.AccountType.TaxAdvantaged() {
			return false
		}
		if tr.Instrument != sale.Instrument {
			return false
		}
		return true
	case ModeIRS:
		// Any account, IRAs included; a stock sale's replacement may be
		// an option on the same underlying.
		return true
	}
	return false
}

func shareEquivalent(tr *model.Trade) decimal.Decimal {
	return tr.Quantity.Abs().Mul(decimal.NewFromInt(tr.EffectiveMultiplier()))
}
