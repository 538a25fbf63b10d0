// Package washsale implements the two wash-sale engines: an advisory
// cross-account replacement-buy scanner and an authoritative per-tax-year
// disallowance allocator with broker and IRS computation modes.
package washsale

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/folioworks/basis-engine/internal/model"
)

// DefaultWindowDays is the statutory ±30 day replacement window.
const DefaultWindowDays = 30

// RiskMatch is one candidate replacement buy for a loss sale.
type RiskMatch struct {
	TradeID        string               `json:"trade_id"`
	AccountID      string               `json:"account_id"`
	ExecutedAt     time.Time            `json:"executed_at"`
	Side           model.TradeSide      `json:"side"`
	Instrument     model.InstrumentType `json:"instrument_type"`
	Quantity       decimal.Decimal      `json:"quantity"`
	CrossAccount   bool                 `json:"cross_account"`
	IRAReplacement bool                 `json:"ira_replacement"`
	OffsetDays     int                  `json:"offset_days"`
}

// Risk links one taxable loss sale to its candidate replacements. Purely
// advisory: no basis or pnl is adjusted here.
type Risk struct {
	RealizedID string          `json:"realized_id"`
	AccountID  string          `json:"account_id"`
	Symbol     string          `json:"symbol"`
	SaleDate   time.Time       `json:"sale_date"`
	Loss       decimal.Decimal `json:"loss"`
	Matches    []RiskMatch     `json:"matches"`
}

// DetectRisks scans every realized loss in a taxable account for open
// trades of the same symbol within ±windowDays across all accounts,
// including tax-advantaged ones.
func DetectRisks(realized []model.RealizedClose, trades []model.Trade, windowDays int) []Risk {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	candidates := openSideTrades(trades)

	var risks []Risk
	for i := range realized {
		row := &realized[i]
		if !row.PnL.IsNegative() || row.AccountType.TaxAdvantaged() {
			continue
		}
		var matches []RiskMatch
		for _, tr := range candidates {
			if tr.ID == row.OpenTradeID || tr.ID == row.CloseTradeID {
				continue
			}
			if poolingSymbol(tr) != row.Symbol {
				continue
			}
			offset := offsetDays(row.ClosedAt, tr.ExecutedAt)
			if offset > windowDays || offset < -windowDays {
				continue
			}
			matches = append(matches, RiskMatch{
				TradeID:        tr.ID,
				AccountID:      tr.AccountID,
				ExecutedAt:     tr.ExecutedAt,
				Side:           tr.Side,
				Instrument:     tr.Instrument,
				Quantity:       tr.Quantity.Abs(),
				CrossAccount:   tr.AccountID != row.AccountID,
				IRAReplacement: tr.AccountType.TaxAdvantaged(),
				OffsetDays:     offset,
			})
		}
		if len(matches) > 0 {
			risks = append(risks, Risk{
				RealizedID: row.ID,
				AccountID:  row.AccountID,
				Symbol:     row.Symbol,
				SaleDate:   row.ClosedAt,
				Loss:       row.PnL,
				Matches:    matches,
			})
		}
	}
	return risks
}

// openSideTrades filters to buys that open or could open inventory,
// ordered by (executed_at, seq) so allocation is deterministic. BTC is
// excluded: covering a short never establishes a replacement position.
func openSideTrades(trades []model.Trade) []*model.Trade {
	var out []*model.Trade
	for i := range trades {
		t := &trades[i]
		switch t.Side {
		case model.SideBuy, model.SideBTO:
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ExecutedAt.Equal(out[j].ExecutedAt) {
			return out[i].ExecutedAt.Before(out[j].ExecutedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

func poolingSymbol(t *model.Trade) string {
	if t.Instrument == model.InstrumentOption && t.Underlying != "" {
		return t.Underlying
	}
	return t.Symbol
}

// offsetDays is the signed calendar-day distance from the sale to the
// buy: negative when the buy preceded the sale.
func offsetDays(sale, buy time.Time) int {
	s := time.Date(sale.Year(), sale.Month(), sale.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(buy.Year(), buy.Month(), buy.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(s).Hours() / 24)
}
