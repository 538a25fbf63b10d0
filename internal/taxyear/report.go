// Package taxyear composes realized rows and both wash-sale modes into a
// reconciled per-year report with internal cross-checks.
package taxyear

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/folioworks/basis-engine/internal/model"
	"github.com/folioworks/basis-engine/internal/washsale"
)

// checkTolerance bounds the detail-vs-summary cross-check drift.
var checkTolerance = decimal.New(1, -6)

// ReconcileTolerance is the acceptable dollar gap against broker-issued
// totals.
var ReconcileTolerance = decimal.NewFromInt(1)

// Detail is one realized close with its year-end tax treatment.
type Detail struct {
	RealizedID       string          `json:"realized_id"`
	AccountID        string          `json:"account_id"`
	Symbol           string          `json:"symbol"`
	ContractKey      string          `json:"contract_key,omitempty"`
	ClosedAt         time.Time       `json:"closed_at"`
	Term             string          `json:"term"`
	Quantity         decimal.Decimal `json:"quantity"`
	Proceeds         decimal.Decimal `json:"proceeds"`
	CostBasis        decimal.Decimal `json:"cost_basis"`
	PnL              decimal.Decimal `json:"pnl"`
	WashSale         bool            `json:"is_wash_sale"`
	BrokerDisallowed decimal.Decimal `json:"broker_disallowed"`
	IRSDisallowed    decimal.Decimal `json:"irs_disallowed"`
	AdjustedGainLoss decimal.Decimal `json:"adjusted_gain_loss"`
}

// Summary aggregates one year's details.
type Summary struct {
	Year                  int             `json:"year"`
	ShortTermRaw          decimal.Decimal `json:"short_term_raw"`
	LongTermRaw           decimal.Decimal `json:"long_term_raw"`
	ShortTermAdjusted     decimal.Decimal `json:"short_term_adjusted"`
	LongTermAdjusted      decimal.Decimal `json:"long_term_adjusted"`
	TotalRaw              decimal.Decimal `json:"total_raw"`
	TotalAdjusted         decimal.Decimal `json:"total_adjusted"`
	TotalProceeds         decimal.Decimal `json:"total_proceeds"`
	TotalCostBasis        decimal.Decimal `json:"total_cost_basis"`
	BrokerDisallowedTotal decimal.Decimal `json:"broker_disallowed_total"`
	IRSDisallowedTotal    decimal.Decimal `json:"irs_disallowed_total"`
	WashSaleCount         int             `json:"wash_sale_count"`
}

// Check is one internal consistency verdict.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Report is the full per-year output.
type Report struct {
	Year    int             `json:"year"`
	Details []Detail        `json:"details"`
	Summary Summary         `json:"summary"`
	Checks  []Check         `json:"checks"`
	Broker  washsale.Report `json:"broker_wash_sales"`
	IRS     washsale.Report `json:"irs_wash_sales"`
}

// Build assembles the year's report: details for every taxable-account
// close in the year, disallowed amounts from both wash-sale modes, and the
// cross-checks a reviewer would run by hand. adjusted_gain_loss adds the
// IRS-disallowed loss back to the raw pnl; the matching basis increase
// on the replacement lot stays in the wash-sale report as metadata.
func Build(realized []model.RealizedClose, trades []model.Trade, year, windowDays int) Report {
	broker := washsale.Disallowances(realized, trades, year, washsale.ModeBroker, windowDays)
	irs := washsale.Disallowances(realized, trades, year, washsale.ModeIRS, windowDays)

	rep := Report{Year: year, Broker: broker, IRS: irs}
	sum := Summary{
		Year:                  year,
		ShortTermRaw:          decimal.Zero,
		LongTermRaw:           decimal.Zero,
		ShortTermAdjusted:     decimal.Zero,
		LongTermAdjusted:      decimal.Zero,
		TotalRaw:              decimal.Zero,
		TotalAdjusted:         decimal.Zero,
		TotalProceeds:         decimal.Zero,
		TotalCostBasis:        decimal.Zero,
		BrokerDisallowedTotal: broker.Total,
		IRSDisallowedTotal:    irs.Total,
	}

	for i := range realized {
		row := &realized[i]
		if row.ClosedAt.Year() != year || row.AccountType.TaxAdvantaged() {
			continue
		}
		bd := broker.ByRealizedID[row.ID]
		id := irs.ByRealizedID[row.ID]
		det := Detail{
			RealizedID:       row.ID,
			AccountID:        row.AccountID,
			Symbol:           row.Symbol,
			ContractKey:      row.ContractKey,
			ClosedAt:         row.ClosedAt,
			Term:             row.Term,
			Quantity:         row.Quantity,
			Proceeds:         row.Proceeds,
			CostBasis:        row.CostBasis,
			PnL:              row.PnL,
			WashSale:         id.IsPositive(),
			BrokerDisallowed: bd,
			IRSDisallowed:    id,
			AdjustedGainLoss: row.PnL.Add(id),
		}
		rep.Details = append(rep.Details, det)

		if det.Term == "LONG" {
			sum.LongTermRaw = sum.LongTermRaw.Add(det.PnL)
			sum.LongTermAdjusted = sum.LongTermAdjusted.Add(det.AdjustedGainLoss)
		} else {
			sum.ShortTermRaw = sum.ShortTermRaw.Add(det.PnL)
			sum.ShortTermAdjusted = sum.ShortTermAdjusted.Add(det.AdjustedGainLoss)
		}
		sum.TotalRaw = sum.TotalRaw.Add(det.PnL)
		sum.TotalAdjusted = sum.TotalAdjusted.Add(det.AdjustedGainLoss)
		sum.TotalProceeds = sum.TotalProceeds.Add(det.Proceeds)
		sum.TotalCostBasis = sum.TotalCostBasis.Add(det.CostBasis)
		if det.WashSale {
			sum.WashSaleCount++
		}
	}
	sort.SliceStable(rep.Details, func(i, j int) bool {
		return rep.Details[i].ClosedAt.Before(rep.Details[j].ClosedAt)
	})
	rep.Summary = sum
	rep.Checks = crossChecks(rep)
	return rep
}

func crossChecks(rep Report) []Check {
	detailRaw := decimal.Zero
	detailAdjusted := decimal.Zero
	for i := range rep.Details {
		detailRaw = detailRaw.Add(rep.Details[i].PnL)
		detailAdjusted = detailAdjusted.Add(rep.Details[i].AdjustedGainLoss)
	}
	var checks []Check
	checks = append(checks, Check{
		Name:   "details_sum_to_summary_raw",
		Passed: detailRaw.Sub(rep.Summary.TotalRaw).Abs().LessThanOrEqual(checkTolerance),
	})
	checks = append(checks, Check{
		Name:   "details_sum_to_summary_adjusted",
		Passed: detailAdjusted.Sub(rep.Summary.TotalAdjusted).Abs().LessThanOrEqual(checkTolerance),
	})
	checks = append(checks, Check{
		Name:   "adjusted_never_below_raw",
		Passed: rep.Summary.TotalAdjusted.GreaterThanOrEqual(rep.Summary.TotalRaw),
	})
	checks = append(checks, Check{
		Name:   "terms_sum_to_total",
		Passed: rep.Summary.ShortTermAdjusted.Add(rep.Summary.LongTermAdjusted).Sub(rep.Summary.TotalAdjusted).Abs().LessThanOrEqual(checkTolerance),
	})
	return checks
}

// BrokerTotals are figures lifted from broker-issued statements.
type BrokerTotals struct {
	Broker             string          `json:"broker"`
	Proceeds           decimal.Decimal `json:"proceeds"`
	CostBasis          decimal.Decimal `json:"cost_basis"`
	RealizedPnL        decimal.Decimal `json:"realized_pnl"`
	WashSaleDisallowed decimal.Decimal `json:"wash_sale_disallowed"`
}

// ReconRow compares one locally computed figure against the broker's.
type ReconRow struct {
	Field           string          `json:"field"`
	Local           decimal.Decimal `json:"local"`
	Broker          decimal.Decimal `json:"broker"`
	Difference      decimal.Decimal `json:"difference"`
	WithinTolerance bool            `json:"within_tolerance"`
}

// Reconcile checks the report against broker-supplied totals, tolerating
// up to a dollar of rounding per field.
func Reconcile(rep Report, broker BrokerTotals) []ReconRow {
	rows := []ReconRow{
		reconRow("proceeds", rep.Summary.TotalProceeds, broker.Proceeds),
		reconRow("cost_basis", rep.Summary.TotalCostBasis, broker.CostBasis),
		reconRow("realized_pnl", rep.Summary.TotalRaw, broker.RealizedPnL),
		reconRow("wash_sale_disallowed", rep.Summary.BrokerDisallowedTotal, broker.WashSaleDisallowed),
	}
	return rows
}

func reconRow(field string, local, broker decimal.Decimal) ReconRow {
	diff := local.Sub(broker)
	return ReconRow{
		Field:           field,
		Local:           local,
		Broker:          broker,
		Difference:      diff,
		WithinTolerance: diff.Abs().LessThanOrEqual(ReconcileTolerance),
	}
}
