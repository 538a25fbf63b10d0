// Package engine implements the realized-basis recompute: a full replay
// of the trade log that FIFO-matches closes against open lots and emits
// realized-close rows plus open-position snapshots. The replay is a
// deterministic pure function of the trade history; callers apply its
// output by full replacement of the scope's derived rows.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/folioworks/basis-engine/internal/contract"
	"github.com/folioworks/basis-engine/internal/lots"
	"github.com/folioworks/basis-engine/internal/model"
)

var (
	ErrUnsupportedSide = errors.New("engine: unsupported side for instrument type")
	ErrBadMultiplier   = errors.New("engine: negative option multiplier")
)

// PriceLookup returns the latest known mark for a pooling symbol or
// contract key, reporting false when none is cached.
type PriceLookup func(key string) (decimal.Decimal, bool)

// Stats summarizes one recompute run.
type Stats struct {
	TradesReplayed         int             `json:"trades_replayed"`
	ZeroQuantitySkipped    int             `json:"zero_quantity_skipped"`
	RealizedRows           int             `json:"realized_rows"`
	OpenPositions          int             `json:"open_positions"`
	UnmatchedCloseQuantity decimal.Decimal `json:"unmatched_close_quantity"`
	Elapsed                time.Duration   `json:"-"`
	ElapsedMS              int64           `json:"elapsed_ms"`
}

// Result is the complete replacement set for the recompute's scope.
type Result struct {
	Realized []model.RealizedClose
	Open     []model.OpenPosition
	Stats    Stats
}

// action is one row of the (side, instrument) transition table.
type action int

const (
	actReject action = iota
	actCloseShortThenOpenLong
	actCloseLongThenOpenShort
	actOpenLong
	actOpenShort
	actCloseLong
	actCloseShort
)

func classify(side model.TradeSide, inst model.InstrumentType) action {
	switch inst {
	case model.InstrumentStock:
		switch side {
		case model.SideBuy:
			return actCloseShortThenOpenLong
		case model.SideSell:
			return actCloseLongThenOpenShort
		}
	case model.InstrumentOption:
		switch side {
		case model.SideBuy:
			return actCloseShortThenOpenLong
		case model.SideSell:
			return actCloseLongThenOpenShort
		case model.SideBTO:
			return actOpenLong
		case model.SideSTO:
			return actOpenShort
		case model.SideBTC:
			return actCloseShort
		case model.SideSTC:
			return actCloseLong
		}
	}
	return actReject
}

// invKey identifies one independent long/short inventory pair.
type invKey struct {
	accountID string
	pool      string
}

// inventory owns the long and short queues for one pooling key.
type inventory struct {
	long  lots.Queue
	short lots.Queue

	accountID   string
	accountType model.AccountType
	symbol      string
	contractKey string
	instrument  model.InstrumentType
	multiplier  int64
}

// run is the per-recompute accounting context: it owns the realized
// output, the unmatched-close counter, and the per-key inventories.
type run struct {
	inventories map[invKey]*inventory
	order       []invKey
	realized    []model.RealizedClose
	stats       Stats
}

func newRun() *run {
	return &run{
		inventories: make(map[invKey]*inventory),
		stats:       Stats{UnmatchedCloseQuantity: decimal.Zero},
	}
}

func (r *run) inventoryFor(t *model.Trade, symbol, key string) *inventory {
	pool := symbol
	if key != "" {
		pool = symbol + "|" + key
	}
	ik := invKey{accountID: t.AccountID, pool: pool}
	inv, ok := r.inventories[ik]
	if !ok {
		inv = &inventory{
			accountID:   t.AccountID,
			accountType: t.AccountType,
			symbol:      symbol,
			contractKey: key,
			instrument:  t.Instrument,
			multiplier:  t.EffectiveMultiplier(),
		}
		r.inventories[ik] = inv
		r.order = append(r.order, ik)
	}
	return inv
}

// Recompute replays trades in (executed_at, seq) order and returns the
// full realized/open replacement set. The input slice is not mutated.
func Recompute(trades []model.Trade, prices PriceLookup, asOf time.Time) (*Result, error) {
	started := time.Now()
	ordered := make([]model.Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].ExecutedAt.Equal(ordered[j].ExecutedAt) {
			return ordered[i].ExecutedAt.Before(ordered[j].ExecutedAt)
		}
		return ordered[i].Seq < ordered[j].Seq
	})

	r := newRun()
	for i := range ordered {
		t := &ordered[i]
		if t.Quantity.Abs().LessThanOrEqual(lots.Epsilon) {
			r.stats.ZeroQuantitySkipped++
			slog.Warn("skipping zero-quantity trade", "trade_id", t.ID, "symbol", t.Symbol)
			continue
		}
		if t.Instrument == model.InstrumentOption && t.Multiplier < 0 {
			return nil, fmt.Errorf("%w: trade %s multiplier %d", ErrBadMultiplier, t.ID, t.Multiplier)
		}
		if err := r.apply(t); err != nil {
			return nil, err
		}
		r.stats.TradesReplayed++
	}

	open := r.openPositions(prices, asOf)
	r.stats.RealizedRows = len(r.realized)
	r.stats.OpenPositions = len(open)
	r.stats.Elapsed = time.Since(started)
	r.stats.ElapsedMS = r.stats.Elapsed.Milliseconds()

	return &Result{Realized: r.realized, Open: open, Stats: r.stats}, nil
}

func (r *run) apply(t *model.Trade) error {
	symbol, key := contract.Resolve(t)
	inv := r.inventoryFor(t, symbol, key)
	qty := t.Quantity.Abs()

	switch classify(t.Side, t.Instrument) {
	case actCloseShortThenOpenLong:
		remainder, err := r.closeAgainst(&inv.short, model.DirShort, inv, t, qty)
		if err != nil {
			return err
		}
		r.openLot(&inv.long, model.DirLong, inv, t, remainder)
	case actCloseLongThenOpenShort:
		remainder, err := r.closeAgainst(&inv.long, model.DirLong, inv, t, qty)
		if err != nil {
			return err
		}
		r.openLot(&inv.short, model.DirShort, inv, t, remainder)
	case actOpenLong:
		r.openLot(&inv.long, model.DirLong, inv, t, qty)
	case actOpenShort:
		r.openLot(&inv.short, model.DirShort, inv, t, qty)
	case actCloseShort:
		remainder, err := r.closeAgainst(&inv.short, model.DirShort, inv, t, qty)
		if err != nil {
			return err
		}
		r.recordUnmatched(t, remainder)
	case actCloseLong:
		remainder, err := r.closeAgainst(&inv.long, model.DirLong, inv, t, qty)
		if err != nil {
			return err
		}
		r.recordUnmatched(t, remainder)
	default:
		return fmt.Errorf("%w: %s %s (trade %s)", ErrUnsupportedSide, t.Instrument, t.Side, t.ID)
	}
	return nil
}

func (r *run) recordUnmatched(t *model.Trade, remainder decimal.Decimal) {
	if remainder.LessThanOrEqual(lots.Epsilon) {
		return
	}
	r.stats.UnmatchedCloseQuantity = r.stats.UnmatchedCloseQuantity.Add(remainder)
	slog.Warn("close trade exceeds open inventory",
		"trade_id", t.ID, "symbol", t.Symbol, "side", t.Side, "unmatched", remainder)
}

// feeShare prorates the trade's total fee onto a chunk by its share of
// the trade's total quantity.
func feeShare(t *model.Trade, chunkQty decimal.Decimal) decimal.Decimal {
	total := t.Quantity.Abs()
	if total.LessThanOrEqual(lots.Epsilon) {
		return decimal.Zero
	}
	return t.Fees.Mul(chunkQty).Div(total)
}

// openLot pushes the unconsumed remainder of a trade as a new lot. The
// fee share for the opened quantity is folded into the unit basis: added
// for long lots (raising cost), subtracted for short lots (reducing the
// open credit).
func (r *run) openLot(q *lots.Queue, dir model.LotDirection, inv *inventory, t *model.Trade, qty decimal.Decimal) {
	if qty.LessThanOrEqual(lots.Epsilon) {
		return
	}
	mult := decimal.NewFromInt(inv.multiplier)
	fee := feeShare(t, qty)
	unit := t.Price.Mul(mult)
	if dir == model.DirLong {
		unit = unit.Add(fee.Div(qty))
	} else {
		unit = unit.Sub(fee.Div(qty))
	}
	q.Push(lots.Lot{
		OpenedAt:    t.ExecutedAt,
		Quantity:    qty,
		UnitBasis:   unit,
		Multiplier:  inv.multiplier,
		OpenTradeID: t.ID,
	})
}

// closeAgainst consumes qty from the given queue and emits one realized
// row per consumed chunk. For long closes, proceeds are the close
// trade's cash net of its fee share and basis is the lot's unit basis.
// For short covers, proceeds are the lot's open credit and basis is the
// close debit including its fee share. Either way pnl is proceeds minus
// basis.
func (r *run) closeAgainst(q *lots.Queue, dir model.LotDirection, inv *inventory, t *model.Trade, qty decimal.Decimal) (decimal.Decimal, error) {
	chunks, leftover, err := q.Consume(qty)
	if err != nil {
		return decimal.Zero, fmt.Errorf("trade %s: %w", t.ID, err)
	}
	mult := decimal.NewFromInt(inv.multiplier)
	for _, c := range chunks {
		fee := feeShare(t, c.Quantity)
		gross := c.Quantity.Mul(t.Price).Mul(mult)
		lotAmount := c.Quantity.Mul(c.Lot.UnitBasis)

		var proceeds, basis decimal.Decimal
		if dir == model.DirLong {
			proceeds = gross.Sub(fee)
			basis = lotAmount
		} else {
			proceeds = lotAmount
			basis = gross.Add(fee)
		}

		days := holdingDays(c.Lot.OpenedAt, t.ExecutedAt)
		term := "SHORT"
		if days >= 365 {
			term = "LONG"
		}
		r.realized = append(r.realized, model.RealizedClose{
			ID:           uuid.NewString(),
			AccountID:    inv.accountID,
			AccountType:  inv.accountType,
			Symbol:       inv.symbol,
			ContractKey:  inv.contractKey,
			Instrument:   inv.instrument,
			Multiplier:   inv.multiplier,
			OpenedAt:     c.Lot.OpenedAt,
			ClosedAt:     t.ExecutedAt,
			Quantity:     c.Quantity,
			Proceeds:     proceeds,
			CostBasis:    basis,
			Fees:         fee,
			PnL:          proceeds.Sub(basis),
			HoldingDays:  days,
			Notes:        fmt.Sprintf("closed %s from lot opened %s", c.Quantity, c.Lot.OpenedAt.Format("2006-01-02")),
			OpenTradeID:  c.Lot.OpenTradeID,
			CloseTradeID: t.ID,
			Term:         term,

			BrokerDisallowed: decimal.Zero,
			IRSDisallowed:    decimal.Zero,
		})
	}
	return leftover, nil
}

// holdingDays is the calendar-date difference, so intraday times never
// shift a lot across the long-term boundary.
func holdingDays(openedAt, closedAt time.Time) int {
	o := time.Date(openedAt.Year(), openedAt.Month(), openedAt.Day(), 0, 0, 0, 0, time.UTC)
	c := time.Date(closedAt.Year(), closedAt.Month(), closedAt.Day(), 0, 0, 0, 0, time.UTC)
	days := int(c.Sub(o).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// openPositions snapshots every inventory with nonzero net quantity,
// valued at the latest cached mark. When no mark exists the position is
// carried at average cost with unrealized pnl reported as zero.
func (r *run) openPositions(prices PriceLookup, asOf time.Time) []model.OpenPosition {
	var out []model.OpenPosition
	for _, ik := range r.order {
		inv := r.inventories[ik]
		netQty := inv.long.TotalQuantity().Sub(inv.short.TotalQuantity())
		if netQty.Abs().LessThanOrEqual(lots.Epsilon) {
			continue
		}
		mult := decimal.NewFromInt(inv.multiplier)
		signedBasis := inv.long.TotalBasis().Sub(inv.short.TotalBasis())
		avgCost := signedBasis.Div(netQty.Mul(mult)).Abs()

		lookupKey := inv.symbol
		if inv.contractKey != "" {
			lookupKey = inv.contractKey
		}
		mark, ok := decimal.Zero, false
		if prices != nil {
			mark, ok = prices(lookupKey)
		}
		pos := model.OpenPosition{
			AccountID:    inv.accountID,
			AccountType:  inv.accountType,
			Symbol:       inv.symbol,
			ContractKey:  inv.contractKey,
			Instrument:   inv.instrument,
			Multiplier:   inv.multiplier,
			Quantity:     netQty,
			AverageCost:  avgCost,
			PriceMissing: !ok,
			AsOf:         asOf,
		}
		if !ok {
			mark = avgCost
		}
		pos.MarkPrice = mark
		pos.MarketValue = netQty.Mul(mult).Mul(mark)
		pos.UnrealizedPnL = netQty.Mul(mult).Mul(mark.Sub(avgCost))
		out = append(out, pos)
	}
	return out
}
