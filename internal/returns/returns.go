// Package returns computes point-in-time equity snapshots and
// money-weighted window returns compared against benchmark proxies.
package returns

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/folioworks/basis-engine/internal/model"
	"github.com/folioworks/basis-engine/internal/store"
	"github.com/folioworks/basis-engine/internal/xirr"
)

// BenchmarkSymbols is the fixed proxy basket compared against every
// window return.
var BenchmarkSymbols = []string{"DIA", "SPY", "QQQ"}

// WindowLabels in display order.
var WindowLabels = []string{"inception", "1Y", "6M", "3M", "1M", "5D"}

var ErrUnknownWindow = errors.New("returns: unknown window label")

// Snapshot is the portfolio state at one instant. Equity is provisional
// when MissingSymbols is nonempty.
type Snapshot struct {
	AsOf           time.Time       `json:"as_of"`
	Cash           decimal.Decimal `json:"cash"`
	HoldingsValue  decimal.Decimal `json:"holdings_value"`
	Equity         decimal.Decimal `json:"equity"`
	PricedSymbols  []string        `json:"priced_symbols"`
	MissingSymbols []string        `json:"missing_symbols"`
}

// Window is a resolved date range.
type Window struct {
	Label string    `json:"label"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Days  int       `json:"days"`
}

// Metrics is one window's return compared against the benchmark basket.
// Nil rate fields mean "unavailable", never zero.
type Metrics struct {
	Window            Window                      `json:"window"`
	StartEquity       decimal.Decimal             `json:"start_equity"`
	EndEquity         decimal.Decimal             `json:"end_equity"`
	NetExternalFlows  decimal.Decimal             `json:"net_external_flows"`
	XIRR              *decimal.Decimal            `json:"xirr"`
	PeriodReturn      *decimal.Decimal            `json:"period_return"`
	Benchmarks        map[string]*decimal.Decimal `json:"benchmarks"`
	MissingBenchmarks []string                    `json:"missing_benchmarks"`
	MissingPrices     []string                    `json:"missing_prices"`
}

// Calculator reads trade, cash, and price history from the store. It
// never writes.
type Calculator struct {
	store store.Store
}

func NewCalculator(s store.Store) *Calculator {
	return &Calculator{store: s}
}

// Snapshot values the portfolio at asOf: cash from signed cash activity
// plus each trade's cash effect, holdings from net per-symbol units
// priced at the most recent close at or before asOf. Symbols with no
// cached price are listed rather than silently zeroed.
func (c *Calculator) Snapshot(ctx context.Context, accountID string, asOf time.Time) (Snapshot, error) {
	cash, err := c.store.ListCashActivity(ctx, accountID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot cash: %w", err)
	}
	trades, err := c.store.ListTrades(ctx, accountID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot trades: %w", err)
	}

	balance := decimal.Zero
	for i := range cash {
		if cash[i].PostedAt.After(asOf) {
			continue
		}
		balance = balance.Add(cash[i].SignedAmount())
	}

	units := make(map[string]decimal.Decimal)
	for i := range trades {
		t := &trades[i]
		if t.ExecutedAt.After(asOf) {
			continue
		}
		balance = balance.Add(t.SignedCash())
		sym := valuationSymbol(t)
		units[sym] = units[sym].Add(t.PositionUnitsDelta())
	}

	symbols := make([]string, 0, len(units))
	for sym := range units {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	snap := Snapshot{AsOf: asOf, Cash: balance, HoldingsValue: decimal.Zero}
	for _, sym := range symbols {
		qty := units[sym]
		if qty.Abs().LessThanOrEqual(decimal.New(1, -12)) {
			continue
		}
		pp, err := c.store.PriceAsOf(ctx, sym, asOf)
		if errors.Is(err, store.ErrNotFound) {
			snap.MissingSymbols = append(snap.MissingSymbols, sym)
			continue
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("snapshot price %s: %w", sym, err)
		}
		snap.HoldingsValue = snap.HoldingsValue.Add(qty.Mul(pp.Close))
		snap.PricedSymbols = append(snap.PricedSymbols, sym)
	}
	snap.Equity = snap.Cash.Add(snap.HoldingsValue)
	return snap, nil
}

// valuationSymbol picks the price-cache key a trade's units are valued
// at. Options use the raw contract symbol, so a contract is worth
// qty x multiplier x premium; only when no raw symbol exists do they
// fall back to the underlying's close.
func valuationSymbol(t *model.Trade) string {
	if t.Instrument == model.InstrumentOption {
		if t.OptionSymbolRaw != "" {
			return t.OptionSymbolRaw
		}
		if t.Underlying != "" {
			return t.Underlying
		}
	}
	return t.Symbol
}

// Inception returns the portfolio's start date: the first externally
// tagged deposit, else the earliest cash or trade activity, else the
// fallback.
func (c *Calculator) Inception(ctx context.Context, accountID string, fallback time.Time) (time.Time, error) {
	cash, err := c.store.ListCashActivity(ctx, accountID)
	if err != nil {
		return time.Time{}, err
	}
	for i := range cash {
		if cash[i].External && cash[i].Type == "DEPOSIT" {
			return cash[i].PostedAt, nil
		}
	}
	earliest := time.Time{}
	if len(cash) > 0 {
		earliest = cash[0].PostedAt
	}
	trades, err := c.store.ListTrades(ctx, accountID)
	if err != nil {
		return time.Time{}, err
	}
	if len(trades) > 0 && (earliest.IsZero() || trades[0].ExecutedAt.Before(earliest)) {
		earliest = trades[0].ExecutedAt
	}
	if earliest.IsZero() {
		return fallback, nil
	}
	return earliest, nil
}

// EndDate is the latest data date across cash, trades, and the price
// cache, falling back to now when the store is empty.
func (c *Calculator) EndDate(ctx context.Context, accountID string) (time.Time, error) {
	var latest time.Time
	cash, err := c.store.ListCashActivity(ctx, accountID)
	if err != nil {
		return time.Time{}, err
	}
	if len(cash) > 0 {
		latest = cash[len(cash)-1].PostedAt
	}
	trades, err := c.store.ListTrades(ctx, accountID)
	if err != nil {
		return time.Time{}, err
	}
	if len(trades) > 0 && trades[len(trades)-1].ExecutedAt.After(latest) {
		latest = trades[len(trades)-1].ExecutedAt
	}
	if pd, err := c.store.LatestPriceDate(ctx); err == nil && pd.After(latest) {
		latest = pd
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return time.Time{}, err
	}
	if latest.IsZero() {
		latest = time.Now().UTC()
	}
	return latest, nil
}

// ResolveWindow turns a label into a date range ending at end, clamped
// so the start never precedes inception.
func ResolveWindow(label string, end, inception time.Time) (Window, error) {
	var start time.Time
	switch label {
	case "inception":
		start = inception
	case "1Y":
		start = end.AddDate(-1, 0, 0)
	case "6M":
		start = end.AddDate(0, -6, 0)
	case "3M":
		start = end.AddDate(0, -3, 0)
	case "1M":
		start = end.AddDate(0, -1, 0)
	case "5D":
		start = end.AddDate(0, 0, -5)
	default:
		return Window{}, fmt.Errorf("%w: %q", ErrUnknownWindow, label)
	}
	if start.Before(inception) {
		start = inception
	}
	days := int(end.Sub(start).Hours() / 24)
	if days < 1 {
		days = 1
	}
	return Window{Label: label, Start: start, End: end, Days: days}, nil
}

// Compute produces one window's money-weighted return and benchmark
// comparison.
func (c *Calculator) Compute(ctx context.Context, accountID, label string) (Metrics, error) {
	end, err := c.EndDate(ctx, accountID)
	if err != nil {
		return Metrics{}, err
	}
	inception, err := c.Inception(ctx, accountID, end)
	if err != nil {
		return Metrics{}, err
	}
	win, err := ResolveWindow(label, end, inception)
	if err != nil {
		return Metrics{}, err
	}

	startSnap, err := c.Snapshot(ctx, accountID, win.Start)
	if err != nil {
		return Metrics{}, err
	}
	endSnap, err := c.Snapshot(ctx, accountID, win.End)
	if err != nil {
		return Metrics{}, err
	}

	m := Metrics{
		Window:      win,
		StartEquity: startSnap.Equity,
		EndEquity:   endSnap.Equity,
		Benchmarks:  make(map[string]*decimal.Decimal, len(BenchmarkSymbols)),
	}
	m.MissingPrices = append(m.MissingPrices, startSnap.MissingSymbols...)
	m.MissingPrices = append(m.MissingPrices, endSnap.MissingSymbols...)

	flows, net, err := c.externalFlows(ctx, accountID, win)
	if err != nil {
		return Metrics{}, err
	}
	m.NetExternalFlows = net

	schedule := make([]xirr.CashFlow, 0, len(flows)+2)
	schedule = append(schedule, xirr.CashFlow{Date: win.Start.AddDate(0, 0, -1), Amount: startSnap.Equity.Neg()})
	schedule = append(schedule, flows...)
	schedule = append(schedule, xirr.CashFlow{Date: win.End, Amount: endSnap.Equity})

	if rate, ok := xirr.Solve(schedule); ok {
		pr := xirr.PeriodReturn(rate, win.Days)
		m.XIRR = &rate
		m.PeriodReturn = &pr
	}

	for _, sym := range BenchmarkSymbols {
		r, err := c.benchmarkReturn(ctx, sym, win)
		if err != nil {
			return Metrics{}, err
		}
		m.Benchmarks[sym] = r
		if r == nil {
			m.MissingBenchmarks = append(m.MissingBenchmarks, sym)
		}
	}
	return m, nil
}

// ComputeAll evaluates every window label.
func (c *Calculator) ComputeAll(ctx context.Context, accountID string) (map[string]Metrics, error) {
	out := make(map[string]Metrics, len(WindowLabels))
	for _, label := range WindowLabels {
		m, err := c.Compute(ctx, accountID, label)
		if err != nil {
			return nil, err
		}
		out[label] = m
	}
	return out, nil
}

// externalFlows aggregates external investor flows inside (start, end]
// per calendar day, with the sign negated relative to the portfolio's
// own convention: a deposit is cash leaving the investor. Returns the
// dated flows and the portfolio-signed net.
func (c *Calculator) externalFlows(ctx context.Context, accountID string, win Window) ([]xirr.CashFlow, decimal.Decimal, error) {
	rows, err := c.store.ListCashActivity(ctx, accountID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	byDay := make(map[string]decimal.Decimal)
	net := decimal.Zero
	for i := range rows {
		r := &rows[i]
		if !r.External || !r.PostedAt.After(win.Start) || r.PostedAt.After(win.End) {
			continue
		}
		day := r.PostedAt.Format("2006-01-02")
		byDay[day] = byDay[day].Add(r.SignedAmount().Neg())
		net = net.Add(r.SignedAmount())
	}
	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)
	flows := make([]xirr.CashFlow, 0, len(days))
	for _, day := range days {
		amt := byDay[day]
		if amt.Abs().LessThanOrEqual(decimal.New(1, -9)) {
			continue
		}
		d, _ := time.Parse("2006-01-02", day)
		flows = append(flows, xirr.CashFlow{Date: d, Amount: amt})
	}
	return flows, net, nil
}

// benchmarkReturn computes a proxy's close-to-close total return over
// the window, nil when either endpoint price is missing or the start
// price is non-positive.
func (c *Calculator) benchmarkReturn(ctx context.Context, symbol string, win Window) (*decimal.Decimal, error) {
	startDay := win.Start
	endOfStartDay := time.Date(startDay.Year(), startDay.Month(), startDay.Day(), 23, 59, 59, 0, time.UTC)
	startOfStartDay := time.Date(startDay.Year(), startDay.Month(), startDay.Day(), 0, 0, 0, 0, time.UTC)

	startPrice, err := c.store.PriceAsOf(ctx, symbol, endOfStartDay)
	if errors.Is(err, store.ErrNotFound) {
		startPrice, err = c.store.FirstPriceOnOrAfter(ctx, symbol, startOfStartDay, win.End)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	endDay := win.End
	endOfEndDay := time.Date(endDay.Year(), endDay.Month(), endDay.Day(), 23, 59, 59, 0, time.UTC)
	endPrice, err := c.store.PriceAsOf(ctx, symbol, endOfEndDay)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if !startPrice.Close.IsPositive() {
		return nil, nil
	}
	r := endPrice.Close.Sub(startPrice.Close).Div(startPrice.Close)
	return &r, nil
}
