package returns

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/folioworks/basis-engine/internal/model"
	"github.com/folioworks/basis-engine/internal/store"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func on(y, m, day int) time.Time {
	return time.Date(y, time.Month(m), day, 0, 0, 0, 0, time.UTC)
}

// seedYearUp populates one account that deposits 1000, buys 10 shares at
// 100, and ends the year with the stock at 110.
func seedYearUp(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()

	deposit := model.CashActivity{
		ID: "c1", Seq: 1, AccountID: "acct-1", AccountType: model.AccountTaxable,
		PostedAt: on(2024, 1, 1), Type: "DEPOSIT", Amount: d(1000), External: true,
	}
	if err := s.SaveCashActivity(ctx, []model.CashActivity{deposit}); err != nil {
		t.Fatal(err)
	}
	buy := model.Trade{
		ID: "t1", Seq: 1, AccountID: "acct-1", AccountType: model.AccountTaxable,
		ExecutedAt: on(2024, 1, 1), Instrument: model.InstrumentStock, Symbol: "ABC",
		Side: model.SideBuy, Quantity: d(10), Price: d(100), Fees: decimal.Zero,
	}
	if err := s.SaveTrades(ctx, []model.Trade{buy}); err != nil {
		t.Fatal(err)
	}
	points := []model.PricePoint{
		{Symbol: "ABC", AsOf: on(2024, 1, 1), Interval: "1d", Close: d(100)},
		{Symbol: "ABC", AsOf: on(2025, 1, 1), Interval: "1d", Close: d(110)},
		{Symbol: "SPY", AsOf: on(2024, 1, 1), Interval: "1d", Close: d(470)},
		{Symbol: "SPY", AsOf: on(2025, 1, 1), Interval: "1d", Close: d(517)},
	}
	if err := s.SavePrices(ctx, points); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSnapshot_CashAndHoldings(t *testing.T) {
	s := seedYearUp(t)
	c := NewCalculator(s)

	snap, err := c.Snapshot(context.Background(), "", on(2025, 1, 1))
	if err != nil {
		t.Fatal(err)
	}
	// 1000 deposited, 1000 spent on the buy.
	if !snap.Cash.IsZero() {
		t.Errorf("cash = %s, want 0", snap.Cash)
	}
	if !snap.HoldingsValue.Equal(d(1100)) {
		t.Errorf("holdings = %s, want 1100", snap.HoldingsValue)
	}
	if !snap.Equity.Equal(d(1100)) {
		t.Errorf("equity = %s, want 1100", snap.Equity)
	}
	if len(snap.MissingSymbols) != 0 {
		t.Errorf("missing symbols = %v", snap.MissingSymbols)
	}
}

func TestSnapshot_MissingPriceListedNotZeroed(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	buy := model.Trade{
		ID: "t1", Seq: 1, AccountID: "acct-1", ExecutedAt: on(2024, 1, 1),
		Instrument: model.InstrumentStock, Symbol: "NOPRICE",
		Side: model.SideBuy, Quantity: d(5), Price: d(10),
	}
	if err := s.SaveTrades(ctx, []model.Trade{buy}); err != nil {
		t.Fatal(err)
	}

	snap, err := NewCalculator(s).Snapshot(ctx, "", on(2024, 6, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.MissingSymbols) != 1 || snap.MissingSymbols[0] != "NOPRICE" {
		t.Fatalf("missing = %v, want [NOPRICE]", snap.MissingSymbols)
	}
}

func TestSnapshot_OptionValuedAtContractPremium(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	bto := model.Trade{
		ID: "t1", Seq: 1, AccountID: "acct-1", ExecutedAt: on(2024, 1, 2),
		Instrument: model.InstrumentOption, Symbol: "TSLA", Underlying: "TSLA",
		OptionSymbolRaw: "TSLA250620C00200000",
		Side:            model.SideBTO, Quantity: d(1), Price: d(1.8),
	}
	if err := s.SaveTrades(ctx, []model.Trade{bto}); err != nil {
		t.Fatal(err)
	}
	points := []model.PricePoint{
		{Symbol: "TSLA250620C00200000", AsOf: on(2024, 2, 1), Interval: "1d", Close: d(2)},
		{Symbol: "TSLA", AsOf: on(2024, 2, 1), Interval: "1d", Close: d(200)},
	}
	if err := s.SavePrices(ctx, points); err != nil {
		t.Fatal(err)
	}

	snap, err := NewCalculator(s).Snapshot(ctx, "", on(2024, 2, 1))
	if err != nil {
		t.Fatal(err)
	}
	// One contract at a $2 premium is worth 200, not the 20000 notional
	// of the underlying.
	if !snap.HoldingsValue.Equal(d(200)) {
		t.Errorf("holdings = %s, want 200", snap.HoldingsValue)
	}
}

func TestSnapshot_OptionWithoutRawSymbolFallsBackToUnderlying(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	bto := model.Trade{
		ID: "t1", Seq: 1, AccountID: "acct-1", ExecutedAt: on(2024, 1, 2),
		Instrument: model.InstrumentOption, Symbol: "TSLA", Underlying: "TSLA",
		Side: model.SideBTO, Quantity: d(1), Price: d(1.8),
	}
	if err := s.SaveTrades(ctx, []model.Trade{bto}); err != nil {
		t.Fatal(err)
	}
	points := []model.PricePoint{
		{Symbol: "TSLA", AsOf: on(2024, 2, 1), Interval: "1d", Close: d(200)},
	}
	if err := s.SavePrices(ctx, points); err != nil {
		t.Fatal(err)
	}

	snap, err := NewCalculator(s).Snapshot(ctx, "", on(2024, 2, 1))
	if err != nil {
		t.Fatal(err)
	}
	if !snap.HoldingsValue.Equal(d(20000)) {
		t.Errorf("holdings = %s, want 20000 (underlying notional fallback)", snap.HoldingsValue)
	}
}

func TestCompute_InceptionWindowTenPercent(t *testing.T) {
	c := NewCalculator(seedYearUp(t))

	m, err := c.Compute(context.Background(), "", "inception")
	if err != nil {
		t.Fatal(err)
	}
	if m.XIRR == nil || m.PeriodReturn == nil {
		t.Fatal("rate unavailable")
	}
	got, _ := m.PeriodReturn.Float64()
	if math.Abs(got-0.10) > 0.005 {
		t.Errorf("period return = %v, want ~0.10", got)
	}
	if !m.StartEquity.Equal(d(1000)) || !m.EndEquity.Equal(d(1100)) {
		t.Errorf("equity %s -> %s, want 1000 -> 1100", m.StartEquity, m.EndEquity)
	}
}

func TestCompute_MissingBenchmarksListedNotZeroed(t *testing.T) {
	c := NewCalculator(seedYearUp(t))

	m, err := c.Compute(context.Background(), "", "inception")
	if err != nil {
		t.Fatal(err)
	}
	if m.Benchmarks["SPY"] == nil {
		t.Error("SPY return unavailable despite cached endpoints")
	} else {
		got, _ := m.Benchmarks["SPY"].Float64()
		if math.Abs(got-0.10) > 1e-9 {
			t.Errorf("SPY return = %v, want 0.10", got)
		}
	}
	for _, sym := range []string{"DIA", "QQQ"} {
		if m.Benchmarks[sym] != nil {
			t.Errorf("%s return = %s, want unavailable", sym, m.Benchmarks[sym])
		}
	}
	if len(m.MissingBenchmarks) != 2 {
		t.Errorf("missing benchmarks = %v, want [DIA QQQ]", m.MissingBenchmarks)
	}
}

func TestResolveWindow_ClampsToInception(t *testing.T) {
	end := on(2025, 1, 1)
	inception := on(2024, 10, 1)
	win, err := ResolveWindow("1Y", end, inception)
	if err != nil {
		t.Fatal(err)
	}
	if !win.Start.Equal(inception) {
		t.Errorf("start = %s, want clamped to inception %s", win.Start, inception)
	}
}

func TestResolveWindow_UnknownLabel(t *testing.T) {
	if _, err := ResolveWindow("2W", on(2025, 1, 1), on(2024, 1, 1)); err == nil {
		t.Fatal("expected error for unknown label")
	}
}

func TestComputeAll_CoversEveryLabel(t *testing.T) {
	c := NewCalculator(seedYearUp(t))
	all, err := c.ComputeAll(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	for _, label := range WindowLabels {
		if _, ok := all[label]; !ok {
			t.Errorf("missing window %q", label)
		}
	}
}

func TestContributions_Rollup(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	rows := []model.CashActivity{
		{ID: "c1", Seq: 1, AccountID: "a1", PostedAt: on(2024, 1, 5), Type: "DEPOSIT", Amount: d(1000), External: true},
		{ID: "c2", Seq: 2, AccountID: "a1", PostedAt: on(2024, 2, 5), Type: "WITHDRAWAL", Amount: d(200), External: true},
		{ID: "c3", Seq: 3, AccountID: "a2", PostedAt: on(2024, 2, 6), Type: "DEPOSIT", Amount: d(500), External: true},
		{ID: "c4", Seq: 4, AccountID: "a1", PostedAt: on(2024, 3, 1), Type: "DEPOSIT", Amount: d(50), External: false}, // internal transfer leg
	}
	if err := s.SaveCashActivity(ctx, rows); err != nil {
		t.Fatal(err)
	}

	rep, err := NewCalculator(s).Contributions(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Total.Equal(d(1300)) {
		t.Errorf("total = %s, want 1300", rep.Total)
	}
	if rep.FlowCount != 3 {
		t.Errorf("flow count = %d, want 3 (internal leg excluded)", rep.FlowCount)
	}
	if len(rep.ByMonth) != 2 || rep.ByMonth[0].Month != "2024-01" {
		t.Errorf("by month = %+v", rep.ByMonth)
	}
	if len(rep.ByAccount) != 2 || !rep.ByAccount[1].Net.Equal(d(500)) {
		t.Errorf("by account = %+v", rep.ByAccount)
	}
}

func TestConcentration_FlagsOutsizedSymbol(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	err := s.ReplaceDerived(ctx, "", nil, []model.OpenPosition{
		{AccountID: "a1", Symbol: "TSLA", MarketValue: d(8000)},
		{AccountID: "a1", Symbol: "SPY", MarketValue: d(2000)},
	})
	if err != nil {
		t.Fatal(err)
	}

	warnings, err := NewCalculator(s).Concentration(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 1 || warnings[0].Symbol != "TSLA" {
		t.Fatalf("warnings = %+v, want one for TSLA", warnings)
	}
	if !warnings[0].Weight.Equal(d(0.8)) {
		t.Errorf("weight = %s, want 0.8", warnings[0].Weight)
	}
}
