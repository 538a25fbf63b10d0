package contract

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/folioworks/basis-engine/internal/model"
)

func nd(f float64) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.NewFromFloat(f), Valid: true}
}

func optTrade() model.Trade {
	return model.Trade{Instrument: model.InstrumentOption, Symbol: "TSLA"}
}

func TestResolve_StockUsesPlainSymbol(t *testing.T) {
	tr := model.Trade{Instrument: model.InstrumentStock, Symbol: " aapl "}
	sym, key := Resolve(&tr)
	if sym != "AAPL" || key != "" {
		t.Fatalf("got (%q, %q), want (AAPL, \"\")", sym, key)
	}
}

func TestResolve_StructuredFieldsWin(t *testing.T) {
	tr := optTrade()
	tr.Underlying = "TSLA"
	tr.Expiration = "2025-06-20"
	tr.Strike = nd(200)
	tr.CallPut = "CALL"
	tr.OptionSymbolRaw = "TSLA250620C00200000"

	sym, key := Resolve(&tr)
	if sym != "TSLA" {
		t.Errorf("symbol = %q, want TSLA", sym)
	}
	if key != "TSLA|2025-06-20|200|C" {
		t.Errorf("key = %q, want TSLA|2025-06-20|200|C", key)
	}
}

func TestResolve_StructuredInconsistentWithRawFallsThrough(t *testing.T) {
	tr := optTrade()
	tr.Underlying = "MSFT"
	tr.Expiration = "2025-06-20"
	tr.Strike = nd(200)
	tr.CallPut = "C"
	tr.OptionSymbolRaw = "TSLA250620C00200000"

	// The raw prefix contradicts the structured underlying, and the raw
	// parse disagrees with the structured underlying too, so the raw
	// string is used verbatim.
	_, key := Resolve(&tr)
	if key != "TSLA250620C00200000" {
		t.Errorf("key = %q, want raw verbatim", key)
	}
}

func TestResolve_OCCCompactParse(t *testing.T) {
	tr := optTrade()
	tr.OptionSymbolRaw = "TSLA250620C00200000"

	sym, key := Resolve(&tr)
	if sym != "TSLA" || key != "TSLA|2025-06-20|200|C" {
		t.Fatalf("got (%q, %q)", sym, key)
	}
}

func TestResolve_OCCFractionalStrike(t *testing.T) {
	tr := optTrade()
	tr.OptionSymbolRaw = "F240119P00012500"

	sym, key := Resolve(&tr)
	if sym != "F" || key != "F|2024-01-19|12.5|P" {
		t.Fatalf("got (%q, %q)", sym, key)
	}
}

func TestResolve_FreeFormParse(t *testing.T) {
	tr := optTrade()
	tr.OptionSymbolRaw = "SPY 2025-03-21 480 PUT"

	sym, key := Resolve(&tr)
	if sym != "SPY" || key != "SPY|2025-03-21|480|P" {
		t.Fatalf("got (%q, %q)", sym, key)
	}
}

func TestResolve_UnparseableRawUsedVerbatim(t *testing.T) {
	tr := optTrade()
	tr.Underlying = "NVDA"
	tr.OptionSymbolRaw = "nvda jun20 weird"

	sym, key := Resolve(&tr)
	if sym != "NVDA" {
		t.Errorf("symbol = %q, want NVDA", sym)
	}
	if key != "NVDA JUN20 WEIRD" {
		t.Errorf("key = %q, want uppercased raw", key)
	}
}

func TestResolve_SyntheticFromPartialFields(t *testing.T) {
	tr := optTrade()
	tr.Underlying = "AMD"
	tr.Strike = nd(150)

	sym, key := Resolve(&tr)
	if sym != "AMD" || key != "AMD|150" {
		t.Fatalf("got (%q, %q), want (AMD, AMD|150)", sym, key)
	}
}

func TestResolve_SyntheticIsDeterministic(t *testing.T) {
	a := optTrade()
	a.Underlying = "AMD"
	a.Expiration = "20250620"
	b := optTrade()
	b.Underlying = "AMD"
	b.Expiration = "2025-06-20"

	_, ka := Resolve(&a)
	_, kb := Resolve(&b)
	if ka != kb {
		t.Fatalf("same contract produced different keys: %q vs %q", ka, kb)
	}
}
