package model

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestEffectiveMultiplier(t *testing.T) {
	cases := []struct {
		name string
		inst InstrumentType
		mult int64
		want int64
	}{
		{"stock always one", InstrumentStock, 100, 1},
		{"option unset defaults", InstrumentOption, 0, 100},
		{"option negative defaults", InstrumentOption, -1, 100},
		{"option explicit one kept", InstrumentOption, 1, 1},
		{"option explicit kept", InstrumentOption, 10, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := Trade{Instrument: tc.inst, Multiplier: tc.mult}
			if got := tr.EffectiveMultiplier(); got != tc.want {
				t.Errorf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestSignedCash_BrokerNetWins(t *testing.T) {
	tr := Trade{
		Instrument: InstrumentStock,
		Side:       SideBuy,
		Quantity:   d(10),
		Price:      d(100),
		Fees:       d(1),
		NetAmount:  decimal.NullDecimal{Decimal: d(-999.5), Valid: true},
	}
	if got := tr.SignedCash(); !got.Equal(d(-999.5)) {
		t.Errorf("got %s, want the broker's pre-signed -999.5", got)
	}
}

func TestSignedCash_DerivedFromLegs(t *testing.T) {
	buy := Trade{Instrument: InstrumentStock, Side: SideBuy, Quantity: d(10), Price: d(100), Fees: d(1)}
	if got := buy.SignedCash(); !got.Equal(d(-1001)) {
		t.Errorf("buy = %s, want -1001", got)
	}
	sto := Trade{Instrument: InstrumentOption, Side: SideSTO, Quantity: d(2), Price: d(1.5), Fees: d(2)}
	if got := sto.SignedCash(); !got.Equal(d(298)) {
		t.Errorf("sto = %s, want 298 (2 contracts x 100 x 1.50 less fees)", got)
	}
}

func TestPositionUnitsDelta(t *testing.T) {
	bto := Trade{Instrument: InstrumentOption, Side: SideBTO, Quantity: d(3)}
	if got := bto.PositionUnitsDelta(); !got.Equal(d(300)) {
		t.Errorf("bto delta = %s, want 300", got)
	}
	sell := Trade{Instrument: InstrumentStock, Side: SideSell, Quantity: d(25)}
	if got := sell.PositionUnitsDelta(); !got.Equal(d(-25)) {
		t.Errorf("sell delta = %s, want -25", got)
	}
}

func TestAccountType_TaxAdvantaged(t *testing.T) {
	if AccountTaxable.TaxAdvantaged() {
		t.Error("taxable flagged as tax-advantaged")
	}
	if !AccountTradIRA.TaxAdvantaged() || !AccountRothIRA.TaxAdvantaged() {
		t.Error("IRA types must be tax-advantaged")
	}
}
