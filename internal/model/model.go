// Package model defines the core domain types shared across the basis
// engine. All monetary values and quantities use shopspring/decimal —
// never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType classifies an account for tax purposes. Tax-advantaged
// accounts are excluded from loss-sale scanning but still count as
// replacement-buy sources under the IRS wash-sale rule.
type AccountType string

const (
	AccountTaxable AccountType = "TAXABLE"
	AccountTradIRA AccountType = "TRAD_IRA"
	AccountRothIRA AccountType = "ROTH_IRA"
)

// TaxAdvantaged reports whether the account type shelters gains from
// current-year taxation.
func (a AccountType) TaxAdvantaged() bool {
	return a == AccountTradIRA || a == AccountRothIRA
}

// InstrumentType distinguishes stock trades from option trades.
type InstrumentType string

const (
	InstrumentStock  InstrumentType = "STOCK"
	InstrumentOption InstrumentType = "OPTION"
)

// TradeSide enumerates the supported trade directions. BUY/SELL are
// auto-direction (close opposing inventory first, open the remainder);
// BTO/STO always open; BTC/STC always close.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
	SideBTO  TradeSide = "BTO"
	SideSTO  TradeSide = "STO"
	SideBTC  TradeSide = "BTC"
	SideSTC  TradeSide = "STC"
)

// LotDirection marks whether inventory is long or short.
type LotDirection string

const (
	DirLong  LotDirection = "LONG"
	DirShort LotDirection = "SHORT"
)

// Account identifies one brokerage account.
type Account struct {
	ID     string      `json:"id" db:"id"`
	Label  string      `json:"label" db:"label"`
	Broker string      `json:"broker" db:"broker"`
	Type   AccountType `json:"type" db:"account_type"`
}

// Trade is an immutable normalized trade record. Replay order is
// (ExecutedAt, Seq); Seq is the stable row id assigned at import time.
type Trade struct {
	ID          string              `json:"id" db:"id"`
	Seq         int64               `json:"seq" db:"seq"`
	Broker      string              `json:"broker" db:"broker"`
	AccountID   string              `json:"account_id" db:"account_id"`
	AccountType AccountType         `json:"account_type" db:"account_type"`
	ExecutedAt  time.Time           `json:"executed_at" db:"executed_at"`
	Instrument  InstrumentType      `json:"instrument_type" db:"instrument_type"`
	Symbol      string              `json:"symbol" db:"symbol"`
	Side        TradeSide           `json:"side" db:"side"`
	Quantity    decimal.Decimal     `json:"quantity" db:"quantity"` // unsigned
	Price       decimal.Decimal     `json:"price" db:"price"`
	Fees        decimal.Decimal     `json:"fees" db:"fees"`
	NetAmount   decimal.NullDecimal `json:"net_amount" db:"net_amount"` // broker pre-signed net cash
	Currency    string              `json:"currency" db:"currency"`

	// Option identity fields; zero values for stock trades.
	OptionSymbolRaw string              `json:"option_symbol_raw" db:"option_symbol_raw"`
	Underlying      string              `json:"underlying" db:"underlying"`
	Expiration      string              `json:"expiration" db:"expiration"`
	Strike          decimal.NullDecimal `json:"strike" db:"strike"`
	CallPut         string              `json:"call_put" db:"call_put"` // "C" or "P"
	Multiplier      int64               `json:"multiplier" db:"multiplier"`
}

// EffectiveMultiplier normalizes the contract multiplier: stocks are
// always 1; options default to 100 when the import left the field unset
// (non-positive). An explicit 1x contract is kept as is.
func (t *Trade) EffectiveMultiplier() int64 {
	if t.Instrument != InstrumentOption {
		return 1
	}
	if t.Multiplier <= 0 {
		return 100
	}
	return t.Multiplier
}

// SignedCash returns the trade's cash effect on the account: positive
// for cash in (sells), negative for cash out (buys). The broker's
// pre-signed net amount wins when present.
func (t *Trade) SignedCash() decimal.Decimal {
	if t.NetAmount.Valid {
		return t.NetAmount.Decimal
	}
	mult := decimal.NewFromInt(t.EffectiveMultiplier())
	gross := t.Quantity.Abs().Mul(t.Price).Mul(mult)
	switch t.Side {
	case SideSell, SideSTO, SideSTC:
		return gross.Sub(t.Fees)
	default: // BUY, BTO, BTC
		return gross.Add(t.Fees).Neg()
	}
}

// PositionUnitsDelta returns the signed change in underlying units:
// buys positive, sells negative, scaled by the option multiplier.
func (t *Trade) PositionUnitsDelta() decimal.Decimal {
	qty := t.Quantity.Abs()
	if qty.IsZero() {
		return decimal.Zero
	}
	mult := decimal.NewFromInt(t.EffectiveMultiplier())
	units := qty.Mul(mult)
	switch t.Side {
	case SideBuy, SideBTO, SideBTC:
		return units
	case SideSell, SideSTO, SideSTC:
		return units.Neg()
	}
	return decimal.Zero
}

// CashActivity is a deposit, withdrawal, or internal transfer leg.
// External rows (investor money crossing the portfolio boundary) drive
// inception dating and the XIRR flow schedule.
type CashActivity struct {
	ID          string          `json:"id" db:"id"`
	Seq         int64           `json:"seq" db:"seq"`
	Broker      string          `json:"broker" db:"broker"`
	AccountID   string          `json:"account_id" db:"account_id"`
	AccountType AccountType     `json:"account_type" db:"account_type"`
	PostedAt    time.Time       `json:"posted_at" db:"posted_at"`
	Type        string          `json:"type" db:"activity_type"` // DEPOSIT or WITHDRAWAL
	Amount      decimal.Decimal `json:"amount" db:"amount"`      // unsigned
	Description string          `json:"description" db:"description"`
	Source      string          `json:"source" db:"source"`
	External    bool            `json:"is_external" db:"is_external"`
}

// SignedAmount returns the portfolio-signed amount: deposits positive,
// everything else negative.
func (c *CashActivity) SignedAmount() decimal.Decimal {
	if c.Type == "DEPOSIT" {
		return c.Amount
	}
	return c.Amount.Neg()
}

// RealizedClose is one FIFO-matched closing chunk. Immutable once a
// recompute produces it; the wash-sale layer stamps the disallowed
// columns afterwards as part of the same replacement batch.
type RealizedClose struct {
	ID           string          `json:"id" db:"id"`
	AccountID    string          `json:"account_id" db:"account_id"`
	AccountType  AccountType     `json:"account_type" db:"account_type"`
	Symbol       string          `json:"symbol" db:"symbol"`             // pooling symbol (underlying for options)
	ContractKey  string          `json:"contract_key" db:"contract_key"` // canonical option identity, "" for stock
	Instrument   InstrumentType  `json:"instrument_type" db:"instrument_type"`
	Multiplier   int64           `json:"multiplier" db:"multiplier"`
	OpenedAt     time.Time       `json:"opened_at" db:"opened_at"`
	ClosedAt     time.Time       `json:"closed_at" db:"closed_at"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`
	Proceeds     decimal.Decimal `json:"proceeds" db:"proceeds"`
	CostBasis    decimal.Decimal `json:"cost_basis" db:"cost_basis"`
	Fees         decimal.Decimal `json:"fees" db:"fees"`
	PnL          decimal.Decimal `json:"pnl" db:"pnl"`
	HoldingDays  int             `json:"holding_days" db:"holding_days"`
	Notes        string          `json:"notes" db:"notes"`
	OpenTradeID  string          `json:"open_trade_id" db:"open_trade_id"`
	CloseTradeID string          `json:"close_trade_id" db:"close_trade_id"`

	// Stamped by the wash-sale / tax-year layer.
	Term             string          `json:"term" db:"term"` // SHORT or LONG
	WashSale         bool            `json:"is_wash_sale" db:"is_wash_sale"`
	BrokerDisallowed decimal.Decimal `json:"broker_disallowed" db:"broker_disallowed"`
	IRSDisallowed    decimal.Decimal `json:"irs_disallowed" db:"irs_disallowed"`
}

// OpenPosition is one pooling key with nonzero net quantity after a
// recompute. Quantity is signed (negative = net short).
type OpenPosition struct {
	AccountID     string          `json:"account_id" db:"account_id"`
	AccountType   AccountType     `json:"account_type" db:"account_type"`
	Symbol        string          `json:"symbol" db:"symbol"`
	ContractKey   string          `json:"contract_key" db:"contract_key"`
	Instrument    InstrumentType  `json:"instrument_type" db:"instrument_type"`
	Multiplier    int64           `json:"multiplier" db:"multiplier"`
	Quantity      decimal.Decimal `json:"quantity" db:"quantity"`
	AverageCost   decimal.Decimal `json:"average_cost" db:"average_cost"`
	MarkPrice     decimal.Decimal `json:"mark_price" db:"mark_price"`
	MarketValue   decimal.Decimal `json:"market_value" db:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl" db:"unrealized_pnl"`
	PriceMissing  bool            `json:"price_missing" db:"price_missing"`
	AsOf          time.Time       `json:"as_of" db:"as_of"`
}

// PricePoint is one cached close. The engine only reads these; fetching
// and writing prices happens upstream.
type PricePoint struct {
	Symbol   string          `json:"symbol" db:"symbol"`
	AsOf     time.Time       `json:"as_of" db:"as_of"`
	Interval string          `json:"interval" db:"interval"`
	Close    decimal.Decimal `json:"close" db:"close"`
}
