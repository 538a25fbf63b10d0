package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/folioworks/basis-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of
// truth. All monetary values are stored as NUMERIC for exact decimal
// precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, label, broker, account_type FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.ID, &a.Label, &a.Broker, &a.Type); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (model.Account, error) {
	var a model.Account
	err := s.pool.QueryRow(ctx,
		`SELECT id, label, broker, account_type FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.Label, &a.Broker, &a.Type)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("get account %s: %w", id, err)
	}
	return a, nil
}

func (s *PostgresStore) SaveAccount(ctx context.Context, a model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, label, broker, account_type)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET label = $2, broker = $3, account_type = $4`,
		a.ID, a.Label, a.Broker, a.Type,
	)
	return err
}

const tradeColumns = `id, seq, broker, account_id, account_type, executed_at,
	        instrument_type, symbol, side,
	        quantity::TEXT, price::TEXT, fees::TEXT, net_amount::TEXT,
	        currency, option_symbol_raw, underlying, expiration,
	        strike::TEXT, call_put, multiplier`

func (s *PostgresStore) ListTrades(ctx context.Context, accountID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+`
		 FROM trades
		 WHERE $1 = '' OR account_id = $1
		 ORDER BY executed_at, seq`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var qtyS, priceS, feesS string
		var netS, strikeS *string
		if err := rows.Scan(&t.ID, &t.Seq, &t.Broker, &t.AccountID, &t.AccountType, &t.ExecutedAt,
			&t.Instrument, &t.Symbol, &t.Side,
			&qtyS, &priceS, &feesS, &netS,
			&t.Currency, &t.OptionSymbolRaw, &t.Underlying, &t.Expiration,
			&strikeS, &t.CallPut, &t.Multiplier); err != nil {
			return nil, err
		}
		t.Quantity, _ = decimal.NewFromString(qtyS)
		t.Price, _ = decimal.NewFromString(priceS)
		t.Fees, _ = decimal.NewFromString(feesS)
		t.NetAmount = nullDecimal(netS)
		t.Strike = nullDecimal(strikeS)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) SaveTrades(ctx context.Context, trades []model.Trade) error {
	for i := range trades {
		t := &trades[i]
		_, err := s.pool.Exec(ctx,
			`INSERT INTO trades (id, seq, broker, account_id, account_type, executed_at,
			                     instrument_type, symbol, side,
			                     quantity, price, fees, net_amount,
			                     currency, option_symbol_raw, underlying, expiration,
			                     strike, call_put, multiplier)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
			         $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13::NUMERIC,
			         $14, $15, $16, $17, $18::NUMERIC, $19, $20)`,
			t.ID, t.Seq, t.Broker, t.AccountID, t.AccountType, t.ExecutedAt,
			t.Instrument, t.Symbol, t.Side,
			t.Quantity.String(), t.Price.String(), t.Fees.String(), nullString(t.NetAmount),
			t.Currency, t.OptionSymbolRaw, t.Underlying, t.Expiration,
			nullString(t.Strike), t.CallPut, t.Multiplier,
		)
		if err != nil {
			return fmt.Errorf("insert trade %s: %w", t.ID, err)
		}
	}
	return nil
}

func (s *PostgresStore) ListCashActivity(ctx context.Context, accountID string) ([]model.CashActivity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, seq, broker, account_id, account_type, posted_at,
		        activity_type, amount::TEXT, description, source, is_external
		 FROM cash_activity
		 WHERE $1 = '' OR account_id = $1
		 ORDER BY posted_at, seq`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CashActivity
	for rows.Next() {
		var c model.CashActivity
		var amountS string
		if err := rows.Scan(&c.ID, &c.Seq, &c.Broker, &c.AccountID, &c.AccountType, &c.PostedAt,
			&c.Type, &amountS, &c.Description, &c.Source, &c.External); err != nil {
			return nil, err
		}
		c.Amount, _ = decimal.NewFromString(amountS)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveCashActivity(ctx context.Context, rows []model.CashActivity) error {
	for i := range rows {
		c := &rows[i]
		_, err := s.pool.Exec(ctx,
			`INSERT INTO cash_activity (id, seq, broker, account_id, account_type, posted_at,
			                            activity_type, amount, description, source, is_external)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9, $10, $11)`,
			c.ID, c.Seq, c.Broker, c.AccountID, c.AccountType, c.PostedAt,
			c.Type, c.Amount.String(), c.Description, c.Source, c.External,
		)
		if err != nil {
			return fmt.Errorf("insert cash activity %s: %w", c.ID, err)
		}
	}
	return nil
}

func (s *PostgresStore) PriceAsOf(ctx context.Context, symbol string, asOf time.Time) (model.PricePoint, error) {
	var p model.PricePoint
	var closeS string
	err := s.pool.QueryRow(ctx,
		`SELECT symbol, as_of, interval, close::TEXT
		 FROM prices
		 WHERE symbol = $1 AND as_of <= $2
		 ORDER BY as_of DESC
		 LIMIT 1`, symbol, asOf).
		Scan(&p.Symbol, &p.AsOf, &p.Interval, &closeS)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PricePoint{}, ErrNotFound
	}
	if err != nil {
		return model.PricePoint{}, fmt.Errorf("price as of %s %s: %w", symbol, asOf, err)
	}
	p.Close, _ = decimal.NewFromString(closeS)
	return p, nil
}

func (s *PostgresStore) FirstPriceOnOrAfter(ctx context.Context, symbol string, from, until time.Time) (model.PricePoint, error) {
	var p model.PricePoint
	var closeS string
	err := s.pool.QueryRow(ctx,
		`SELECT symbol, as_of, interval, close::TEXT
		 FROM prices
		 WHERE symbol = $1 AND as_of >= $2 AND as_of <= $3
		 ORDER BY as_of
		 LIMIT 1`, symbol, from, until).
		Scan(&p.Symbol, &p.AsOf, &p.Interval, &closeS)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PricePoint{}, ErrNotFound
	}
	if err != nil {
		return model.PricePoint{}, fmt.Errorf("first price on or after %s %s: %w", symbol, from, err)
	}
	p.Close, _ = decimal.NewFromString(closeS)
	return p, nil
}

func (s *PostgresStore) LatestPriceDate(ctx context.Context) (time.Time, error) {
	var asOf *time.Time
	if err := s.pool.QueryRow(ctx, `SELECT MAX(as_of) FROM prices`).Scan(&asOf); err != nil {
		return time.Time{}, err
	}
	if asOf == nil {
		return time.Time{}, ErrNotFound
	}
	return *asOf, nil
}

func (s *PostgresStore) SavePrices(ctx context.Context, points []model.PricePoint) error {
	for i := range points {
		p := &points[i]
		_, err := s.pool.Exec(ctx,
			`INSERT INTO prices (symbol, as_of, interval, close)
			 VALUES ($1, $2, $3, $4::NUMERIC)
			 ON CONFLICT (symbol, as_of, interval) DO UPDATE SET close = $4::NUMERIC`,
			p.Symbol, p.AsOf, p.Interval, p.Close.String(),
		)
		if err != nil {
			return fmt.Errorf("insert price %s %s: %w", p.Symbol, p.AsOf, err)
		}
	}
	return nil
}

// ReplaceDerived swaps the scope's derived rows inside one transaction,
// so readers never see a partially rebuilt scope.
func (s *PostgresStore) ReplaceDerived(ctx context.Context, accountID string, realized []model.RealizedClose, open []model.OpenPosition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM realized_closes WHERE $1 = '' OR account_id = $1`, accountID); err != nil {
		return fmt.Errorf("clear realized: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM open_positions WHERE $1 = '' OR account_id = $1`, accountID); err != nil {
		return fmt.Errorf("clear open positions: %w", err)
	}

	for i := range realized {
		r := &realized[i]
		_, err := tx.Exec(ctx,
			`INSERT INTO realized_closes (id, account_id, account_type, symbol, contract_key,
			                              instrument_type, multiplier, opened_at, closed_at,
			                              quantity, proceeds, cost_basis, fees, pnl,
			                              holding_days, notes, open_trade_id, close_trade_id,
			                              term, is_wash_sale, broker_disallowed, irs_disallowed)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
			         $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13::NUMERIC, $14::NUMERIC,
			         $15, $16, $17, $18, $19, $20, $21::NUMERIC, $22::NUMERIC)`,
			r.ID, r.AccountID, r.AccountType, r.Symbol, r.ContractKey,
			r.Instrument, r.Multiplier, r.OpenedAt, r.ClosedAt,
			r.Quantity.String(), r.Proceeds.String(), r.CostBasis.String(), r.Fees.String(), r.PnL.String(),
			r.HoldingDays, r.Notes, r.OpenTradeID, r.CloseTradeID,
			r.Term, r.WashSale, r.BrokerDisallowed.String(), r.IRSDisallowed.String(),
		)
		if err != nil {
			return fmt.Errorf("insert realized %s: %w", r.ID, err)
		}
	}
	for i := range open {
		p := &open[i]
		_, err := tx.Exec(ctx,
			`INSERT INTO open_positions (account_id, account_type, symbol, contract_key,
			                             instrument_type, multiplier, quantity, average_cost,
			                             mark_price, market_value, unrealized_pnl,
			                             price_missing, as_of)
			 VALUES ($1, $2, $3, $4, $5, $6,
			         $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC,
			         $12, $13)`,
			p.AccountID, p.AccountType, p.Symbol, p.ContractKey,
			p.Instrument, p.Multiplier, p.Quantity.String(), p.AverageCost.String(),
			p.MarkPrice.String(), p.MarketValue.String(), p.UnrealizedPnL.String(),
			p.PriceMissing, p.AsOf,
		)
		if err != nil {
			return fmt.Errorf("insert open position %s/%s: %w", p.AccountID, p.Symbol, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListRealized(ctx context.Context, accountID string, year int) ([]model.RealizedClose, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, account_type, symbol, contract_key,
		        instrument_type, multiplier, opened_at, closed_at,
		        quantity::TEXT, proceeds::TEXT, cost_basis::TEXT, fees::TEXT, pnl::TEXT,
		        holding_days, notes, open_trade_id, close_trade_id,
		        term, is_wash_sale, broker_disallowed::TEXT, irs_disallowed::TEXT
		 FROM realized_closes
		 WHERE ($1 = '' OR account_id = $1)
		   AND ($2 = 0 OR EXTRACT(YEAR FROM closed_at)::INT = $2)
		 ORDER BY closed_at, id`, accountID, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RealizedClose
	for rows.Next() {
		var r model.RealizedClose
		var qtyS, proceedsS, basisS, feesS, pnlS, brokerS, irsS string
		if err := rows.Scan(&r.ID, &r.AccountID, &r.AccountType, &r.Symbol, &r.ContractKey,
			&r.Instrument, &r.Multiplier, &r.OpenedAt, &r.ClosedAt,
			&qtyS, &proceedsS, &basisS, &feesS, &pnlS,
			&r.HoldingDays, &r.Notes, &r.OpenTradeID, &r.CloseTradeID,
			&r.Term, &r.WashSale, &brokerS, &irsS); err != nil {
			return nil, err
		}
		r.Quantity, _ = decimal.NewFromString(qtyS)
		r.Proceeds, _ = decimal.NewFromString(proceedsS)
		r.CostBasis, _ = decimal.NewFromString(basisS)
		r.Fees, _ = decimal.NewFromString(feesS)
		r.PnL, _ = decimal.NewFromString(pnlS)
		r.BrokerDisallowed, _ = decimal.NewFromString(brokerS)
		r.IRSDisallowed, _ = decimal.NewFromString(irsS)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListOpenPositions(ctx context.Context, accountID string) ([]model.OpenPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, account_type, symbol, contract_key,
		        instrument_type, multiplier, quantity::TEXT, average_cost::TEXT,
		        mark_price::TEXT, market_value::TEXT, unrealized_pnl::TEXT,
		        price_missing, as_of
		 FROM open_positions
		 WHERE $1 = '' OR account_id = $1
		 ORDER BY account_id, symbol, contract_key`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.OpenPosition
	for rows.Next() {
		var p model.OpenPosition
		var qtyS, avgS, markS, mvS, upnlS string
		if err := rows.Scan(&p.AccountID, &p.AccountType, &p.Symbol, &p.ContractKey,
			&p.Instrument, &p.Multiplier, &qtyS, &avgS,
			&markS, &mvS, &upnlS,
			&p.PriceMissing, &p.AsOf); err != nil {
			return nil, err
		}
		p.Quantity, _ = decimal.NewFromString(qtyS)
		p.AverageCost, _ = decimal.NewFromString(avgS)
		p.MarkPrice, _ = decimal.NewFromString(markS)
		p.MarketValue, _ = decimal.NewFromString(mvS)
		p.UnrealizedPnL, _ = decimal.NewFromString(upnlS)
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullDecimal(s *string) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func nullString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}
