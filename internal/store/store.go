// Package store defines the persistence contract for the basis engine
// and its implementations: Postgres as source of truth, an in-memory
// store for tests and local runs, and a Redis read-through cache.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/folioworks/basis-engine/internal/model"
)

var (
	ErrNotFound        = errors.New("store: not found")
	ErrAccountNotFound = errors.New("store: account not found")
)

// Store is the engine's only persistence seam. Listing methods take an
// account id scope; the empty string means all accounts. Trades come
// back in (executed_at, seq) order and cash activity in (posted_at, seq)
// order, which the replay engines rely on.
type Store interface {
	ListAccounts(ctx context.Context) ([]model.Account, error)
	GetAccount(ctx context.Context, id string) (model.Account, error)
	SaveAccount(ctx context.Context, a model.Account) error

	ListTrades(ctx context.Context, accountID string) ([]model.Trade, error)
	SaveTrades(ctx context.Context, trades []model.Trade) error

	ListCashActivity(ctx context.Context, accountID string) ([]model.CashActivity, error)
	SaveCashActivity(ctx context.Context, rows []model.CashActivity) error

	// PriceAsOf returns the most recent close at or before asOf.
	PriceAsOf(ctx context.Context, symbol string, asOf time.Time) (model.PricePoint, error)
	// FirstPriceOnOrAfter returns the earliest close in [from, until].
	FirstPriceOnOrAfter(ctx context.Context, symbol string, from, until time.Time) (model.PricePoint, error)
	// LatestPriceDate returns the newest as-of date in the price cache.
	LatestPriceDate(ctx context.Context) (time.Time, error)
	SavePrices(ctx context.Context, points []model.PricePoint) error

	// ReplaceDerived atomically swaps the scope's realized and open rows
	// for the given replacement set. accountID "" replaces all accounts.
	ReplaceDerived(ctx context.Context, accountID string, realized []model.RealizedClose, open []model.OpenPosition) error
	// ListRealized filters by account scope and, when year is nonzero,
	// by close-date year.
	ListRealized(ctx context.Context, accountID string, year int) ([]model.RealizedClose, error)
	ListOpenPositions(ctx context.Context, accountID string) ([]model.OpenPosition, error)
}
