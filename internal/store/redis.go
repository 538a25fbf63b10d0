package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/folioworks/basis-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis
// read-through cache for the hot read paths: price point lookups and
// derived-row reads. Writes go to the primary and invalidate the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) PriceAsOf(ctx context.Context, symbol string, asOf time.Time) (model.PricePoint, error) {
	key := priceKey(symbol, asOf)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var p model.PricePoint
		if json.Unmarshal(data, &p) == nil {
			return p, nil
		}
	}

	p, err := s.primary.PriceAsOf(ctx, symbol, asOf)
	if err != nil {
		return model.PricePoint{}, err
	}
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return p, nil
}

func (s *CachedStore) ListRealized(ctx context.Context, accountID string, year int) ([]model.RealizedClose, error) {
	key := realizedKey(accountID, year)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var rows []model.RealizedClose
		if json.Unmarshal(data, &rows) == nil {
			return rows, nil
		}
	}

	rows, err := s.primary.ListRealized(ctx, accountID, year)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(rows); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return rows, nil
}

func (s *CachedStore) ListOpenPositions(ctx context.Context, accountID string) ([]model.OpenPosition, error) {
	key := positionsKey(accountID)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var rows []model.OpenPosition
		if json.Unmarshal(data, &rows) == nil {
			return rows, nil
		}
	}

	rows, err := s.primary.ListOpenPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(rows); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return rows, nil
}

// --- Writes (primary first, then invalidate) ---

// ReplaceDerived invalidates every derived-row key; per-account keys are
// swept by pattern since the replaced scope may be "all accounts".
func (s *CachedStore) ReplaceDerived(ctx context.Context, accountID string, realized []model.RealizedClose, open []model.OpenPosition) error {
	if err := s.primary.ReplaceDerived(ctx, accountID, realized, open); err != nil {
		return err
	}
	s.invalidatePattern(ctx, "realized:*")
	s.invalidatePattern(ctx, "positions:*")
	return nil
}

func (s *CachedStore) SavePrices(ctx context.Context, points []model.PricePoint) error {
	if err := s.primary.SavePrices(ctx, points); err != nil {
		return err
	}
	s.invalidatePattern(ctx, "price:*")
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return s.primary.ListAccounts(ctx)
}

func (s *CachedStore) GetAccount(ctx context.Context, id string) (model.Account, error) {
	return s.primary.GetAccount(ctx, id)
}

func (s *CachedStore) SaveAccount(ctx context.Context, a model.Account) error {
	return s.primary.SaveAccount(ctx, a)
}

func (s *CachedStore) ListTrades(ctx context.Context, accountID string) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, accountID)
}

func (s *CachedStore) SaveTrades(ctx context.Context, trades []model.Trade) error {
	return s.primary.SaveTrades(ctx, trades)
}

func (s *CachedStore) ListCashActivity(ctx context.Context, accountID string) ([]model.CashActivity, error) {
	return s.primary.ListCashActivity(ctx, accountID)
}

func (s *CachedStore) SaveCashActivity(ctx context.Context, rows []model.CashActivity) error {
	return s.primary.SaveCashActivity(ctx, rows)
}

func (s *CachedStore) FirstPriceOnOrAfter(ctx context.Context, symbol string, from, until time.Time) (model.PricePoint, error) {
	return s.primary.FirstPriceOnOrAfter(ctx, symbol, from, until)
}

func (s *CachedStore) LatestPriceDate(ctx context.Context) (time.Time, error) {
	return s.primary.LatestPriceDate(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) invalidatePattern(ctx context.Context, pattern string) {
	iter := s.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		s.rdb.Del(ctx, iter.Val())
	}
}

func priceKey(symbol string, asOf time.Time) string {
	return fmt.Sprintf("price:%s:%s", symbol, asOf.UTC().Format("2006-01-02T15"))
}
func realizedKey(accountID string, year int) string {
	return fmt.Sprintf("realized:%s:%d", accountID, year)
}
func positionsKey(accountID string) string { return fmt.Sprintf("positions:%s", accountID) }
