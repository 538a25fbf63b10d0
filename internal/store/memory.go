package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/folioworks/basis-engine/internal/model"
)

// MemoryStore keeps everything in process memory behind a RWMutex. Used
// by tests and as the fallback when no DATABASE_URL is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]model.Account
	trades   []model.Trade
	cash     []model.CashActivity
	prices   map[string][]model.PricePoint // symbol -> ascending by as-of
	realized []model.RealizedClose
	open     []model.OpenPosition
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]model.Account),
		prices:   make(map[string][]model.PricePoint),
	}
}

func (m *MemoryStore) ListAccounts(_ context.Context) ([]model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetAccount(_ context.Context, id string) (model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return model.Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (m *MemoryStore) SaveAccount(_ context.Context, a model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a
	return nil
}

func (m *MemoryStore) ListTrades(_ context.Context, accountID string) ([]model.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Trade
	for i := range m.trades {
		if accountID == "" || m.trades[i].AccountID == accountID {
			out = append(out, m.trades[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ExecutedAt.Equal(out[j].ExecutedAt) {
			return out[i].ExecutedAt.Before(out[j].ExecutedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (m *MemoryStore) SaveTrades(_ context.Context, trades []model.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, trades...)
	return nil
}

func (m *MemoryStore) ListCashActivity(_ context.Context, accountID string) ([]model.CashActivity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.CashActivity
	for i := range m.cash {
		if accountID == "" || m.cash[i].AccountID == accountID {
			out = append(out, m.cash[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].PostedAt.Equal(out[j].PostedAt) {
			return out[i].PostedAt.Before(out[j].PostedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (m *MemoryStore) SaveCashActivity(_ context.Context, rows []model.CashActivity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cash = append(m.cash, rows...)
	return nil
}

func (m *MemoryStore) PriceAsOf(_ context.Context, symbol string, asOf time.Time) (model.PricePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	points := m.prices[symbol]
	for i := len(points) - 1; i >= 0; i-- {
		if !points[i].AsOf.After(asOf) {
			return points[i], nil
		}
	}
	return model.PricePoint{}, ErrNotFound
}

func (m *MemoryStore) FirstPriceOnOrAfter(_ context.Context, symbol string, from, until time.Time) (model.PricePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.prices[symbol] {
		if !p.AsOf.Before(from) && !p.AsOf.After(until) {
			return p, nil
		}
	}
	return model.PricePoint{}, ErrNotFound
}

func (m *MemoryStore) LatestPriceDate(_ context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest time.Time
	for _, points := range m.prices {
		if n := len(points); n > 0 && points[n-1].AsOf.After(latest) {
			latest = points[n-1].AsOf
		}
	}
	if latest.IsZero() {
		return time.Time{}, ErrNotFound
	}
	return latest, nil
}

func (m *MemoryStore) SavePrices(_ context.Context, points []model.PricePoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		m.prices[p.Symbol] = append(m.prices[p.Symbol], p)
	}
	for sym := range m.prices {
		sort.SliceStable(m.prices[sym], func(i, j int) bool {
			return m.prices[sym][i].AsOf.Before(m.prices[sym][j].AsOf)
		})
	}
	return nil
}

func (m *MemoryStore) ReplaceDerived(_ context.Context, accountID string, realized []model.RealizedClose, open []model.OpenPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if accountID == "" {
		m.realized = nil
		m.open = nil
	} else {
		m.realized = filterRealized(m.realized, func(r *model.RealizedClose) bool { return r.AccountID != accountID })
		m.open = filterOpen(m.open, func(p *model.OpenPosition) bool { return p.AccountID != accountID })
	}
	m.realized = append(m.realized, realized...)
	m.open = append(m.open, open...)
	return nil
}

func (m *MemoryStore) ListRealized(_ context.Context, accountID string, year int) ([]model.RealizedClose, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.RealizedClose
	for i := range m.realized {
		r := &m.realized[i]
		if accountID != "" && r.AccountID != accountID {
			continue
		}
		if year != 0 && r.ClosedAt.Year() != year {
			continue
		}
		out = append(out, *r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ClosedAt.Before(out[j].ClosedAt) })
	return out, nil
}

func (m *MemoryStore) ListOpenPositions(_ context.Context, accountID string) ([]model.OpenPosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.OpenPosition
	for i := range m.open {
		if accountID == "" || m.open[i].AccountID == accountID {
			out = append(out, m.open[i])
		}
	}
	return out, nil
}

func filterRealized(rows []model.RealizedClose, keep func(*model.RealizedClose) bool) []model.RealizedClose {
	out := rows[:0]
	for i := range rows {
		if keep(&rows[i]) {
			out = append(out, rows[i])
		}
	}
	return out
}

func filterOpen(rows []model.OpenPosition, keep func(*model.OpenPosition) bool) []model.OpenPosition {
	out := rows[:0]
	for i := range rows {
		if keep(&rows[i]) {
			out = append(out, rows[i])
		}
	}
	return out
}
