// Package service provides the HTTP handlers exposing the basis engine:
// recompute, positions, realized rows, wash-sale scans, tax-year
// reports, and window returns.
//
// All monetary values use shopspring/decimal — never float64 for money.
package service

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/folioworks/basis-engine/internal/engine"
	"github.com/folioworks/basis-engine/internal/metrics"
	"github.com/folioworks/basis-engine/internal/model"
	"github.com/folioworks/basis-engine/internal/returns"
	"github.com/folioworks/basis-engine/internal/store"
	"github.com/folioworks/basis-engine/internal/taxyear"
	"github.com/folioworks/basis-engine/internal/washsale"
)

// Service wires the engine to its store. The mutex serializes recompute
// runs: the replay is a single-writer batch, and concurrent reads of a
// scope being rebuilt would observe a half-replaced state.
type Service struct {
	store      store.Store
	calc       *returns.Calculator
	windowDays int
	mu         sync.Mutex
	wsHub      *WSHub // optional WebSocket hub for recompute broadcasts
}

// NewService creates a new basis service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, windowDays int, hub *WSHub) *Service {
	if windowDays <= 0 {
		windowDays = washsale.DefaultWindowDays
	}
	return &Service{
		store:      st,
		calc:       returns.NewCalculator(st),
		windowDays: windowDays,
		wsHub:      hub,
	}
}

// Routes mounts every handler on a chi router under /api/v1.
func (s *Service) Routes(r chi.Router) {
	r.Post("/recompute", s.Recompute)
	r.Get("/positions", s.ListPositions)
	r.Get("/realized", s.ListRealized)
	r.Get("/washsale/risks", s.WashSaleRisks)
	r.Get("/washsale/disallowed", s.WashSaleDisallowed)
	r.Get("/taxyear/{year}", s.TaxYearReport)
	r.Get("/returns", s.WindowReturns)
	r.Get("/returns/all", s.AllWindowReturns)
	r.Get("/contributions", s.Contributions)
	r.Get("/risk/concentration", s.Concentration)
}

// --- Request/Response types ---

// RecomputeRequest is the JSON body for POST /recompute. An empty
// account id replays every account.
type RecomputeRequest struct {
	AccountID string `json:"account_id"`
}

// RecomputeResponse returns the run's stats.
type RecomputeResponse struct {
	AccountID string       `json:"account_id,omitempty"`
	Stats     engine.Stats `json:"stats"`
}

// --- HTTP Handlers ---

// Recompute handles POST /api/v1/recompute: full replay of the scope's
// trade history followed by atomic replacement of its derived rows.
func (s *Service) Recompute(w http.ResponseWriter, r *http.Request) {
	var req RecomputeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	trades, err := s.store.ListTrades(ctx, req.AccountID)
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}

	asOf := time.Now().UTC()
	lookup := func(key string) (decimal.Decimal, bool) {
		pp, err := s.store.PriceAsOf(ctx, key, asOf)
		if err != nil {
			return decimal.Zero, false
		}
		return pp.Close, true
	}

	res, err := engine.Recompute(trades, lookup, asOf)
	if err != nil {
		metrics.RecomputesTotal.WithLabelValues("error").Inc()
		if errors.Is(err, engine.ErrUnsupportedSide) || errors.Is(err, engine.ErrBadMultiplier) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, "recompute failed", http.StatusInternalServerError)
		return
	}

	if err := s.store.ReplaceDerived(ctx, req.AccountID, res.Realized, res.Open); err != nil {
		metrics.RecomputesTotal.WithLabelValues("error").Inc()
		writeError(w, "failed to persist derived rows", http.StatusInternalServerError)
		return
	}

	metrics.RecomputesTotal.WithLabelValues("ok").Inc()
	metrics.RecomputeDuration.Observe(res.Stats.Elapsed.Seconds())
	metrics.TradesReplayed.Add(float64(res.Stats.TradesReplayed))
	metrics.ZeroQuantitySkipped.Add(float64(res.Stats.ZeroQuantitySkipped))
	unmatched, _ := res.Stats.UnmatchedCloseQuantity.Float64()
	metrics.UnmatchedCloseQuantity.Set(unmatched)
	metrics.OpenPositions.Set(float64(res.Stats.OpenPositions))

	slog.Info("recompute completed",
		"account", req.AccountID,
		"trades_replayed", res.Stats.TradesReplayed,
		"realized_rows", res.Stats.RealizedRows,
		"open_positions", res.Stats.OpenPositions,
		"unmatched_close_qty", res.Stats.UnmatchedCloseQuantity.String(),
		"elapsed_ms", res.Stats.ElapsedMS,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:                   "recompute_completed",
			AccountID:              req.AccountID,
			RealizedRows:           res.Stats.RealizedRows,
			OpenPositions:          res.Stats.OpenPositions,
			UnmatchedCloseQuantity: res.Stats.UnmatchedCloseQuantity.String(),
		})
	}

	writeJSON(w, RecomputeResponse{AccountID: req.AccountID, Stats: res.Stats})
}

// ListPositions handles GET /api/v1/positions?account_id=
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.store.ListOpenPositions(r.Context(), r.URL.Query().Get("account_id"))
	if err != nil {
		writeError(w, "failed to list positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.OpenPosition{}
	}
	writeJSON(w, positions)
}

// ListRealized handles GET /api/v1/realized?account_id=&year=
func (s *Service) ListRealized(w http.ResponseWriter, r *http.Request) {
	year, ok := optionalYear(w, r)
	if !ok {
		return
	}
	rows, err := s.store.ListRealized(r.Context(), r.URL.Query().Get("account_id"), year)
	if err != nil {
		writeError(w, "failed to list realized closes", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []model.RealizedClose{}
	}
	writeJSON(w, rows)
}

// WashSaleRisks handles GET /api/v1/washsale/risks?window_days=
func (s *Service) WashSaleRisks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	windowDays := s.windowDays
	if v := r.URL.Query().Get("window_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "invalid window_days", http.StatusBadRequest)
			return
		}
		windowDays = n
	}

	realized, err := s.store.ListRealized(ctx, "", 0)
	if err != nil {
		writeError(w, "failed to load realized closes", http.StatusInternalServerError)
		return
	}
	trades, err := s.store.ListTrades(ctx, "")
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}

	risks := washsale.DetectRisks(realized, trades, windowDays)
	if risks == nil {
		risks = []washsale.Risk{}
	}
	writeJSON(w, risks)
}

// WashSaleDisallowed handles GET /api/v1/washsale/disallowed?year=&mode=
func (s *Service) WashSaleDisallowed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		writeError(w, "year is required", http.StatusBadRequest)
		return
	}
	mode := washsale.Mode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = washsale.ModeIRS
	}
	if mode != washsale.ModeBroker && mode != washsale.ModeIRS {
		writeError(w, "mode must be BROKER or IRS", http.StatusBadRequest)
		return
	}

	realized, err := s.store.ListRealized(ctx, "", 0)
	if err != nil {
		writeError(w, "failed to load realized closes", http.StatusInternalServerError)
		return
	}
	trades, err := s.store.ListTrades(ctx, "")
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}

	writeJSON(w, washsale.Disallowances(realized, trades, year, mode, s.windowDays))
}

// TaxYearReport handles GET /api/v1/taxyear/{year}?account_id=
func (s *Service) TaxYearReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, "invalid year", http.StatusBadRequest)
		return
	}
	accountID := r.URL.Query().Get("account_id")

	realized, err := s.store.ListRealized(ctx, accountID, 0)
	if err != nil {
		writeError(w, "failed to load realized closes", http.StatusInternalServerError)
		return
	}
	// The replacement scan spans all accounts even for a scoped report.
	trades, err := s.store.ListTrades(ctx, "")
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}

	writeJSON(w, taxyear.Build(realized, trades, year, s.windowDays))
}

// WindowReturns handles GET /api/v1/returns?account_id=&window=
func (s *Service) WindowReturns(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("window")
	if label == "" {
		label = "inception"
	}
	m, err := s.calc.Compute(r.Context(), r.URL.Query().Get("account_id"), label)
	if errors.Is(err, returns.ErrUnknownWindow) {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, "failed to compute returns", http.StatusInternalServerError)
		return
	}
	writeJSON(w, m)
}

// AllWindowReturns handles GET /api/v1/returns/all?account_id=
func (s *Service) AllWindowReturns(w http.ResponseWriter, r *http.Request) {
	all, err := s.calc.ComputeAll(r.Context(), r.URL.Query().Get("account_id"))
	if err != nil {
		writeError(w, "failed to compute returns", http.StatusInternalServerError)
		return
	}
	writeJSON(w, all)
}

// Contributions handles GET /api/v1/contributions?account_id=
func (s *Service) Contributions(w http.ResponseWriter, r *http.Request) {
	rep, err := s.calc.Contributions(r.Context(), r.URL.Query().Get("account_id"))
	if err != nil {
		writeError(w, "failed to compute contributions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, rep)
}

// Concentration handles GET /api/v1/risk/concentration?account_id=
func (s *Service) Concentration(w http.ResponseWriter, r *http.Request) {
	warnings, err := s.calc.Concentration(r.Context(), r.URL.Query().Get("account_id"))
	if err != nil {
		writeError(w, "failed to check concentration", http.StatusInternalServerError)
		return
	}
	if warnings == nil {
		warnings = []returns.ConcentrationWarning{}
	}
	writeJSON(w, warnings)
}

func optionalYear(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("year")
	if v == "" {
		return 0, true
	}
	year, err := strconv.Atoi(v)
	if err != nil {
		writeError(w, "invalid year", http.StatusBadRequest)
		return 0, false
	}
	return year, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
