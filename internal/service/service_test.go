package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/folioworks/basis-engine/internal/model"
	"github.com/folioworks/basis-engine/internal/store"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func on(m, day int) time.Time {
	return time.Date(2025, time.Month(m), day, 15, 0, 0, 0, time.UTC)
}

func newTestServer(t *testing.T, st store.Store) *httptest.Server {
	t.Helper()
	svc := NewService(st, 30, nil)
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func seedTrades(t *testing.T, st store.Store) {
	t.Helper()
	trades := []model.Trade{
		{
			ID: "t1", Seq: 1, AccountID: "a1", AccountType: model.AccountTaxable,
			ExecutedAt: on(1, 10), Instrument: model.InstrumentStock, Symbol: "ABC",
			Side: model.SideBuy, Quantity: d(100), Price: d(10), Fees: d(1),
		},
		{
			ID: "t2", Seq: 2, AccountID: "a1", AccountType: model.AccountTaxable,
			ExecutedAt: on(2, 10), Instrument: model.InstrumentStock, Symbol: "ABC",
			Side: model.SideSell, Quantity: d(40), Price: d(9), Fees: d(1),
		},
	}
	if err := st.SaveTrades(context.Background(), trades); err != nil {
		t.Fatal(err)
	}
}

func postRecompute(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/v1/recompute", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestRecomputeEndpoint_PersistsDerivedRows(t *testing.T) {
	st := store.NewMemoryStore()
	seedTrades(t, st)
	srv := newTestServer(t, st)

	resp := postRecompute(t, srv, `{}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out RecomputeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Stats.RealizedRows != 1 || out.Stats.OpenPositions != 1 {
		t.Errorf("stats = %+v, want 1 realized / 1 open", out.Stats)
	}

	rows, err := st.ListRealized(context.Background(), "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("store has %d realized rows, want 1", len(rows))
	}
	// 40 shares at 10.01 all-in sold for 360 net of the $1 fee.
	if !rows[0].PnL.Equal(d(-41.40)) {
		t.Errorf("pnl = %s, want -41.40", rows[0].PnL)
	}
}

func TestPositionsEndpoint(t *testing.T) {
	st := store.NewMemoryStore()
	seedTrades(t, st)
	srv := newTestServer(t, st)

	postRecompute(t, srv, `{}`).Body.Close()

	resp, err := http.Get(srv.URL + "/api/v1/positions?account_id=a1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var positions []model.OpenPosition
	if err := json.NewDecoder(resp.Body).Decode(&positions); err != nil {
		t.Fatal(err)
	}
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}
	if !positions[0].Quantity.Equal(d(60)) {
		t.Errorf("quantity = %s, want 60", positions[0].Quantity)
	}
	if !positions[0].PriceMissing {
		t.Error("expected price_missing without a cached mark")
	}
}

func TestPositionsEndpoint_EmptyStoreReturnsEmptyArray(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryStore())

	resp, err := http.Get(srv.URL + "/api/v1/positions")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body := make([]byte, 16)
	n, _ := resp.Body.Read(body)
	if got := strings.TrimSpace(string(body[:n])); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestWashSaleDisallowedEndpoint_Validation(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryStore())

	resp, err := http.Get(srv.URL + "/api/v1/washsale/disallowed")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing year: status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/v1/washsale/disallowed?year=2025&mode=GUESS")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad mode: status = %d, want 400", resp.StatusCode)
	}
}

func TestTaxYearEndpoint(t *testing.T) {
	st := store.NewMemoryStore()
	seedTrades(t, st)
	srv := newTestServer(t, st)
	postRecompute(t, srv, `{}`).Body.Close()

	resp, err := http.Get(srv.URL + "/api/v1/taxyear/2025")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var rep struct {
		Year    int `json:"year"`
		Details []struct {
			PnL decimal.Decimal `json:"pnl"`
		} `json:"details"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatal(err)
	}
	if rep.Year != 2025 || len(rep.Details) != 1 {
		t.Errorf("report = %+v, want year 2025 with one detail", rep)
	}
}

func TestReturnsEndpoint_UnknownWindowRejected(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryStore())

	resp, err := http.Get(srv.URL + "/api/v1/returns?window=2W")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRecomputeEndpoint_ScopedReplaceLeavesOtherAccounts(t *testing.T) {
	st := store.NewMemoryStore()
	seedTrades(t, st)
	other := model.Trade{
		ID: "t3", Seq: 3, AccountID: "a2", AccountType: model.AccountTaxable,
		ExecutedAt: on(1, 5), Instrument: model.InstrumentStock, Symbol: "XYZ",
		Side: model.SideBuy, Quantity: d(10), Price: d(5),
	}
	if err := st.SaveTrades(context.Background(), []model.Trade{other}); err != nil {
		t.Fatal(err)
	}
	srv := newTestServer(t, st)

	postRecompute(t, srv, `{}`).Body.Close()
	postRecompute(t, srv, `{"account_id":"a1"}`).Body.Close()

	positions, err := st.ListOpenPositions(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 2 {
		t.Fatalf("got %d positions after scoped recompute, want 2", len(positions))
	}
}
