package api_test

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/api"
	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a Service over an in-memory store with synchronous run
// execution and a data directory holding one rising AAPL series.
func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	dir := t.TempDir()
	csv := "Date,Open,High,Low,Close,Adj Close,Volume\n" +
		"2024-01-02,100,101,99,100,100,1000\n" +
		"2024-01-03,100,103,100,102,102,1000\n" +
		"2024-01-04,102,105,102,104,104,1000\n" +
		"2024-01-05,104,107,104,106,106,1000\n"
	if err := os.WriteFile(filepath.Join(dir, "AAPL.csv"), []byte(csv), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	ms := store.NewMemoryStore()
	svc := api.NewService(ms, api.Config{DataDir: dir, SyncRuns: true}, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return ms, r
}

func createRun(t *testing.T, router chi.Router, req api.CreateRunRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest("POST", "/api/v1/runs", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	return w
}

func get(t *testing.T, router chi.Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w
}

// --- Run creation ---

func TestCreateRun_BuyAndHold(t *testing.T) {
	_, router := newTestEnv(t)

	w := createRun(t, router, api.CreateRunRequest{
		Strategy:       "buy_and_hold",
		Symbols:        []string{"AAPL"},
		InitialCapital: d(100000),
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var run model.Run
	json.Unmarshal(w.Body.Bytes(), &run)
	if run.ID == "" {
		t.Fatal("expected non-empty run ID")
	}
	if run.Status != model.RunDone {
		t.Errorf("synchronous run should finish done, got %s", run.Status)
	}
}

func TestCreateRun_UnknownStrategy(t *testing.T) {
	_, router := newTestEnv(t)
	w := createRun(t, router, api.CreateRunRequest{
		Strategy:       "crystal_ball",
		Symbols:        []string{"AAPL"},
		InitialCapital: d(100000),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestCreateRun_Validation(t *testing.T) {
	_, router := newTestEnv(t)

	cases := []struct {
		name string
		req  api.CreateRunRequest
	}{
		{"no symbols", api.CreateRunRequest{Strategy: "buy_and_hold", InitialCapital: d(1000)}},
		{"zero capital", api.CreateRunRequest{Strategy: "buy_and_hold", Symbols: []string{"AAPL"}}},
		{"bad windows", api.CreateRunRequest{
			Strategy: "sma_cross", Symbols: []string{"AAPL"},
			InitialCapital: d(1000), ShortWindow: 5, LongWindow: 3,
		}},
		{"bad tiebreak", api.CreateRunRequest{
			Strategy: "buy_and_hold", Symbols: []string{"AAPL"},
			InitialCapital: d(1000), Tiebreak: "coin_flip",
		}},
	}
	for _, tc := range cases {
		if w := createRun(t, router, tc.req); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tc.name, w.Code)
		}
	}
}

func TestCreateRun_MissingDataFails(t *testing.T) {
	_, router := newTestEnv(t)

	w := createRun(t, router, api.CreateRunRequest{
		Strategy:       "buy_and_hold",
		Symbols:        []string{"UNKNOWN"},
		InitialCapital: d(100000),
	})
	// Request is well-formed, so it is accepted; the run itself fails.
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	var run model.Run
	json.Unmarshal(w.Body.Bytes(), &run)
	if run.Status != model.RunFailed {
		t.Errorf("expected failed run, got %s", run.Status)
	}
	if run.Error == "" {
		t.Error("expected recorded error message")
	}
}

// --- Result queries ---

func runAndGetID(t *testing.T, router chi.Router) string {
	t.Helper()
	w := createRun(t, router, api.CreateRunRequest{
		Strategy:       "buy_and_hold",
		Symbols:        []string{"AAPL"},
		InitialCapital: d(100000),
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("create run: %d %s", w.Code, w.Body.String())
	}
	var run model.Run
	json.Unmarshal(w.Body.Bytes(), &run)
	return run.ID
}

func TestGetSummary(t *testing.T) {
	_, router := newTestEnv(t)
	id := runAndGetID(t, router)

	w := get(t, router, "/api/v1/runs/"+id+"/summary")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var s model.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	// Buy and hold on a rising series: positive return, no closed trades.
	if s.TotalReturnPct <= 0 {
		t.Errorf("expected positive return, got %f", s.TotalReturnPct)
	}
	if s.TradeCount != 0 {
		t.Errorf("buy and hold never closes, got %d trades", s.TradeCount)
	}
	if math.IsInf(s.ProfitFactor, 1) {
		t.Errorf("no closed trades must not report +Inf, got %f", s.ProfitFactor)
	}
}

func TestGetEquityCurve(t *testing.T) {
	_, router := newTestEnv(t)
	id := runAndGetID(t, router)

	w := get(t, router, "/api/v1/runs/"+id+"/equity")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var curve []model.EquityPoint
	json.Unmarshal(w.Body.Bytes(), &curve)
	// Seed point plus one per bar.
	if len(curve) != 5 {
		t.Errorf("expected 5 equity points, got %d", len(curve))
	}
}

func TestGetOrdersAndFills(t *testing.T) {
	_, router := newTestEnv(t)
	id := runAndGetID(t, router)

	w := get(t, router, "/api/v1/runs/"+id+"/orders")
	if w.Code != http.StatusOK {
		t.Fatalf("orders: expected 200, got %d", w.Code)
	}
	var orders []model.Order
	json.Unmarshal(w.Body.Bytes(), &orders)
	if len(orders) != 1 || orders[0].Status != model.OrderOpen {
		t.Errorf("expected one open order, got %+v", orders)
	}

	w = get(t, router, "/api/v1/runs/"+id+"/fills")
	var fills []model.Fill
	json.Unmarshal(w.Body.Bytes(), &fills)
	if len(fills) != 1 || !fills[0].Price.Equal(d(100)) {
		t.Errorf("expected one fill at the first close 100, got %+v", fills)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	_, router := newTestEnv(t)
	if w := get(t, router, "/api/v1/runs/no-such-id"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := get(t, router, "/api/v1/runs/no-such-id/summary"); w.Code != http.StatusNotFound {
		t.Errorf("summary: expected 404, got %d", w.Code)
	}
}

func TestListRuns(t *testing.T) {
	_, router := newTestEnv(t)
	runAndGetID(t, router)
	runAndGetID(t, router)

	w := get(t, router, "/api/v1/runs")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var runs []model.Run
	json.Unmarshal(w.Body.Bytes(), &runs)
	if len(runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(runs))
	}
}
