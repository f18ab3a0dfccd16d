// Package api provides the HTTP handlers for launching backtest runs and
// querying their persisted results.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/data"
	"github.com/atmx/backtest-engine/internal/driver"
	"github.com/atmx/backtest-engine/internal/event"
	"github.com/atmx/backtest-engine/internal/execution"
	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/portfolio"
	"github.com/atmx/backtest-engine/internal/risk"
	"github.com/atmx/backtest-engine/internal/store"
	"github.com/atmx/backtest-engine/internal/strategy"
)

// Config parameterizes the API service.
type Config struct {
	// DataDir is the directory holding one <SYMBOL>.csv per symbol.
	DataDir string

	// SyncRuns executes runs inline instead of in a background goroutine.
	// Used by tests; production keeps it false so POST returns immediately.
	SyncRuns bool
}

// Service handles run management. Simulations are single-threaded per run;
// concurrent runs are independent and share nothing but the store.
type Service struct {
	store store.Store
	cfg   Config
	wsHub *WSHub // optional WebSocket hub for progress broadcasts
}

// NewService creates a new API service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, cfg Config, hub *WSHub) *Service {
	return &Service{
		store: st,
		cfg:   cfg,
		wsHub: hub,
	}
}

// Routes registers the run endpoints on the given router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/runs", s.CreateRun)
	r.Get("/runs", s.ListRuns)
	r.Get("/runs/{runID}", s.GetRun)
	r.Get("/runs/{runID}/equity", s.GetEquityCurve)
	r.Get("/runs/{runID}/orders", s.GetOrders)
	r.Get("/runs/{runID}/fills", s.GetFills)
	r.Get("/runs/{runID}/summary", s.GetSummary)
}

// --- Request/Response types ---

// CommissionSpec selects a commission model for a run.
type CommissionSpec struct {
	Model   string          `json:"model"` // zero | per_share | bps
	Rate    decimal.Decimal `json:"rate,omitempty"`
	Minimum decimal.Decimal `json:"minimum,omitempty"`
	Bps     decimal.Decimal `json:"bps,omitempty"`
}

// CreateRunRequest is the JSON body for POST /runs.
type CreateRunRequest struct {
	Strategy       string            `json:"strategy"` // buy_and_hold | sma_cross
	Symbols        []string          `json:"symbols"`
	InitialCapital decimal.Decimal   `json:"initial_capital"`
	UnitSize       int64             `json:"unit_size,omitempty"`     // 0 → default 100
	ShortWindow    int               `json:"short_window,omitempty"`  // sma_cross only
	LongWindow     int               `json:"long_window,omitempty"`   // sma_cross only
	Tiebreak       string            `json:"tiebreak,omitempty"`      // stop_first | target_first
	Commission     *CommissionSpec   `json:"commission,omitempty"`    // nil → zero
	MaxPerSymbol   int64             `json:"max_per_symbol,omitempty"`
	MaxGross       int64             `json:"max_gross,omitempty"`
	HeartbeatMs    int               `json:"heartbeat_ms,omitempty"`
	PeriodsPerYear int               `json:"periods_per_year,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
}

// --- HTTP Handlers ---

// CreateRun handles POST /api/v1/runs. The run record is persisted
// immediately; the simulation itself executes in the background and the
// caller polls GET /runs/{runID} until the status leaves "running".
func (s *Service) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := validateRequest(&req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	run := &model.Run{
		ID:             uuid.New().String(),
		Strategy:       req.Strategy,
		Symbols:        req.Symbols,
		InitialCapital: req.InitialCapital,
		Status:         model.RunPending,
		Tags:           req.Tags,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.store.CreateRun(r.Context(), run); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("run created",
		"run_id", run.ID,
		"strategy", run.Strategy,
		"symbols", run.Symbols,
	)

	if s.cfg.SyncRuns {
		s.execute(r.Context(), run, &req)
		done, err := s.store.GetRun(r.Context(), run.ID)
		if err == nil {
			run = done
		}
	} else {
		// The request context dies with the response; the run must not.
		go s.execute(context.Background(), run, &req)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(run)
}

// ListRuns handles GET /api/v1/runs
func (s *Service) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}

// GetRun handles GET /api/v1/runs/{runID}
func (s *Service) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

// GetEquityCurve handles GET /api/v1/runs/{runID}/equity
func (s *Service) GetEquityCurve(w http.ResponseWriter, r *http.Request) {
	curve, err := s.store.GetEquityCurve(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if curve == nil {
		curve = []model.EquityPoint{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(curve)
}

// GetOrders handles GET /api/v1/runs/{runID}/orders
func (s *Service) GetOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.GetOrders(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(orders)
}

// GetFills handles GET /api/v1/runs/{runID}/fills
func (s *Service) GetFills(w http.ResponseWriter, r *http.Request) {
	fills, err := s.store.GetFills(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if fills == nil {
		fills = []model.Fill{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(fills)
}

// GetSummary handles GET /api/v1/runs/{runID}/summary
func (s *Service) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.store.GetSummary(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// --- Run execution ---

func (s *Service) execute(ctx context.Context, run *model.Run, req *CreateRunRequest) {
	s.setStatus(ctx, run.ID, model.RunRunning, "", time.Time{})
	s.broadcastStatus(run.ID, model.RunRunning)

	result, err := s.simulate(ctx, run, req)
	if result != nil {
		if saveErr := s.store.SaveResult(ctx, result); saveErr != nil {
			slog.Error("save result failed", "run_id", run.ID, "err", saveErr)
		}
	}

	status := model.RunDone
	errMsg := ""
	if err != nil {
		status = model.RunFailed
		errMsg = err.Error()
		slog.Error("run failed", "run_id", run.ID, "err", err)
	}
	s.setStatus(ctx, run.ID, status, errMsg, time.Now().UTC())
	s.broadcastStatus(run.ID, status)
}

// simulate assembles the components for one run and drives it to completion.
// A nil result means assembly failed before the simulation started.
func (s *Service) simulate(ctx context.Context, run *model.Run, req *CreateRunRequest) (*model.Result, error) {
	bus := event.NewBus()

	bars, err := data.NewHistoricCSV(bus, s.cfg.DataDir, req.Symbols)
	if err != nil {
		return nil, fmt.Errorf("load data: %w", err)
	}

	strat, err := buildStrategy(req, bars, bus)
	if err != nil {
		return nil, err
	}

	eng := execution.NewEngine(bars, execution.Config{
		Commission: commissionFunc(req.Commission),
		Tiebreak:   execution.TiebreakPolicy(req.Tiebreak),
	})

	ledger := portfolio.NewLedger(bars, portfolio.Config{
		InitialCapital: req.InitialCapital,
		StartDate:      bars.StartTime(),
		UnitSize:       req.UnitSize,
	})
	var port portfolio.Portfolio = ledger
	if req.MaxPerSymbol > 0 || req.MaxGross > 0 {
		port = portfolio.NewRiskManaged(ledger, risk.NewLimiter(req.MaxPerSymbol, req.MaxGross))
	}

	bt := driver.New(bus, bars, strat, port, eng, driver.Options{
		RunID:          run.ID,
		Heartbeat:      time.Duration(req.HeartbeatMs) * time.Millisecond,
		PeriodsPerYear: req.PeriodsPerYear,
		Tags:           req.Tags,
		Hooks: driver.Hooks{
			OnFill: func(f model.Fill) {
				if s.wsHub == nil {
					return
				}
				s.wsHub.Broadcast(WSMessage{
					Type:      "fill",
					RunID:     run.ID,
					Time:      f.Time.Format(time.RFC3339),
					Symbol:    f.Symbol,
					Direction: string(f.Direction),
					Price:     f.Price.String(),
					Quantity:  f.Quantity,
				})
			},
		},
	})

	return bt.Run(ctx)
}

func (s *Service) setStatus(ctx context.Context, id string, status model.RunStatus, errMsg string, completedAt time.Time) {
	if err := s.store.UpdateRunStatus(ctx, id, status, errMsg, completedAt); err != nil {
		slog.Error("update run status failed", "run_id", id, "status", status, "err", err)
	}
}

func (s *Service) broadcastStatus(runID string, status model.RunStatus) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.Broadcast(WSMessage{
		Type:   "run_status",
		RunID:  runID,
		Status: string(status),
	})
}

// --- Helpers ---

func validateRequest(req *CreateRunRequest) error {
	if len(req.Symbols) == 0 {
		return errors.New("symbols is required")
	}
	if req.InitialCapital.LessThanOrEqual(decimal.Zero) {
		return errors.New("initial_capital must be positive")
	}
	switch req.Strategy {
	case "buy_and_hold":
	case "sma_cross":
		if req.ShortWindow <= 0 || req.LongWindow <= req.ShortWindow {
			return errors.New("sma_cross requires 0 < short_window < long_window")
		}
	default:
		return fmt.Errorf("unknown strategy %q", req.Strategy)
	}
	switch req.Tiebreak {
	case "", string(execution.TiebreakStopFirst), string(execution.TiebreakTargetFirst):
	default:
		return fmt.Errorf("unknown tiebreak policy %q", req.Tiebreak)
	}
	if req.Commission != nil {
		switch req.Commission.Model {
		case "", "zero", "per_share", "bps":
		default:
			return fmt.Errorf("unknown commission model %q", req.Commission.Model)
		}
	}
	return nil
}

func buildStrategy(req *CreateRunRequest, bars data.Handler, bus *event.Bus) (strategy.Strategy, error) {
	switch req.Strategy {
	case "buy_and_hold":
		return strategy.NewBuyAndHold(bars, bus), nil
	case "sma_cross":
		return strategy.NewSMACross(bars, bus, req.ShortWindow, req.LongWindow)
	default:
		return nil, fmt.Errorf("unknown strategy %q", req.Strategy)
	}
}

func commissionFunc(spec *CommissionSpec) execution.CommissionFunc {
	if spec == nil {
		return execution.ZeroCommission
	}
	switch spec.Model {
	case "per_share":
		return execution.PerShareCommission(spec.Rate, spec.Minimum)
	case "bps":
		return execution.BasisPointsCommission(spec.Bps)
	default:
		return execution.ZeroCommission
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	writeError(w, err.Error(), http.StatusInternalServerError)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
