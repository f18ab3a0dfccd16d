package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id              TEXT PRIMARY KEY,
			strategy        TEXT NOT NULL,
			symbols         TEXT[] NOT NULL,
			initial_capital NUMERIC NOT NULL,
			status          TEXT NOT NULL,
			tags            JSONB,
			error           TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL,
			completed_at    TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS equity_points (
			run_id            TEXT NOT NULL REFERENCES runs(id),
			seq               INT NOT NULL,
			time              TIMESTAMPTZ NOT NULL,
			total             NUMERIC NOT NULL,
			period_return     NUMERIC NOT NULL,
			cumulative_return NUMERIC NOT NULL,
			PRIMARY KEY (run_id, seq)
		);
		CREATE TABLE IF NOT EXISTS orders (
			run_id        TEXT NOT NULL REFERENCES runs(id),
			id            TEXT NOT NULL,
			symbol        TEXT NOT NULL,
			direction     TEXT NOT NULL,
			quantity      BIGINT NOT NULL,
			kind          TEXT NOT NULL,
			limit_price   NUMERIC NOT NULL,
			stop_loss     NUMERIC NOT NULL,
			profit_target NUMERIC NOT NULL,
			status        TEXT NOT NULL,
			entry_time    TIMESTAMPTZ,
			entry_price   NUMERIC NOT NULL,
			exit_time     TIMESTAMPTZ,
			exit_price    NUMERIC NOT NULL,
			commission    NUMERIC NOT NULL,
			realized_pnl  NUMERIC NOT NULL,
			PRIMARY KEY (run_id, id)
		);
		CREATE TABLE IF NOT EXISTS fills (
			run_id     TEXT NOT NULL REFERENCES runs(id),
			seq        INT NOT NULL,
			order_id   TEXT NOT NULL,
			time       TIMESTAMPTZ NOT NULL,
			symbol     TEXT NOT NULL,
			price      NUMERIC NOT NULL,
			quantity   BIGINT NOT NULL,
			direction  TEXT NOT NULL,
			commission NUMERIC NOT NULL,
			exchange   TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		);
		CREATE TABLE IF NOT EXISTS summaries (
			run_id  TEXT PRIMARY KEY REFERENCES runs(id),
			payload JSONB NOT NULL
		);`)
	return err
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
	tags, err := json.Marshal(run.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, strategy, symbols, initial_capital, status, tags, error, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8)`,
		run.ID, run.Strategy, run.Symbols,
		run.InitialCapital.String(), string(run.Status), tags, run.Error, run.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	run, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT id, strategy, symbols, initial_capital::TEXT, status, tags, error, created_at, completed_at
		 FROM runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context) ([]model.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, strategy, symbols, initial_capital::TEXT, status, tags, error, created_at, completed_at
		 FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, runErr string, completedAt time.Time) error {
	var done *time.Time
	if !completedAt.IsZero() {
		done = &completedAt
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs
		 SET status = $2,
		     error = CASE WHEN $3 <> '' THEN $3 ELSE error END,
		     completed_at = COALESCE($4, completed_at)
		 WHERE id = $1`,
		id, string(status), runErr, done,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveResult writes the full run output in a single transaction so a
// partially persisted result is never visible.
func (s *PostgresStore) SaveResult(ctx context.Context, result *model.Result) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i, p := range result.EquityCurve {
		if _, err := tx.Exec(ctx,
			`INSERT INTO equity_points (run_id, seq, time, total, period_return, cumulative_return)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC)`,
			result.RunID, i, p.Time,
			p.Total.String(), p.PeriodReturn.String(), p.CumulativeReturn.String(),
		); err != nil {
			return fmt.Errorf("insert equity point %d: %w", i, err)
		}
	}

	for _, o := range result.Orders {
		if _, err := tx.Exec(ctx,
			`INSERT INTO orders (run_id, id, symbol, direction, quantity, kind,
			                     limit_price, stop_loss, profit_target, status,
			                     entry_time, entry_price, exit_time, exit_price, commission, realized_pnl)
			 VALUES ($1, $2, $3, $4, $5, $6,
			         $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10,
			         $11, $12::NUMERIC, $13, $14::NUMERIC, $15::NUMERIC, $16::NUMERIC)`,
			result.RunID, o.ID, o.Symbol, string(o.Direction), o.Quantity, string(o.Kind),
			o.LimitPrice.String(), o.StopLoss.String(), o.ProfitTarget.String(), string(o.Status),
			nullableTime(o.EntryTime), o.EntryPrice.String(),
			nullableTime(o.ExitTime), o.ExitPrice.String(),
			o.Commission.String(), o.RealizedPnL.String(),
		); err != nil {
			return fmt.Errorf("insert order %s: %w", o.ID, err)
		}
	}

	for i, f := range result.Fills {
		if _, err := tx.Exec(ctx,
			`INSERT INTO fills (run_id, seq, order_id, time, symbol, price, quantity, direction, commission, exchange)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8, $9::NUMERIC, $10)`,
			result.RunID, i, f.OrderID, f.Time, f.Symbol,
			f.Price.String(), f.Quantity, string(f.Direction),
			f.Commission.String(), f.Exchange,
		); err != nil {
			return fmt.Errorf("insert fill %d: %w", i, err)
		}
	}

	payload, err := json.Marshal(result.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO summaries (run_id, payload) VALUES ($1, $2)
		 ON CONFLICT (run_id) DO UPDATE SET payload = EXCLUDED.payload`,
		result.RunID, payload,
	); err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetEquityCurve(ctx context.Context, runID string) ([]model.EquityPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT time, total::TEXT, period_return::TEXT, cumulative_return::TEXT
		 FROM equity_points WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var curve []model.EquityPoint
	for rows.Next() {
		var p model.EquityPoint
		var total, ret, cum string
		if err := rows.Scan(&p.Time, &total, &ret, &cum); err != nil {
			return nil, err
		}
		p.Total, _ = decimal.NewFromString(total)
		p.PeriodReturn, _ = decimal.NewFromString(ret)
		p.CumulativeReturn, _ = decimal.NewFromString(cum)
		curve = append(curve, p)
	}
	return curve, rows.Err()
}

func (s *PostgresStore) GetOrders(ctx context.Context, runID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, symbol, direction, quantity, kind,
		        limit_price::TEXT, stop_loss::TEXT, profit_target::TEXT, status,
		        entry_time, entry_price::TEXT, exit_time, exit_price::TEXT,
		        commission::TEXT, realized_pnl::TEXT
		 FROM orders WHERE run_id = $1 ORDER BY entry_time NULLS LAST, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var direction, kind, status string
		var limitS, stopS, targetS, entryS, exitS, commS, pnlS string
		var entryAt, exitAt *time.Time

		if err := rows.Scan(&o.ID, &o.Symbol, &direction, &o.Quantity, &kind,
			&limitS, &stopS, &targetS, &status,
			&entryAt, &entryS, &exitAt, &exitS,
			&commS, &pnlS); err != nil {
			return nil, err
		}

		o.Direction = model.Direction(direction)
		o.Kind = model.OrderKind(kind)
		o.Status = model.OrderStatus(status)
		if entryAt != nil {
			o.EntryTime = *entryAt
		}
		if exitAt != nil {
			o.ExitTime = *exitAt
		}
		o.LimitPrice, _ = decimal.NewFromString(limitS)
		o.StopLoss, _ = decimal.NewFromString(stopS)
		o.ProfitTarget, _ = decimal.NewFromString(targetS)
		o.EntryPrice, _ = decimal.NewFromString(entryS)
		o.ExitPrice, _ = decimal.NewFromString(exitS)
		o.Commission, _ = decimal.NewFromString(commS)
		o.RealizedPnL, _ = decimal.NewFromString(pnlS)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) GetFills(ctx context.Context, runID string) ([]model.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT order_id, time, symbol, price::TEXT, quantity, direction, commission::TEXT, exchange
		 FROM fills WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []model.Fill
	for rows.Next() {
		var f model.Fill
		var direction, priceS, commS string
		if err := rows.Scan(&f.OrderID, &f.Time, &f.Symbol, &priceS, &f.Quantity,
			&direction, &commS, &f.Exchange); err != nil {
			return nil, err
		}
		f.Direction = model.Direction(direction)
		f.Price, _ = decimal.NewFromString(priceS)
		f.Commission, _ = decimal.NewFromString(commS)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

func (s *PostgresStore) GetSummary(ctx context.Context, runID string) (*model.Summary, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM summaries WHERE run_id = $1`, runID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("summary for run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get summary for run %s: %w", runID, err)
	}

	var summary model.Summary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return nil, fmt.Errorf("unmarshal summary for run %s: %w", runID, err)
	}
	return &summary, nil
}

func scanRun(row pgx.Row) (*model.Run, error) {
	var run model.Run
	var capS, status string
	var tags []byte
	var completedAt *time.Time

	if err := row.Scan(&run.ID, &run.Strategy, &run.Symbols, &capS, &status,
		&tags, &run.Error, &run.CreatedAt, &completedAt); err != nil {
		return nil, err
	}

	run.InitialCapital, _ = decimal.NewFromString(capS)
	run.Status = model.RunStatus(status)
	if completedAt != nil {
		run.CompletedAt = *completedAt
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &run.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	return &run, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
