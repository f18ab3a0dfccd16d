package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/event"
	"github.com/atmx/backtest-engine/internal/model"
)

// HistoricCSV serves bars loaded from per-symbol CSV files in the layout
// <dir>/<symbol>.csv with a Date,Open,High,Low,Close,Adj Close,Volume header
// (the common daily-bar export format). All symbols advance in lockstep.
type HistoricCSV struct {
	*StaticHandler
}

// NewHistoricCSV loads one CSV file per symbol and returns a handler over
// them. Rows must be in ascending date order.
func NewHistoricCSV(bus *event.Bus, dir string, symbols []string) (*HistoricCSV, error) {
	series := make(map[string][]model.Bar, len(symbols))
	for _, sym := range symbols {
		path := filepath.Join(dir, sym+".csv")
		bars, err := loadBars(path, sym)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		if len(bars) == 0 {
			return nil, fmt.Errorf("load %s: no rows", path)
		}
		series[sym] = bars
		slog.Info("loaded bars", "symbol", sym, "count", len(bars))
	}
	inner, err := NewStaticHandler(bus, series)
	if err != nil {
		return nil, err
	}
	return &HistoricCSV{StaticHandler: inner}, nil
}

func loadBars(path, symbol string) ([]model.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 7

	// Skip header.
	if _, err := r.Read(); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	var bars []model.Bar
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		bar, err := parseBar(rec, symbol)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", len(bars)+2, err)
		}
		if len(bars) > 0 && !bar.Time.After(bars[len(bars)-1].Time) {
			return nil, fmt.Errorf("row %d: timestamps not strictly ascending", len(bars)+2)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseBar(rec []string, symbol string) (model.Bar, error) {
	ts, err := time.Parse("2006-01-02", rec[0])
	if err != nil {
		// Fall back to a full timestamp for intraday bars.
		ts, err = time.Parse(time.RFC3339, rec[0])
		if err != nil {
			return model.Bar{}, fmt.Errorf("parse date %q: %w", rec[0], err)
		}
	}

	prices := make([]decimal.Decimal, 5)
	for i, raw := range rec[1:6] {
		p, err := decimal.NewFromString(raw)
		if err != nil {
			return model.Bar{}, fmt.Errorf("parse price %q: %w", raw, err)
		}
		prices[i] = p
	}

	vol, err := decimal.NewFromString(rec[6])
	if err != nil {
		return model.Bar{}, fmt.Errorf("parse volume %q: %w", rec[6], err)
	}

	return model.Bar{
		Symbol:   symbol,
		Time:     ts,
		Open:     prices[0],
		High:     prices[1],
		Low:      prices[2],
		Close:    prices[3],
		AdjClose: prices[4],
		Volume:   vol.IntPart(),
	}, nil
}
