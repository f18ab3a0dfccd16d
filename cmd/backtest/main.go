// Command backtest runs a single simulation from a YAML config file and
// prints the summary statistics. Useful for strategy research without the
// HTTP service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/atmx/backtest-engine/internal/data"
	"github.com/atmx/backtest-engine/internal/driver"
	"github.com/atmx/backtest-engine/internal/event"
	"github.com/atmx/backtest-engine/internal/execution"
	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/portfolio"
	"github.com/atmx/backtest-engine/internal/risk"
	"github.com/atmx/backtest-engine/internal/strategy"
)

// Config is the YAML configuration for one run.
type Config struct {
	DataDir        string   `mapstructure:"data_dir"`
	Symbols        []string `mapstructure:"symbols"`
	InitialCapital string   `mapstructure:"initial_capital"`
	UnitSize       int64    `mapstructure:"unit_size"`
	PeriodsPerYear int      `mapstructure:"periods_per_year"`
	HeartbeatMs    int      `mapstructure:"heartbeat_ms"`
	Tiebreak       string   `mapstructure:"tiebreak"`
	Output         string   `mapstructure:"output"` // optional result JSON path

	Strategy struct {
		Name        string `mapstructure:"name"` // buy_and_hold | sma_cross
		ShortWindow int    `mapstructure:"short_window"`
		LongWindow  int    `mapstructure:"long_window"`
	} `mapstructure:"strategy"`

	Commission struct {
		Model   string `mapstructure:"model"` // zero | per_share | bps
		Rate    string `mapstructure:"rate"`
		Minimum string `mapstructure:"minimum"`
		Bps     string `mapstructure:"bps"`
	} `mapstructure:"commission"`

	Risk struct {
		MaxPerSymbol int64 `mapstructure:"max_per_symbol"`
		MaxGross     int64 `mapstructure:"max_gross"`
	} `mapstructure:"risk"`
}

func main() {
	configPath := flag.String("config", ".", "directory containing backtest.yaml")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg := loadConfig(*configPath)

	capital, err := decimal.NewFromString(cfg.InitialCapital)
	if err != nil || capital.LessThanOrEqual(decimal.Zero) {
		fatal("initial_capital must be a positive decimal", "value", cfg.InitialCapital)
	}

	bus := event.NewBus()
	bars, err := data.NewHistoricCSV(bus, cfg.DataDir, cfg.Symbols)
	if err != nil {
		fatal("load data failed", "err", err)
	}

	var strat strategy.Strategy
	switch cfg.Strategy.Name {
	case "buy_and_hold":
		strat = strategy.NewBuyAndHold(bars, bus)
	case "sma_cross":
		strat, err = strategy.NewSMACross(bars, bus, cfg.Strategy.ShortWindow, cfg.Strategy.LongWindow)
		if err != nil {
			fatal("bad strategy config", "err", err)
		}
	default:
		fatal("unknown strategy", "name", cfg.Strategy.Name)
	}

	eng := execution.NewEngine(bars, execution.Config{
		Commission: commissionFunc(cfg),
		Tiebreak:   execution.TiebreakPolicy(cfg.Tiebreak),
	})

	ledger := portfolio.NewLedger(bars, portfolio.Config{
		InitialCapital: capital,
		StartDate:      bars.StartTime(),
		UnitSize:       cfg.UnitSize,
	})
	var port portfolio.Portfolio = ledger
	if cfg.Risk.MaxPerSymbol > 0 || cfg.Risk.MaxGross > 0 {
		port = portfolio.NewRiskManaged(ledger, risk.NewLimiter(cfg.Risk.MaxPerSymbol, cfg.Risk.MaxGross))
	}

	bt := driver.New(bus, bars, strat, port, eng, driver.Options{
		Heartbeat:      time.Duration(cfg.HeartbeatMs) * time.Millisecond,
		PeriodsPerYear: cfg.PeriodsPerYear,
	})

	result, err := bt.Run(context.Background())
	if err != nil {
		slog.Error("run stopped", "err", err)
	}

	printSummary(result)

	if cfg.Output != "" {
		if err := writeResult(cfg.Output, result); err != nil {
			fatal("write output failed", "err", err)
		}
		fmt.Printf("\nfull result written to %s\n", cfg.Output)
	}

	if err != nil {
		os.Exit(1)
	}
}

func loadConfig(path string) *Config {
	viper.SetConfigName("backtest")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(path)

	viper.SetDefault("data_dir", "data")
	viper.SetDefault("initial_capital", "100000")
	viper.SetDefault("strategy.name", "buy_and_hold")
	viper.SetDefault("commission.model", "zero")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fatal("read config failed", "err", err)
		}
		slog.Warn("backtest.yaml not found, using defaults")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		fatal("decode config failed", "err", err)
	}
	if len(cfg.Symbols) == 0 {
		fatal("symbols is required")
	}
	return &cfg
}

func commissionFunc(cfg *Config) execution.CommissionFunc {
	switch cfg.Commission.Model {
	case "per_share":
		rate := mustDecimal(cfg.Commission.Rate, "commission.rate")
		min := decimal.Zero
		if cfg.Commission.Minimum != "" {
			min = mustDecimal(cfg.Commission.Minimum, "commission.minimum")
		}
		return execution.PerShareCommission(rate, min)
	case "bps":
		return execution.BasisPointsCommission(mustDecimal(cfg.Commission.Bps, "commission.bps"))
	default:
		return execution.ZeroCommission
	}
}

func printSummary(r *model.Result) {
	s := r.Summary
	fmt.Printf("run %s\n", r.RunID)
	fmt.Printf("  ticks %d  signals %d  orders %d  fills %d\n",
		r.Counters.Ticks, r.Counters.Signals, r.Counters.Orders, r.Counters.Fills)
	fmt.Printf("  total return      %.2f%%\n", s.TotalReturnPct)
	fmt.Printf("  sharpe ratio      %.4f\n", s.SharpeRatio)
	fmt.Printf("  max drawdown      %.2f%% over %d bars\n", s.MaxDrawdownPct, s.DrawdownDuration)
	fmt.Printf("  trades            %d (win rate %.2f%%)\n", s.TradeCount, s.WinRate*100)
	fmt.Printf("  profit / loss     %s / %s\n", s.TotalProfit.StringFixed(2), s.TotalLoss.StringFixed(2))
	if s.TradeCount > 0 {
		fmt.Printf("  profit factor     %.4f\n", s.ProfitFactor)
	}
}

func writeResult(path string, r *model.Result) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func mustDecimal(raw, key string) decimal.Decimal {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		fatal("bad decimal config value", "key", key, "value", raw)
	}
	return v
}

func fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}
