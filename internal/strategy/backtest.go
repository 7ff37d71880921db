package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"replay/internal/domain"
	"replay/internal/engine"
	"replay/internal/metrics"
	"replay/internal/store"
)

// BacktestResult holds the ledgers and summary metrics produced by a
// backtest run.
type BacktestResult struct {
	Strategy string
	Bars     int
	Trades   []domain.Trade
	Equity   []domain.EquitySample
	Report   metrics.Report
}

// Backtester replays historical bar data through a strategy and computes
// performance metrics.
type Backtester struct {
	store    store.BarStore
	registry *Registry
	log      *slog.Logger
}

// NewBacktester creates a Backtester that reads bars from the given store and
// looks up strategies in the provided registry.
func NewBacktester(barStore store.BarStore, registry *Registry, log *slog.Logger) *Backtester {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Backtester{
		store:    barStore,
		registry: registry,
		log:      log,
	}
}

// Bars reads the bars of series within [start, end] from the store. A zero
// end reads to the last stored bar.
func (bt *Backtester) Bars(ctx context.Context, series store.Series, start, end time.Time) ([]domain.Bar, error) {
	if bt.store == nil {
		return nil, fmt.Errorf("backtester has no bar store")
	}
	bars, err := bt.store.ReadBars(ctx, series, start, end)
	if err != nil {
		return nil, fmt.Errorf("reading bars for %s: %w", series, err)
	}
	return bars, nil
}

// RunBars backtests the named strategy over bars already in memory. Names
// may carry a filter suffix, see Registry.Resolve.
func (bt *Backtester) RunBars(ctx context.Context, name string, bars []domain.Bar, cfg engine.Config) (*BacktestResult, error) {
	s, err := bt.registry.Resolve(name)
	if err != nil {
		return nil, err
	}
	return bt.RunStrategy(ctx, s, bars, cfg)
}

// RunStrategy backtests s over bars.
func (bt *Backtester) RunStrategy(ctx context.Context, s Strategy, bars []domain.Bar, cfg engine.Config) (*BacktestResult, error) {
	log := bt.log.With("strategy", s.Name())

	eng, err := engine.New(cfg, log)
	if err != nil {
		return nil, err
	}

	signals, err := s.Signals(ctx, bars)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", s.Name(), err)
	}

	res, err := eng.Run(bars, signals)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", s.Name(), err)
	}

	report := metrics.Summarize(cfg.InitialEquity, res.Trades, res.Equity)
	log.Info("backtest complete",
		"bars", len(bars),
		"trades", report.NumTrades,
		"final_equity", report.FinalEquity,
		"max_drawdown", report.MaxDrawdown,
	)

	return &BacktestResult{
		Strategy: s.Name(),
		Bars:     len(bars),
		Trades:   res.Trades,
		Equity:   res.Equity,
		Report:   report,
	}, nil
}
