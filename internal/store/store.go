// Package store defines storage interfaces for persisting and retrieving
// bars, run ledgers and run records.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"replay/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Series identifies one instrument's bars at one resolution on one venue.
type Series struct {
	Exchange  string
	Symbol    string
	Timeframe string
}

func (s Series) String() string {
	return fmt.Sprintf("%s:%s:%s", s.Exchange, s.Symbol, s.Timeframe)
}

// Validate reports whether every part of the key is set.
func (s Series) Validate() error {
	if strings.TrimSpace(s.Exchange) == "" || strings.TrimSpace(s.Symbol) == "" || strings.TrimSpace(s.Timeframe) == "" {
		return fmt.Errorf("incomplete series %q", s.String())
	}
	return nil
}

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars merges bars into the series, replacing bars with equal
	// timestamps.
	WriteBars(ctx context.Context, series Series, bars []domain.Bar) error

	// ReadBars returns the series' bars within [start, end] in ascending
	// order. A zero end means no upper bound.
	ReadBars(ctx context.Context, series Series, start, end time.Time) ([]domain.Bar, error)

	// ListSeries returns every series with stored bars.
	ListSeries(ctx context.Context) ([]Series, error)
}

// LedgerStore persists the trade and equity ledgers of named runs.
type LedgerStore interface {
	WriteLedgers(ctx context.Context, name string, trades []domain.Trade, equity []domain.EquitySample) error
	ReadTrades(ctx context.Context, name string) ([]domain.Trade, error)
	ReadEquity(ctx context.Context, name string) ([]domain.EquitySample, error)
}

// Run is the registry record of one completed backtest.
type Run struct {
	ID        string
	CreatedAt time.Time
	Strategy  string
	Split     string
	Series    Series
	Start     time.Time
	End       time.Time
	Params    string // engine configuration as JSON
	Bars      int
	Metrics   map[string]float64
}

// RunFilter narrows ListRuns. Empty fields match everything.
type RunFilter struct {
	Strategy string
	Split    string
	Limit    int
}

// RunStore records runs and their trades.
type RunStore interface {
	// SaveRun inserts run with its metrics and trades. An empty run.ID is
	// replaced with a new identifier.
	SaveRun(ctx context.Context, run *Run, trades []domain.Trade) error

	// GetRun returns the run with id, or ErrNotFound.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, f RunFilter) ([]Run, error)

	// RunTrades returns the trades recorded for a run in ledger order.
	RunTrades(ctx context.Context, id string) ([]domain.Trade, error)
}
