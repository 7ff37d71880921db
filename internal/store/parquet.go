package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"replay/internal/domain"
)

// Compile-time interface checks.
var _ BarStore = (*ParquetStore)(nil)
var _ LedgerStore = (*ReportStore)(nil)

// ParquetStore implements BarStore using Parquet files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for bar data.
type BarRecord struct {
	Timestamp int64   `parquet:"ts,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

func barRecord(b domain.Bar) BarRecord {
	return BarRecord{
		Timestamp: b.Time.UnixMilli(),
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
	}
}

func (r BarRecord) bar() domain.Bar {
	return domain.Bar{
		Time:   time.UnixMilli(r.Timestamp).UTC(),
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Close:  r.Close,
		Volume: r.Volume,
	}
}

// TradeRecord is the Parquet schema for one closed trade.
type TradeRecord struct {
	DecisionTS   int64   `parquet:"decision_ts,timestamp(millisecond)"`
	Side         string  `parquet:"side"`
	EntryTS      int64   `parquet:"entry_ts,timestamp(millisecond)"`
	EntryBar     int64   `parquet:"entry_bar"`
	EntryRaw     float64 `parquet:"entry_raw"`
	EntryPrice   float64 `parquet:"entry_price"`
	FeeEntry     float64 `parquet:"fee_entry"`
	EquityBefore float64 `parquet:"equity_before"`
	StopPrice    float64 `parquet:"stop_price"`
	ExitTS       int64   `parquet:"exit_ts,timestamp(millisecond)"`
	ExitBar      int64   `parquet:"exit_bar"`
	ExitPhase    string  `parquet:"exit_phase"`
	ExitRaw      float64 `parquet:"exit_raw"`
	ExitPrice    float64 `parquet:"exit_price"`
	FeeExit      float64 `parquet:"fee_exit"`
	Reason       string  `parquet:"exit_reason"`
	GrossRet     float64 `parquet:"gross_ret"`
	FeesTotal    float64 `parquet:"fees_total"`
	NetPnL       float64 `parquet:"net_pnl"`
	NetRet       float64 `parquet:"net_ret"`
	BarsHeld     int64   `parquet:"bars_held"`
	EquityAfter  float64 `parquet:"equity_after"`
}

func tradeRecord(t domain.Trade) TradeRecord {
	return TradeRecord{
		DecisionTS:   t.DecisionTime.UnixMilli(),
		Side:         string(t.Side),
		EntryTS:      t.Entry.Time.UnixMilli(),
		EntryBar:     int64(t.Entry.Bar),
		EntryRaw:     t.Entry.RawPrice,
		EntryPrice:   t.Entry.Price,
		FeeEntry:     t.FeeEntry,
		EquityBefore: t.EquityBefore,
		StopPrice:    t.StopPrice,
		ExitTS:       t.Exit.Time.UnixMilli(),
		ExitBar:      int64(t.Exit.Bar),
		ExitPhase:    t.Exit.Phase.String(),
		ExitRaw:      t.Exit.RawPrice,
		ExitPrice:    t.Exit.Price,
		FeeExit:      t.FeeExit,
		Reason:       string(t.Reason),
		GrossRet:     t.GrossReturn,
		FeesTotal:    t.FeesTotal,
		NetPnL:       t.NetPnL,
		NetRet:       t.NetReturn,
		BarsHeld:     int64(t.BarsHeld),
		EquityAfter:  t.EquityAfter,
	}
}

func (r TradeRecord) trade() domain.Trade {
	return domain.Trade{
		DecisionTime: time.UnixMilli(r.DecisionTS).UTC(),
		Side:         domain.Side(r.Side),
		Entry: domain.Fill{
			Time:     time.UnixMilli(r.EntryTS).UTC(),
			Bar:      int(r.EntryBar),
			Phase:    domain.PhaseOpen,
			RawPrice: r.EntryRaw,
			Price:    r.EntryPrice,
		},
		FeeEntry:     r.FeeEntry,
		EquityBefore: r.EquityBefore,
		StopPrice:    r.StopPrice,
		Exit: domain.Fill{
			Time:     time.UnixMilli(r.ExitTS).UTC(),
			Bar:      int(r.ExitBar),
			Phase:    domain.ParsePhase(r.ExitPhase),
			RawPrice: r.ExitRaw,
			Price:    r.ExitPrice,
		},
		FeeExit:     r.FeeExit,
		Reason:      domain.ExitReason(r.Reason),
		GrossReturn: r.GrossRet,
		FeesTotal:   r.FeesTotal,
		NetPnL:      r.NetPnL,
		NetReturn:   r.NetRet,
		BarsHeld:    int(r.BarsHeld),
		EquityAfter: r.EquityAfter,
	}
}

// EquityRecord is the Parquet schema for one equity sample.
type EquityRecord struct {
	Timestamp int64   `parquet:"ts,timestamp(millisecond)"`
	Equity    float64 `parquet:"equity"`
	Peak      float64 `parquet:"peak"`
	Drawdown  float64 `parquet:"drawdown"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bar data to Parquet files partitioned by year. Each
// year of a series produces a separate file at:
//
//	<DataDir>/<exchange>/<timeframe>/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) WriteBars(_ context.Context, series Series, bars []domain.Bar) error {
	if err := series.Validate(); err != nil {
		return err
	}
	if len(bars) == 0 {
		return nil
	}

	groups := make(map[int][]BarRecord)
	for _, b := range bars {
		y := b.Time.UTC().Year()
		groups[y] = append(groups[y], barRecord(b))
	}

	for year, records := range groups {
		path := s.barPath(series, year)

		existing, err := readParquetFile[BarRecord](path)
		if err != nil {
			return fmt.Errorf("reading existing bars for %s/%d: %w", series, year, err)
		}
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", series, year, err)
		}
	}
	return nil
}

// ReadBars reads bar data from Parquet files for the given series and time range.
func (s *ParquetStore) ReadBars(_ context.Context, series Series, start, end time.Time) ([]domain.Bar, error) {
	if err := series.Validate(); err != nil {
		return nil, err
	}

	years, err := s.years(series)
	if err != nil {
		return nil, err
	}

	var bars []domain.Bar
	for _, year := range years {
		if !start.IsZero() && year < start.UTC().Year() {
			continue
		}
		if !end.IsZero() && year > end.UTC().Year() {
			continue
		}
		records, err := readParquetFile[BarRecord](s.barPath(series, year))
		if err != nil {
			return nil, fmt.Errorf("reading bars for %s/%d: %w", series, year, err)
		}
		for _, r := range records {
			b := r.bar()
			if !start.IsZero() && b.Time.Before(start) {
				continue
			}
			if !end.IsZero() && b.Time.After(end) {
				continue
			}
			bars = append(bars, b)
		}
	}
	return bars, nil
}

// ListSeries lists every series with at least one bar file. Exchange comes
// back lower case and Symbol upper case, as they are laid out on disk.
func (s *ParquetStore) ListSeries(_ context.Context) ([]Series, error) {
	matches, err := filepath.Glob(filepath.Join(s.DataDir, "*", "*", "*", "*.parquet"))
	if err != nil {
		return nil, err
	}

	seen := make(map[Series]struct{})
	var out []Series
	for _, m := range matches {
		rel, err := filepath.Rel(s.DataDir, m)
		if err != nil {
			continue
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		sym, err := url.PathUnescape(parts[2])
		if err != nil {
			continue
		}
		ser := Series{Exchange: parts[0], Timeframe: parts[1], Symbol: sym}
		if _, ok := seen[ser]; ok {
			continue
		}
		seen[ser] = struct{}{}
		out = append(out, ser)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// years returns the partition years present for series in ascending order.
func (s *ParquetStore) years(series Series) ([]int, error) {
	entries, err := os.ReadDir(s.seriesDir(series))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var years []int
	for _, e := range entries {
		var y int
		if e.IsDir() {
			continue
		}
		if _, err := fmt.Sscanf(e.Name(), "%d.parquet", &y); err == nil {
			years = append(years, y)
		}
	}
	sort.Ints(years)
	return years, nil
}

// ---------------------------------------------------------------------------
// Single-file datasets
// ---------------------------------------------------------------------------

// WriteBarFile writes bars to a single Parquet file in the given order.
func WriteBarFile(path string, bars []domain.Bar) error {
	records := make([]BarRecord, len(bars))
	for i, b := range bars {
		records[i] = barRecord(b)
	}
	if err := writeParquetFile(path, records); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ReadBarFile reads every bar in a single Parquet file.
func ReadBarFile(path string) ([]domain.Bar, error) {
	records, err := parquet.ReadFile[BarRecord](path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	bars := make([]domain.Bar, len(records))
	for i, r := range records {
		bars[i] = r.bar()
	}
	return bars, nil
}

// ---------------------------------------------------------------------------
// LedgerStore implementation
// ---------------------------------------------------------------------------

// ReportStore writes run ledgers as Parquet files under Dir:
//
//	<Dir>/<name>_trades.parquet
//	<Dir>/<name>_equity.parquet
type ReportStore struct {
	Dir string
}

// NewReportStore creates a ReportStore rooted at dir.
func NewReportStore(dir string) *ReportStore {
	return &ReportStore{Dir: dir}
}

// TradesPath returns the trade ledger path for name.
func (s *ReportStore) TradesPath(name string) string {
	return filepath.Join(s.Dir, name+"_trades.parquet")
}

// EquityPath returns the equity ledger path for name.
func (s *ReportStore) EquityPath(name string) string {
	return filepath.Join(s.Dir, name+"_equity.parquet")
}

// WriteLedgers replaces both ledgers for name.
func (s *ReportStore) WriteLedgers(_ context.Context, name string, trades []domain.Trade, equity []domain.EquitySample) error {
	tr := make([]TradeRecord, len(trades))
	for i, t := range trades {
		tr[i] = tradeRecord(t)
	}
	if err := writeParquetFile(s.TradesPath(name), tr); err != nil {
		return fmt.Errorf("writing trades for %s: %w", name, err)
	}

	eq := make([]EquityRecord, len(equity))
	for i, e := range equity {
		eq[i] = EquityRecord{
			Timestamp: e.Time.UnixMilli(),
			Equity:    e.Equity,
			Peak:      e.Peak,
			Drawdown:  e.Drawdown,
		}
	}
	if err := writeParquetFile(s.EquityPath(name), eq); err != nil {
		return fmt.Errorf("writing equity for %s: %w", name, err)
	}
	return nil
}

// ReadTrades reads the trade ledger for name.
func (s *ReportStore) ReadTrades(_ context.Context, name string) ([]domain.Trade, error) {
	records, err := parquet.ReadFile[TradeRecord](s.TradesPath(name))
	if err != nil {
		return nil, fmt.Errorf("reading trades for %s: %w", name, err)
	}
	out := make([]domain.Trade, len(records))
	for i, r := range records {
		out[i] = r.trade()
	}
	return out, nil
}

// ReadEquity reads the equity ledger for name.
func (s *ReportStore) ReadEquity(_ context.Context, name string) ([]domain.EquitySample, error) {
	records, err := parquet.ReadFile[EquityRecord](s.EquityPath(name))
	if err != nil {
		return nil, fmt.Errorf("reading equity for %s: %w", name, err)
	}
	out := make([]domain.EquitySample, len(records))
	for i, r := range records {
		out[i] = domain.EquitySample{
			Time:     time.UnixMilli(r.Timestamp).UTC(),
			Equity:   r.Equity,
			Peak:     r.Peak,
			Drawdown: r.Drawdown,
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// seriesDir returns <dataDir>/<exchange>/<timeframe>/<SYMBOL>. The symbol is
// path-escaped so pairs such as BTC/USD stay one directory.
func (s *ParquetStore) seriesDir(series Series) string {
	sym := url.PathEscape(strings.ToUpper(series.Symbol))
	return filepath.Join(s.DataDir, strings.ToLower(series.Exchange), series.Timeframe, sym)
}

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<exchange>/<timeframe>/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(series Series, year int) string {
	return filepath.Join(s.seriesDir(series), fmt.Sprintf("%d.parquet", year))
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

// readParquetFile returns no records and no error when path does not exist.
func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by timestamp, preferring new
// records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
