package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"replay/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ RunStore = (*SQLiteStore)(nil)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL,
    strategy TEXT NOT NULL,
    split TEXT NOT NULL DEFAULT '',
    exchange TEXT NOT NULL DEFAULT '',
    symbol TEXT NOT NULL DEFAULT '',
    timeframe TEXT NOT NULL DEFAULT '',
    start_ts INTEGER NOT NULL DEFAULT 0,
    end_ts INTEGER NOT NULL DEFAULT 0,
    params TEXT NOT NULL DEFAULT '{}',
    bars INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS run_metrics (
    run_id TEXT NOT NULL,
    name TEXT NOT NULL,
    value REAL NOT NULL,
    PRIMARY KEY (run_id, name),
    FOREIGN KEY(run_id) REFERENCES runs(id)
);

CREATE TABLE IF NOT EXISTS run_trades (
    run_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    side TEXT NOT NULL,
    decision_ts INTEGER NOT NULL,
    entry_ts INTEGER NOT NULL,
    entry_bar INTEGER NOT NULL,
    entry_phase TEXT NOT NULL,
    entry_raw REAL NOT NULL,
    entry_price REAL NOT NULL,
    fee_entry REAL NOT NULL,
    equity_before REAL NOT NULL,
    stop_price REAL NOT NULL,
    exit_ts INTEGER NOT NULL,
    exit_bar INTEGER NOT NULL,
    exit_phase TEXT NOT NULL,
    exit_raw REAL NOT NULL,
    exit_price REAL NOT NULL,
    fee_exit REAL NOT NULL,
    exit_reason TEXT NOT NULL,
    gross_ret REAL NOT NULL,
    fees_total REAL NOT NULL,
    net_pnl REAL NOT NULL,
    net_ret REAL NOT NULL,
    bars_held INTEGER NOT NULL,
    equity_after REAL NOT NULL,
    PRIMARY KEY (run_id, seq),
    FOREIGN KEY(run_id) REFERENCES runs(id)
);

CREATE INDEX IF NOT EXISTS idx_runs_strategy ON runs(strategy, split, created_at);
`

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer
	db.SetConnMaxLifetime(time.Hour)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts the run, its metrics and its trades in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run, trades []domain.Trade) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now().UTC()
	}
	if run.Params == "" {
		run.Params = "{}"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, created_at, strategy, split, exchange, symbol, timeframe, start_ts, end_ts, params, bars
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, run.CreatedAt.UnixMilli(), run.Strategy, run.Split,
		run.Series.Exchange, run.Series.Symbol, run.Series.Timeframe,
		unixMilli(run.Start), unixMilli(run.End), run.Params, run.Bars,
	); err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	names := make([]string, 0, len(run.Metrics))
	for k := range run.Metrics {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_metrics (run_id, name, value) VALUES (?, ?, ?)`,
			run.ID, k, run.Metrics[k],
		); err != nil {
			return fmt.Errorf("insert metric %s for run %s: %w", k, run.ID, err)
		}
	}

	for i, t := range trades {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_trades (
				run_id, seq, side, decision_ts,
				entry_ts, entry_bar, entry_phase, entry_raw, entry_price,
				fee_entry, equity_before, stop_price,
				exit_ts, exit_bar, exit_phase, exit_raw, exit_price, fee_exit, exit_reason,
				gross_ret, fees_total, net_pnl, net_ret, bars_held, equity_after
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			run.ID, i, string(t.Side), t.DecisionTime.UnixMilli(),
			t.Entry.Time.UnixMilli(), t.Entry.Bar, t.Entry.Phase.String(), t.Entry.RawPrice, t.Entry.Price,
			t.FeeEntry, t.EquityBefore, t.StopPrice,
			t.Exit.Time.UnixMilli(), t.Exit.Bar, t.Exit.Phase.String(), t.Exit.RawPrice, t.Exit.Price, t.FeeExit, string(t.Reason),
			t.GrossReturn, t.FeesTotal, t.NetPnL, t.NetReturn, t.BarsHeld, t.EquityAfter,
		); err != nil {
			return fmt.Errorf("insert trade %d for run %s: %w", i, run.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", run.ID, err)
	}
	return nil
}

const runColumns = `id, created_at, strategy, split, exchange, symbol, timeframe, start_ts, end_ts, params, bars`

// GetRun retrieves a single run by its ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	if err := s.loadMetrics(ctx, []*Run{&r}); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns runs matching f, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, f RunFilter) ([]Run, error) {
	var (
		where []string
		args  []any
	)
	if f.Strategy != "" {
		where = append(where, "strategy = ?")
		args = append(args, f.Strategy)
	}
	if f.Split != "" {
		where = append(where, "split = ?")
		args = append(args, f.Split)
	}

	q := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var res []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	ptrs := make([]*Run, len(res))
	for i := range res {
		ptrs[i] = &res[i]
	}
	if err := s.loadMetrics(ctx, ptrs); err != nil {
		return nil, err
	}
	return res, nil
}

// RunTrades returns the trades stored for a run.
func (s *SQLiteStore) RunTrades(ctx context.Context, id string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT side, decision_ts,
		       entry_ts, entry_bar, entry_phase, entry_raw, entry_price,
		       fee_entry, equity_before, stop_price,
		       exit_ts, exit_bar, exit_phase, exit_raw, exit_price, fee_exit, exit_reason,
		       gross_ret, fees_total, net_pnl, net_ret, bars_held, equity_after
		FROM run_trades WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("run trades %s: %w", id, err)
	}
	defer rows.Close()

	var res []domain.Trade
	for rows.Next() {
		var (
			t                           domain.Trade
			side, entryPhase, exitPhase string
			reason                      string
			decision, entryTS, exitTS   int64
		)
		if err := rows.Scan(&side, &decision,
			&entryTS, &t.Entry.Bar, &entryPhase, &t.Entry.RawPrice, &t.Entry.Price,
			&t.FeeEntry, &t.EquityBefore, &t.StopPrice,
			&exitTS, &t.Exit.Bar, &exitPhase, &t.Exit.RawPrice, &t.Exit.Price, &t.FeeExit, &reason,
			&t.GrossReturn, &t.FeesTotal, &t.NetPnL, &t.NetReturn, &t.BarsHeld, &t.EquityAfter); err != nil {
			return nil, err
		}
		t.Side = domain.Side(side)
		t.DecisionTime = time.UnixMilli(decision).UTC()
		t.Entry.Time = time.UnixMilli(entryTS).UTC()
		t.Entry.Phase = domain.ParsePhase(entryPhase)
		t.Exit.Time = time.UnixMilli(exitTS).UTC()
		t.Exit.Phase = domain.ParsePhase(exitPhase)
		t.Reason = domain.ExitReason(reason)
		res = append(res, t)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r                   Run
		created, start, end int64
	)
	err := sc.Scan(&r.ID, &created, &r.Strategy, &r.Split,
		&r.Series.Exchange, &r.Series.Symbol, &r.Series.Timeframe,
		&start, &end, &r.Params, &r.Bars)
	if err != nil {
		return Run{}, err
	}
	r.CreatedAt = time.UnixMilli(created).UTC()
	r.Start = fromUnixMilli(start)
	r.End = fromUnixMilli(end)
	return r, nil
}

func (s *SQLiteStore) loadMetrics(ctx context.Context, runs []*Run) error {
	for _, r := range runs {
		rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM run_metrics WHERE run_id = ?`, r.ID)
		if err != nil {
			return fmt.Errorf("metrics for run %s: %w", r.ID, err)
		}
		r.Metrics = make(map[string]float64)
		for rows.Next() {
			var (
				name string
				v    float64
			)
			if err := rows.Scan(&name, &v); err != nil {
				rows.Close()
				return err
			}
			r.Metrics[name] = v
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// unixMilli maps the zero time to 0 so open-ended ranges round-trip.
func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
