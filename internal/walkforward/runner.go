package walkforward

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"replay/internal/dataset"
	"replay/internal/domain"
	"replay/internal/engine"
	"replay/internal/metrics"
	"replay/internal/store"
	"replay/internal/strategy"
)

// RunName is the artifact prefix of one (strategy, window) run.
func RunName(strategy, window string) string {
	return strategy + "_" + window
}

// MetricsPath is where the metrics report of a run is written under dir.
func MetricsPath(dir, strategy, window string) string {
	return filepath.Join(dir, RunName(strategy, window)+"_metrics.json")
}

// Options configures a Runner.
type Options struct {
	Engine     engine.Config
	Series     store.Series // recorded on run records only
	ReportsDir string       // metrics JSON destination; empty skips it
	Parallel   int          // concurrent runs, default GOMAXPROCS
}

// Result is the outcome of one (strategy, window) run.
type Result struct {
	Strategy string
	Window   string
	RunID    string
	Bars     int
	Report   metrics.Report
}

// Runner backtests every strategy on every window. Runs share nothing but
// the read-only bar slice, so they execute concurrently.
type Runner struct {
	bt      *strategy.Backtester
	opts    Options
	ledgers store.LedgerStore
	runs    store.RunStore
	log     *slog.Logger
}

// NewRunner creates a Runner. ledgers and runs may be nil to skip the
// corresponding outputs.
func NewRunner(bt *strategy.Backtester, opts Options, ledgers store.LedgerStore, runs store.RunStore, log *slog.Logger) *Runner {
	if opts.Parallel <= 0 {
		opts.Parallel = runtime.GOMAXPROCS(0)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		bt:      bt,
		opts:    opts,
		ledgers: ledgers,
		runs:    runs,
		log:     log.With("component", "walkforward"),
	}
}

// Run splits bars into windows and runs each strategy on each window.
// Results are ordered strategy first, then window, as given. The first
// failing run cancels the rest.
func (r *Runner) Run(ctx context.Context, bars []domain.Bar, windows []Window, strategies []strategy.Strategy) ([]Result, error) {
	segments, err := Split(bars, windows)
	if err != nil {
		return nil, err
	}
	if err := r.opts.Engine.Validate(); err != nil {
		return nil, err
	}
	params, err := json.Marshal(r.opts.Engine)
	if err != nil {
		return nil, fmt.Errorf("encoding engine config: %w", err)
	}

	r.log.Info("starting walk-forward",
		"strategies", len(strategies),
		"windows", len(segments),
		"parallel", r.opts.Parallel,
	)

	results := make([]Result, len(strategies)*len(segments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Parallel)

	for si, s := range strategies {
		for wi, seg := range segments {
			idx := si*len(segments) + wi
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				res, err := r.runOne(gctx, s, seg, string(params))
				if err != nil {
					return fmt.Errorf("%s on %s: %w", s.Name(), seg.Window.Name, err)
				}
				results[idx] = res
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	r.log.Info("walk-forward complete", "runs", len(results))
	return results, nil
}

func (r *Runner) runOne(ctx context.Context, s strategy.Strategy, seg Segment, params string) (Result, error) {
	start := time.Now()
	res, err := r.bt.RunStrategy(ctx, s, seg.Bars, r.opts.Engine)
	if err != nil {
		return Result{}, err
	}
	name := RunName(s.Name(), seg.Window.Name)

	if r.ledgers != nil {
		if err := r.ledgers.WriteLedgers(ctx, name, res.Trades, res.Equity); err != nil {
			return Result{}, err
		}
	}
	if r.opts.ReportsDir != "" {
		if err := dataset.WriteJSON(MetricsPath(r.opts.ReportsDir, s.Name(), seg.Window.Name), res.Report); err != nil {
			return Result{}, err
		}
	}

	out := Result{
		Strategy: s.Name(),
		Window:   seg.Window.Name,
		Bars:     res.Bars,
		Report:   res.Report,
	}
	if r.runs != nil {
		run := &store.Run{
			Strategy: s.Name(),
			Split:    seg.Window.Name,
			Series:   r.opts.Series,
			Start:    seg.Window.Start,
			End:      seg.Window.End,
			Params:   params,
			Bars:     res.Bars,
			Metrics:  res.Report.Map(),
		}
		if err := r.runs.SaveRun(ctx, run, res.Trades); err != nil {
			return Result{}, err
		}
		out.RunID = run.ID
	}

	r.log.Info("run stored",
		"run", name,
		"run_id", out.RunID,
		"bars", res.Bars,
		"final_equity", res.Report.FinalEquity,
		"max_drawdown", res.Report.MaxDrawdown,
		"elapsed", time.Since(start).String(),
	)
	return out, nil
}
