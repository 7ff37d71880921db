package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"replay/internal/metrics"
	"replay/internal/store"
	"replay/internal/walkforward"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		name     string
		split    string
		save     bool
		jsonOut  bool
		parallel int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Backtest one strategy over the dataset or one split",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if name == "" {
				name = a.candidate()
			}
			strategies, err := a.resolve([]string{name})
			if err != nil {
				return err
			}
			ec, err := a.cfg.EngineConfig()
			if err != nil {
				return err
			}

			bt := a.backtester()
			bars, err := a.readBars(ctx, bt)
			if err != nil {
				return err
			}
			window := walkforward.Window{Name: "all", Start: bars[0].Time}
			if split != "" {
				if window, err = a.window(split); err != nil {
					return err
				}
			}

			var ledgers store.LedgerStore
			var runs store.RunStore
			if save {
				ledgers = store.NewReportStore(a.cfg.Storage.ReportsDir)
				db, err := store.NewSQLiteStore(a.cfg.Storage.SQLitePath)
				if err != nil {
					return err
				}
				defer db.Close()
				runs = db
			}

			opts := walkforward.Options{Engine: ec, Series: a.cfg.Series(), Parallel: parallel}
			if save {
				opts.ReportsDir = a.cfg.Storage.ReportsDir
			}
			results, err := walkforward.NewRunner(bt, opts, ledgers, runs, a.log).
				Run(ctx, bars, []walkforward.Window{window}, strategies)
			if err != nil {
				return err
			}

			res := results[0]
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), res.Report)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s on %s (%d bars)", res.Strategy, res.Window, res.Bars)
			if res.RunID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " run %s", res.RunID)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			printReport(cmd.OutOrStdout(), res.Report)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "strategy", "", "strategy name, optionally with a +c<N>h<M> filter suffix (default: gate candidate)")
	cmd.Flags().StringVar(&split, "split", "", "restrict to one walk-forward split")
	cmd.Flags().BoolVar(&save, "save", false, "write ledgers, metrics and a run record")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the metrics report as JSON")
	cmd.Flags().IntVar(&parallel, "parallel", 1, "concurrent runs")
	return cmd
}

// window returns the configured split with the given name.
func (a *app) window(name string) (walkforward.Window, error) {
	windows, err := a.cfg.Windows()
	if err != nil {
		return walkforward.Window{}, err
	}
	for _, w := range windows {
		if w.Name == name {
			return w, nil
		}
	}
	return walkforward.Window{}, fmt.Errorf("unknown split %q (have %s)", name, splitNames(windows))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReport(w io.Writer, r metrics.Report) {
	fmt.Fprintf(w, "  initial_equity  %.4f\n", r.InitialEquity)
	fmt.Fprintf(w, "  final_equity    %.4f\n", r.FinalEquity)
	fmt.Fprintf(w, "  ending_equity   %.4f\n", r.EndingEquity)
	fmt.Fprintf(w, "  total_return    %s\n", signed("%.6f", r.TotalReturn))
	fmt.Fprintf(w, "  max_drawdown    %.6f\n", r.MaxDrawdown)
	fmt.Fprintf(w, "  sharpe          %.4f\n", r.Sharpe)
	fmt.Fprintf(w, "  trades          %d (wins %d, win_rate %.4f)\n", r.NumTrades, r.NumWins, r.WinRate)
	fmt.Fprintf(w, "  profit_factor   %.4f\n", r.ProfitFactor)
	fmt.Fprintf(w, "  exits           signal %d, stop %d, eod %d\n", r.ExitsSignal, r.ExitsStop, r.ExitsEOD)
	fmt.Fprintf(w, "  fees            total %.4f, avg %.4f\n", r.TotalFees, r.AvgFees)
}
