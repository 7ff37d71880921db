package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"replay/internal/store"
	"replay/internal/walkforward"
)

func newWalkForwardCmd(a *app) *cobra.Command {
	var (
		names    []string
		parallel int
	)
	cmd := &cobra.Command{
		Use:   "walkforward",
		Short: "Run strategies over every walk-forward split and store the reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(names) == 0 {
				names = append([]string{a.candidate()}, a.cfg.Gates.Baselines...)
			}
			strategies, err := a.resolve(names)
			if err != nil {
				return err
			}
			ec, err := a.cfg.EngineConfig()
			if err != nil {
				return err
			}
			windows, err := a.cfg.Windows()
			if err != nil {
				return err
			}
			bt := a.backtester()
			bars, err := a.readBars(ctx, bt)
			if err != nil {
				return err
			}

			db, err := store.NewSQLiteStore(a.cfg.Storage.SQLitePath)
			if err != nil {
				return err
			}
			defer db.Close()

			runner := walkforward.NewRunner(bt, walkforward.Options{
				Engine:     ec,
				Series:     a.cfg.Series(),
				ReportsDir: a.cfg.Storage.ReportsDir,
				Parallel:   parallel,
			}, store.NewReportStore(a.cfg.Storage.ReportsDir), db, a.log)

			results, err := runner.Run(ctx, bars, windows, strategies)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STRATEGY\tSPLIT\tBARS\tTRADES\tFINAL_EQUITY\tMAX_DD\tRUN")
			for _, r := range results {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.4f\t%.4f\t%s\n",
					r.Strategy, r.Window, r.Bars, r.Report.NumTrades, r.Report.FinalEquity, r.Report.MaxDrawdown, r.RunID)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reports written to %s\n", a.cfg.Storage.ReportsDir)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&names, "strategies", nil, "comma separated strategies (default: gate candidate and baselines)")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "concurrent runs (default GOMAXPROCS)")
	return cmd
}

// splitNames lists the split names for help output.
func splitNames(windows []walkforward.Window) string {
	names := make([]string, len(windows))
	for i, w := range windows {
		names[i] = w.Name
	}
	return strings.Join(names, ", ")
}
