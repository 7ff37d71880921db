package main

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"replay/internal/store"
)

func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
	}
	cmd.AddCommand(newRunsListCmd(a), newRunsShowCmd(a))
	return cmd
}

func newRunsListCmd(a *app) *cobra.Command {
	var f store.RunFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.NewSQLiteStore(a.cfg.Storage.SQLitePath)
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.ListRuns(cmd.Context(), f)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tSTRATEGY\tSPLIT\tBARS\tFINAL_EQUITY\tMAX_DD")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%.4f\t%.4f\n",
					r.ID, r.CreatedAt.Format(time.RFC3339), r.Strategy, r.Split, r.Bars,
					r.Metrics["final_equity"], r.Metrics["max_drawdown"])
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&f.Strategy, "strategy", "", "only runs of this strategy")
	cmd.Flags().StringVar(&f.Split, "split", "", "only runs on this split")
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "maximum rows (0 for all)")
	return cmd
}

func newRunsShowCmd(a *app) *cobra.Command {
	var trades bool
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run's parameters and metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.NewSQLiteStore(a.cfg.Storage.SQLitePath)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			r, err := db.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "run       %s\n", r.ID)
			fmt.Fprintf(w, "created   %s\n", r.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(w, "strategy  %s\n", r.Strategy)
			fmt.Fprintf(w, "split     %s\n", r.Split)
			fmt.Fprintf(w, "series    %s\n", r.Series)
			fmt.Fprintf(w, "bars      %d\n", r.Bars)
			fmt.Fprintf(w, "params    %s\n\n", r.Params)

			keys := make([]string, 0, len(r.Metrics))
			for k := range r.Metrics {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(w, "  %-16s %g\n", k, r.Metrics[k])
			}

			if !trades {
				return nil
			}
			ledger, err := db.RunTrades(ctx, r.ID)
			if err != nil {
				return err
			}
			fmt.Fprintln(w)
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ENTRY\tEXIT\tSIDE\tENTRY_PX\tEXIT_PX\tREASON\tNET_PNL")
			for _, t := range ledger {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.4f\t%.4f\t%s\t%.4f\n",
					t.Entry.Time.Format(time.RFC3339), t.Exit.Time.Format(time.RFC3339), t.Side,
					t.Entry.Price, t.Exit.Price, t.Reason, t.NetPnL)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&trades, "trades", false, "also list the run's trades")
	return cmd
}
