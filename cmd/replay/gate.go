package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"replay/internal/dataset"
	"replay/internal/evaluate"
)

func newGateCmd(a *app) *cobra.Command {
	var (
		split   string
		jsonOut bool
		strict  bool
	)
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Apply the drawdown and baseline gates to walk-forward reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			if split == "" {
				split = a.cfg.Gates.Split
			}
			g := a.cfg.EvalGates()
			g.Candidate = a.candidate()

			dir := a.cfg.Storage.ReportsDir
			reports, err := evaluate.LoadReports(dir, split, g)
			if err != nil {
				return fmt.Errorf("loading reports (run walkforward first): %w", err)
			}
			rep, err := g.Evaluate(split, reports)
			if err != nil {
				return err
			}

			out := filepath.Join(dir, fmt.Sprintf("gate_%s.json", split))
			if err := dataset.WriteJSON(out, rep); err != nil {
				return err
			}
			a.log.Info("gate evaluated", "split", split, "candidate", g.Candidate, "decision", string(rep.Decision), "report", out)

			if jsonOut {
				if err := writeJSON(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
			} else {
				printGate(cmd.OutOrStdout(), rep)
			}
			if strict && rep.Decision != evaluate.Pass {
				return fmt.Errorf("gate decision %s", rep.Decision)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&split, "split", "", "split to evaluate (default: gates.split)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the gate report as JSON")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero unless the decision is PASS")
	return cmd
}

func printGate(w io.Writer, r *evaluate.Report) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Gates on split %q", r.Split)))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s\n", r.Candidate)
	fmt.Fprintf(w, "  final_equity  %.4f\n", r.FinalEquity)
	fmt.Fprintf(w, "  total_return  %s\n", signed("%.6f", r.TotalReturn))
	fmt.Fprintf(w, "  max_drawdown  %.6f\n", r.MaxDrawdown)
	fmt.Fprintf(w, "  num_trades    %d\n\n", r.NumTrades)

	rows := append([]evaluate.Baseline(nil), r.Baselines...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Strategy < rows[j].Strategy })
	for _, b := range rows {
		fmt.Fprintf(w, "  vs %-20s %s  %s\n", b.Strategy, dimStyle.Render(fmt.Sprintf("%.4f", b.FinalEquity)), verdict(b.Beaten))
	}

	fmt.Fprintf(w, "\nGate A  max_drawdown <= %.2f      %s\n", r.Threshold, verdict(r.GateA))
	fmt.Fprintf(w, "Gate B  beats every baseline     %s\n\n", verdict(r.GateB))

	style := failStyle
	if r.Decision == evaluate.Pass {
		style = passStyle
	}
	fmt.Fprintf(w, "DECISION %s\n", style.Render(" "+string(r.Decision)+" "))
}
