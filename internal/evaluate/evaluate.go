// Package evaluate applies the acceptance gates to a candidate strategy's
// walk-forward metrics.
package evaluate

import (
	"fmt"

	"replay/internal/dataset"
	"replay/internal/metrics"
	"replay/internal/walkforward"
)

// Decision is the overall gate verdict.
type Decision string

const (
	Pass Decision = "PASS"
	Fail Decision = "FAIL"
)

// Gates holds the acceptance thresholds.
type Gates struct {
	MaxDrawdown float64  // Gate A: candidate max_drawdown must not exceed this
	Candidate   string   // strategy under evaluation
	Baselines   []string // Gate B: candidate must beat every one of these
}

// Baseline is one comparison row of Gate B.
type Baseline struct {
	Strategy    string  `json:"strategy"`
	FinalEquity float64 `json:"final_equity"`
	Beaten      bool    `json:"beaten"`
}

// Report is the outcome of evaluating one window.
type Report struct {
	Split       string     `json:"split"`
	Candidate   string     `json:"candidate"`
	FinalEquity float64    `json:"final_equity"`
	TotalReturn float64    `json:"total_return"`
	MaxDrawdown float64    `json:"max_drawdown"`
	NumTrades   int        `json:"num_trades"`
	Threshold   float64    `json:"max_drawdown_threshold"`
	Baselines   []Baseline `json:"baselines"`
	GateA       bool       `json:"gate_a"`
	GateB       bool       `json:"gate_b"`
	Decision    Decision   `json:"decision"`
}

// Validate checks that the gates can produce a decision.
func (g Gates) Validate() error {
	if g.MaxDrawdown <= 0 || g.MaxDrawdown > 1 {
		return fmt.Errorf("max drawdown threshold must be in (0, 1], got %v", g.MaxDrawdown)
	}
	if g.Candidate == "" {
		return fmt.Errorf("no candidate strategy")
	}
	if len(g.Baselines) == 0 {
		return fmt.Errorf("no baseline strategies")
	}
	return nil
}

// Evaluate decides the gates from the per-strategy reports of one window.
// Every strategy named by g must be present in reports.
func (g Gates) Evaluate(split string, reports map[string]metrics.Report) (*Report, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	cand, ok := reports[g.Candidate]
	if !ok {
		return nil, fmt.Errorf("no %s metrics for candidate %s", split, g.Candidate)
	}

	out := &Report{
		Split:       split,
		Candidate:   g.Candidate,
		FinalEquity: cand.FinalEquity,
		TotalReturn: cand.TotalReturn,
		MaxDrawdown: cand.MaxDrawdown,
		NumTrades:   cand.NumTrades,
		Threshold:   g.MaxDrawdown,
		GateA:       cand.MaxDrawdown <= g.MaxDrawdown,
		GateB:       true,
	}
	for _, name := range g.Baselines {
		b, ok := reports[name]
		if !ok {
			return nil, fmt.Errorf("no %s metrics for baseline %s", split, name)
		}
		beaten := cand.FinalEquity > b.FinalEquity
		out.Baselines = append(out.Baselines, Baseline{Strategy: name, FinalEquity: b.FinalEquity, Beaten: beaten})
		out.GateB = out.GateB && beaten
	}

	out.Decision = Fail
	if out.GateA && out.GateB {
		out.Decision = Pass
	}
	return out, nil
}

// LoadReports reads the metrics files written by a walk-forward run for the
// candidate and baselines of g.
func LoadReports(dir, split string, g Gates) (map[string]metrics.Report, error) {
	names := append([]string{g.Candidate}, g.Baselines...)
	out := make(map[string]metrics.Report, len(names))
	for _, name := range names {
		var r metrics.Report
		if err := dataset.ReadJSON(walkforward.MetricsPath(dir, name, split), &r); err != nil {
			return nil, err
		}
		out[name] = r
	}
	return out, nil
}
