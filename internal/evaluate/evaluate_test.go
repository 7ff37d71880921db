package evaluate

import (
	"testing"

	"replay/internal/dataset"
	"replay/internal/metrics"
	"replay/internal/walkforward"
)

func gates() Gates {
	return Gates{MaxDrawdown: 0.10, Candidate: "v2", Baselines: []string{"always-up", "yday-eq-today"}}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name         string
		candDD       float64
		candEq       float64
		wantA, wantB bool
		want         Decision
	}{
		{"both pass", 0.05, 1200, true, true, Pass},
		{"drawdown at threshold", 0.10, 1200, true, true, Pass},
		{"drawdown too deep", 0.11, 1200, false, true, Fail},
		{"ties a baseline", 0.05, 1100, true, false, Fail},
		{"loses to a baseline", 0.05, 1050, true, false, Fail},
		{"both fail", 0.2, 900, false, false, Fail},
	}
	for _, tt := range tests {
		reports := map[string]metrics.Report{
			"v2":            {FinalEquity: tt.candEq, MaxDrawdown: tt.candDD},
			"always-up":     {FinalEquity: 1100},
			"yday-eq-today": {FinalEquity: 1000},
		}
		got, err := gates().Evaluate("test", reports)
		if err != nil {
			t.Fatalf("%s: Evaluate: %v", tt.name, err)
		}
		if got.GateA != tt.wantA || got.GateB != tt.wantB || got.Decision != tt.want {
			t.Errorf("%s: got A=%t B=%t %s, want A=%t B=%t %s",
				tt.name, got.GateA, got.GateB, got.Decision, tt.wantA, tt.wantB, tt.want)
		}
	}
}

func TestEvaluateMissingReports(t *testing.T) {
	g := gates()
	if _, err := g.Evaluate("test", map[string]metrics.Report{"always-up": {}, "yday-eq-today": {}}); err == nil {
		t.Error("expected missing candidate error")
	}
	if _, err := g.Evaluate("test", map[string]metrics.Report{"v2": {}, "always-up": {}}); err == nil {
		t.Error("expected missing baseline error")
	}

	g.Baselines = nil
	if _, err := g.Evaluate("test", map[string]metrics.Report{"v2": {}}); err == nil {
		t.Error("expected no baselines error")
	}
	g = gates()
	g.MaxDrawdown = 0
	if err := g.Validate(); err == nil {
		t.Error("expected threshold error")
	}
}

func TestLoadReports(t *testing.T) {
	dir := t.TempDir()
	for name, eq := range map[string]float64{"v2": 1300, "always-up": 1100, "yday-eq-today": 1000} {
		r := metrics.Report{InitialEquity: 1000, FinalEquity: eq, MaxDrawdown: 0.04, NumTrades: 7}
		if err := dataset.WriteJSON(walkforward.MetricsPath(dir, name, "test"), r); err != nil {
			t.Fatalf("WriteJSON: %v", err)
		}
	}

	reports, err := LoadReports(dir, "test", gates())
	if err != nil {
		t.Fatalf("LoadReports: %v", err)
	}
	rep, err := gates().Evaluate("test", reports)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if rep.Decision != Pass || rep.NumTrades != 7 {
		t.Errorf("report = %+v", rep)
	}

	if _, err := LoadReports(dir, "validate", gates()); err == nil {
		t.Error("expected error for missing split files")
	}
}
