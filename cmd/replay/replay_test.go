package main

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"replay/internal/dataset"
	"replay/internal/domain"
	"replay/internal/evaluate"
	"replay/internal/store"
)

// setup stores four days of hourly bars and returns a config path whose
// storage points at a temp dir.
func setup(t *testing.T) (cfgPath, dir string) {
	t.Helper()
	dir = t.TempDir()

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, 96)
	for i := range bars {
		c := 100 + 5*math.Sin(float64(i)/6)
		bars[i] = domain.Bar{Time: t0.Add(time.Duration(i) * time.Hour), Open: c, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 1}
	}
	series := store.Series{Exchange: "alpaca", Symbol: "BTC/USD", Timeframe: "1h"}
	if err := store.NewParquetStore(filepath.Join(dir, "data")).WriteBars(context.Background(), series, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	cfgPath = filepath.Join(dir, "replay.yaml")
	content := fmt.Sprintf(`
storage:
  data_dir: %[1]q
  sqlite_path: %[2]q
  reports_dir: %[3]q
logging:
  level: error
dataset:
  start_date: "2024-01-01"
walkforward:
  splits:
    - {name: train, start: "2024-01-01", end: "2024-01-03"}
    - {name: test, start: "2024-01-03"}
gates:
  split: test
  candidate: momentum-v1
  baselines: [always-up, yday-eq-today]
`, filepath.Join(dir, "data"), filepath.Join(dir, "replay.db"), filepath.Join(dir, "reports"))
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return cfgPath, dir
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs(args)
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("replay %s: %v", strings.Join(args, " "), err)
	}
	return out.String()
}

func TestWalkForwardGateRuns(t *testing.T) {
	for _, k := range []string{"REPLAY_CONFIG", "DATA_DIR", "SQLITE_PATH", "REPORTS_DIR", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	cfgPath, dir := setup(t)

	out := execute(t, "--config", cfgPath, "walkforward")
	for _, name := range []string{"momentum-v1", "always-up", "yday-eq-today"} {
		if !strings.Contains(out, name) {
			t.Errorf("walkforward output missing %s:\n%s", name, out)
		}
		for _, split := range []string{"train", "test"} {
			if _, err := os.Stat(filepath.Join(dir, "reports", name+"_"+split+"_metrics.json")); err != nil {
				t.Errorf("metrics for %s/%s: %v", name, split, err)
			}
		}
	}

	out = execute(t, "--config", cfgPath, "gate")
	if !strings.Contains(out, "DECISION") {
		t.Errorf("gate output missing decision:\n%s", out)
	}
	var rep evaluate.Report
	if err := dataset.ReadJSON(filepath.Join(dir, "reports", "gate_test.json"), &rep); err != nil {
		t.Fatalf("reading gate report: %v", err)
	}
	if rep.Candidate != "momentum-v1" || len(rep.Baselines) != 2 {
		t.Errorf("gate report = %+v", rep)
	}
	if (rep.Decision == evaluate.Pass) != (rep.GateA && rep.GateB) {
		t.Errorf("decision %s inconsistent with gates A=%t B=%t", rep.Decision, rep.GateA, rep.GateB)
	}

	out = execute(t, "--config", cfgPath, "runs", "list", "--split", "test")
	if got := strings.Count(out, "\n"); got != 4 {
		t.Errorf("runs list printed %d lines, want header + 3:\n%s", got, out)
	}
}

func TestRunSingleStrategy(t *testing.T) {
	for _, k := range []string{"REPLAY_CONFIG", "DATA_DIR", "SQLITE_PATH", "REPORTS_DIR", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	cfgPath, _ := setup(t)

	out := execute(t, "--config", cfgPath, "run", "--strategy", "always-up", "--split", "train")
	if !strings.Contains(out, "always-up on train (48 bars)") {
		t.Errorf("run output:\n%s", out)
	}

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--config", cfgPath, "run", "--split", "holdout"})
	if err := root.ExecuteContext(context.Background()); err == nil {
		t.Error("expected unknown split error")
	}
}
