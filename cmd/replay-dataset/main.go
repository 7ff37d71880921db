// Command replay-dataset builds a canonical bar dataset from the bar store
// (or a raw parquet file) and writes its quality report and metadata.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"replay/internal/config"
	"replay/internal/dataset"
	"replay/internal/domain"
	"replay/internal/store"
	"replay/internal/util"
)

func main() {
	in := flag.String("in", "", "raw bar parquet file (default: read the bar store)")
	outDir := flag.String("out", "", "output directory (default <data_dir>/datasets)")
	strict := flag.Bool("strict", false, "exit non-zero when the quality check fails")
	flag.Parse()

	cfg, err := config.LoadDefault()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if *outDir == "" {
		*outDir = filepath.Join(cfg.Storage.DataDir, "datasets")
	}
	step, err := cfg.Step()
	if err != nil {
		log.Fatalf("invalid interval: %v", err)
	}

	raw, err := loadRaw(cfg, *in)
	if err != nil {
		log.Fatalf("failed to load bars: %v", err)
	}
	if len(raw) == 0 {
		log.Fatalf("no bars for %s", cfg.Series())
	}

	quality := dataset.CheckQuality(raw, step)
	bars := dataset.Canonicalize(raw)

	base := datasetName(cfg, bars)
	canonPath := filepath.Join(*outDir, base+".parquet")
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("failed to create %s: %v", *outDir, err)
	}
	if err := store.WriteBarFile(canonPath, bars); err != nil {
		log.Fatalf("failed to write dataset: %v", err)
	}

	meta := dataset.NewMeta(cfg.Dataset.Exchange, cfg.Dataset.Symbol, cfg.Dataset.Timeframe, bars, time.Now())
	meta.StartDateConfig = cfg.Dataset.StartDate
	meta.CanonicalPath = canonPath

	qualityPath := filepath.Join(*outDir, base+"_quality.json")
	metaPath := filepath.Join(*outDir, base+"_meta.json")
	if err := dataset.WriteJSON(qualityPath, quality); err != nil {
		log.Fatalf("failed to write quality report: %v", err)
	}
	if err := dataset.WriteJSON(metaPath, meta); err != nil {
		log.Fatalf("failed to write meta: %v", err)
	}

	slog.Info("dataset built",
		"rows", meta.Rows,
		"first", meta.FirstTS,
		"last", meta.LastTS,
		"duplicates", quality.DuplicateCount,
		"missingSteps", quality.MissingStepsTotal,
		"pass", quality.Pass,
		"canonical", canonPath,
		"quality", qualityPath,
		"meta", metaPath,
	)
	if *strict && !quality.Pass {
		os.Exit(2)
	}
}

func loadRaw(cfg *config.Config, path string) ([]domain.Bar, error) {
	if path != "" {
		return store.ReadBarFile(path)
	}
	start, end, err := cfg.Range()
	if err != nil {
		return nil, err
	}
	return store.NewParquetStore(cfg.Storage.DataDir).ReadBars(context.Background(), cfg.Series(), start, end)
}

// datasetName is SYMBOL_TIMEFRAME_FIRST_LAST, e.g. BTCUSD_1h_20220323_20250101.
func datasetName(cfg *config.Config, bars []domain.Bar) string {
	sym := strings.NewReplacer("/", "", ":", "", " ", "").Replace(strings.ToUpper(cfg.Dataset.Symbol))
	return fmt.Sprintf("%s_%s_%s_%s", sym, cfg.Dataset.Timeframe,
		bars[0].Time.Format("20060102"), bars[len(bars)-1].Time.Format("20060102"))
}
