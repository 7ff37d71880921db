// Command replay-fetch downloads historical bars from Alpaca into the
// parquet bar store.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"replay/internal/config"
	"replay/internal/gather"
	"replay/internal/store"
	"replay/internal/util"
)

func main() {
	symbol := flag.String("symbol", "", "override dataset.symbol (e.g. BTC/USD or SPY)")
	timeframe := flag.String("timeframe", "", "override dataset.timeframe (e.g. 1h)")
	start := flag.String("start", "", "override dataset.start_date")
	end := flag.String("end", "", "override dataset.end_date (default now)")
	chunkDays := flag.Int("chunk-days", 30, "days per request")
	flag.Parse()

	cfg, err := config.LoadDefault()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *symbol != "" {
		cfg.Dataset.Symbol = *symbol
	}
	if *timeframe != "" {
		cfg.Dataset.Timeframe = *timeframe
	}
	if *start != "" {
		cfg.Dataset.StartDate = *start
	}
	if *end != "" {
		cfg.Dataset.EndDate = *end
	}
	from, to, err := cfg.Range()
	if err != nil {
		log.Fatalf("invalid range: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	gatherer, err := gather.NewAlpacaBarGatherer(gather.AlpacaOptions{
		APIKey:    cfg.Alpaca.APIKey,
		APISecret: cfg.Alpaca.APISecret,
		DataURL:   cfg.Alpaca.DataURL,
		Series:    cfg.Series(),
		Range:     gather.DateRange{Start: from, End: to},
		ChunkSize: util.Days(*chunkDays),
	}, pstore, logger)
	if err != nil {
		log.Fatalf("failed to create gatherer: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting replay-fetch", "series", cfg.Series().String(), "dataDir", cfg.Storage.DataDir)
	if err := gatherer.Run(ctx); err != nil {
		log.Fatalf("fetch error: %v", err)
	}
}
