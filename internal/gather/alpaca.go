package gather

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"replay/internal/dataset"
	"replay/internal/domain"
	"replay/internal/store"
	"replay/internal/util"
)

// ---------------------------------------------------------------------------
// Compile-time interface checks
// ---------------------------------------------------------------------------

var _ Gatherer = (*AlpacaBarGatherer)(nil)
var _ barSource = (*marketdata.Client)(nil)

// barSource is the subset of the Alpaca market-data client the gatherer
// uses.
type barSource interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
	GetCryptoBars(symbol string, req marketdata.GetCryptoBarsRequest) ([]marketdata.CryptoBar, error)
}

// AlpacaOptions configures an AlpacaBarGatherer.
type AlpacaOptions struct {
	APIKey    string
	APISecret string
	DataURL   string

	Series store.Series
	Range  DateRange

	ChunkSize       time.Duration // span of one request, default 30 days
	RateLimitPerMin int           // default 180
	MaxAttempts     int           // per chunk, default 3
	RetryDelay      time.Duration // first backoff, default 1s
}

// ---------------------------------------------------------------------------
// AlpacaBarGatherer fetches historical bars for one series from the Alpaca API.
// ---------------------------------------------------------------------------

// AlpacaBarGatherer fetches bars for one symbol and timeframe in date
// chunks and merges them into a BarStore. Symbols containing "/" are
// fetched from the crypto endpoint, everything else as US equities.
type AlpacaBarGatherer struct {
	client    barSource
	store     store.BarStore
	series    store.Series
	rng       DateRange
	timeframe marketdata.TimeFrame
	chunk     time.Duration
	pacer     *util.Pacer
	backoff   util.Backoff
	log       *slog.Logger
}

// NewAlpacaBarGatherer creates an AlpacaBarGatherer configured with the given
// Alpaca credentials and target store.
func NewAlpacaBarGatherer(opts AlpacaOptions, s store.BarStore, log *slog.Logger) (*AlpacaBarGatherer, error) {
	clientOpts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		clientOpts.BaseURL = opts.DataURL
	}
	return newAlpacaBarGatherer(marketdata.NewClient(clientOpts), opts, s, log)
}

func newAlpacaBarGatherer(client barSource, opts AlpacaOptions, s store.BarStore, log *slog.Logger) (*AlpacaBarGatherer, error) {
	if err := opts.Series.Validate(); err != nil {
		return nil, err
	}
	tf, err := alpacaTimeFrame(opts.Series.Timeframe)
	if err != nil {
		return nil, err
	}
	if opts.Range.Start.IsZero() {
		return nil, fmt.Errorf("start date is required")
	}
	if opts.Range.End.IsZero() {
		opts.Range.End = time.Now().UTC()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 30 * 24 * time.Hour
	}
	if opts.RateLimitPerMin <= 0 {
		opts.RateLimitPerMin = 180
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	return &AlpacaBarGatherer{
		client:    client,
		store:     s,
		series:    opts.Series,
		rng:       opts.Range,
		timeframe: tf,
		chunk:     opts.ChunkSize,
		pacer:     util.NewPacer(opts.RateLimitPerMin),
		backoff:   util.Backoff{Attempts: opts.MaxAttempts, Base: opts.RetryDelay, Max: time.Minute},
		log:       log.With("gatherer", "alpaca-bars", "series", opts.Series.String()),
	}, nil
}

// Name returns the gatherer identifier.
func (g *AlpacaBarGatherer) Name() string { return "alpaca-bars" }

// Run fetches every chunk of the range and writes each one to the store as
// it arrives, so an interrupted run keeps what it already fetched.
func (g *AlpacaBarGatherer) Run(ctx context.Context) error {
	chunks := g.rng.Chunks(g.chunk)
	g.log.Info("starting fetch",
		"start", g.rng.Start.Format(time.RFC3339),
		"end", g.rng.End.Format(time.RFC3339),
		"chunks", len(chunks),
	)

	total := 0
	for i, c := range chunks {
		var bars []domain.Bar
		err := util.Retry(ctx, g.backoff, func(attempt int) error {
			if err := g.pacer.Wait(ctx); err != nil {
				return util.Permanent(err)
			}
			var ferr error
			bars, ferr = g.fetch(c)
			if ferr != nil {
				g.log.Warn("chunk request failed", "chunk", i+1, "attempt", attempt, "error", ferr)
			}
			return ferr
		})
		if err != nil {
			return fmt.Errorf("fetching chunk %d/%d (%s - %s): %w",
				i+1, len(chunks), c.Start.Format(time.RFC3339), c.End.Format(time.RFC3339), err)
		}

		bars = dataset.Canonicalize(bars)
		if err := g.store.WriteBars(ctx, g.series, bars); err != nil {
			return fmt.Errorf("storing chunk %d/%d: %w", i+1, len(chunks), err)
		}
		total += len(bars)

		g.log.Info("chunk stored",
			"chunk", fmt.Sprintf("%d/%d", i+1, len(chunks)),
			"bars", len(bars),
			"total", total,
		)
	}

	g.log.Info("fetch complete", "bars", total)
	return nil
}

// fetch requests one chunk from the crypto or stock endpoint.
func (g *AlpacaBarGatherer) fetch(r DateRange) ([]domain.Bar, error) {
	if isCrypto(g.series.Symbol) {
		cbs, err := g.client.GetCryptoBars(g.series.Symbol, marketdata.GetCryptoBarsRequest{
			TimeFrame: g.timeframe,
			Start:     r.Start,
			End:       r.End,
		})
		if err != nil {
			return nil, fmt.Errorf("GetCryptoBars: %w", err)
		}
		bars := make([]domain.Bar, len(cbs))
		for i, cb := range cbs {
			bars[i] = domain.Bar{
				Time:   cb.Timestamp.UTC(),
				Open:   cb.Open,
				High:   cb.High,
				Low:    cb.Low,
				Close:  cb.Close,
				Volume: cb.Volume,
			}
		}
		return bars, nil
	}

	sbs, err := g.client.GetBars(strings.ToUpper(g.series.Symbol), marketdata.GetBarsRequest{
		TimeFrame: g.timeframe,
		Start:     r.Start,
		End:       r.End,
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars: %w", err)
	}
	bars := make([]domain.Bar, len(sbs))
	for i, sb := range sbs {
		bars[i] = domain.Bar{
			Time:   sb.Timestamp.UTC(),
			Open:   sb.Open,
			High:   sb.High,
			Low:    sb.Low,
			Close:  sb.Close,
			Volume: float64(sb.Volume),
		}
	}
	return bars, nil
}

func isCrypto(symbol string) bool {
	return strings.Contains(symbol, "/")
}

// alpacaTimeFrame maps a timeframe string such as "1h" to the SDK type.
func alpacaTimeFrame(tf string) (marketdata.TimeFrame, error) {
	d, err := util.ParseTimeframe(tf)
	if err != nil {
		return marketdata.TimeFrame{}, err
	}
	switch {
	case d%(24*time.Hour) == 0:
		return marketdata.NewTimeFrame(int(d/(24*time.Hour)), marketdata.Day), nil
	case d%time.Hour == 0:
		return marketdata.NewTimeFrame(int(d/time.Hour), marketdata.Hour), nil
	default:
		return marketdata.NewTimeFrame(int(d/time.Minute), marketdata.Min), nil
	}
}
