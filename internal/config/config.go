package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"replay/internal/engine"
	"replay/internal/evaluate"
	"replay/internal/store"
	"replay/internal/util"
	"replay/internal/walkforward"
)

// DefaultPath is used when REPLAY_CONFIG is unset.
const DefaultPath = "config/replay.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for replay.
type Config struct {
	Storage     Storage     `yaml:"storage"`
	Logging     Logging     `yaml:"logging"`
	Alpaca      Alpaca      `yaml:"alpaca"`
	Dataset     Dataset     `yaml:"dataset"`
	Engine      Engine      `yaml:"engine"`
	Filters     Filters     `yaml:"filters"`
	WalkForward WalkForward `yaml:"walkforward"`
	Gates       Gates       `yaml:"gates"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	ReportsDir string `yaml:"reports_dir"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Alpaca holds credentials and the endpoint for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// Dataset selects the bar series every command works on.
type Dataset struct {
	Exchange  string `yaml:"exchange"`
	Symbol    string `yaml:"symbol"`
	Timeframe string `yaml:"timeframe"`
	StartDate string `yaml:"start_date"`
	EndDate   string `yaml:"end_date"`

	// Interval is the expected step between bars for quality checks.
	// Empty means the timeframe's duration.
	Interval string `yaml:"interval"`
}

// Engine mirrors engine.Config in YAML form.
type Engine struct {
	FeeTaker      float64 `yaml:"fee_taker"`
	SlippageSide  float64 `yaml:"slippage_side"`
	StopLossPct   float64 `yaml:"stop_loss_pct"`
	InitialEquity float64 `yaml:"initial_equity"`
	HoldMinBars   int     `yaml:"hold_min_bars"`
	OnePosition   bool    `yaml:"one_position"`
	FillTiming    string  `yaml:"fill_timing"`
}

// Filters configures signal post-processing.
type Filters struct {
	ConfirmBars int `yaml:"confirm_bars"`
	HoldBars    int `yaml:"hold_bars"`
}

// WalkForward lists the chronological evaluation windows.
type WalkForward struct {
	Splits []Split `yaml:"splits"`
}

// Split is one named [start, end) window. An empty End is open ended.
type Split struct {
	Name  string `yaml:"name"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// Gates configures the acceptance decision.
type Gates struct {
	MaxDrawdown float64  `yaml:"max_drawdown"`
	Split       string   `yaml:"split"`
	Candidate   string   `yaml:"candidate"`
	Baselines   []string `yaml:"baselines"`
}

// Default returns the configuration used when a field is absent from the
// file.
func Default() *Config {
	ec := engine.DefaultConfig()
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/replay.db",
			ReportsDir: "reports",
		},
		Logging: Logging{Level: "info", Format: "json"},
		Alpaca:  Alpaca{DataURL: "https://data.alpaca.markets"},
		Dataset: Dataset{
			Exchange:  "alpaca",
			Symbol:    "BTC/USD",
			Timeframe: "1h",
			StartDate: "2021-01-01",
		},
		Engine: Engine{
			FeeTaker:      ec.FeeTaker,
			SlippageSide:  ec.SlippageSide,
			StopLossPct:   ec.StopLossPct,
			InitialEquity: ec.InitialEquity,
			HoldMinBars:   ec.HoldMinBars,
			OnePosition:   ec.OnePosition,
			FillTiming:    string(ec.Timing),
		},
		Filters: Filters{ConfirmBars: 1, HoldBars: 0},
		WalkForward: WalkForward{Splits: []Split{
			{Name: "train", Start: "2021-01-01", End: "2023-01-01"},
			{Name: "validate", Start: "2023-01-01", End: "2024-01-01"},
			{Name: "test", Start: "2024-01-01"},
		}},
		Gates: Gates{
			MaxDrawdown: 0.10,
			Split:       "test",
			Candidate:   "momentum-v1",
			Baselines:   []string{"always-up", "yday-eq-today"},
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path over the
// defaults, then applies environment variable overrides and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault loads the file named by REPLAY_CONFIG, or DefaultPath. When
// neither exists the built-in defaults are used with env overrides applied.
func LoadDefault() (*Config, error) {
	path := os.Getenv("REPLAY_CONFIG")
	if path == "" {
		path = DefaultPath
		if _, err := os.Stat(path); os.IsNotExist(err) {
			cfg := Default()
			applyEnvOverrides(cfg)
			return cfg, cfg.Validate()
		}
	}
	return Load(path)
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("REPORTS_DIR"); v != "" {
		cfg.Storage.ReportsDir = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	// Standard Alpaca env vars, the names the SDK reads itself.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Derived values
// ---------------------------------------------------------------------------

// Validate checks the sections whose errors would otherwise surface late.
func (c *Config) Validate() error {
	if _, err := c.EngineConfig(); err != nil {
		return err
	}
	if _, err := c.Step(); err != nil {
		return fmt.Errorf("dataset: %w", err)
	}
	if _, _, err := c.Range(); err != nil {
		return fmt.Errorf("dataset: %w", err)
	}
	if c.Filters.ConfirmBars < 1 {
		return fmt.Errorf("filters.confirm_bars must be >= 1, got %d", c.Filters.ConfirmBars)
	}
	if c.Filters.HoldBars < 0 {
		return fmt.Errorf("filters.hold_bars must be >= 0, got %d", c.Filters.HoldBars)
	}
	windows, err := c.Windows()
	if err != nil {
		return err
	}
	found := false
	for _, w := range windows {
		found = found || w.Name == c.Gates.Split
	}
	if !found {
		return fmt.Errorf("gates.split %q is not a walkforward split", c.Gates.Split)
	}
	if err := c.EvalGates().Validate(); err != nil {
		return fmt.Errorf("gates: %w", err)
	}
	return nil
}

// EngineConfig converts the engine section into a validated engine.Config.
func (c *Config) EngineConfig() (engine.Config, error) {
	timing, err := engine.ParseFillTiming(c.Engine.FillTiming)
	if err != nil {
		return engine.Config{}, &engine.ConfigError{Field: "fill_timing", Value: c.Engine.FillTiming, Reason: err.Error()}
	}
	ec := engine.Config{
		FeeTaker:      c.Engine.FeeTaker,
		SlippageSide:  c.Engine.SlippageSide,
		StopLossPct:   c.Engine.StopLossPct,
		InitialEquity: c.Engine.InitialEquity,
		HoldMinBars:   c.Engine.HoldMinBars,
		OnePosition:   c.Engine.OnePosition,
		Timing:        timing,
	}
	if err := ec.Validate(); err != nil {
		return engine.Config{}, err
	}
	return ec, nil
}

// Step returns the expected bar interval.
func (c *Config) Step() (time.Duration, error) {
	if c.Dataset.Interval != "" {
		return util.ParseTimeframe(c.Dataset.Interval)
	}
	return util.ParseTimeframe(c.Dataset.Timeframe)
}

// Range returns the dataset's configured start and end dates. A zero end
// means up to now.
func (c *Config) Range() (start, end time.Time, err error) {
	if start, err = util.ParseDate(c.Dataset.StartDate); err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end, err = util.ParseDate(c.Dataset.EndDate); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// Series returns the dataset's storage key.
func (c *Config) Series() store.Series {
	return store.Series{
		Exchange:  c.Dataset.Exchange,
		Symbol:    c.Dataset.Symbol,
		Timeframe: c.Dataset.Timeframe,
	}
}

// Windows converts the configured splits into walk-forward windows.
func (c *Config) Windows() ([]walkforward.Window, error) {
	out := make([]walkforward.Window, 0, len(c.WalkForward.Splits))
	for _, s := range c.WalkForward.Splits {
		start, err := util.ParseDate(s.Start)
		if err != nil {
			return nil, fmt.Errorf("split %s: %w", s.Name, err)
		}
		end, err := util.ParseDate(s.End)
		if err != nil {
			return nil, fmt.Errorf("split %s: %w", s.Name, err)
		}
		out = append(out, walkforward.Window{Name: s.Name, Start: start, End: end})
	}
	if err := walkforward.Validate(out); err != nil {
		return nil, fmt.Errorf("walkforward: %w", err)
	}
	return out, nil
}

// EvalGates returns the acceptance gates.
func (c *Config) EvalGates() evaluate.Gates {
	return evaluate.Gates{
		MaxDrawdown: c.Gates.MaxDrawdown,
		Candidate:   c.Gates.Candidate,
		Baselines:   c.Gates.Baselines,
	}
}
