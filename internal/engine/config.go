package engine

import (
	"fmt"
	"math"
)

// FillTiming selects when signal-driven orders are filled.
type FillTiming string

const (
	// TimingNextOpen fills a decision taken at the close of bar t at the open
	// of bar t+1. On the final bar, entries fill at that bar's open and exits
	// at its close; no entry is taken on a final bar that already had an exit.
	TimingNextOpen FillTiming = "next_open"

	// TimingSameOpen fills the signal recorded for bar t at the open of bar t,
	// with signal exits gated by HoldMinBars. This matches runs produced by
	// the earlier immediate-fill engine.
	TimingSameOpen FillTiming = "same_open"
)

// ParseFillTiming converts a config string into a FillTiming. The empty
// string selects TimingNextOpen.
func ParseFillTiming(s string) (FillTiming, error) {
	switch FillTiming(s) {
	case "", TimingNextOpen:
		return TimingNextOpen, nil
	case TimingSameOpen:
		return TimingSameOpen, nil
	}
	return "", fmt.Errorf("unknown fill timing %q", s)
}

// Config holds the execution frictions and rules for one run.
type Config struct {
	FeeTaker      float64    `json:"fee_taker"`      // fraction of equity charged on every leg
	SlippageSide  float64    `json:"slippage_side"`  // fractional price penalty on every fill
	StopLossPct   float64    `json:"stop_loss_pct"`  // stop distance from entry, in (0, 1)
	InitialEquity float64    `json:"initial_equity"` // starting account value
	HoldMinBars   int        `json:"hold_min_bars"`  // bars since entry before a signal exit is allowed
	OnePosition   bool       `json:"one_position"`   // must be true
	Timing        FillTiming `json:"fill_timing"`    // empty means TimingNextOpen
}

// DefaultConfig returns the frictions used by the reference runs.
func DefaultConfig() Config {
	return Config{
		FeeTaker:      0.0004,
		SlippageSide:  0.0001,
		StopLossPct:   0.02,
		InitialEquity: 1000,
		HoldMinBars:   0,
		OnePosition:   true,
		Timing:        TimingNextOpen,
	}
}

// Validate checks every parameter and returns a *ConfigError for the first
// one out of range.
func (c Config) Validate() error {
	finite := func(field string, v float64) error {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ConfigError{Field: field, Value: v, Reason: "must be finite"}
		}
		return nil
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"fee_taker", c.FeeTaker},
		{"slippage_side", c.SlippageSide},
		{"stop_loss_pct", c.StopLossPct},
		{"initial_equity", c.InitialEquity},
	} {
		if err := finite(f.name, f.v); err != nil {
			return err
		}
	}

	if c.InitialEquity <= 0 {
		return &ConfigError{Field: "initial_equity", Value: c.InitialEquity, Reason: "must be > 0"}
	}
	if c.FeeTaker < 0 || c.FeeTaker >= 1 {
		return &ConfigError{Field: "fee_taker", Value: c.FeeTaker, Reason: "must be in [0, 1)"}
	}
	if c.SlippageSide < 0 || c.SlippageSide >= 1 {
		return &ConfigError{Field: "slippage_side", Value: c.SlippageSide, Reason: "must be in [0, 1)"}
	}
	if c.StopLossPct <= 0 || c.StopLossPct >= 1 {
		return &ConfigError{Field: "stop_loss_pct", Value: c.StopLossPct, Reason: "must be in (0, 1)"}
	}
	if c.HoldMinBars < 0 {
		return &ConfigError{Field: "hold_min_bars", Value: c.HoldMinBars, Reason: "must be >= 0"}
	}
	if !c.OnePosition {
		return &ConfigError{Field: "one_position", Value: c.OnePosition, Reason: "only single-position runs are supported"}
	}
	if _, err := ParseFillTiming(string(c.Timing)); err != nil {
		return &ConfigError{Field: "fill_timing", Value: c.Timing, Reason: err.Error()}
	}
	return nil
}
