package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"replay/internal/domain"
)

// Meta describes a built canonical dataset.
type Meta struct {
	Exchange        string    `json:"exchange"`
	Symbol          string    `json:"symbol"`
	Timeframe       string    `json:"timeframe"`
	StartDateConfig string    `json:"start_date_config,omitempty"`
	Rows            int       `json:"rows"`
	FirstTS         time.Time `json:"first_ts"`
	LastTS          time.Time `json:"last_ts"`
	BuildTime       time.Time `json:"build_time_utc"`
	CanonicalPath   string    `json:"canonical_path"`
}

// NewMeta fills the row and range fields of a Meta from canonical bars.
func NewMeta(exchange, symbol, timeframe string, bars []domain.Bar, now time.Time) Meta {
	m := Meta{
		Exchange:  exchange,
		Symbol:    symbol,
		Timeframe: timeframe,
		Rows:      len(bars),
		BuildTime: now.UTC(),
	}
	if len(bars) > 0 {
		m.FirstTS = bars[0].Time
		m.LastTS = bars[len(bars)-1].Time
	}
	return m
}

// WriteJSON writes v as indented JSON to path, creating parent directories.
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ReadJSON decodes the JSON file at path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
