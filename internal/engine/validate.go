package engine

import (
	"math"

	"replay/internal/domain"
)

// validateBars checks that every bar is well formed and that timestamps are
// strictly ascending.
func validateBars(bars []domain.Bar) error {
	for i, b := range bars {
		if b.Time.IsZero() {
			return &ValidationError{Input: "bars", Index: i, Field: "time", Reason: "missing timestamp"}
		}
		for _, f := range []struct {
			name string
			v    float64
		}{
			{"open", b.Open},
			{"high", b.High},
			{"low", b.Low},
			{"close", b.Close},
		} {
			if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
				return &ValidationError{Input: "bars", Index: i, Field: f.name, Reason: "not finite"}
			}
			if f.v <= 0 {
				return &ValidationError{Input: "bars", Index: i, Field: f.name, Reason: "price must be > 0"}
			}
		}
		if math.IsNaN(b.Volume) || math.IsInf(b.Volume, 0) {
			return &ValidationError{Input: "bars", Index: i, Field: "volume", Reason: "not finite"}
		}
		if b.Volume < 0 {
			return &ValidationError{Input: "bars", Index: i, Field: "volume", Reason: "must be >= 0"}
		}
		if i > 0 && !b.Time.After(bars[i-1].Time) {
			reason := "timestamp not after previous bar"
			if b.Time.Equal(bars[i-1].Time) {
				reason = "duplicate timestamp"
			}
			return &ValidationError{Input: "bars", Index: i, Field: "time", Reason: reason}
		}
	}
	return nil
}

// alignSignals maps signals onto bar indices. Bars without a signal are
// Flat. A signal whose timestamp matches no bar, a repeated timestamp, or an
// unknown direction is a validation error.
func alignSignals(bars []domain.Bar, signals domain.SignalSeries) ([]domain.Direction, error) {
	index := make(map[int64]int, len(bars))
	for i, b := range bars {
		index[b.Time.UnixNano()] = i
	}

	dirs := make([]domain.Direction, len(bars))
	for i := range dirs {
		dirs[i] = domain.DirectionFlat
	}

	seen := make(map[int]struct{}, len(signals))
	for j, s := range signals {
		if !s.Direction.Valid() {
			return nil, &ValidationError{Input: "signals", Index: j, Field: "direction", Reason: "unknown value " + string(s.Direction)}
		}
		i, ok := index[s.Time.UnixNano()]
		if !ok {
			return nil, &ValidationError{Input: "signals", Index: j, Field: "time", Reason: "no bar at " + s.Time.UTC().Format("2006-01-02T15:04:05Z07:00")}
		}
		if _, dup := seen[i]; dup {
			return nil, &ValidationError{Input: "signals", Index: j, Field: "time", Reason: "duplicate signal for bar"}
		}
		seen[i] = struct{}{}
		dirs[i] = s.Direction
	}
	return dirs, nil
}
