package engine

import (
	"replay/internal/domain"
)

// StopRule derives the protective stop for a position. The stop level is
// fixed when the entry fills and depends only on the entry fill price and the
// configured fraction.
type StopRule struct {
	pct float64
}

// NewStopRule creates a StopRule for the given stop fraction.
//
//   - pct: distance from the entry fill price as a fraction (e.g. 0.02 places
//     a long stop 2% below entry and a short stop 2% above).
func NewStopRule(pct float64) StopRule {
	return StopRule{pct: pct}
}

// Price returns the stop level for a position on side entered at entry.
func (r StopRule) Price(side domain.Side, entry float64) float64 {
	if side == domain.SideShort {
		return entry * (1 + r.pct)
	}
	return entry * (1 - r.pct)
}

// Triggered reports whether bar touched the stop level during its range:
// low at or below the stop for longs, high at or above it for shorts.
func (r StopRule) Triggered(side domain.Side, stop float64, bar domain.Bar) bool {
	if side == domain.SideShort {
		return bar.High >= stop
	}
	return bar.Low <= stop
}
