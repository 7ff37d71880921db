package builtins

import (
	"context"

	"replay/internal/domain"
	"replay/internal/strategy"
)

// Compile-time interface checks.
var (
	_ strategy.Strategy = AlwaysUp{}
	_ strategy.Strategy = YesterdayEqualsToday{}
	_ strategy.Strategy = FlatV2{}
)

// AlwaysUp signals up on every bar. It is the buy-and-hold baseline.
type AlwaysUp struct{}

// Name returns "always-up".
func (AlwaysUp) Name() string { return AlwaysUpName }

// Signals returns up for every bar.
func (AlwaysUp) Signals(_ context.Context, bars []domain.Bar) (domain.SignalSeries, error) {
	return constant(bars, domain.DirectionUp), nil
}

// YesterdayEqualsToday predicts that the last close-to-close move repeats.
// A non-negative change, or no previous bar, signals up; a fall signals down.
type YesterdayEqualsToday struct{}

// Name returns "yday-eq-today".
func (YesterdayEqualsToday) Name() string { return YdayName }

// Signals returns one signal per bar.
func (YesterdayEqualsToday) Signals(_ context.Context, bars []domain.Bar) (domain.SignalSeries, error) {
	out := make(domain.SignalSeries, len(bars))
	for i, b := range bars {
		dir := domain.DirectionUp
		if i > 0 && b.Close < bars[i-1].Close {
			dir = domain.DirectionDown
		}
		out[i] = domain.Signal{Time: b.Time, Direction: dir}
	}
	return out, nil
}

// FlatV2 never takes a position.
type FlatV2 struct{}

// Name returns "flat-v2".
func (FlatV2) Name() string { return FlatName }

// Signals returns flat for every bar.
func (FlatV2) Signals(_ context.Context, bars []domain.Bar) (domain.SignalSeries, error) {
	return constant(bars, domain.DirectionFlat), nil
}

func constant(bars []domain.Bar, d domain.Direction) domain.SignalSeries {
	out := make(domain.SignalSeries, len(bars))
	for i, b := range bars {
		out[i] = domain.Signal{Time: b.Time, Direction: d}
	}
	return out
}
