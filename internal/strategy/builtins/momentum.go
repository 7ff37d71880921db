package builtins

import (
	"context"

	"replay/internal/domain"
	"replay/internal/features"
	"replay/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = MomentumV1{}

// MomentumV1 classifies each bar from its features: up when the four-bar
// return is positive, down otherwise. Bars too early to have features get no
// signal.
type MomentumV1 struct{}

// Name returns "momentum-v1".
func (MomentumV1) Name() string { return MomentumName }

// Signals returns a signal for every bar with a complete feature row.
func (MomentumV1) Signals(ctx context.Context, bars []domain.Bar) (domain.SignalSeries, error) {
	rows := features.Build(bars)
	out := make(domain.SignalSeries, 0, len(rows))
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, domain.Signal{Time: r.Time, Direction: classify(r)})
	}
	return out, nil
}

func classify(r features.Row) domain.Direction {
	if r.Ret4 > 0 {
		return domain.DirectionUp
	}
	return domain.DirectionDown
}
