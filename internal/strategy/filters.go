package strategy

import (
	"context"
	"fmt"
	"strings"

	"replay/internal/domain"
)

// Compile-time interface check.
var _ Strategy = (*Filtered)(nil)

// Filtered wraps a Strategy and smooths its signals: a switch to a new
// direction must repeat for ConfirmBars bars, then a held direction may only
// reverse after HoldBars bars.
type Filtered struct {
	Inner       Strategy
	ConfirmBars int
	HoldBars    int
}

// NewFiltered validates the filter parameters and wraps inner.
func NewFiltered(inner Strategy, confirmBars, holdBars int) (*Filtered, error) {
	if confirmBars < 1 {
		return nil, fmt.Errorf("confirm_bars must be >= 1, got %d", confirmBars)
	}
	if holdBars < 0 {
		return nil, fmt.Errorf("hold_bars must be >= 0, got %d", holdBars)
	}
	return &Filtered{Inner: inner, ConfirmBars: confirmBars, HoldBars: holdBars}, nil
}

// Name returns the inner name with the filter parameters appended.
func (f *Filtered) Name() string {
	return fmt.Sprintf("%s+c%dh%d", f.Inner.Name(), f.ConfirmBars, f.HoldBars)
}

// Signals filters the inner strategy's signals over every bar. The result
// holds one signal per bar.
func (f *Filtered) Signals(ctx context.Context, bars []domain.Bar) (domain.SignalSeries, error) {
	raw, err := f.Inner.Signals(ctx, bars)
	if err != nil {
		return nil, err
	}
	dirs, err := Densify(bars, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Inner.Name(), err)
	}
	out := MinHold(ConfirmSwitch(dirs, f.ConfirmBars), f.HoldBars)

	series := make(domain.SignalSeries, len(bars))
	for i, b := range bars {
		series[i] = domain.Signal{Time: b.Time, Direction: out[i]}
	}
	return series, nil
}

// Densify places signals onto bars, one direction per bar, flat where no
// signal exists.
func Densify(bars []domain.Bar, signals domain.SignalSeries) ([]domain.Direction, error) {
	index := make(map[int64]int, len(bars))
	for i, b := range bars {
		index[b.Time.UnixNano()] = i
	}
	dirs := make([]domain.Direction, len(bars))
	for i := range dirs {
		dirs[i] = domain.DirectionFlat
	}
	for _, s := range signals {
		if !s.Direction.Valid() {
			return nil, fmt.Errorf("unexpected signal value %q", s.Direction)
		}
		i, ok := index[s.Time.UnixNano()]
		if !ok {
			return nil, fmt.Errorf("signal at %v matches no bar", s.Time)
		}
		dirs[i] = s.Direction
	}
	return dirs, nil
}

// ConfirmSwitch only adopts a new up or down direction once it has been
// seen on confirm consecutive bars, counting the first. Confirm 1 returns
// the input with flats filled forward. Flat inputs keep the current
// direction and reset any pending switch.
func ConfirmSwitch(in []domain.Direction, confirm int) []domain.Direction {
	out := make([]domain.Direction, len(in))
	last := domain.DirectionFlat
	var pending domain.Direction
	count := 0

	for i, v := range in {
		switch {
		case v == last, v == domain.DirectionFlat:
			pending, count = "", 0
		case v != pending:
			pending, count = v, 1
			if count >= confirm {
				last, pending, count = v, "", 0
			}
		default:
			count++
			if count >= confirm {
				last, pending, count = v, "", 0
			}
		}
		out[i] = last
	}
	return out
}

// MinHold keeps a direction for at least hold bars before allowing a
// reversal. The bar a direction is adopted on counts as the first held bar,
// whether it was entered from flat or by reversal. Flat inputs extend the
// current direction; from flat, the first up or down is taken at once.
func MinHold(in []domain.Direction, hold int) []domain.Direction {
	out := make([]domain.Direction, len(in))
	last := domain.DirectionFlat
	held := 0

	for i, v := range in {
		switch {
		case last == domain.DirectionFlat && v == domain.DirectionFlat:
		case last == domain.DirectionFlat:
			last, held = v, 1
		case v == domain.DirectionFlat:
			held++
		default:
			if v != last && held >= hold {
				last, held = v, 0
			}
			held++
		}
		out[i] = last
	}
	return out
}

// FilteredName is the name a Filtered wrapper of base reports. With the
// identity parameters (confirm 1, hold 0) it is base itself.
func FilteredName(base string, confirmBars, holdBars int) string {
	if confirmBars <= 1 && holdBars <= 0 {
		return base
	}
	return fmt.Sprintf("%s+c%dh%d", base, confirmBars, holdBars)
}

// Resolve looks up name, which is either a registered strategy or a
// registered strategy with a "+c<confirm>h<hold>" filter suffix.
func (r *Registry) Resolve(name string) (Strategy, error) {
	if s, ok := r.Get(name); ok {
		return s, nil
	}
	i := strings.LastIndex(name, "+")
	if i < 0 {
		return r.Lookup(name)
	}
	inner, err := r.Lookup(name[:i])
	if err != nil {
		return nil, err
	}
	var confirm, hold int
	if n, err := fmt.Sscanf(name[i+1:], "c%dh%d", &confirm, &hold); err != nil || n != 2 ||
		fmt.Sprintf("c%dh%d", confirm, hold) != name[i+1:] {
		return nil, fmt.Errorf("invalid filter suffix in strategy %q", name)
	}
	return NewFiltered(inner, confirm, hold)
}
