// Package walkforward partitions a bar series into chronological windows
// and backtests strategies over each of them independently.
package walkforward

import (
	"fmt"
	"time"

	"replay/internal/domain"
)

// Window is one named [Start, End) time range. A zero End is open ended.
type Window struct {
	Name  string
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if t.Before(w.Start) {
		return false
	}
	return w.End.IsZero() || t.Before(w.End)
}

// Segment is the slice of bars falling in one window.
type Segment struct {
	Window Window
	Bars   []domain.Bar
}

// Validate checks that windows have unique names and are ordered without
// overlap. Only the last window may be open ended.
func Validate(windows []Window) error {
	seen := make(map[string]bool, len(windows))
	for i, w := range windows {
		if w.Name == "" {
			return fmt.Errorf("window %d: missing name", i)
		}
		if seen[w.Name] {
			return fmt.Errorf("window %d: duplicate name %q", i, w.Name)
		}
		seen[w.Name] = true

		if !w.End.IsZero() && !w.End.After(w.Start) {
			return fmt.Errorf("window %q: end %s not after start %s", w.Name,
				w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
		}
		if i == 0 {
			continue
		}
		prev := windows[i-1]
		if prev.End.IsZero() {
			return fmt.Errorf("window %q follows open-ended window %q", w.Name, prev.Name)
		}
		if w.Start.Before(prev.End) {
			return fmt.Errorf("window %q overlaps %q", w.Name, prev.Name)
		}
	}
	return nil
}

// Split assigns bars to windows. Bars must be in ascending time order; bars
// outside every window are dropped. Each segment is a subslice of bars.
func Split(bars []domain.Bar, windows []Window) ([]Segment, error) {
	if err := Validate(windows); err != nil {
		return nil, err
	}
	out := make([]Segment, len(windows))
	i := 0
	for k, w := range windows {
		for i < len(bars) && bars[i].Time.Before(w.Start) {
			i++
		}
		j := i
		for j < len(bars) && w.Contains(bars[j].Time) {
			j++
		}
		out[k] = Segment{Window: w, Bars: bars[i:j:j]}
		i = j
	}
	return out, nil
}
