// Package dataset turns raw fetched bars into a canonical dataset and
// reports on its quality.
package dataset

import (
	"sort"

	"replay/internal/domain"
)

// Canonicalize returns bars sorted ascending by timestamp, normalised to
// UTC, with one bar per timestamp. When a timestamp repeats, the bar that
// appears last in the input wins. The input slice is not modified.
func Canonicalize(bars []domain.Bar) []domain.Bar {
	pos := make(map[int64]int, len(bars))
	out := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		b.Time = b.Time.UTC()
		key := b.Time.UnixNano()
		if i, ok := pos[key]; ok {
			out[i] = b
			continue
		}
		pos[key] = len(out)
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}
