// Package gather acquires historical bars from external market data
// providers and writes them to a BarStore.
package gather

import (
	"context"
	"time"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run fetches the configured range and returns when it is stored or ctx
	// is cancelled.
	Run(ctx context.Context) error
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Chunks splits r into consecutive ranges of at most size. The last chunk
// ends at r.End.
func (r DateRange) Chunks(size time.Duration) []DateRange {
	if size <= 0 || !r.End.After(r.Start) {
		return []DateRange{r}
	}
	var out []DateRange
	for s := r.Start; s.Before(r.End); s = s.Add(size) {
		e := s.Add(size)
		if e.After(r.End) {
			e = r.End
		}
		out = append(out, DateRange{Start: s, End: e})
	}
	return out
}
