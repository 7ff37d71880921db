package util

import (
	"context"
	"sync"
	"time"
)

// Pacer spaces calls evenly to stay under a per-minute request quota. Each
// Wait reserves the next free slot, so concurrent callers queue in order.
type Pacer struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
	now      func() time.Time
}

// NewPacer allows perMinute calls per minute. The first call is not delayed.
func NewPacer(perMinute int) *Pacer {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &Pacer{interval: time.Minute / time.Duration(perMinute), now: time.Now}
}

// Wait blocks until the caller's slot arrives or ctx is done. A cancelled
// wait gives its slot back when it is still the last one reserved.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	now := p.now()
	slot := p.next
	if slot.Before(now) {
		slot = now
	}
	p.next = slot.Add(p.interval)
	p.mu.Unlock()

	d := slot.Sub(now)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		p.mu.Lock()
		if p.next.Equal(slot.Add(p.interval)) {
			p.next = slot
		}
		p.mu.Unlock()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
