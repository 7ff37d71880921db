package util

import (
	"context"
	"errors"
	"time"
)

// Backoff describes how a failing request is retried.
type Backoff struct {
	Attempts int           // total calls, at least 1
	Base     time.Duration // delay after the first failure, doubled each time
	Max      time.Duration // cap on a single delay; zero means uncapped
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Retry calls fn until it succeeds, returns a Permanent error, or b.Attempts
// calls have failed. fn receives the 1-based attempt number. The last error
// is returned; Permanent wrappers are removed.
func Retry(ctx context.Context, b Backoff, fn func(attempt int) error) error {
	if b.Attempts < 1 {
		b.Attempts = 1
	}
	delay := b.Base
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == b.Attempts {
			return err
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
		if b.Max > 0 && delay > b.Max {
			delay = b.Max
		}
	}
}
