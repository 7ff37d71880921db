package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTimeframe converts a bar timeframe such as "15m", "1h", "4h" or "1d"
// into its duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(tf))
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}

	var unit time.Duration
	switch s[len(s)-1] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid timeframe unit in %q", tf)
	}
	return time.Duration(n) * unit, nil
}

// ParseDate parses a YYYY-MM-DD date or an RFC 3339 timestamp as UTC. The
// empty string yields the zero time.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return t.UTC(), nil
}

// Days returns n whole days as a Duration.
func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
