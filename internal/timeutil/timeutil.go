// Package timeutil parses the human durations accepted by the CLI.
package timeutil

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// ParseDuration accepts Go durations plus d (day) and w (week) units, also as
// a leading component: "90m", "2d", "1w", "1d12h". Negative values are
// rejected.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty duration string")
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("duration must not be negative: %s", s)
	}

	if dur, err := time.ParseDuration(s); err == nil {
		return dur, nil
	}

	i := strings.IndexAny(s, "dw")
	if i <= 0 {
		return 0, fmt.Errorf("invalid duration format: %s", s)
	}
	num, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration number: %s", s[:i])
	}
	dur := time.Duration(num) * day
	if s[i] == 'w' {
		dur *= 7
	}

	rest := s[i+1:]
	if rest == "" {
		return dur, nil
	}
	extra, err := time.ParseDuration(rest)
	if err != nil {
		return 0, fmt.Errorf("invalid duration remainder %q: %w", rest, err)
	}
	return dur + extra, nil
}

// Ago returns the instant d before now, truncated to the second.
func Ago(now time.Time, d time.Duration) time.Time {
	return now.Add(-d).Truncate(time.Second)
}
