package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// FormatRFC3339 renders t in UTC; the zero time renders as "".
func FormatRFC3339(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// WindowStart returns the start of a trailing window of the given minutes ending at now.
func WindowStart(now time.Time, minutes int) time.Time {
	if minutes < 0 {
		minutes = 0
	}
	return now.Add(-time.Duration(minutes) * time.Minute)
}
