// Package models holds wire-level types and formats shared by the REST,
// push, and bus surfaces.
package models

import (
	"fmt"
	"time"
)

// TimeLayout is the wire format for timestamps: ISO-8601 UTC with
// millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders a timestamp in the wire format
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts wire-format timestamps plus the common RFC-3339
// variants edge agents send. Naive timestamps are taken as UTC.
func ParseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
