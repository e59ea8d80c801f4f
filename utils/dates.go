package utils

import (
	"fmt"
	"strings"
	"time"
)

// iso8601Layouts are tried in order. Layouts without a zone are read as UTC.
var iso8601Layouts = []struct {
	layout   string
	dateOnly bool
}{
	{layout: time.RFC3339Nano},
	{layout: "2006-01-02T15:04:05.999999999"},
	{layout: "2006-01-02T15:04"},
	{layout: "2006-01-02", dateOnly: true},
}

// ParseISO8601 parses an ISO-8601 date or date-time and returns it in UTC.
// dateOnly reports whether s carried no time of day.
func ParseISO8601(s string) (t time.Time, dateOnly bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, fmt.Errorf("empty date")
	}

	for _, l := range iso8601Layouts {
		if parsed, err := time.Parse(l.layout, s); err == nil {
			return parsed.UTC(), l.dateOnly, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("invalid ISO-8601 date %q", s)
}

// EndOfDay returns the last microsecond of t's UTC day. Audit timestamps
// are stored with microsecond precision, so a finer bound would round up to
// the next midnight in Postgres.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1).Add(-time.Microsecond)
}

// ParseISO8601Range parses a start/end pair. A date-only end covers that
// whole day.
func ParseISO8601Range(start, end string) (time.Time, time.Time, error) {
	startTime, _, err := ParseISO8601(start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("startDate: %w", err)
	}
	endTime, dateOnly, err := ParseISO8601(end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("endDate: %w", err)
	}
	if dateOnly {
		endTime = EndOfDay(endTime)
	}
	return startTime, endTime, nil
}
