package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OriginLayout is the canonical rendering of a day origin: an ISO-8601
// datetime at midnight without an offset.
const OriginLayout = "2006-01-02T15:04:05"

var (
	// ErrInvalidRange is returned when an interval ends before it starts.
	ErrInvalidRange = errors.New("interval ends before it starts")
	// ErrInvalidTimestamp is returned when a value cannot be parsed as a date or datetime.
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

// timestampLayouts are tried in order by ParseTimestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	OriginLayout,
	"2006-01-02T15:04",
	time.DateOnly,
}

// UTCNow returns the current UTC datetime with timezone information
func UTCNow() time.Time {
	return time.Now().UTC()
}

// ParseTimestamp parses a date or datetime value as stored on an interval.
// Values without an offset are interpreted in UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidTimestamp)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, value)
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ExpandDateRange returns every calendar day covered by [start, end],
// inclusive of both ends. The end is read in the start's location so that
// both endpoints are compared on the same calendar. A nil end yields the
// start day alone.
func ExpandDateRange(start time.Time, end *time.Time) ([]time.Time, error) {
	first := StartOfDay(start)
	if end == nil {
		return []time.Time{first}, nil
	}

	last := StartOfDay(end.In(start.Location()))
	if last.Before(first) {
		return nil, fmt.Errorf("%w: start %s, end %s", ErrInvalidRange,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	var days []time.Time
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		days = append(days, day)
	}
	return days, nil
}

// CanonicalOrigin renders the origin value identifying the marker for day.
func CanonicalOrigin(day time.Time) string {
	return StartOfDay(day).Format(OriginLayout)
}

// FormatTimeForDB formats a time for database storage
func FormatTimeForDB(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
