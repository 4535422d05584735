package model

import (
	"fmt"
	"time"
)

// TimeLayout is the timestamp format the API uses: UTC without a zone suffix.
const TimeLayout = "2006-01-02T15:04:05.000000"

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTime parses a server timestamp. Values without a zone are UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// FormatTime renders t in the API's timestamp format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// IsBefore reports whether timestamp a is strictly earlier than b.
// An unparseable a counts as older than anything.
func IsBefore(a, b string) bool {
	ta, errA := ParseTime(a)
	tb, errB := ParseTime(b)
	if errA != nil {
		return errB == nil || a < b
	}
	if errB != nil {
		return false
	}
	return ta.Before(tb)
}
