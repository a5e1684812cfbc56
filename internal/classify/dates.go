package classify

import (
	"strings"
	"time"
)

const (
	maxFutureDays = 365
	maxBeforeDays = 7
)

var dueDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	"Mon, 2 Jan 2006",
}

// ParseDueDate tries the layouts models commonly emit. Dates without a zone are UTC.
func ParseDueDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "null") || strings.EqualFold(raw, "none") {
		return time.Time{}, false
	}
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ValidateDueDate returns nil for dates that do not parse, lie more than a year after now,
// or more than a week before the email was received.
func ValidateDueDate(raw string, received, now time.Time) *time.Time {
	t, ok := ParseDueDate(raw)
	if !ok {
		return nil
	}
	if t.After(now.AddDate(0, 0, maxFutureDays)) {
		return nil
	}
	if !received.IsZero() && t.Before(received.AddDate(0, 0, -maxBeforeDays)) {
		return nil
	}
	return &t
}
