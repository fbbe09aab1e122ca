package model

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the stored form of a due date.
const DateLayout = "2006-01-02"

// Layouts carrying a zone offset. Values are moved to UTC before the
// calendar date is taken.
var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	time.RFC1123Z,
	time.RFC1123,
}

var localLayouts = []string{
	DateLayout,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02",
	"2006/1/2",
	"2006-1-2",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
}

// NormalizeDueDate parses raw in any supported date or timestamp form and
// returns it as YYYY-MM-DD. Time of day is dropped.
func NormalizeDueDate(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidDate)
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC().Format(DateLayout), nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(DateLayout), nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrInvalidDate, raw)
}
