package dataset

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dateLayouts are tried in order when parsing a date cell
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
}

// epoch is day zero for numeric dates
var epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// ParseDate converts a date cell to days since the Unix epoch. Bare integers
// pass through unchanged so pre-converted numeric dates keep working.
func ParseDate(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty date")
	}

	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return int(t.Sub(epoch).Hours() / 24), nil
		}
	}
	if t, err := parseStataDate(s); err == nil {
		return int(t.Sub(epoch).Hours() / 24), nil
	}

	return 0, fmt.Errorf("unrecognized date %q", s)
}

// parseStataDate handles the Stata display format 02jan2006, which exposure
// extracts commonly carry. Month names match case-insensitively.
func parseStataDate(s string) (time.Time, error) {
	if len(s) != 9 {
		return time.Time{}, fmt.Errorf("not a Stata date %q", s)
	}
	norm := s[:2] + strings.ToUpper(s[2:3]) + strings.ToLower(s[3:5]) + s[5:]
	return time.Parse("02Jan2006", norm)
}

// FormatDate renders a numeric day as an ISO date string
func FormatDate(day int) string {
	return epoch.AddDate(0, 0, day).Format("2006-01-02")
}
