// Package parse centralizes the typed conversions applied to legacy CSV fields.
package parse

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

// dateLayouts are tried in order by Date. Bubble exports use both meridiem cases.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"02/01/2006",
	"Jan 2, 2006 3:04 pm",
	"Jan 2, 2006 3:04 PM",
}

// Bool reports whether s spells "true", ignoring case and surrounding space.
// Anything else, including the empty string, is false.
func Bool(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "true")
}

// Date parses s with the layouts Bubble exports are known to use.
// The second result is false when s is empty or matches no layout.
func Date(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Digits keeps only the decimal digits of s ("123.456.789-00" -> "12345678900").
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Lower trims and lower-cases s.
func Lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Int parses a base-10 integer, tolerating surrounding space and a trailing ".0"
// left behind by spreadsheet exports.
func Int(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".0")
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// List splits s on sep and returns the trimmed, non-empty elements.
// An empty or blank s yields an empty list.
func List(s, sep string) []string {
	if strings.TrimFunc(s, unicode.IsSpace) == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
