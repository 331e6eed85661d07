package reconcile

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/araddon/dateparse"
)

// normalizeText collapses whitespace, casefolds, and strips the currency and
// separator punctuation ("$", ",", ".") so that "Acme, Inc." and "acme inc"
// compare equal.
func normalizeText(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	space := false
	for _, r := range strings.TrimSpace(value) {
		switch {
		case unicode.IsSpace(r):
			space = true
		case r == '$' || r == ',' || r == '.':
			// dropped
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// parseNumber parses a value as a float, tolerating thousands separators and
// a leading currency symbol.
func parseNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	s := strings.TrimSpace(toString(value))
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimPrefix(s, "€")
	s = strings.TrimPrefix(s, "£")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// parseDate parses a value permissively and truncates it to the calendar date.
func parseDate(value any) (time.Time, bool) {
	if t, ok := value.(time.Time); ok {
		return t.Truncate(24 * time.Hour), true
	}
	s := strings.TrimSpace(toString(value))
	if s == "" {
		return time.Time{}, false
	}
	// Bare numbers are amounts, not epoch timestamps.
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Time{}, false
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
}

func daysBetween(a, b time.Time) int {
	d := a.Sub(b) / (24 * time.Hour)
	if d < 0 {
		d = -d
	}
	return int(d)
}

func toString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
