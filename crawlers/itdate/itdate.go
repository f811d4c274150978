// Package itdate parses the Italian date phrasing used by contest pages,
// like "dal 1° gennaio 2026 al 31 gennaio 2026" or "entro il 15 marzo 2026".
package itdate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var months = map[string]time.Month{
	"gennaio":   time.January,
	"febbraio":  time.February,
	"marzo":     time.March,
	"aprile":    time.April,
	"maggio":    time.May,
	"giugno":    time.June,
	"luglio":    time.July,
	"agosto":    time.August,
	"settembre": time.September,
	"ottobre":   time.October,
	"novembre":  time.November,
	"dicembre":  time.December,
}

var monthNames = [...]string{
	"gennaio", "febbraio", "marzo", "aprile", "maggio", "giugno",
	"luglio", "agosto", "settembre", "ottobre", "novembre", "dicembre",
}

var (
	rangePattern    = regexp.MustCompile(`(?i)dal\s+(\d{1,2}°?\s+\p{L}+\s+\d{4})\s+al\s+(\d{1,2}°?\s+\p{L}+\s+\d{4})`)
	deadlinePattern = regexp.MustCompile(`(?i)(?:fino al|entro e non oltre il|entro il|scade il)\s+(\d{1,2}°?\s+\p{L}+\s+\d{4})`)
)

// Defaults is the fallback window applied when a page carries no parsable
// dates. Each strategy configures its own.
type Defaults struct {
	// StartDaysFromNow offsets the fallback start date from today.
	StartDaysFromNow int
	// EndDaysFromStart offsets the fallback end date from the start date.
	EndDaysFromStart int
}

// Parse reads a single Italian date like "1° gennaio 2026". The result is
// midnight UTC.
func Parse(s string) (time.Time, bool) {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	if len(parts) < 3 {
		return time.Time{}, false
	}

	day, err := strconv.Atoi(strings.TrimSuffix(parts[0], "°"))
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, false
	}

	month, ok := months[parts[1]]
	if !ok {
		return time.Time{}, false
	}

	year, err := strconv.Atoi(parts[2])
	if err != nil || year < 2000 || year > 2100 {
		return time.Time{}, false
	}

	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), true
}

// Format renders a date the way the sources phrase it, "15 gennaio 2026"
func Format(t time.Time) string {
	return fmt.Sprintf("%d %s %d", t.Day(), monthNames[t.Month()-1], t.Year())
}

// ExtractRange pulls a contest's start and end dates out of free text.
// A "dal X al Y" range wins; otherwise a deadline phrase supplies the end
// date. Whatever is missing falls back to the configured defaults relative
// to now.
func ExtractRange(text string, now time.Time, d Defaults) (time.Time, time.Time) {
	var start, end time.Time

	if m := rangePattern.FindStringSubmatch(text); m != nil {
		if parsed, ok := Parse(m[1]); ok {
			start = parsed
		}
		if parsed, ok := Parse(m[2]); ok {
			end = parsed
		}
	} else if m := deadlinePattern.FindStringSubmatch(text); m != nil {
		if parsed, ok := Parse(m[1]); ok {
			end = parsed
		}
	}

	today := now.UTC().Truncate(24 * time.Hour)
	if start.IsZero() {
		start = today.AddDate(0, 0, d.StartDaysFromNow)
	}
	if end.IsZero() {
		end = start.AddDate(0, 0, d.EndDaysFromStart)
	}

	return start, end
}
