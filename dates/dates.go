// Package dates resolves the posting date of a feed item from its raw text or image URL.
package dates

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

var (
	// D/M/YY with exactly two year digits, e.g. "11/02/26".
	shortYearPattern = regexp.MustCompile(`\b(\d{1,2})[/.](\d{1,2})[/.](\d{2})\b`)

	// D/M with an optional two- or four-digit year.
	loosePattern = regexp.MustCompile(`(\d{1,2})[/.](\d{1,2})(?:[/.](\d{4}|\d{2}))?`)

	// Image CDN paths: /Pic/202602/11/... and the generic /2026/02/11/ shape.
	picPathPattern  = regexp.MustCompile(`/Pic/(\d{4})(\d{2})/(\d{2})/`)
	datePathPattern = regexp.MustCompile(`/(\d{4})/(\d{2})/(\d{2})/`)

	todayMarkers     = []string{"עודכן היום", "הוקפץ היום", "היום"}
	yesterdayMarkers = []string{"אתמול"}
)

// Resolve returns the posting date described by raw, falling back to a date embedded in
// imageURL. The second result is false when no strategy produced a valid calendar date.
func Resolve(raw, imageURL string, today civil.Date) (civil.Date, bool) {
	raw = strings.TrimSpace(raw)
	if raw != "" {
		if d, ok := fromShortYear(raw); ok {
			return d, true
		}
		if d, ok := fromRelative(raw, today); ok {
			return d, true
		}
		if d, ok := fromLoose(raw, today); ok {
			return d, true
		}
	}
	return fromImageURL(imageURL)
}

// Today returns the current calendar date in loc.
func Today(now time.Time, loc *time.Location) civil.Date {
	if loc != nil {
		now = now.In(loc)
	}
	return civil.DateOf(now)
}

func fromShortYear(raw string) (civil.Date, bool) {
	m := shortYearPattern.FindStringSubmatch(raw)
	if m == nil {
		return civil.Date{}, false
	}
	return build(2000+atoi(m[3]), atoi(m[2]), atoi(m[1]))
}

func fromRelative(raw string, today civil.Date) (civil.Date, bool) {
	for _, marker := range todayMarkers {
		if strings.Contains(raw, marker) {
			return today, true
		}
	}
	for _, marker := range yesterdayMarkers {
		if strings.Contains(raw, marker) {
			return today.AddDays(-1), true
		}
	}
	return civil.Date{}, false
}

func fromLoose(raw string, today civil.Date) (civil.Date, bool) {
	m := loosePattern.FindStringSubmatch(raw)
	if m == nil {
		return civil.Date{}, false
	}
	year := today.Year
	if m[3] != "" {
		year = atoi(m[3])
		if year < 100 {
			year += 2000
		}
	}
	return build(year, atoi(m[2]), atoi(m[1]))
}

func fromImageURL(imageURL string) (civil.Date, bool) {
	if imageURL == "" {
		return civil.Date{}, false
	}
	for _, p := range []*regexp.Regexp{picPathPattern, datePathPattern} {
		if m := p.FindStringSubmatch(imageURL); m != nil {
			if d, ok := build(atoi(m[1]), atoi(m[2]), atoi(m[3])); ok {
				return d, true
			}
		}
	}
	return civil.Date{}, false
}

// build rejects dates that time.Date would silently normalize, like 31/02.
func build(year, month, day int) (civil.Date, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return civil.Date{}, false
	}
	d := civil.Date{Year: year, Month: time.Month(month), Day: day}
	if !d.IsValid() {
		return civil.Date{}, false
	}
	return d, true
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}
