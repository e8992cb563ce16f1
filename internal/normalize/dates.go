package normalize

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// strictLayouts are unambiguous ISO forms tried first.
var strictLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// lenientLayouts cover common bank export forms; slash dates read month first.
var lenientLayouts = []string{
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"01/02/2006 15:04",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04",
	"2006/01/02",
	"2006/1/2",
	"01-02-2006",
	"1-2-2006",
	"01.02.2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 02 2006",
	"02 Jan 2006",
	"2 Jan 2006",
	"02-Jan-2006",
	"2-Jan-2006",
	"02-Jan-06",
	"20060102",
}

// ParseDate resolves a date cell into a calendar date. Strict ISO layouts are
// tried before lenient ones; false means the value is not a date.
func ParseDate(raw string) (civil.Date, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return civil.Date{}, false
	}
	if d, ok := tryLayouts(s, strictLayouts); ok {
		return d, true
	}
	return tryLayouts(s, lenientLayouts)
}

func tryLayouts(s string, layouts []string) (civil.Date, bool) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), true
		}
	}
	return civil.Date{}, false
}

// DaysApart returns the absolute number of days between a and b.
func DaysApart(a, b civil.Date) int {
	n := a.DaysSince(b)
	if n < 0 {
		return -n
	}
	return n
}
