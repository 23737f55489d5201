// Package period derives the YYYY-MM accounting month an entry counts toward.
package period

import (
	"regexp"
	"strings"
	"time"

	"github.com/joseph-ayodele/maaser-tracker/constants"
)

var monthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// Layouts accepted for an entry date, most specific first. Values without an
// offset are read as written, so the derived month is always the month the
// caller typed.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Valid reports whether s is a zero-padded YYYY-MM key with month 01-12.
func Valid(s string) bool {
	return monthPattern.MatchString(s)
}

// Of formats t as an accounting month in t's own location.
func Of(t time.Time) string {
	return t.Format(constants.AccountingMonthLayout)
}

// ParseDate parses an entry date in any accepted layout.
func ParseDate(s string) (time.Time, bool) {
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

// Deriver computes accounting months. Now supplies the fallback month and
// defaults to time.Now.
type Deriver struct {
	Now func() time.Time
}

// Derive returns the accounting month for an entry date. Input that does not
// parse, including the empty string, falls back to the current month; epoch is
// never used as a fallback.
func (d Deriver) Derive(date string) string {
	if t, ok := ParseDate(date); ok {
		return Of(t)
	}
	return Of(d.now())
}

// DeriveTime is Derive for an already parsed date. The zero time counts as
// missing and falls back to the current month.
func (d Deriver) DeriveTime(t time.Time) string {
	if t.IsZero() {
		return Of(d.now())
	}
	return Of(t)
}

func (d Deriver) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Derive uses the wall clock for the fallback.
func Derive(date string) string {
	return Deriver{}.Derive(date)
}
