// Package summary totals entries per accounting month. Amounts are summed as
// decimals so long histories do not drift.
package summary

import (
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/maaser-tracker/internal/entity"
)

// MonthSummary totals one accounting month. Balance is the ma'aser still owed:
// positive means more is owed than was given.
type MonthSummary struct {
	Month     string
	Income    decimal.Decimal
	Donations decimal.Decimal
	Maaser    decimal.Decimal
	Balance   decimal.Decimal
	Count     int
}

func (m *MonthSummary) add(e entity.Entry) {
	amount := decimal.NewFromFloat(e.Core().Amount)
	switch v := e.(type) {
	case entity.Income:
		m.Income = m.Income.Add(amount)
		m.Maaser = m.Maaser.Add(decimal.NewFromFloat(v.Maaser))
	case entity.Donation:
		m.Donations = m.Donations.Add(amount)
	}
	m.Count++
	m.Balance = m.Maaser.Sub(m.Donations)
}

// ByMonth groups entries by accounting month, oldest month first.
func ByMonth(entries []entity.Entry) []MonthSummary {
	byMonth := map[string]*MonthSummary{}
	for _, e := range entries {
		month := e.Core().AccountingMonth
		s, ok := byMonth[month]
		if !ok {
			s = &MonthSummary{Month: month}
			byMonth[month] = s
		}
		s.add(e)
	}

	out := make([]MonthSummary, 0, len(byMonth))
	for _, s := range byMonth {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b MonthSummary) int { return strings.Compare(a.Month, b.Month) })
	return out
}

// ForMonth totals the entries whose accounting month is month. Entry dates
// are not consulted.
func ForMonth(entries []entity.Entry, month string) MonthSummary {
	s := MonthSummary{Month: month}
	for _, e := range entries {
		if e.Core().AccountingMonth == month {
			s.add(e)
		}
	}
	return s
}

// ForYear returns the twelve months of year in order, including empty ones,
// and the year total. The total's Month is the year.
func ForYear(entries []entity.Entry, year int) ([]MonthSummary, MonthSummary) {
	prefix := strconv.Itoa(year) + "-"
	months := make([]MonthSummary, 12)
	for i := range months {
		months[i] = MonthSummary{Month: prefix + twoDigits(i+1)}
	}
	total := MonthSummary{Month: strconv.Itoa(year)}

	for _, e := range entries {
		month := e.Core().AccountingMonth
		if !strings.HasPrefix(month, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(month, prefix))
		if err != nil || n < 1 || n > 12 {
			continue
		}
		months[n-1].add(e)
		total.add(e)
	}
	return months, total
}

// Overall totals every entry.
func Overall(entries []entity.Entry) MonthSummary {
	var s MonthSummary
	for _, e := range entries {
		s.add(e)
	}
	return s
}

func twoDigits(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
