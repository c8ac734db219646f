// Package period computes billing period boundaries.
package period

import (
	"time"

	"github.com/AnuragDani/subscription-billing/internal/models"
)

// NextBoundary adds count calendar units to anchor. Month and year
// arithmetic clamps the day-of-month to the last day of the target month,
// so Jan 31 + 1 month is Feb 28 (or 29), never Mar 3.
//
// count must be validated by the caller; a zero count returns anchor.
func NextBoundary(anchor time.Time, unit models.CadenceUnit, count int) time.Time {
	switch unit {
	case models.CadenceDay:
		return anchor.AddDate(0, 0, count)
	case models.CadenceWeek:
		return anchor.AddDate(0, 0, 7*count)
	case models.CadenceMonth:
		return AddClampedMonths(anchor, count)
	case models.CadenceYear:
		return AddClampedMonths(anchor, 12*count)
	default:
		return anchor
	}
}

// AddClampedMonths moves t forward by months, keeping the wall clock and
// clamping the day to the end of the target month.
func AddClampedMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	h, min, sec := t.Clock()

	total := int(m) - 1 + months
	newY := y + total/12
	newM := total % 12
	if newM < 0 {
		newM += 12
		newY--
	}
	month := time.Month(newM + 1)

	if last := daysIn(newY, month, t.Location()); d > last {
		d = last
	}
	return time.Date(newY, month, d, h, min, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// Advance applies NextBoundary n times starting at anchor.
func Advance(anchor time.Time, unit models.CadenceUnit, count, n int) time.Time {
	t := anchor
	for i := 0; i < n; i++ {
		t = NextBoundary(t, unit, count)
	}
	return t
}
