package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AnuragDani/subscription-billing/internal/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 30, 0, 0, time.UTC)
}

func TestNextBoundary(t *testing.T) {
	tests := []struct {
		name   string
		anchor time.Time
		unit   models.CadenceUnit
		count  int
		want   time.Time
	}{
		{"one day", date(2024, 1, 1), models.CadenceDay, 1, date(2024, 1, 2)},
		{"days across month", date(2024, 1, 30), models.CadenceDay, 5, date(2024, 2, 4)},
		{"two weeks", date(2024, 3, 1), models.CadenceWeek, 2, date(2024, 3, 15)},
		{"one month", date(2024, 3, 15), models.CadenceMonth, 1, date(2024, 4, 15)},
		{"jan 31 leap year", date(2024, 1, 31), models.CadenceMonth, 1, date(2024, 2, 29)},
		{"jan 31 non leap year", date(2023, 1, 31), models.CadenceMonth, 1, date(2023, 2, 28)},
		{"mar 31 to apr 30", date(2024, 3, 31), models.CadenceMonth, 1, date(2024, 4, 30)},
		{"month across year", date(2024, 11, 30), models.CadenceMonth, 3, date(2025, 2, 28)},
		{"twelve months", date(2024, 5, 10), models.CadenceMonth, 12, date(2025, 5, 10)},
		{"one year", date(2023, 6, 1), models.CadenceYear, 1, date(2024, 6, 1)},
		{"feb 29 plus year", date(2024, 2, 29), models.CadenceYear, 1, date(2025, 2, 28)},
		{"unknown unit", date(2024, 1, 1), models.CadenceUnit("fortnight"), 1, date(2024, 1, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextBoundary(tt.anchor, tt.unit, tt.count))
		})
	}
}

func TestNextBoundaryPreservesClockAndLocation(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	anchor := time.Date(2024, 1, 31, 23, 59, 58, 123, loc)

	got := NextBoundary(anchor, models.CadenceMonth, 1)

	assert.Equal(t, time.Date(2024, 2, 29, 23, 59, 58, 123, loc), got)
	assert.Equal(t, loc, got.Location())
}

func TestAdvanceMatchesDirectComputation(t *testing.T) {
	units := []models.CadenceUnit{models.CadenceDay, models.CadenceWeek, models.CadenceMonth, models.CadenceYear}
	// Anchors on or before the 28th never clamp, so repeated steps compose.
	anchors := []time.Time{date(2023, 1, 1), date(2024, 2, 28), date(2024, 7, 15), date(2025, 12, 28)}

	for _, unit := range units {
		for _, anchor := range anchors {
			for count := 1; count <= 3; count++ {
				for n := 1; n <= 6; n++ {
					direct := NextBoundary(anchor, unit, n*count)
					assert.Equal(t, direct, Advance(anchor, unit, count, n),
						"unit=%s anchor=%s count=%d n=%d", unit, anchor, count, n)
				}
			}
		}
	}
}

func TestAdvanceAlwaysMovesForward(t *testing.T) {
	anchor := date(2024, 1, 31)
	prev := anchor
	for i := 0; i < 24; i++ {
		next := NextBoundary(prev, models.CadenceMonth, 1)
		assert.True(t, next.After(prev))
		prev = next
	}
}

func TestAddClampedMonthsNegative(t *testing.T) {
	assert.Equal(t, date(2023, 12, 31), AddClampedMonths(date(2024, 1, 31), -1))
	assert.Equal(t, date(2024, 2, 29), AddClampedMonths(date(2024, 3, 31), -1))
}
