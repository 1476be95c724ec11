package calendar

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthCells_February2025(t *testing.T) {
	cells, err := MonthCells(2025, 2, time.Sunday, GridDynamic, time.UTC)
	require.NoError(t, err)
	require.Len(t, cells, 35)

	// 2025-02-01 is a Saturday: six January days lead.
	for i := 0; i < 6; i++ {
		assert.True(t, cells[i].IsPrevMonth, "cell %d", i)
		assert.False(t, cells[i].InCurrentMonth, "cell %d", i)
		assert.Equal(t, time.January, cells[i].Date.Month())
	}
	assert.Equal(t, 26, cells[0].Date.Day())

	for i := 6; i < 34; i++ {
		assert.True(t, cells[i].InCurrentMonth, "cell %d", i)
		assert.Equal(t, i-5, cells[i].Date.Day())
	}

	assert.True(t, cells[34].IsNextMonth)
	assert.Equal(t, time.March, cells[34].Date.Month())
	assert.Equal(t, 1, cells[34].Date.Day())
}

func TestMonthCells_WeekStartMonday(t *testing.T) {
	cells, err := MonthCells(2025, 2, time.Monday, GridDynamic, time.UTC)
	require.NoError(t, err)

	assert.Equal(t, time.Monday, cells[0].Date.Weekday())
	assert.Equal(t, 27, cells[0].Date.Day())
	assert.True(t, cells[5].InCurrentMonth)
	assert.Equal(t, 1, cells[5].Date.Day())
	assert.Len(t, cells, 35)
}

func TestMonthCells_SixRowMonth(t *testing.T) {
	// March 2025 starts on a Saturday and has 31 days.
	t.Run("dynamic grows to six rows", func(t *testing.T) {
		cells, err := MonthCells(2025, 3, time.Sunday, GridDynamic, time.UTC)
		require.NoError(t, err)
		require.Len(t, cells, 42)
		last := cells[len(cells)-1]
		assert.True(t, last.IsNextMonth)
		assert.Equal(t, time.April, last.Date.Month())
	})

	t.Run("fixed35 truncates", func(t *testing.T) {
		cells, err := MonthCells(2025, 3, time.Sunday, GridFixed35, time.UTC)
		require.NoError(t, err)
		require.Len(t, cells, 35)
		last := cells[34]
		assert.True(t, last.InCurrentMonth)
		assert.Equal(t, 29, last.Date.Day())
	})

	t.Run("fixed35 pads a four-row month", func(t *testing.T) {
		// February 2026 starts on a Sunday: exactly four rows of its own.
		cells, err := MonthCells(2026, 2, time.Sunday, GridFixed35, time.UTC)
		require.NoError(t, err)
		require.Len(t, cells, 35)
		assert.True(t, cells[28].IsNextMonth)
	})
}

func TestMonthCells_CoversEveryDayOnce(t *testing.T) {
	for _, ws := range []time.Weekday{time.Sunday, time.Monday} {
		for year := 2020; year <= 2030; year++ {
			for month := 1; month <= 12; month++ {
				cells, err := MonthCells(year, month, ws, GridDynamic, time.UTC)
				require.NoError(t, err)
				require.Zero(t, len(cells)%DaysPerWeek, "%d-%02d", year, month)
				assert.Equal(t, ws, cells[0].Date.Weekday())

				seen := make(map[int]int)
				for _, c := range cells {
					if c.InCurrentMonth {
						require.Equal(t, time.Month(month), c.Date.Month())
						seen[c.Date.Day()]++
					}
				}
				ym := YearMonth{Year: year, Month: time.Month(month)}
				require.Len(t, seen, ym.DaysIn(), "%s", ym)
				for day, n := range seen {
					require.Equal(t, 1, n, "%s day %d", ym, day)
				}
			}
		}
	}
}

func TestMonthCells_InvalidMonth(t *testing.T) {
	for _, m := range []int{0, 13, -1} {
		_, err := MonthCells(2025, m, time.Sunday, GridDynamic, time.UTC)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidMonth))

		var me *InvalidMonthError
		require.True(t, errors.As(err, &me))
		assert.Equal(t, m, me.Month)
	}
}

func TestYearMonth(t *testing.T) {
	ym, err := ParseYearMonth("2025-05")
	require.NoError(t, err)
	assert.Equal(t, YearMonth{Year: 2025, Month: time.May}, ym)
	assert.Equal(t, "2025-05", ym.String())

	short, err := ParseYearMonth("2025-5")
	require.NoError(t, err)
	assert.Equal(t, ym, short)

	assert.Equal(t, YearMonth{Year: 2024, Month: time.December}, YearMonth{Year: 2025, Month: time.January}.Prev())
	assert.Equal(t, YearMonth{Year: 2026, Month: time.January}, YearMonth{Year: 2025, Month: time.December}.Next())
	assert.Equal(t, YearMonth{Year: 2023, Month: time.November}, ym.AddMonths(-18))
	assert.True(t, ym.Prev().Before(ym))
	assert.Equal(t, 28, YearMonth{Year: 2025, Month: time.February}.DaysIn())
	assert.Equal(t, 29, YearMonth{Year: 2024, Month: time.February}.DaysIn())

	for _, bad := range []string{"", "2025", "2025-13", "25-01", "2025-xx"} {
		_, err := ParseYearMonth(bad)
		assert.ErrorIs(t, err, ErrInvalidMonth, "%q", bad)
	}
}
