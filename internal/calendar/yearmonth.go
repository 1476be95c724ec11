package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// YearMonth identifies one month view.
type YearMonth struct {
	Year  int
	Month time.Month
}

// NewYearMonth validates a 1-based month number.
func NewYearMonth(year, month int) (YearMonth, error) {
	ym := YearMonth{Year: year, Month: time.Month(month)}
	if !ym.Valid() {
		return YearMonth{}, &InvalidMonthError{Year: year, Month: month}
	}
	return ym, nil
}

// YearMonthOf returns the month containing t, in t's location.
func YearMonthOf(t time.Time) YearMonth {
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

// ParseYearMonth accepts "2025-05" and "2025-5".
func ParseYearMonth(s string) (YearMonth, error) {
	s = strings.TrimSpace(s)
	y, m, ok := strings.Cut(s, "-")
	if !ok {
		return YearMonth{}, fmt.Errorf("calendar: month %q is not YYYY-MM: %w", s, ErrInvalidMonth)
	}
	year, err := strconv.Atoi(y)
	if err != nil || len(y) != 4 {
		return YearMonth{}, fmt.Errorf("calendar: month %q has a bad year: %w", s, ErrInvalidMonth)
	}
	month, err := strconv.Atoi(m)
	if err != nil {
		return YearMonth{}, fmt.Errorf("calendar: month %q has a bad month: %w", s, ErrInvalidMonth)
	}
	return NewYearMonth(year, month)
}

// Valid reports whether Month is within 1..12.
func (ym YearMonth) Valid() bool {
	return ym.Month >= time.January && ym.Month <= time.December
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

// AddMonths moves n months forward (or backward for negative n).
func (ym YearMonth) AddMonths(n int) YearMonth {
	idx := ym.Year*12 + int(ym.Month) - 1 + n
	return YearMonth{Year: floorDiv(idx, 12), Month: time.Month(idx - floorDiv(idx, 12)*12 + 1)}
}

func (ym YearMonth) Prev() YearMonth { return ym.AddMonths(-1) }
func (ym YearMonth) Next() YearMonth { return ym.AddMonths(1) }

// First returns midnight on the 1st of the month in loc.
func (ym YearMonth) First(loc *time.Location) time.Time {
	return time.Date(ym.Year, ym.Month, 1, 0, 0, 0, 0, loc)
}

// DaysIn returns the number of days in the month.
func (ym YearMonth) DaysIn() int {
	return time.Date(ym.Year, ym.Month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Before reports whether ym is an earlier month than other.
func (ym YearMonth) Before(other YearMonth) bool {
	if ym.Year != other.Year {
		return ym.Year < other.Year
	}
	return ym.Month < other.Month
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
