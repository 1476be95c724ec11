package calendar

import "time"

// GridPolicy decides how many cells a month grid has.
type GridPolicy string

const (
	// GridDynamic pads to the smallest multiple of 7 that covers the whole
	// month: 28, 35 or 42 cells.
	GridDynamic GridPolicy = "dynamic"
	// GridFixed35 always produces 5 rows. Months that need a sixth row lose
	// their last days; kept for layouts that cannot grow.
	GridFixed35 GridPolicy = "fixed35"
)

// FixedGridCells is the cell count of GridFixed35.
const FixedGridCells = 35

// DaysPerWeek is the column count of every grid.
const DaysPerWeek = 7

// DayCell is one square of the month grid.
type DayCell struct {
	Date time.Time // midnight in the grid location

	InCurrentMonth bool
	IsPrevMonth    bool
	IsNextMonth    bool
	IsToday        bool

	// Events holds the visible events ordered by lane.
	Events []LaneAssignment
	// OverflowCount is how many events overlap this day but did not fit
	// into a lane.
	OverflowCount int
}

// LeadingDays returns how many cells of the previous month precede the 1st
// when weeks start on weekStart.
func LeadingDays(ym YearMonth, weekStart time.Weekday) int {
	first := time.Date(ym.Year, ym.Month, 1, 0, 0, 0, 0, time.UTC)
	return (int(first.Weekday()) - int(weekStart) + DaysPerWeek) % DaysPerWeek
}

// CellCount returns the grid length for ym under policy.
func CellCount(ym YearMonth, weekStart time.Weekday, policy GridPolicy) int {
	if policy == GridFixed35 {
		return FixedGridCells
	}
	used := LeadingDays(ym, weekStart) + ym.DaysIn()
	return (used + DaysPerWeek - 1) / DaysPerWeek * DaysPerWeek
}

// MonthCells lays out the empty cells for year/month (1-based month). The
// first cell is the last weekStart day on or before the 1st.
func MonthCells(year, month int, weekStart time.Weekday, policy GridPolicy, loc *time.Location) ([]DayCell, error) {
	ym, err := NewYearMonth(year, month)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}

	leading := LeadingDays(ym, weekStart)
	days := ym.DaysIn()
	n := CellCount(ym, weekStart, policy)

	cells := make([]DayCell, n)
	for i := range cells {
		// time.Date normalizes day 0 and negatives into the previous month.
		dom := i - leading + 1
		cells[i] = DayCell{
			Date:           time.Date(ym.Year, ym.Month, dom, 0, 0, 0, 0, loc),
			InCurrentMonth: dom >= 1 && dom <= days,
			IsPrevMonth:    dom < 1,
			IsNextMonth:    dom > days,
		}
	}
	return cells, nil
}
