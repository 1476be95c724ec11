package calendar

import (
	"sort"
)

// LaneMode selects how lanes are chosen for multi-day events.
type LaneMode string

const (
	// LanesSpanStable places each event once across all of its visible
	// days so a bar keeps its lane for the whole span. When no single lane
	// is free on every day the event is placed day by day instead.
	LanesSpanStable LaneMode = "span"
	// LanesPerDay recomputes lanes independently for every day.
	LanesPerDay LaneMode = "per_day"
)

// DefaultMaxLanes is the number of event bars a day cell shows.
const DefaultMaxLanes = 2

// LaneAssignment is a visible event on one day.
type LaneAssignment struct {
	Membership
	Lane int
}

// lanePriority orders spans for lane allocation: longer first, then
// earlier start. Equal keys keep input order (callers use stable sorts).
func lanePriority(a, b DayRange) bool {
	if da, db := a.Duration(), b.Duration(); da != db {
		return da > db
	}
	return dayNumber(a.Start) < dayNumber(b.Start)
}

// SortForLanes sorts members in place by lane priority.
func SortForLanes(members []Membership) {
	sort.SliceStable(members, func(i, j int) bool {
		return lanePriority(members[i].Range, members[j].Range)
	})
}

// AssignLanes allocates lanes for the events overlapping a single day.
// Members are taken in lane priority and each gets the lowest free lane;
// once every lane is taken the rest are counted as overflow. The returned
// assignments are ordered by lane. members is not modified.
func AssignLanes(members []Membership, maxLanes int) ([]LaneAssignment, int) {
	if maxLanes <= 0 {
		maxLanes = DefaultMaxLanes
	}

	sorted := make([]Membership, len(members))
	copy(sorted, members)
	SortForLanes(sorted)

	occupied := make([]bool, maxLanes)
	out := make([]LaneAssignment, 0, min(len(sorted), maxLanes))
	overflow := 0

	for _, m := range sorted {
		lane := firstFree(occupied)
		if lane < 0 {
			overflow++
			continue
		}
		occupied[lane] = true
		out = append(out, LaneAssignment{Membership: m, Lane: lane})
	}
	return out, overflow
}

func firstFree(occupied []bool) int {
	for i, used := range occupied {
		if !used {
			return i
		}
	}
	return -1
}

// assignSpanStable fills cells using LanesSpanStable. cells must be
// consecutive days. Per cell, the visible set and overflow count equal
// what AssignLanes would produce; only lane numbers may differ.
func assignSpanStable(cells []DayCell, spans []Span, maxLanes int) {
	if len(cells) == 0 {
		return
	}
	if maxLanes <= 0 {
		maxLanes = DefaultMaxLanes
	}

	ordered := make([]Span, len(spans))
	copy(ordered, spans)
	sort.SliceStable(ordered, func(i, j int) bool {
		return lanePriority(ordered[i].Range, ordered[j].Range)
	})

	firstDay := dayNumber(cells[0].Date)
	occupied := make([][]bool, len(cells))
	for i := range occupied {
		occupied[i] = make([]bool, maxLanes)
	}

	place := func(ci int, sp Span, lane int) {
		occupied[ci][lane] = true
		cells[ci].Events = append(cells[ci].Events, LaneAssignment{
			Membership: membershipOf(cells[ci].Date, sp),
			Lane:       lane,
		})
	}

	for _, sp := range ordered {
		from := max(dayNumber(sp.Range.Start)-firstDay, 0)
		to := min(dayNumber(sp.Range.End)-firstDay, len(cells)-1)
		if from > to {
			continue
		}

		if lane := spanFreeLane(occupied[from:to+1], maxLanes); lane >= 0 {
			for ci := from; ci <= to; ci++ {
				place(ci, sp, lane)
			}
			continue
		}

		for ci := from; ci <= to; ci++ {
			lane := firstFree(occupied[ci])
			if lane < 0 {
				cells[ci].OverflowCount++
				continue
			}
			place(ci, sp, lane)
		}
	}

	for i := range cells {
		ev := cells[i].Events
		sort.Slice(ev, func(a, b int) bool { return ev[a].Lane < ev[b].Lane })
	}
}

// spanFreeLane returns the lowest lane that is free on every day, or -1.
func spanFreeLane(days [][]bool, maxLanes int) int {
	for lane := 0; lane < maxLanes; lane++ {
		free := true
		for _, occ := range days {
			if occ[lane] {
				free = false
				break
			}
		}
		if free {
			return lane
		}
	}
	return -1
}
