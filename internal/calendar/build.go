// Package calendar lays out farm events on a month grid: it normalizes
// event ranges to calendar days, builds the week-aligned cell grid, finds
// the events overlapping each day and packs them into a small number of
// lanes, counting the ones that do not fit.
//
// Everything here is synchronous and pure. Callers rebuild the grid on
// every month or event-set change; nothing is cached or mutated in place.
package calendar

import (
	"encoding/json"
	"time"

	appLog "farmcal/internal/log"
	"farmcal/internal/model"
)

// Options controls grid layout.
type Options struct {
	// MaxLanes is the number of event bars per day. Zero means DefaultMaxLanes.
	MaxLanes int
	// WeekStart is the weekday of the first column (Sunday or Monday).
	WeekStart time.Weekday
	Policy    GridPolicy
	LaneMode  LaneMode
	// Location is the timezone event days and grid days are computed in.
	// Nil means time.Local.
	Location *time.Location
	// Now drives DayCell.IsToday. Nil means time.Now.
	Now func() time.Time
}

// DefaultOptions returns Sunday-first, dynamic rows, span-stable lanes,
// two lanes, local time.
func DefaultOptions() Options {
	return Options{
		MaxLanes:  DefaultMaxLanes,
		WeekStart: time.Sunday,
		Policy:    GridDynamic,
		LaneMode:  LanesSpanStable,
		Location:  time.Local,
		Now:       time.Now,
	}
}

func (o Options) normalized() Options {
	if o.MaxLanes <= 0 {
		o.MaxLanes = DefaultMaxLanes
	}
	if o.WeekStart < time.Sunday || o.WeekStart > time.Saturday {
		o.WeekStart = time.Sunday
	}
	if o.Policy != GridFixed35 {
		o.Policy = GridDynamic
	}
	if o.LaneMode != LanesPerDay {
		o.LaneMode = LanesSpanStable
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// SkippedEvent records an event left out of a grid and why.
type SkippedEvent struct {
	EventID string
	Err     error
}

func (s SkippedEvent) MarshalJSON() ([]byte, error) {
	reason := ""
	if s.Err != nil {
		reason = s.Err.Error()
	}
	return json.Marshal(struct {
		EventID string `json:"event_id"`
		Reason  string `json:"reason"`
	}{s.EventID, reason})
}

// Grid is one laid-out month.
type Grid struct {
	Month     YearMonth
	WeekStart time.Weekday
	MaxLanes  int
	LaneMode  LaneMode
	Policy    GridPolicy

	Cells   []DayCell
	Skipped []SkippedEvent
}

// BuildMonthGrid lays out events on the grid for year/month (1-based).
//
// Events with a missing date or an end before their start are skipped,
// logged at warn level and listed in Grid.Skipped; they never fail the
// build. Only an invalid month is returned as an error.
func BuildMonthGrid(year, month int, events []model.Event, opts Options) (*Grid, error) {
	opts = opts.normalized()

	cells, err := MonthCells(year, month, opts.WeekStart, opts.Policy, opts.Location)
	if err != nil {
		return nil, err
	}

	g := &Grid{
		Month:     YearMonth{Year: year, Month: time.Month(month)},
		WeekStart: opts.WeekStart,
		MaxLanes:  opts.MaxLanes,
		LaneMode:  opts.LaneMode,
		Policy:    opts.Policy,
		Cells:     cells,
	}

	spans := make([]Span, 0, len(events))
	for _, ev := range events {
		r, err := NormalizeRange(ev, opts.Location)
		if err != nil {
			appLog.Warn("calendar: skipping event", "event_id", ev.ID, "title", ev.Title, "err", err)
			g.Skipped = append(g.Skipped, SkippedEvent{EventID: ev.ID, Err: err})
			continue
		}
		spans = append(spans, Span{Event: ev, Range: r})
	}

	today := dayNumber(opts.Now().In(opts.Location))
	for i := range g.Cells {
		g.Cells[i].IsToday = dayNumber(g.Cells[i].Date) == today
	}

	switch opts.LaneMode {
	case LanesPerDay:
		for i := range g.Cells {
			members := MembersOn(g.Cells[i].Date, spans)
			g.Cells[i].Events, g.Cells[i].OverflowCount = AssignLanes(members, opts.MaxLanes)
		}
	default:
		assignSpanStable(g.Cells, spans, opts.MaxLanes)
	}

	return g, nil
}

// Rows splits the cells into weeks.
func (g *Grid) Rows() [][]DayCell {
	rows := make([][]DayCell, 0, len(g.Cells)/DaysPerWeek)
	for i := 0; i+DaysPerWeek <= len(g.Cells); i += DaysPerWeek {
		rows = append(rows, g.Cells[i:i+DaysPerWeek])
	}
	return rows
}

// Cell returns the cell for day, if the grid shows it.
func (g *Grid) Cell(day time.Time) (*DayCell, bool) {
	if len(g.Cells) == 0 {
		return nil, false
	}
	idx := dayNumber(day) - dayNumber(g.Cells[0].Date)
	if idx < 0 || idx >= len(g.Cells) {
		return nil, false
	}
	return &g.Cells[idx], true
}

// Range returns the first and last day shown by the grid.
func (g *Grid) Range() (time.Time, time.Time) {
	if len(g.Cells) == 0 {
		return time.Time{}, time.Time{}
	}
	return g.Cells[0].Date, g.Cells[len(g.Cells)-1].Date
}
