package calendar

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmcal/internal/model"
)

func testOptions(mode LaneMode) Options {
	return Options{
		MaxLanes:  2,
		WeekStart: time.Sunday,
		Policy:    GridDynamic,
		LaneMode:  mode,
		Location:  time.UTC,
		Now:       func() time.Time { return time.Date(2025, 5, 14, 15, 0, 0, 0, time.UTC) },
	}
}

func event(id string, start, end time.Time) model.Event {
	return model.Event{ID: id, Title: "task " + id, Start: start, End: end, Kind: model.KindTask}
}

var laneModes = []LaneMode{LanesSpanStable, LanesPerDay}

func mustCell(t *testing.T, g *Grid, d time.Time) *DayCell {
	t.Helper()
	c, ok := g.Cell(d)
	require.True(t, ok, "day %s not in grid", d.Format(dayLayout))
	return c
}

func TestBuildMonthGrid_LongAndShortEvent(t *testing.T) {
	events := []model.Event{
		event("A", day(2025, 5, 1), day(2025, 5, 5)),
		event("B", day(2025, 5, 3), day(2025, 5, 3)),
	}
	for _, mode := range laneModes {
		t.Run(string(mode), func(t *testing.T) {
			g, err := BuildMonthGrid(2025, 5, events, testOptions(mode))
			require.NoError(t, err)

			c3 := mustCell(t, g, day(2025, 5, 3))
			require.Len(t, c3.Events, 2)
			assert.Equal(t, "A", c3.Events[0].Event.ID)
			assert.Equal(t, 0, c3.Events[0].Lane)
			assert.Equal(t, "B", c3.Events[1].Event.ID)
			assert.Equal(t, 1, c3.Events[1].Lane)
			assert.Zero(t, c3.OverflowCount)
			assert.True(t, c3.Events[1].IsSingleDay)

			c1 := mustCell(t, g, day(2025, 5, 1))
			require.Len(t, c1.Events, 1)
			assert.Equal(t, "A", c1.Events[0].Event.ID)
			assert.Equal(t, 0, c1.Events[0].Lane)
			assert.True(t, c1.Events[0].IsStart)
		})
	}
}

func TestBuildMonthGrid_ThreeOnOneDay(t *testing.T) {
	d := day(2025, 5, 10)
	events := []model.Event{event("1", d, d), event("2", d, d), event("3", d, d)}
	for _, mode := range laneModes {
		t.Run(string(mode), func(t *testing.T) {
			g, err := BuildMonthGrid(2025, 5, events, testOptions(mode))
			require.NoError(t, err)

			c := mustCell(t, g, d)
			require.Len(t, c.Events, 2)
			assert.Equal(t, 0, c.Events[0].Lane)
			assert.Equal(t, 1, c.Events[1].Lane)
			assert.Equal(t, "1", c.Events[0].Event.ID)
			assert.Equal(t, "2", c.Events[1].Event.ID)
			assert.Equal(t, 1, c.OverflowCount)
		})
	}
}

func TestBuildMonthGrid_SingleDayEventAppearsOnce(t *testing.T) {
	d := day(2025, 5, 20)
	g, err := BuildMonthGrid(2025, 5, []model.Event{event("s", d, d)}, testOptions(LanesSpanStable))
	require.NoError(t, err)

	hits := 0
	for _, c := range g.Cells {
		for _, a := range c.Events {
			hits++
			assert.True(t, c.Date.Equal(d))
			assert.True(t, a.IsStart)
			assert.True(t, a.IsEnd)
			assert.True(t, a.IsSingleDay)
			assert.False(t, a.IsMiddle)
		}
	}
	assert.Equal(t, 1, hits)
}

func TestBuildMonthGrid_MultiDaySpan(t *testing.T) {
	start, end := day(2025, 5, 12), day(2025, 5, 18)
	for _, mode := range laneModes {
		t.Run(string(mode), func(t *testing.T) {
			g, err := BuildMonthGrid(2025, 5, []model.Event{event("m", start, end)}, testOptions(mode))
			require.NoError(t, err)

			var days []time.Time
			for _, c := range g.Cells {
				for _, a := range c.Events {
					days = append(days, c.Date)
					assert.Equal(t, c.Date.Equal(start), a.IsStart)
					assert.Equal(t, c.Date.Equal(end), a.IsEnd)
					assert.Equal(t, !a.IsStart && !a.IsEnd, a.IsMiddle)
				}
			}
			require.Len(t, days, 7)
			assert.True(t, days[0].Equal(start))
			assert.True(t, days[6].Equal(end))
		})
	}
}

func TestBuildMonthGrid_EventsOnPaddingDays(t *testing.T) {
	// May 2025 grid starts on Sunday April 27.
	ev := event("edge", day(2025, 4, 25), day(2025, 5, 2))
	g, err := BuildMonthGrid(2025, 5, []model.Event{ev}, testOptions(LanesSpanStable))
	require.NoError(t, err)

	first := g.Cells[0]
	assert.True(t, first.IsPrevMonth)
	require.Len(t, first.Events, 1)
	assert.False(t, first.Events[0].IsStart, "start is outside the grid")
	assert.True(t, first.Events[0].IsMiddle)
}

func TestBuildMonthGrid_SkipsInvalidEvents(t *testing.T) {
	events := []model.Event{
		event("ok", day(2025, 5, 2), day(2025, 5, 2)),
		event("backwards", day(2025, 5, 9), day(2025, 5, 7)),
		{ID: "undated", Title: "no dates"},
	}
	g, err := BuildMonthGrid(2025, 5, events, testOptions(LanesSpanStable))
	require.NoError(t, err)

	require.Len(t, g.Skipped, 2)
	assert.Equal(t, "backwards", g.Skipped[0].EventID)
	assert.ErrorIs(t, g.Skipped[0].Err, ErrInvalidRange)
	assert.Equal(t, "undated", g.Skipped[1].EventID)
	assert.ErrorIs(t, g.Skipped[1].Err, ErrInvalidDate)

	total := 0
	for _, c := range g.Cells {
		for _, a := range c.Events {
			assert.Equal(t, "ok", a.Event.ID)
			total++
		}
	}
	assert.Equal(t, 1, total)
}

func TestBuildMonthGrid_InvalidMonth(t *testing.T) {
	_, err := BuildMonthGrid(2025, 13, nil, testOptions(LanesPerDay))
	assert.ErrorIs(t, err, ErrInvalidMonth)
}

func TestBuildMonthGrid_Today(t *testing.T) {
	g, err := BuildMonthGrid(2025, 5, nil, testOptions(LanesPerDay))
	require.NoError(t, err)

	var today []time.Time
	for _, c := range g.Cells {
		if c.IsToday {
			today = append(today, c.Date)
		}
	}
	require.Len(t, today, 1)
	assert.True(t, today[0].Equal(day(2025, 5, 14)))
}

func TestBuildMonthGrid_OptionsNormalized(t *testing.T) {
	g, err := BuildMonthGrid(2025, 2, nil, Options{Location: time.UTC})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxLanes, g.MaxLanes)
	assert.Equal(t, LanesSpanStable, g.LaneMode)
	assert.Equal(t, GridDynamic, g.Policy)
	assert.Equal(t, time.Sunday, g.WeekStart)
	assert.Len(t, g.Rows(), 5)

	first, last := g.Range()
	assert.True(t, first.Equal(day(2025, 1, 26)))
	assert.True(t, last.Equal(day(2025, 3, 1)))
}

// overlapping builds a dense, irregular event set for property checks.
func overlapping() []model.Event {
	var events []model.Event
	for i := 0; i < 24; i++ {
		start := day(2025, 4, 25).AddDate(0, 0, (i*5)%37)
		length := (i * 7) % 6
		events = append(events, event(fmt.Sprintf("e%02d", i), start, start.AddDate(0, 0, length)))
	}
	return events
}

func TestBuildMonthGrid_LaneInvariants(t *testing.T) {
	events := overlapping()
	for _, mode := range laneModes {
		for _, lanes := range []int{1, 2, 3} {
			t.Run(fmt.Sprintf("%s/%d", mode, lanes), func(t *testing.T) {
				opts := testOptions(mode)
				opts.MaxLanes = lanes
				g, err := BuildMonthGrid(2025, 5, events, opts)
				require.NoError(t, err)

				for _, c := range g.Cells {
					overlap := 0
					for _, ev := range events {
						r, _ := NormalizeRange(ev, time.UTC)
						if r.Contains(c.Date) {
							overlap++
						}
					}

					want := 0
					if overlap > lanes {
						want = overlap - lanes
					}
					assert.Equal(t, want, c.OverflowCount, "day %s", c.Date.Format(dayLayout))
					assert.Equal(t, overlap-want, len(c.Events), "day %s", c.Date.Format(dayLayout))

					used := make(map[int]string)
					for _, a := range c.Events {
						require.GreaterOrEqual(t, a.Lane, 0)
						require.Less(t, a.Lane, lanes)
						prev, dup := used[a.Lane]
						require.False(t, dup, "day %s lane %d shared by %s and %s",
							c.Date.Format(dayLayout), a.Lane, prev, a.Event.ID)
						used[a.Lane] = a.Event.ID
					}
				}
			})
		}
	}
}

func TestBuildMonthGrid_ModesShowSameEvents(t *testing.T) {
	events := overlapping()
	span, err := BuildMonthGrid(2025, 5, events, testOptions(LanesSpanStable))
	require.NoError(t, err)
	perDay, err := BuildMonthGrid(2025, 5, events, testOptions(LanesPerDay))
	require.NoError(t, err)

	ids := func(c DayCell) map[string]bool {
		out := make(map[string]bool)
		for _, a := range c.Events {
			out[a.Event.ID] = true
		}
		return out
	}
	for i := range span.Cells {
		assert.Equal(t, ids(perDay.Cells[i]), ids(span.Cells[i]), "day %s", span.Cells[i].Date.Format(dayLayout))
		assert.Equal(t, perDay.Cells[i].OverflowCount, span.Cells[i].OverflowCount)
	}
}

func TestBuildMonthGrid_Deterministic(t *testing.T) {
	events := overlapping()
	for _, mode := range laneModes {
		first, err := BuildMonthGrid(2025, 5, events, testOptions(mode))
		require.NoError(t, err)
		second, err := BuildMonthGrid(2025, 5, events, testOptions(mode))
		require.NoError(t, err)

		if diff := cmp.Diff(first.Cells, second.Cells); diff != "" {
			t.Errorf("%s: rebuild differs (-first +second):\n%s", mode, diff)
		}
	}
}
