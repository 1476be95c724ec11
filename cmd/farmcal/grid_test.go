package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmcal/internal/calendar"
	"farmcal/internal/model"
)

func TestPrintGrid(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2025, time.May, d, 0, 0, 0, 0, time.UTC) }
	events := []model.Event{
		{ID: "todo:1", Title: "Weeding", Start: day(5), End: day(7), Kind: model.KindTask},
		{ID: "todo:2", Title: "Aphids", Start: day(6), End: day(6), Kind: model.KindPest},
		{ID: "todo:3", Title: "Harvest", Start: day(6), End: day(6), Kind: model.KindTask},
		{ID: "todo:4", Title: "Broken", Start: day(9), End: day(2)},
	}
	opts := calendar.DefaultOptions()
	opts.Location = time.UTC
	opts.Now = func() time.Time { return day(6) }

	g, err := calendar.BuildMonthGrid(2025, 5, events, opts)
	require.NoError(t, err)

	var buf bytes.Buffer
	printGrid(&buf, g)
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "2025-05 (week starts Sunday, 2 lanes)\n"))
	assert.Contains(t, out, "~ 2025-04-27 Sun\n")
	assert.Contains(t, out, "* 2025-05-06 Tue\n    [0] task == Weeding\n    [1] pest [] Aphids\n    +1 more\n")
	assert.Contains(t, out, "  2025-05-05 Mon\n    [0] task [= Weeding\n")
	assert.Contains(t, out, "  2025-05-07 Wed\n    [0] task =] Weeding\n")
	assert.Contains(t, out, "skipped todo:4:")
	assert.Equal(t, 5, strings.Count(out, "\nweek "))
}

func TestSkippedEventJSON(t *testing.T) {
	g := &calendar.Grid{Skipped: []calendar.SkippedEvent{{EventID: "todo:9", Err: errors.New("bad range")}}}
	b, err := g.Skipped[0].MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event_id": "todo:9", "reason": "bad range"}`, string(b))
}
