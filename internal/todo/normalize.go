package todo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/teambition/rrule-go"

	"farmcal/internal/calendar"
	appLog "farmcal/internal/log"
	"farmcal/internal/model"
)

// SourceID tags every event produced from the backend.
const SourceID = "backend"

// maxRepeats bounds cycle expansion of a single todo within one window.
const maxRepeats = 400

var ErrMissingID = errors.New("todo: missing task id")

// EventID is the calendar event ID for a backend task.
func EventID(taskID int) string {
	return "todo:" + strconv.Itoa(taskID)
}

// Normalize converts one backend todo into a calendar event. start_date
// may be a plain date or a timestamp; the end day is start + period - 1.
func Normalize(t Todo, loc *time.Location) (model.Event, error) {
	if t.TaskID == 0 {
		return model.Event{}, ErrMissingID
	}
	id := EventID(t.TaskID)

	start, err := calendar.ParseDay(t.StartDate, loc)
	if err != nil {
		return model.Event{}, &calendar.InvalidDateError{EventID: id, Field: "start", Value: t.StartDate}
	}
	period := t.Period
	if period <= 0 {
		period = 1
	}

	kind := model.KindTask
	if t.IsPest {
		kind = model.KindPest
	}

	return model.Event{
		ID:        id,
		Title:     t.TaskName,
		Content:   t.TaskContent,
		Start:     start,
		End:       start.AddDate(0, 0, period-1),
		Color:     kind.DefaultColor(),
		Kind:      kind,
		FieldID:   t.FieldID,
		SourceID:  SourceID,
		Completed: t.Completed,
	}, nil
}

// Repeat expands ev every cycle days, returning the instances that touch
// the inclusive day window [from, to]. The first instance keeps ev's ID so
// it still maps onto the backend task; later ones get a date suffix.
func Repeat(ev model.Event, cycle int, from, to time.Time) ([]model.Event, error) {
	if cycle <= 0 {
		return []model.Event{ev}, nil
	}

	r, err := rrule.NewRRule(rrule.ROption{
		Freq:     rrule.DAILY,
		Interval: cycle,
		Dtstart:  ev.Start,
		Until:    to,
	})
	if err != nil {
		return nil, fmt.Errorf("todo: cycle rule for %s: %w", ev.ID, err)
	}

	days := int(math.Round(ev.End.Sub(ev.Start).Hours() / 24))
	// An instance that started before from may still be running.
	windowStart := from.AddDate(0, 0, -days)

	out := make([]model.Event, 0)
	starts := r.Between(windowStart, to, true)
	if len(starts) > maxRepeats {
		appLog.Warn("todo cycle expansion truncated", "event_id", ev.ID, "cycle", cycle, "cap", maxRepeats)
		starts = starts[:maxRepeats]
	}
	for _, start := range starts {
		inst := ev
		inst.Start = start
		inst.End = start.AddDate(0, 0, days)
		if !start.Equal(ev.Start) {
			inst.ID = ev.ID + "@" + start.Format("2006-01-02")
		}
		out = append(out, inst)
	}
	return out, nil
}
