package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "farmcal/internal/log"
	"farmcal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the timezone to which all occurrences will be converted.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the inclusive time window. An occurrence
	// is kept if any part of it overlaps the window.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the list of expanded occurrences and optionally
// information about truncation.
type ExpandResult struct {
	Occurrences []model.Occurrence
	// TruncatedEvents records UIDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
}

// ExpandOccurrences takes a list of ParsedEvent (typically for one or more ICS
// sources) and expands them into concrete occurrences within the given time
// range. It handles:
//
//   - Single non-recurring events
//   - RRULE-based recurrence (DAILY/WEEKLY/MONTHLY/YEARLY, etc.)
//   - EXDATE for exception removal
//   - RECURRENCE-ID overrides, including cancelled instances
//   - All-day semantics
//
// All resulting occurrences are converted into the configured display
// timezone (ExpandConfig.DisplayLocation). All-day occurrences keep their
// calendar date rather than their instant.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("ics: expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Group base events and overrides by source + UID, keeping first-seen
	// order so output is deterministic.
	type key struct{ source, uid string }
	var order []key
	baseByUID := make(map[key][]ParsedEvent)
	overridesByUID := make(map[key][]ParsedEvent)

	for _, ev := range events {
		k := key{ev.Source.ID, ev.UID}
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[k] = append(overridesByUID[k], ev)
			continue
		}
		if _, seen := baseByUID[k]; !seen {
			order = append(order, k)
		}
		baseByUID[k] = append(baseByUID[k], ev)
	}

	allOccurrences := make([]model.Occurrence, 0)

	for _, k := range order {
		ov := overridesByUID[k]
		truncated := false

		for _, ev := range baseByUID[k] {
			if ev.Cancelled() {
				continue
			}
			occ, hitCap := expandEvent(ev, ov, cfg)
			if hitCap {
				truncated = true
			}
			allOccurrences = append(allOccurrences, occ...)
		}

		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, k.uid)
			appLog.Warn("ics expand truncated occurrences",
				"source", k.source,
				"uid", k.uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	result.Occurrences = allOccurrences
	return result, nil
}

// expandEvent expands a single ParsedEvent (base event) with its possible
// overrides within the given configuration, returning occurrences and whether
// the cap was hit.
func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	if ev.RawRRule == "" {
		return expandSingleEvent(ev, overrides, cfg), false
	}
	return expandRecurringEvent(ev, overrides, cfg)
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Occurrence {
	start, end := ev.Start, ev.End
	if o, ok := findOverrideForStart(overrides, start); ok {
		if o.Cancelled() {
			return nil
		}
		start, end, ev = o.Start, o.End, o
	}

	occ := makeOccurrence(ev, start, end, cfg.DisplayLocation)
	if !overlaps(occ, cfg) {
		return nil
	}
	return []model.Occurrence{occ}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	out := make([]model.Occurrence, 0)
	hitCap := false

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Warn("ics expand: bad RRULE", "err", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the window by the event's length so an instance that started
	// before RangeStart but is still running is not lost.
	loc := ev.Start.Location()
	length := ev.End.Sub(ev.Start)
	if length < 0 {
		length = 0
	}
	rangeStart := cfg.RangeStart.In(loc).Add(-length - 24*time.Hour)
	rangeEnd := cfg.RangeEnd.In(loc).Add(24 * time.Hour)

	occTimes := set.Between(rangeStart, rangeEnd, true)

	spanDays := 0
	if ev.AllDay {
		spanDays = calendarDaysBetween(ev.Start, ev.End)
	}

	for _, occStart := range occTimes {
		var occEnd time.Time
		if ev.AllDay {
			// Calendar arithmetic keeps DST days intact.
			occStart = time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occEnd = occStart.AddDate(0, 0, spanDays)
		} else {
			occEnd = occStart.Add(length)
		}

		baseEv := ev
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			if o.Cancelled() {
				continue
			}
			occStart, occEnd, baseEv = o.Start, o.End, o
		}

		occ := makeOccurrence(baseEv, occStart, occEnd, cfg.DisplayLocation)
		if !overlaps(occ, cfg) {
			continue
		}
		// only occurrences inside the window count against the cap
		if len(out) == cfg.MaxOccurrencesPerEvent {
			hitCap = true
			break
		}
		out = append(out, occ)
	}

	return out, hitCap
}

// findOverrideForStart finds an override event whose RECURRENCE-ID matches
// the given instance start with exact time equality.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.Equal(start) {
			return ov, true
		}
		// All-day RECURRENCE-ID values are dates in whatever location the
		// parser chose; compare by calendar date.
		if ov.AllDay && sameDate(*ov.Recurrence, start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// makeOccurrence converts a (possibly overridden) ParsedEvent + specific
// start/end time into a model.Occurrence normalized into displayLoc.
func makeOccurrence(ev ParsedEvent, start, end time.Time, displayLoc *time.Location) model.Occurrence {
	var startLocal, endLocal time.Time
	if ev.AllDay {
		startLocal = asDate(start, displayLoc)
		endLocal = asDate(end, displayLoc)
	} else {
		startLocal = start.In(displayLoc)
		endLocal = end.In(displayLoc)
	}

	kind := ev.Kind()
	// COLOR wins; a category-promoted pest entry does not inherit the
	// feed's task color.
	color := ev.Color
	if color == "" && kind == ev.Source.Kind {
		color = ev.Source.Color
	}
	if color == "" {
		color = kind.DefaultColor()
	}

	occ := model.Occurrence{
		SourceID:    ev.Source.ID,
		UID:         ev.UID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Start:       startLocal,
		End:         endLocal,
		Kind:        kind,
		Color:       color,
		FieldID:     ev.Source.FieldID,
	}

	// InstanceKey: a stable per-instance key from the local start.
	if ev.AllDay {
		occ.InstanceKey = startLocal.Format("2006-01-02")
	} else {
		occ.InstanceKey = startLocal.Format(time.RFC3339)
	}

	return occ
}

// overlaps reports whether occ touches the configured window. DTEND is
// exclusive, except that a zero-length event occupies its start instant.
func overlaps(occ model.Occurrence, cfg ExpandConfig) bool {
	if occ.Start.After(cfg.RangeEnd) {
		return false
	}
	if occ.End.After(occ.Start) {
		return occ.End.After(cfg.RangeStart)
	}
	return !occ.Start.Before(cfg.RangeStart)
}

// asDate rebuilds t's calendar date at midnight in loc.
func asDate(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// calendarDaysBetween counts whole calendar days from a to b, ignoring
// wall-clock time and DST.
func calendarDaysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	n := int(db.Sub(da).Hours() / 24)
	if n < 1 {
		return 1
	}
	return n
}
