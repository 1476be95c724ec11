package calendar

import (
	"strings"
	"time"

	"farmcal/internal/model"
)

const dayLayout = "2006-01-02"

// DayRange is an inclusive span of calendar days. Start and End are
// midnight in the location the range was normalized in.
type DayRange struct {
	Start time.Time
	End   time.Time
}

// NormalizeRange strips the time of day from ev's Start and End in loc and
// validates the ordering. A zero Start or End is reported as an
// *InvalidDateError; End before Start as an *InvalidRangeError.
func NormalizeRange(ev model.Event, loc *time.Location) (DayRange, error) {
	if loc == nil {
		loc = time.Local
	}
	if ev.Start.IsZero() {
		return DayRange{}, &InvalidDateError{EventID: ev.ID, Field: "start"}
	}
	if ev.End.IsZero() {
		return DayRange{}, &InvalidDateError{EventID: ev.ID, Field: "end"}
	}

	r := DayRange{
		Start: startOfDay(ev.Start.In(loc)),
		End:   startOfDay(ev.End.In(loc)),
	}
	if dayNumber(r.End) < dayNumber(r.Start) {
		return DayRange{}, &InvalidRangeError{EventID: ev.ID, Start: r.Start, End: r.End}
	}
	return r, nil
}

// Contains reports whether day falls within the range, both ends inclusive.
func (r DayRange) Contains(day time.Time) bool {
	n := dayNumber(day)
	return n >= dayNumber(r.Start) && n <= dayNumber(r.End)
}

// Duration is End minus Start in whole days; 0 for a single-day range.
func (r DayRange) Duration() int {
	return dayNumber(r.End) - dayNumber(r.Start)
}

// Days is the number of calendar days covered.
func (r DayRange) Days() int {
	return r.Duration() + 1
}

// ParseDay parses a date-like string into midnight of that calendar day in
// loc. Accepted: "2006-01-02", RFC 3339, and "2006-01-02T15:04:05" (local).
// RFC 3339 values are converted into loc before the day is taken.
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	v := strings.TrimSpace(s)
	if v == "" {
		return time.Time{}, &InvalidDateError{Value: s}
	}

	if t, err := time.ParseInLocation(dayLayout, v, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return startOfDay(t.In(loc)), nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", v, loc); err == nil {
		return startOfDay(t), nil
	}
	return time.Time{}, &InvalidDateError{Value: s}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// dayNumber maps a calendar day onto a running day count, independent of
// the location's DST transitions.
func dayNumber(t time.Time) int {
	y, m, d := t.Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

func sameDay(a, b time.Time) bool {
	return dayNumber(a) == dayNumber(b)
}
