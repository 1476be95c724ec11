package calendar

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidRange = errors.New("calendar: invalid range")
	ErrInvalidDate  = errors.New("calendar: invalid date")
	ErrInvalidMonth = errors.New("calendar: invalid month")
)

// InvalidRangeError reports an event whose end day precedes its start day
// after both were stripped to calendar days.
type InvalidRangeError struct {
	EventID string
	Start   time.Time
	End     time.Time
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("calendar: event %q ends (%s) before it starts (%s)",
		e.EventID, e.End.Format(dayLayout), e.Start.Format(dayLayout))
}

func (e *InvalidRangeError) Is(target error) bool { return target == ErrInvalidRange }

// InvalidDateError reports a missing or unparsable start/end value.
type InvalidDateError struct {
	EventID string
	Field   string // "start" or "end"; empty when raised by ParseDay
	Value   string
}

func (e *InvalidDateError) Error() string {
	switch {
	case e.EventID != "" && e.Field != "":
		return fmt.Sprintf("calendar: event %q has invalid %s date %q", e.EventID, e.Field, e.Value)
	case e.Field != "":
		return fmt.Sprintf("calendar: invalid %s date %q", e.Field, e.Value)
	default:
		return fmt.Sprintf("calendar: invalid date %q", e.Value)
	}
}

func (e *InvalidDateError) Is(target error) bool { return target == ErrInvalidDate }

// InvalidMonthError is returned for a (year, month) pair the grid cannot be
// built for. It is a caller contract violation, never a data problem.
type InvalidMonthError struct {
	Year  int
	Month int
}

func (e *InvalidMonthError) Error() string {
	return fmt.Sprintf("calendar: invalid month %d-%02d", e.Year, e.Month)
}

func (e *InvalidMonthError) Is(target error) bool { return target == ErrInvalidMonth }
