package calendar

import (
	"time"

	"farmcal/internal/model"
)

// Span pairs an event with its normalized day range.
type Span struct {
	Event model.Event
	Range DayRange
}

// Membership describes how one event relates to one day it overlaps.
type Membership struct {
	Event model.Event
	Range DayRange

	IsStart     bool
	IsEnd       bool
	IsMiddle    bool
	IsSingleDay bool
}

// MembersOn returns the spans whose range contains day, tagged with their
// position relative to that day. Input order is preserved; no other
// ordering is implied.
func MembersOn(day time.Time, spans []Span) []Membership {
	var out []Membership
	for _, sp := range spans {
		if !sp.Range.Contains(day) {
			continue
		}
		out = append(out, membershipOf(day, sp))
	}
	return out
}

func membershipOf(day time.Time, sp Span) Membership {
	isStart := sameDay(day, sp.Range.Start)
	isEnd := sameDay(day, sp.Range.End)
	return Membership{
		Event:       sp.Event,
		Range:       sp.Range,
		IsStart:     isStart,
		IsEnd:       isEnd,
		IsMiddle:    !isStart && !isEnd,
		IsSingleDay: isStart && isEnd,
	}
}
