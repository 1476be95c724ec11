package model

import "time"

// Kind distinguishes regular farm work from pest/disease entries.
type Kind string

const (
	KindTask Kind = "task"
	KindPest Kind = "pest"
)

// Default bar colors, matching the web front-end palette.
const (
	ColorTask = "#4d8b31"
	ColorPest = "#e57373"
)

// ParseKind maps loose source values onto a Kind. Anything that is not
// recognizably a pest entry is treated as a task.
func ParseKind(s string) Kind {
	switch s {
	case "pest", "PEST", "Pest", "disease", "damage":
		return KindPest
	default:
		return KindTask
	}
}

// DefaultColor returns the bar color used when a source supplies none.
func (k Kind) DefaultColor() string {
	if k == KindPest {
		return ColorPest
	}
	return ColorTask
}

// Event is the canonical calendar entry handed to the calendar engine.
// Every event source (farm todo backend, ICS feeds) normalizes into this
// shape at its own boundary; the engine never sees source-specific fields.
//
// Only the calendar day of Start and End is significant. End is inclusive:
// a one-day task has Start and End on the same day.
type Event struct {
	ID      string // unique across all sources
	Title   string
	Content string

	Start time.Time
	End   time.Time

	Color string
	Kind  Kind

	FieldID   int    // farmland the event belongs to; 0 if not field-bound
	SourceID  string // "backend" or a configured ICS feed ID
	Completed bool
}

// Query selects the events a source should return: everything touching
// the inclusive day window [From, To] for one field. FieldID 0 means all
// of the owner's fields.
type Query struct {
	FieldID int
	From    time.Time
	To      time.Time
}

// Occurrence represents a single concrete instance of an ICS event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	SourceID string // calendar source ID
	UID      string // iCalendar UID

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, typically derived from the local start time.
	InstanceKey string

	Summary     string
	Description string
	Location    string

	AllDay bool

	// Start / End are in the configured display timezone. End is the
	// iCalendar DTEND, i.e. exclusive.
	Start time.Time
	End   time.Time

	Kind    Kind
	Color   string
	FieldID int
}
