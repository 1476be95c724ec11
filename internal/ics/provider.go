// Package ics turns subscribed iCalendar feeds (regional pest alerts,
// cooperative work calendars) into farm calendar events.
package ics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"farmcal/internal/config"
	"farmcal/internal/httpcache"
	appLog "farmcal/internal/log"
	"farmcal/internal/model"
)

// Source describes one ICS subscription.
type Source struct {
	// ID is an internal identifier (e.g., config ICS ID).
	ID string
	// URL is the ICS endpoint.
	URL string
	// Kind is applied to every event unless CATEGORIES says otherwise.
	Kind model.Kind
	// Color is the bar color for events without their own COLOR.
	Color string
	// FieldID binds the feed to one farmland; 0 shows it everywhere.
	FieldID int
}

// SourcesFromConfig converts normalized config entries, dropping any
// without a URL. Repeated IDs get a "#n" suffix so every source stays
// distinct, even when two entries share a URL.
func SourcesFromConfig(cfgs []config.ICSConfig) []Source {
	sources := make([]Source, 0, len(cfgs))
	seen := make(map[string]int, len(cfgs))
	for _, c := range cfgs {
		if c.URL == "" {
			continue
		}
		id := c.ID
		if id == "" {
			id = c.URL
		}
		seen[id]++
		if n := seen[id]; n > 1 {
			id = fmt.Sprintf("%s#%d", id, n)
		}
		sources = append(sources, Source{
			ID:      id,
			URL:     c.URL,
			Kind:    model.ParseKind(c.Kind),
			Color:   c.Color,
			FieldID: c.FieldID,
		})
	}
	return sources
}

// Provider is an event source backed by ICS feeds.
type Provider struct {
	fetcher *httpcache.Fetcher
	sources []Source
	loc     *time.Location
}

// NewProvider creates a Provider. loc is the display timezone; nil means
// time.Local.
func NewProvider(fetcher *httpcache.Fetcher, sources []Source, loc *time.Location) *Provider {
	if loc == nil {
		loc = time.Local
	}
	return &Provider{fetcher: fetcher, sources: sources, loc: loc}
}

// Name identifies the provider in logs.
func (p *Provider) Name() string { return "ics" }

// Events fetches every feed relevant to q.FieldID and returns the
// occurrences touching [q.From, q.To] as events. Feeds that fail are
// logged; their error is returned alongside the events of the feeds that
// succeeded.
func (p *Provider) Events(ctx context.Context, q model.Query) ([]model.Event, error) {
	sources := p.sourcesFor(q.FieldID)
	if len(sources) == 0 {
		return nil, nil
	}

	reqs := make([]httpcache.Request, 0, len(sources))
	byID := make(map[string]Source, len(sources))
	for _, src := range sources {
		reqs = append(reqs, httpcache.Request{ID: src.ID, URL: src.URL})
		byID[src.ID] = src
	}

	results, fetchErr := p.fetcher.FetchAll(ctx, reqs)
	errs := []error{fetchErr}

	parsed := make([]ParsedEvent, 0)
	for _, res := range results {
		src := byID[res.Request.ID]
		evs, err := ParseICS(src, res.Body)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		parsed = append(parsed, evs...)
	}

	from := dayStart(q.From, p.loc)
	to := dayStart(q.To, p.loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
	expanded, err := ExpandOccurrences(parsed, ExpandConfig{
		DisplayLocation: p.loc,
		RangeStart:      from,
		RangeEnd:        to,
	})
	if err != nil {
		return nil, err
	}

	events := make([]model.Event, 0, len(expanded.Occurrences))
	for _, occ := range expanded.Occurrences {
		events = append(events, EventFromOccurrence(occ))
	}

	appLog.Debug("ics events loaded",
		"field", q.FieldID,
		"sources", len(sources),
		"events", len(events),
	)
	return events, errors.Join(errs...)
}

func (p *Provider) sourcesFor(fieldID int) []Source {
	if fieldID == 0 {
		return p.sources
	}
	out := make([]Source, 0, len(p.sources))
	for _, src := range p.sources {
		if src.FieldID == 0 || src.FieldID == fieldID {
			out = append(out, src)
		}
	}
	return out
}

// EventFromOccurrence maps an occurrence onto the calendar's event shape.
// The exclusive DTEND becomes an inclusive end day: an all-day event
// ending on the 5th covers through the 4th, and a timed event ending at
// exactly midnight does not spill into the next day.
func EventFromOccurrence(occ model.Occurrence) model.Event {
	end := occ.End
	switch {
	case occ.AllDay:
		end = end.AddDate(0, 0, -1)
		if end.Before(occ.Start) {
			end = occ.Start
		}
	case end.After(occ.Start) && isMidnight(end):
		end = end.Add(-time.Nanosecond)
	}

	return model.Event{
		ID:       fmt.Sprintf("ics:%s:%s:%s", occ.SourceID, occ.UID, occ.InstanceKey),
		Title:    occ.Summary,
		Content:  occ.Description,
		Start:    occ.Start,
		End:      end,
		Color:    occ.Color,
		Kind:     occ.Kind,
		FieldID:  occ.FieldID,
		SourceID: occ.SourceID,
	}
}

func isMidnight(t time.Time) bool {
	h, m, s := t.Clock()
	return h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0
}

func dayStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
