// Package planner is the calendar's caller: it gathers events from every
// configured source, keeps them in the month cache and lays them out with
// the calendar engine.
package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"farmcal/internal/calendar"
	appLog "farmcal/internal/log"
	"farmcal/internal/model"
	"farmcal/internal/monthcache"
)

// EventSource lists the events touching a day window. A source may return
// events together with an error when only part of it failed.
type EventSource interface {
	Name() string
	Events(ctx context.Context, q model.Query) ([]model.Event, error)
}

// ErrAllSourcesFailed is wrapped by the error returned when no source
// produced events for a month.
var ErrAllSourcesFailed = errors.New("planner: all event sources failed")

// Planner is safe for concurrent use.
type Planner struct {
	sources []EventSource
	cache   *monthcache.Cache

	mu   sync.RWMutex
	opts calendar.Options
}

// New creates a Planner. Months stay cached for ttl.
func New(sources []EventSource, opts calendar.Options, ttl time.Duration) *Planner {
	p := &Planner{sources: sources, opts: opts}
	p.cache = monthcache.New(p.loadMonth, ttl)
	return p
}

// Options returns the current layout options.
func (p *Planner) Options() calendar.Options {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.opts
}

// SetOptions replaces the layout options. The cached windows depend on
// week start, grid policy and timezone, so the cache is dropped.
func (p *Planner) SetOptions(opts calendar.Options) {
	p.mu.Lock()
	p.opts = opts
	p.mu.Unlock()
	p.cache.InvalidateAll()
}

// Grid lays out one month of one field. fieldID 0 shows every field.
func (p *Planner) Grid(ctx context.Context, fieldID int, ym calendar.YearMonth) (*calendar.Grid, error) {
	events, err := p.Events(ctx, fieldID, ym)
	if err != nil {
		return nil, err
	}
	return calendar.BuildMonthGrid(ym.Year, int(ym.Month), events, p.Options())
}

// Events returns the merged events shown on the month's grid, padding
// days included.
func (p *Planner) Events(ctx context.Context, fieldID int, ym calendar.YearMonth) ([]model.Event, error) {
	if !ym.Valid() {
		return nil, &calendar.InvalidMonthError{Year: ym.Year, Month: int(ym.Month)}
	}
	return p.cache.Get(ctx, monthcache.Key{FieldID: fieldID, Month: ym})
}

// Warm loads months [from, from+count] for each field so the next request
// is served from cache. Failures are logged and joined.
func (p *Planner) Warm(ctx context.Context, fields []int, from calendar.YearMonth, count int) error {
	var errs []error
	for _, f := range fields {
		for i := 0; i <= count; i++ {
			ym := from.AddMonths(i)
			if _, err := p.Events(ctx, f, ym); err != nil {
				appLog.Error("planner: warm failed", err, "field", f, "month", ym.String())
				errs = append(errs, fmt.Errorf("field %d %s: %w", f, ym, err))
			}
		}
	}
	return errors.Join(errs...)
}

// InvalidateRange drops every cached month of fieldID whose grid could
// show a day in [start, end]. Grids include padding days of the
// neighboring months, so one month on either side is dropped too.
func (p *Planner) InvalidateRange(fieldID int, start, end time.Time) {
	loc := p.Options().Location
	if loc == nil {
		loc = time.Local
	}
	first := calendar.YearMonthOf(start.In(loc)).Prev()
	last := calendar.YearMonthOf(end.In(loc)).Next()
	for ym := first; !last.Before(ym); ym = ym.Next() {
		p.cache.Invalidate(monthcache.Key{FieldID: fieldID, Month: ym})
	}
}

// InvalidateField drops every cached month of fieldID.
func (p *Planner) InvalidateField(fieldID int) { p.cache.InvalidateField(fieldID) }

// InvalidateAll drops the whole cache.
func (p *Planner) InvalidateAll() { p.cache.InvalidateAll() }

// loadMonth is the cache loader: it queries every source in parallel for
// the days the month's grid shows and merges the results.
func (p *Planner) loadMonth(ctx context.Context, key monthcache.Key) ([]model.Event, error) {
	opts := p.Options()
	from, to, err := gridWindow(key.Month, opts)
	if err != nil {
		return nil, err
	}
	q := model.Query{FieldID: key.FieldID, From: from, To: to}

	results := make([][]model.Event, len(p.sources))
	failures := make([]error, len(p.sources))

	var g errgroup.Group
	for i, src := range p.sources {
		g.Go(func() error {
			evs, err := src.Events(ctx, q)
			if err != nil {
				appLog.Error("planner: source failed", err, "source", src.Name(), "key", key.String(), "events", len(evs))
				if len(evs) == 0 {
					failures[i] = fmt.Errorf("%s: %w", src.Name(), err)
				}
			}
			results[i] = evs
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range failures {
		if err != nil {
			failed++
		}
	}
	if len(p.sources) > 0 && failed == len(p.sources) {
		return nil, fmt.Errorf("%w: %w", ErrAllSourcesFailed, errors.Join(failures...))
	}

	merged := merge(results, key.FieldID)
	appLog.Debug("planner: month loaded", "key", key.String(), "events", len(merged), "failed_sources", failed)
	return merged, nil
}

// merge concatenates source results in source order, dropping events of
// other fields and duplicate IDs (first one wins).
func merge(results [][]model.Event, fieldID int) []model.Event {
	seen := make(map[string]struct{})
	out := make([]model.Event, 0)
	for _, evs := range results {
		for _, ev := range evs {
			if fieldID != 0 && ev.FieldID != 0 && ev.FieldID != fieldID {
				continue
			}
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			out = append(out, ev)
		}
	}
	return out
}

// gridWindow returns the first and last day the month's grid shows.
func gridWindow(ym calendar.YearMonth, opts calendar.Options) (time.Time, time.Time, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	cells, err := calendar.MonthCells(ym.Year, int(ym.Month), opts.WeekStart, opts.Policy, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return cells[0].Date, cells[len(cells)-1].Date, nil
}
