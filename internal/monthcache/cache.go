// Package monthcache holds the merged event set of each (field, month)
// the calendar has shown, so flipping between months does not refetch
// every source.
//
// Invalidation is generation based: every Invalidate* call bumps a
// counter, and a load that started under an older generation is handed
// back to its caller but never stored. The result of a superseded rebuild
// therefore cannot overwrite a newer one.
package monthcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"farmcal/internal/calendar"
	appLog "farmcal/internal/log"
	"farmcal/internal/model"
)

// Key identifies one cached month. FieldID 0 is the all-fields view.
type Key struct {
	FieldID int
	Month   calendar.YearMonth
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s", k.FieldID, k.Month)
}

// Loader produces the events for a key on a miss.
type Loader func(ctx context.Context, key Key) ([]model.Event, error)

type entry struct {
	events   []model.Event
	loadedAt time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	load        Loader
	ttl         time.Duration
	loadTimeout time.Duration
	now         func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	entries  map[Key]entry
	allGen   uint64
	fieldGen map[int]uint64
	keyGen   map[Key]uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLoadTimeout bounds a single load. Loads are shared between callers
// and outlive a caller that gives up, so they need their own deadline.
func WithLoadTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.loadTimeout = d
		}
	}
}

// DefaultLoadTimeout is the load deadline used unless WithLoadTimeout is given.
const DefaultLoadTimeout = time.Minute

// New creates a Cache. A ttl <= 0 keeps entries until invalidated.
func New(load Loader, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		load:        load,
		ttl:         ttl,
		loadTimeout: DefaultLoadTimeout,
		now:         time.Now,
		entries:  make(map[Key]entry),
		fieldGen: make(map[int]uint64),
		keyGen:   make(map[Key]uint64),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the events for key, loading them on a miss or after expiry.
// Concurrent misses for the same key share one load. The load keeps
// ctx's values but not its cancellation, so one caller going away does not
// fail the others; Get itself still returns ctx.Err() as soon as ctx is
// done. If a reload fails and an older entry exists, the older entry is
// returned.
//
// The returned slice is shared; callers must not modify it.
func (c *Cache) Get(ctx context.Context, key Key) ([]model.Event, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && c.fresh(e) {
		c.mu.Unlock()
		return e.events, nil
	}
	gen := c.generation(key)
	c.mu.Unlock()

	flightKey := fmt.Sprintf("%s#%d", key, gen)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()

		events, err := c.load(loadCtx, key)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.generation(key) != gen {
			appLog.Debug("monthcache: discarding superseded load", "key", key.String())
			return events, nil
		}
		c.entries[key] = entry{events: events, loadedAt: c.now()}
		return events, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if err := res.Err; err != nil {
		if ok {
			appLog.Warn("monthcache: reload failed, serving stale entry", "key", key.String(), "err", err)
			return e.events, nil
		}
		return nil, err
	}
	return res.Val.([]model.Event), nil
}

// Peek returns the cached events for key without loading, and whether
// they are still fresh.
func (c *Cache) Peek(key Key) ([]model.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.events, c.fresh(e)
}

// Invalidate drops one month of one field, along with the same month of
// the all-fields view.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keyGen[key]++
	delete(c.entries, key)
	if key.FieldID != 0 {
		all := Key{Month: key.Month}
		c.keyGen[all]++
		delete(c.entries, all)
	}
}

// InvalidateField drops every month of fieldID. The all-fields view
// (FieldID 0) includes every field and is dropped too.
func (c *Cache) InvalidateField(fieldID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fieldGen[fieldID]++
	if fieldID != 0 {
		c.fieldGen[0]++
	}
	for k := range c.entries {
		if k.FieldID == fieldID || k.FieldID == 0 {
			delete(c.entries, k)
		}
	}
}

// InvalidateAll empties the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allGen++
	clear(c.entries)
}

// Len is the number of cached months.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// generation must be called with mu held. Each counter only grows, so the
// sum changes whenever any invalidation covering key happens.
func (c *Cache) generation(key Key) uint64 {
	return c.allGen + c.fieldGen[key.FieldID] + c.keyGen[key]
}

func (c *Cache) fresh(e entry) bool {
	return c.ttl <= 0 || c.now().Sub(e.loadedAt) < c.ttl
}
