// Package scheduler periodically drops the month cache and warms the
// months people are most likely to open next.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"farmcal/internal/calendar"
	appLog "farmcal/internal/log"
)

// Refresher is the part of the planner the scheduler drives.
type Refresher interface {
	InvalidateAll()
	Warm(ctx context.Context, fields []int, from calendar.YearMonth, count int) error
}

// Plan says what one refresh warms: the current month plus Prefetch
// following months, for each of Fields.
type Plan struct {
	Fields   []int
	Prefetch int
}

// Scheduler runs refreshes on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	refresher Refresher
	loc       *time.Location
	now       func() time.Time

	mu      sync.Mutex
	entry   cron.EntryID
	spec    string
	plan    Plan
	running sync.Mutex // held for the duration of a refresh
	ctx     context.Context
}

// New validates spec (standard 5-field cron or a descriptor such as
// "@every 15m") and creates a stopped Scheduler. Schedules and "current
// month" are evaluated in loc.
func New(spec string, plan Plan, r Refresher, loc *time.Location) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	logger := cronLogger{}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		refresher: r,
		loc:       loc,
		now:       time.Now,
		plan:      plan,
		ctx:       context.Background(),
	}
	if err := s.Reschedule(spec, plan); err != nil {
		return nil, err
	}
	return s, nil
}

// Reschedule swaps the schedule and plan, e.g. after a config reload.
func (s *Scheduler) Reschedule(spec string, plan Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if spec == s.spec && s.entry != 0 {
		s.plan = plan
		return nil
	}

	id, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return fmt.Errorf("scheduler: bad schedule %q: %w", spec, err)
	}
	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	s.entry = id
	s.spec = spec
	s.plan = plan
	appLog.Info("refresh scheduled", "schedule", spec, "fields", plan.Fields, "prefetch_months", plan.Prefetch)
	return nil
}

// Run refreshes once immediately, then on schedule until ctx is canceled.
// It waits for an in-flight refresh before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if err := s.RunOnce(ctx); err != nil {
		appLog.Error("initial refresh failed", err)
	}

	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	appLog.Info("refresh scheduler stopped")
	return nil
}

// RunOnce drops every cached month and warms the planned ones.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.running.Lock()
	defer s.running.Unlock()

	s.mu.Lock()
	plan := s.plan
	s.mu.Unlock()

	started := time.Now()
	s.refresher.InvalidateAll()
	from := calendar.YearMonthOf(s.now().In(s.loc))
	err := s.refresher.Warm(ctx, plan.Fields, from, plan.Prefetch)
	if errors.Is(err, context.Canceled) {
		return err
	}
	appLog.Info("refresh completed",
		"from", from.String(),
		"fields", len(plan.Fields),
		"months", plan.Prefetch+1,
		"elapsed", time.Since(started).String(),
		"ok", err == nil,
	)
	return err
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if err := s.RunOnce(ctx); err != nil {
		appLog.Error("scheduled refresh failed", err)
	}
}

// cronLogger routes cron's own logging through the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
