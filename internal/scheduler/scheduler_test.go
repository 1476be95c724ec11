package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"farmcal/internal/calendar"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type warmCall struct {
	fields []int
	from   calendar.YearMonth
	count  int
}

type fakeRefresher struct {
	mu          sync.Mutex
	invalidated int
	warms       []warmCall
	err         error
}

func (f *fakeRefresher) InvalidateAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
}

func (f *fakeRefresher) Warm(ctx context.Context, fields []int, from calendar.YearMonth, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warms = append(f.warms, warmCall{fields: fields, from: from, count: count})
	return f.err
}

func (f *fakeRefresher) snapshot() (int, []warmCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invalidated, append([]warmCall(nil), f.warms...)
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	_, err := New("every now and then", Plan{}, &fakeRefresher{}, time.UTC)
	assert.Error(t, err)
}

func TestRunOnce(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	r := &fakeRefresher{}
	s, err := New("*/15 * * * *", Plan{Fields: []int{0, 22}, Prefetch: 2}, r, seoul)
	require.NoError(t, err)
	// 16:00 UTC on Apr 30 is already May 1 in Seoul
	s.now = func() time.Time { return time.Date(2025, 4, 30, 16, 0, 0, 0, time.UTC) }

	require.NoError(t, s.RunOnce(context.Background()))
	invalidated, warms := r.snapshot()
	assert.Equal(t, 1, invalidated)
	require.Len(t, warms, 1)
	assert.Equal(t, []int{0, 22}, warms[0].fields)
	assert.Equal(t, calendar.YearMonth{Year: 2025, Month: time.May}, warms[0].from)
	assert.Equal(t, 2, warms[0].count)

	r.err = errors.New("backend down")
	assert.Error(t, s.RunOnce(context.Background()))
}

func TestReschedule(t *testing.T) {
	r := &fakeRefresher{}
	s, err := New("*/15 * * * *", Plan{Fields: []int{0}}, r, time.UTC)
	require.NoError(t, err)
	first := s.entry

	require.NoError(t, s.Reschedule("*/15 * * * *", Plan{Fields: []int{9}}))
	assert.Equal(t, first, s.entry)
	assert.Equal(t, []int{9}, s.plan.Fields)

	require.NoError(t, s.Reschedule("@hourly", Plan{Fields: []int{9}}))
	assert.NotEqual(t, first, s.entry)
	assert.Len(t, s.cron.Entries(), 1)

	assert.Error(t, s.Reschedule("nope", Plan{}))
	assert.Equal(t, "@hourly", s.spec)
}

func TestRun_RefreshesImmediatelyAndStops(t *testing.T) {
	r := &fakeRefresher{}
	s, err := New("@daily", Plan{Fields: []int{0}}, r, time.UTC)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, _ := r.snapshot()
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
