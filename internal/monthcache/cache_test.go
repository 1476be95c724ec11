package monthcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"farmcal/internal/calendar"
	"farmcal/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var may = calendar.YearMonth{Year: 2025, Month: time.May}

// countingLoader returns one event named after the key and the load count.
func countingLoader(loads *atomic.Int32) Loader {
	return func(ctx context.Context, key Key) ([]model.Event, error) {
		n := loads.Add(1)
		return []model.Event{{ID: key.String(), Title: string(rune('0' + n))}}, nil
	}
}

func TestGet_CachesUntilTTL(t *testing.T) {
	var loads atomic.Int32
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	c := New(countingLoader(&loads), time.Minute, WithClock(func() time.Time { return now }))
	key := Key{FieldID: 22, Month: may}

	evs, err := c.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "22/2025-05", evs[0].ID)

	_, err = c.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int32(1), loads.Load())

	now = now.Add(2 * time.Minute)
	_, fresh := c.Peek(key)
	assert.False(t, fresh)

	evs, err = c.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int32(2), loads.Load())
	assert.Equal(t, "2", evs[0].Title)
}

func TestGet_CollapsesConcurrentLoads(t *testing.T) {
	var loads atomic.Int32
	release := make(chan struct{})
	c := New(func(ctx context.Context, key Key) ([]model.Event, error) {
		loads.Add(1)
		<-release
		return []model.Event{{ID: "x"}}, nil
	}, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			evs, err := c.Get(context.Background(), Key{Month: may})
			assert.NoError(t, err)
			assert.Len(t, evs, 1)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
}

func TestGet_SupersededLoadIsNotStored(t *testing.T) {
	var loads atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	c := New(func(ctx context.Context, key Key) ([]model.Event, error) {
		if loads.Add(1) == 1 {
			started <- struct{}{}
			<-release
			return []model.Event{{ID: "old"}}, nil
		}
		return []model.Event{{ID: "new"}}, nil
	}, 0)
	key := Key{FieldID: 22, Month: may}

	done := make(chan []model.Event)
	go func() {
		evs, err := c.Get(context.Background(), key)
		assert.NoError(t, err)
		done <- evs
	}()

	<-started
	c.Invalidate(key)
	close(release)

	// the caller still gets its result
	assert.Equal(t, "old", (<-done)[0].ID)
	_, ok := c.Peek(key)
	assert.False(t, ok)

	evs, err := c.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "new", evs[0].ID)
}

func TestGet_ServesStaleOnError(t *testing.T) {
	fail := false
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	c := New(func(ctx context.Context, key Key) ([]model.Event, error) {
		if fail {
			return nil, errors.New("backend down")
		}
		return []model.Event{{ID: "cached"}}, nil
	}, time.Minute, WithClock(func() time.Time { return now }))
	key := Key{Month: may}

	_, err := c.Get(context.Background(), key)
	require.NoError(t, err)

	fail = true
	now = now.Add(time.Hour)
	evs, err := c.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "cached", evs[0].ID)

	_, err = c.Get(context.Background(), Key{Month: may.Next()})
	assert.Error(t, err)
}

func TestInvalidate(t *testing.T) {
	var loads atomic.Int32
	c := New(countingLoader(&loads), 0)
	ctx := context.Background()

	keys := []Key{
		{FieldID: 0, Month: may},
		{FieldID: 22, Month: may},
		{FieldID: 22, Month: may.Next()},
		{FieldID: 9, Month: may},
	}
	fill := func() {
		for _, k := range keys {
			_, err := c.Get(ctx, k)
			require.NoError(t, err)
		}
	}
	fill()
	require.Equal(t, 4, c.Len())

	t.Run("one month drops the all-fields view too", func(t *testing.T) {
		c.Invalidate(Key{FieldID: 22, Month: may})
		assert.Equal(t, 2, c.Len())
		_, ok := c.Peek(Key{FieldID: 22, Month: may.Next()})
		assert.True(t, ok)
		fill()
	})

	t.Run("field", func(t *testing.T) {
		c.InvalidateField(22)
		assert.Equal(t, 1, c.Len())
		_, ok := c.Peek(Key{FieldID: 9, Month: may})
		assert.True(t, ok)
		fill()
	})

	t.Run("all", func(t *testing.T) {
		c.InvalidateAll()
		assert.Equal(t, 0, c.Len())
	})
}

func TestGet_CallerCancelDoesNotFailOthers(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var loadErr atomic.Value
	c := New(func(ctx context.Context, key Key) ([]model.Event, error) {
		close(started)
		select {
		case <-ctx.Done():
			loadErr.Store(ctx.Err())
			return nil, ctx.Err()
		case <-release:
			return []model.Event{{ID: "x"}}, nil
		}
	}, 0)
	key := Key{FieldID: 22, Month: may}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.Get(ctxA, key)
		errA <- err
	}()
	<-started

	type result struct {
		evs []model.Event
		err error
	}
	resB := make(chan result, 1)
	go func() {
		evs, err := c.Get(context.Background(), key)
		resB <- result{evs, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Len(t, b.evs, 1)
	assert.Nil(t, loadErr.Load())

	// the shared load was stored even though its first caller left
	evs, fresh := c.Peek(key)
	assert.True(t, fresh)
	assert.Len(t, evs, 1)
}

func TestGet_LoadTimeout(t *testing.T) {
	c := New(func(ctx context.Context, key Key) ([]model.Event, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, 0, WithLoadTimeout(20*time.Millisecond))

	_, err := c.Get(context.Background(), Key{Month: may})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, c.Len())
}
