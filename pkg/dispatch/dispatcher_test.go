package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/uxorbit/internal/metrics"
	"github.com/harun/uxorbit/internal/tracing"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestDispatcher_SubmitAndWait(t *testing.T) {
	d := New(Options{Concurrency: 2})
	defer d.Close(context.Background())

	executed := false
	h, err := d.Submit(context.Background(), "a", func(ctx context.Context) error {
		executed = true
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, h.Wait(waitCtx(t)))

	assert.True(t, executed)
	assert.Equal(t, StateDone, h.State())
	assert.False(t, h.StartedAt().IsZero())
}

func TestDispatcher_TaskError(t *testing.T) {
	d := New(Options{})
	defer d.Close(context.Background())

	boom := errors.New("boom")
	h, err := d.Submit(context.Background(), "a", func(ctx context.Context) error { return boom })
	require.NoError(t, err)
	assert.ErrorIs(t, h.Wait(waitCtx(t)), boom)
	assert.ErrorIs(t, h.Err(), boom)
}

func TestDispatcher_PanicSettlesHandle(t *testing.T) {
	d := New(Options{})
	defer d.Close(context.Background())

	h, err := d.Submit(context.Background(), "a", func(ctx context.Context) error { panic("kaboom") })
	require.NoError(t, err)
	assert.ErrorContains(t, h.Wait(waitCtx(t)), "task panicked: kaboom")

	h, err = d.Submit(context.Background(), "b", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.NoError(t, h.Wait(waitCtx(t)))
}

func TestDispatcher_ConcurrencyLimit(t *testing.T) {
	d := New(Options{Concurrency: 2})
	defer d.Close(context.Background())

	var current, peak atomic.Int32
	release := make(chan struct{})
	var handles []*Handle
	for i := 0; i < 6; i++ {
		h, err := d.Submit(context.Background(), fmt.Sprintf("t%d", i), func(ctx context.Context) error {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			current.Add(-1)
			return nil
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}

	assert.Eventually(t, func() bool { return d.Stats().Running == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 4, d.Stats().Queued)
	assert.Equal(t, StateQueued, handles[5].State())

	close(release)
	for _, h := range handles {
		require.NoError(t, h.Wait(waitCtx(t)))
	}
	assert.Equal(t, int32(2), peak.Load())
}

func TestDispatcher_FIFO(t *testing.T) {
	d := New(Options{Concurrency: 1})
	defer d.Close(context.Background())

	var mu sync.Mutex
	var order []int
	var last *Handle
	for i := 0; i < 5; i++ {
		i := i
		h, err := d.Submit(context.Background(), fmt.Sprintf("t%d", i), func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
		last = h
	}
	require.NoError(t, last.Wait(waitCtx(t)))
	require.NoError(t, d.Wait(waitCtx(t)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestDispatcher_DuplicateID(t *testing.T) {
	d := New(Options{Concurrency: 1})
	defer d.Close(context.Background())

	release := make(chan struct{})
	h, err := d.Submit(context.Background(), "same", func(ctx context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	_, err = d.Submit(context.Background(), "same", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrDuplicate)

	close(release)
	require.NoError(t, h.Wait(waitCtx(t)))

	_, err = d.Submit(context.Background(), "same", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestDispatcher_TaskOutlivesSubmitContext(t *testing.T) {
	d := New(Options{})
	defer d.Close(context.Background())

	reqCtx, cancel := context.WithCancel(tracing.WithSessionID(context.Background(), "sess-1"))
	started := make(chan struct{})
	var sessionID string
	var ctxErr error
	h, err := d.Submit(reqCtx, "a", func(ctx context.Context) error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		sessionID = tracing.GetSessionID(ctx)
		ctxErr = ctx.Err()
		return nil
	})
	require.NoError(t, err)
	<-started
	cancel()

	require.NoError(t, h.Wait(waitCtx(t)))
	assert.Equal(t, "sess-1", sessionID)
	assert.NoError(t, ctxErr)
}

func TestDispatcher_Close(t *testing.T) {
	d := New(Options{Concurrency: 1})

	started := make(chan struct{})
	running, err := d.Submit(context.Background(), "running", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	queued, err := d.Submit(context.Background(), "queued", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	<-started

	require.NoError(t, d.Close(waitCtx(t)))
	assert.ErrorIs(t, running.Err(), context.Canceled)
	assert.ErrorIs(t, queued.Err(), ErrClosed)

	_, err = d.Submit(context.Background(), "late", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, d.Close(context.Background()))
}

func TestDispatcher_Events(t *testing.T) {
	d := New(Options{Concurrency: 1})
	defer d.Close(context.Background())

	var mu sync.Mutex
	var seen []Event
	record := func(ev Event) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	}
	d.On(EventStarted, record)
	d.On(EventCompleted, record)

	release := make(chan struct{})
	first, err := d.Submit(context.Background(), "a", func(ctx context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, err)
	second, err := d.Submit(context.Background(), "b", func(ctx context.Context) error {
		return errors.New("boom")
	})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	close(release)
	require.NoError(t, first.Wait(waitCtx(t)))
	require.Error(t, second.Wait(waitCtx(t)))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 4
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()

	types := make([]string, 0, len(seen))
	for _, ev := range seen {
		types = append(types, string(ev.Type)+" "+ev.ID)
	}
	assert.Equal(t, []string{"started a", "completed a", "started b", "completed b"}, types)
	assert.GreaterOrEqual(t, seen[2].Waited, 30*time.Millisecond)
	assert.GreaterOrEqual(t, seen[1].Duration, 30*time.Millisecond)
	assert.NoError(t, seen[1].Err)
	assert.EqualError(t, seen[3].Err, "boom")
}

func TestDispatcher_QueueDepthMetric(t *testing.T) {
	m := metrics.NewMetrics()
	d := New(Options{Concurrency: 1, Metrics: m})
	defer d.Close(context.Background())

	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		_, err := d.Submit(context.Background(), fmt.Sprintf("t%d", i), func(ctx context.Context) error {
			<-release
			return nil
		})
		require.NoError(t, err)
	}
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.DispatchQueueDepth) == 2
	}, time.Second, 10*time.Millisecond)

	close(release)
	require.NoError(t, d.Wait(waitCtx(t)))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.DispatchQueueDepth))
}

func TestHandle_WaitContext(t *testing.T) {
	h := newHandle("x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.Wait(ctx), context.Canceled)

	h.settle(nil)
	h.settle(errors.New("ignored"))
	assert.NoError(t, h.Wait(context.Background()))
}
