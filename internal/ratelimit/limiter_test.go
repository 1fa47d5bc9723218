package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingLimiter replaces the sleep hook with one that logs each wait and
// advances the fake clock by that amount.
func recordingLimiter(cfg Config) (*Limiter, *clockwork.FakeClock, *[]time.Duration) {
	fc := clockwork.NewFakeClockAt(time.Date(2025, 2, 6, 12, 0, 0, 0, time.UTC))
	l := New(cfg, fc)
	var slept []time.Duration
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		fc.Advance(d)
		return nil
	}
	return l, fc, &slept
}

func countEqual(ds []time.Duration, want time.Duration) int {
	n := 0
	for _, d := range ds {
		if d == want {
			n++
		}
	}
	return n
}

func TestLimiter_BatchPauses(t *testing.T) {
	const batch = 3
	cfg := Config{RequestsPerMinute: 6000, BatchSize: batch, BatchPause: time.Second}

	for k := 1; k <= 4; k++ {
		l, _, slept := recordingLimiter(cfg)
		for range batch*k + 1 {
			require.NoError(t, l.Acquire(context.Background()))
		}
		assert.GreaterOrEqual(t, countEqual(*slept, time.Second), k, "k=%d", k)
		assert.Equal(t, batch*k+1, l.Count())
	}
}

func TestLimiter_MinimumInterval(t *testing.T) {
	l, fc, slept := recordingLimiter(Config{RequestsPerMinute: 30})

	require.NoError(t, l.Acquire(context.Background()))
	fc.Advance(500 * time.Millisecond)
	require.NoError(t, l.Acquire(context.Background()))

	require.Len(t, *slept, 1)
	assert.Equal(t, 1500*time.Millisecond, (*slept)[0])
}

func TestLimiter_NoWaitAfterIntervalElapsed(t *testing.T) {
	l, fc, slept := recordingLimiter(Config{RequestsPerMinute: 60})

	require.NoError(t, l.Acquire(context.Background()))
	fc.Advance(5 * time.Second)
	require.NoError(t, l.Acquire(context.Background()))

	assert.Empty(t, *slept)
}

func TestLimiter_BackoffIncreasesAndResets(t *testing.T) {
	l, _, _ := recordingLimiter(Config{
		RequestsPerMinute: 60,
		BackoffBase:       time.Second,
		BackoffMax:        8 * time.Second,
	})

	assert.Zero(t, l.Backoff())

	var got []time.Duration
	for range 6 {
		l.RecordError()
		got = append(got, l.Backoff())
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second, 8 * time.Second,
	}, got)

	for i := 1; i < 4; i++ {
		assert.Greater(t, got[i], got[i-1])
	}

	l.RecordSuccess()
	assert.Zero(t, l.Backoff())
}

func TestLimiter_BackoffDelaysAcquire(t *testing.T) {
	l, _, slept := recordingLimiter(Config{
		RequestsPerMinute: 600,
		BackoffBase:       2 * time.Second,
		BackoffMax:        time.Minute,
	})

	require.NoError(t, l.Acquire(context.Background()))
	l.RecordError()
	l.RecordError()
	require.NoError(t, l.Acquire(context.Background()))

	require.Len(t, *slept, 1)
	assert.Equal(t, 4*time.Second, (*slept)[0])

	l.RecordSuccess()
	require.NoError(t, l.Acquire(context.Background()))
	require.Len(t, *slept, 2)
	assert.Equal(t, 100*time.Millisecond, (*slept)[1])
}

func TestLimiter_SerializesAcquire(t *testing.T) {
	fc := clockwork.NewFakeClock()
	l := New(Config{RequestsPerMinute: 6000}, fc)

	var inFlight, peak atomic.Int32
	l.sleep = func(_ context.Context, d time.Duration) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		fc.Advance(d)
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return nil
	}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Acquire(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, l.Count())
	assert.Equal(t, int32(1), peak.Load())
}

func TestLimiter_AcquireCancelled(t *testing.T) {
	fc := clockwork.NewFakeClock()
	l := New(Config{RequestsPerMinute: 1}, fc)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Acquire(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, fc.BlockUntilContext(waitCtx, 1))
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return after cancellation")
	}
	assert.Equal(t, 1, l.Count())
}

func TestLimiter_AcquireWakesOnClock(t *testing.T) {
	fc := clockwork.NewFakeClock()
	l := New(Config{RequestsPerMinute: 1}, fc)
	require.NoError(t, l.Acquire(context.Background()))

	errCh := make(chan error, 1)
	go func() { errCh <- l.Acquire(context.Background()) }()

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(waitCtx, 1))
	fc.Advance(time.Minute)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Acquire did not wake after the interval")
	}
	assert.Equal(t, 2, l.Count())
}
