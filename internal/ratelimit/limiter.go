// Package ratelimit paces outbound requests to the model provider.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
)

// Config controls request pacing and error backoff.
type Config struct {
	RequestsPerMinute int
	BatchSize         int
	BatchPause        time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
}

// Limiter enforces a minimum interval between requests, a per-minute cap, a
// pause after every BatchSize requests, and exponential backoff after
// consecutive errors. Acquire is serialized across callers.
type Limiter struct {
	cfg   Config
	clock clockwork.Clock

	// acquireMu is held for the whole of Acquire, including the sleep, so
	// waiters queue instead of racing for the same slot.
	acquireMu sync.Mutex

	mu                sync.Mutex
	count             int
	windowStart       time.Time
	windowCount       int
	last              time.Time
	consecutiveErrors int
	backoffUntil      time.Time

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Limiter. A nil clock uses the package default.
func New(cfg Config, clock clockwork.Clock) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	l := &Limiter{cfg: cfg, clock: domain.Clock(clock)}
	l.sleep = l.clockSleep
	return l
}

// Acquire blocks until the next request may be issued or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.acquireMu.Lock()
	defer l.acquireMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if wait := l.nextWait(); wait > 0 {
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= time.Minute {
		l.windowStart = now
		l.windowCount = 0
	}
	l.windowCount++
	l.count++
	l.last = now
	return nil
}

// nextWait computes how long the next acquisition must wait: the largest of
// the backoff remainder, the batch pause, the per-minute window remainder and
// the minimum inter-request interval.
func (l *Limiter) nextWait() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	var wait time.Duration

	if l.backoffUntil.After(now) {
		wait = l.backoffUntil.Sub(now)
	}

	if l.cfg.BatchSize > 0 && l.count > 0 && l.count%l.cfg.BatchSize == 0 {
		wait = max(wait, l.cfg.BatchPause)
	}

	if !l.windowStart.IsZero() && now.Sub(l.windowStart) < time.Minute && l.windowCount >= l.cfg.RequestsPerMinute {
		wait = max(wait, l.windowStart.Add(time.Minute).Sub(now))
	}

	if !l.last.IsZero() {
		interval := time.Minute / time.Duration(l.cfg.RequestsPerMinute)
		wait = max(wait, interval-now.Sub(l.last))
	}

	return wait
}

// RecordSuccess clears the consecutive error count and any pending backoff.
func (l *Limiter) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consecutiveErrors = 0
	l.backoffUntil = time.Time{}
}

// RecordError extends the backoff window after a failed request.
func (l *Limiter) RecordError() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consecutiveErrors++
	l.backoffUntil = l.clock.Now().Add(l.backoffLocked())
}

// Backoff returns the delay applied after the current run of consecutive
// errors, or zero when the last request succeeded.
func (l *Limiter) Backoff() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backoffLocked()
}

// Count returns the number of completed acquisitions.
func (l *Limiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func (l *Limiter) backoffLocked() time.Duration {
	if l.consecutiveErrors == 0 || l.cfg.BackoffBase <= 0 {
		return 0
	}
	d := l.cfg.BackoffBase
	for i := 1; i < l.consecutiveErrors; i++ {
		d *= 2
		if l.cfg.BackoffMax > 0 && d >= l.cfg.BackoffMax {
			return l.cfg.BackoffMax
		}
	}
	if l.cfg.BackoffMax > 0 && d > l.cfg.BackoffMax {
		return l.cfg.BackoffMax
	}
	return d
}

func (l *Limiter) clockSleep(ctx context.Context, d time.Duration) error {
	timer := l.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}
