// Package cycle discovers the newest published GFS cycle and keeps retry
// bookkeeping per cycle.
package cycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
	"github.com/couchcryptid/gfs-forecast-service/internal/observability"
)

// ProbeClient checks whether cycle files exist upstream.
type ProbeClient interface {
	Probe(ctx context.Context, rawURL string) (time.Time, error)
	BulletinURL(station string, run domain.ModelRun) string
	AtmosIndexURL(run domain.ModelRun) string
}

// Prober finds the most recent cycle whose files are published.
type Prober struct {
	client       ProbeClient
	station      string
	publishDelay time.Duration
	clock        clockwork.Clock
	logger       *slog.Logger
	metrics      *observability.Metrics

	mu   sync.Mutex
	last domain.ModelRun
}

// NewProber creates a Prober that probes the given test station's bulletin.
func NewProber(client ProbeClient, station string, publishDelay time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Prober {
	return &Prober{
		client:       client,
		station:      station,
		publishDelay: publishDelay,
		clock:        domain.Clock(clock),
		logger:       logger.With("component", "cycle_prober"),
		metrics:      metrics,
	}
}

// LatestAvailableCycle probes today's and yesterday's cycles, newest first,
// skipping any whose expected publish time is still ahead of now. When no
// probe succeeds it returns a synthetic fallback run for the previous day
// with Fallback set and AvailableTime = now.
func (p *Prober) LatestAvailableCycle(ctx context.Context) (domain.ModelRun, error) {
	now := p.clock.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	for _, delta := range []int{0, -1} {
		day := today.AddDate(0, 0, delta)
		for _, hour := range domain.CycleHours {
			run, _ := domain.NewModelRun(day, hour, time.Time{})
			if run.ExpectedAvailableTime(p.publishDelay).After(now) {
				continue
			}

			avail, err := p.probeRun(ctx, run)
			if err != nil {
				if ctx.Err() != nil {
					return domain.ModelRun{}, ctx.Err()
				}
				continue
			}
			if avail.IsZero() {
				avail = now
			}
			run.AvailableTime = avail
			p.remember(run)
			return run, nil
		}
	}

	run := fallbackRun(now)
	p.logger.Warn("no published cycle found, using fallback",
		"error", domain.E(domain.KindNoCycleAvailable, "cycle.LatestAvailableCycle", nil),
		"cycle", run.ID(),
	)
	p.remember(run)
	return run, nil
}

// probeRun requires both the wave bulletin and the atmosphere index to exist.
// The later Last-Modified wins.
func (p *Prober) probeRun(ctx context.Context, run domain.ModelRun) (time.Time, error) {
	var latest time.Time
	for _, u := range []string{p.client.BulletinURL(p.station, run), p.client.AtmosIndexURL(run)} {
		lm, err := p.client.Probe(ctx, u)
		if err != nil {
			outcome := "error"
			if errors.Is(err, domain.ErrNotYetAvailable) {
				outcome = "missing"
			}
			p.metrics.Probes.WithLabelValues(outcome).Inc()
			p.logger.Debug("cycle probe failed", "cycle", run.ID(), "url", u, "error", err)
			return time.Time{}, err
		}
		if lm.After(latest) {
			latest = lm
		}
	}
	p.metrics.Probes.WithLabelValues("found").Inc()
	return latest, nil
}

// remember logs a new cycle only when it differs from the previous result.
func (p *Prober) remember(run domain.ModelRun) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if run.Same(p.last) && run.Fallback == p.last.Fallback {
		p.logger.Debug("cycle unchanged", "cycle", run.ID())
		return
	}
	p.last = run
	p.logger.Info("new cycle", "cycle", run.ID(), "available_time", run.AvailableTime, "fallback", run.Fallback)
}

// fallbackRun is the latest cycle hour not exceeding the current UTC hour,
// on the previous day.
func fallbackRun(now time.Time) domain.ModelRun {
	hour := 0
	for _, h := range domain.CycleHours {
		if h <= now.Hour() {
			hour = h
			break
		}
	}
	run, _ := domain.NewModelRun(now.AddDate(0, 0, -1), hour, now)
	run.Fallback = true
	return run
}
