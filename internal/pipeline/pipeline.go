// Package pipeline runs the background loop that discovers new model runs,
// builds their state off to the side and hot-swaps it into the active handle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/gfs-forecast-service/internal/cycle"
	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
	"github.com/couchcryptid/gfs-forecast-service/internal/modelrun"
	"github.com/couchcryptid/gfs-forecast-service/internal/observability"
)

// CycleSource finds the newest published model run.
type CycleSource interface {
	LatestAvailableCycle(ctx context.Context) (domain.ModelRun, error)
}

// StateBuilder builds the complete state of a model run.
type StateBuilder interface {
	Build(ctx context.Context, run domain.ModelRun) (*modelrun.State, error)
}

// Cleaner removes cached files that do not belong to the current run.
type Cleaner interface {
	Cleanup(current domain.ModelRun) (int, error)
}

// Publisher announces a newly activated model run.
type Publisher interface {
	PublishActivated(ctx context.Context, state *modelrun.State) error
}

// Options tune the orchestrator loop.
type Options struct {
	PollInterval time.Duration
	// InitialBackoff is the first retry delay while no state has loaded yet.
	InitialBackoff time.Duration
}

// Orchestrator owns the active model run state and keeps it current.
type Orchestrator struct {
	handle    *modelrun.Handle
	cycles    CycleSource
	builder   StateBuilder
	tracker   *cycle.Tracker
	store     Cleaner
	publisher Publisher
	opts      Options
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics

	initMu      sync.Mutex
	swapMu      sync.Mutex
	prefetching atomic.Bool
}

// New creates an Orchestrator. publisher may be nil.
func New(handle *modelrun.Handle, cycles CycleSource, builder StateBuilder, tracker *cycle.Tracker, store Cleaner, publisher Publisher, opts Options, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 15 * time.Minute
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 5 * time.Second
	}
	return &Orchestrator{
		handle:    handle,
		cycles:    cycles,
		builder:   builder,
		tracker:   tracker,
		store:     store,
		publisher: publisher,
		opts:      opts,
		clock:     domain.Clock(clock),
		logger:    logger.With("component", "orchestrator"),
		metrics:   metrics,
	}
}

// Active returns the active state, or nil before the first load.
func (o *Orchestrator) Active() *modelrun.State { return o.handle.Load() }

// CheckReadiness returns nil once a model run state is active.
func (o *Orchestrator) CheckReadiness(_ context.Context) error {
	if o.handle.Load() == nil {
		return errors.New("no model run loaded yet")
	}
	return nil
}

// EnsureLoaded performs the first load if nothing is active yet. Concurrent
// callers wait for a single load instead of starting their own.
func (o *Orchestrator) EnsureLoaded(ctx context.Context) error {
	const op = "pipeline.EnsureLoaded"
	if o.handle.Load() != nil {
		return nil
	}
	o.initMu.Lock()
	defer o.initMu.Unlock()
	if o.handle.Load() != nil {
		return nil
	}
	if _, err := o.Refresh(ctx); err != nil {
		return err
	}
	if o.handle.Load() == nil {
		return domain.E(domain.KindServiceUnavailable, op, errors.New("initial model run not loaded"))
	}
	return nil
}

// Run loads the first state, retrying with backoff, then polls for newer
// runs until ctx is cancelled. Builds run on the orchestrator's errgroup so
// shutdown waits for them.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator started", "poll_interval", o.opts.PollInterval)
	o.metrics.OrchestratorRunning.Set(1)
	defer o.metrics.OrchestratorRunning.Set(0)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.loop(gctx, g) })
	return g.Wait()
}

func (o *Orchestrator) loop(ctx context.Context, g *errgroup.Group) error {
	backoff := o.opts.InitialBackoff
	for o.handle.Load() == nil {
		err := o.EnsureLoaded(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			o.logger.Info("orchestrator stopping", "reason", ctx.Err())
			return nil
		}
		o.logger.Error("initial load failed", "error", err, "retry_in", backoff)
		if !sleepWithContext(ctx, o.clock, backoff) {
			return nil
		}
		backoff = nextBackoff(backoff, o.opts.PollInterval)
	}

	ticker := o.clock.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("orchestrator stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			if o.prefetching.Load() {
				o.logger.Debug("prefetch in flight, skipping poll")
				continue
			}
			g.Go(func() error {
				if _, err := o.Refresh(ctx); err != nil && ctx.Err() == nil {
					o.logger.Error("refresh failed", "error", err)
				}
				return nil
			})
		}
	}
}

// Refresh probes for a strictly newer run and builds and activates it. It
// reports whether a new state was activated. A call made while another
// refresh is in flight returns immediately.
func (o *Orchestrator) Refresh(ctx context.Context) (bool, error) {
	if !o.prefetching.CompareAndSwap(false, true) {
		return false, nil
	}
	defer o.prefetching.Store(false)

	run, ok, err := o.next(ctx)
	if err != nil || !ok {
		return false, err
	}
	return o.build(ctx, run)
}

// next decides whether run should be built: it must be strictly newer than
// the active run and still have attempts left. Until the first state is
// loaded the attempt cap is not enforced.
func (o *Orchestrator) next(ctx context.Context) (domain.ModelRun, bool, error) {
	run, err := o.cycles.LatestAvailableCycle(ctx)
	if err != nil {
		return run, false, fmt.Errorf("probe cycle: %w", err)
	}
	cur := o.handle.Load()
	if cur != nil && !run.NewerThan(cur.Run()) {
		o.logger.Debug("active run is current", "cycle", cur.Run().ID())
		return run, false, nil
	}

	a, err := o.tracker.Begin(ctx, run)
	switch {
	case err == nil:
	case errors.Is(err, cycle.ErrAttemptsExhausted) && cur != nil:
		o.logger.Debug("not rebuilding cycle", "cycle", run.ID(), "status", a.Status, "attempts", a.Attempts)
		return run, false, nil
	case !errors.Is(err, cycle.ErrAttemptsExhausted):
		o.logger.Warn("attempt ledger unavailable", "cycle", run.ID(), "error", err)
	}
	return run, true, nil
}

func (o *Orchestrator) build(ctx context.Context, run domain.ModelRun) (bool, error) {
	log := o.logger.With("cycle", run.ID())
	log.Info("building model run", "available_time", run.AvailableTime, "fallback", run.Fallback)

	state, err := o.builder.Build(ctx, run)
	if err != nil {
		if ctx.Err() == nil {
			if ferr := o.tracker.Fail(ctx, run, err); ferr != nil {
				log.Warn("record failed attempt", "error", ferr)
			}
		}
		return false, fmt.Errorf("build %s: %w", run.ID(), err)
	}

	if !o.activate(state) {
		log.Info("discarding build, a newer run is already active")
		return false, nil
	}
	if err := o.tracker.Complete(ctx, run); err != nil {
		log.Warn("record completed attempt", "error", err)
	}
	if err := o.tracker.Prune(ctx, run); err != nil {
		log.Warn("prune attempt ledger", "error", err)
	}
	if n, err := o.store.Cleanup(run); err != nil {
		log.Warn("file cleanup incomplete", "removed", n, "error", err)
	} else if n > 0 {
		log.Info("removed superseded files", "removed", n)
	}
	if o.publisher != nil {
		if err := o.publisher.PublishActivated(ctx, state); err != nil {
			log.Warn("publish run activated failed", "error", err)
		}
	}
	return true, nil
}

// activate swaps state in if it is strictly newer than the active one and
// retires the previous state.
func (o *Orchestrator) activate(state *modelrun.State) bool {
	o.swapMu.Lock()
	defer o.swapMu.Unlock()

	cur := o.handle.Load()
	if cur != nil && !state.Run().NewerThan(cur.Run()) {
		state.Close()
		return false
	}
	old := o.handle.Swap(state)
	o.metrics.Swaps.Inc()
	o.metrics.ActiveCycle.Set(float64(state.Run().Start().Unix()))
	o.logger.Info("model run activated",
		"cycle", state.Run().ID(),
		"build_id", state.BuildID(),
		"ready_regions", state.ReadyRegions(),
	)
	if old != nil {
		old.Close()
		o.logger.Info("previous model run released", "cycle", old.Run().ID())
	}
	return true
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
