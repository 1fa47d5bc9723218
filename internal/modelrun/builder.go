package modelrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/gfs-forecast-service/internal/dataset"
	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
	"github.com/couchcryptid/gfs-forecast-service/internal/observability"
)

// RegionBuilder builds the dataset of one region.
type RegionBuilder interface {
	Build(ctx context.Context, region domain.Region, run domain.ModelRun) (*dataset.Regional, error)
}

// BulletinLoader loads the parsed bulletin of one station.
type BulletinLoader interface {
	Load(ctx context.Context, station string, run domain.ModelRun) ([]domain.WavePoint, error)
}

// Builder produces complete States. Regions and bulletins are built
// concurrently; download pacing is left to the shared rate limiter.
type Builder struct {
	regions  []domain.Region
	stations []string
	datasets RegionBuilder
	bulletin BulletinLoader
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewBuilder creates a Builder for the configured regions and stations.
func NewBuilder(regions []domain.Region, stations []string, datasets RegionBuilder, bulletin BulletinLoader, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Builder {
	return &Builder{
		regions:  regions,
		stations: stations,
		datasets: datasets,
		bulletin: bulletin,
		clock:    domain.Clock(clock),
		logger:   logger.With("component", "modelrun_builder"),
		metrics:  metrics,
	}
}

// Build assembles a State for run. It succeeds when at least one region is
// Ready; a failed station bulletin only costs that station its bulletin.
func (b *Builder) Build(ctx context.Context, run domain.ModelRun) (*State, error) {
	const op = "modelrun.Build"
	start := b.clock.Now()
	log := b.logger.With("cycle", run.ID())
	log.Info("building model run state", "regions", len(b.regions), "stations", len(b.stations))

	var (
		mu        sync.Mutex
		built     []*dataset.Regional
		failures  []error
		bulletins = make(map[string][]domain.WavePoint, len(b.stations))
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, region := range b.regions {
		g.Go(func() error {
			r, err := b.datasets.Build(gctx, region, run)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			mu.Lock()
			defer mu.Unlock()
			if r != nil {
				built = append(built, r)
			}
			if err != nil {
				failures = append(failures, fmt.Errorf("%s %s: %w", region.Kind, region.Name, err))
				log.Warn("region build failed", "region", region.Name, "kind", region.Kind, "error", err)
			}
			return nil
		})
	}
	if b.bulletin != nil {
		for _, station := range b.stations {
			g.Go(func() error {
				pts, err := b.bulletin.Load(gctx, station, run)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					log.Warn("bulletin unavailable", "station", station, "error", err)
					return nil
				}
				mu.Lock()
				bulletins[station] = pts
				mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		b.metrics.Builds.WithLabelValues("failed").Inc()
		return nil, err
	}
	b.metrics.BuildDuration.Observe(b.clock.Since(start).Seconds())

	state := NewState(run, uuid.NewString(), b.clock.Now().UTC(), built, bulletins)
	ready := state.ReadyRegions()
	switch {
	case ready == 0:
		b.metrics.Builds.WithLabelValues("failed").Inc()
		return nil, domain.E(domain.KindDownloadFailed, op,
			fmt.Errorf("all %d regions failed: %w", len(b.regions), errors.Join(failures...)))
	case len(failures) > 0:
		b.metrics.Builds.WithLabelValues("partial").Inc()
	default:
		b.metrics.Builds.WithLabelValues("success").Inc()
	}

	log.Info("model run state built",
		"build_id", state.BuildID(),
		"ready_regions", ready,
		"failed_regions", len(failures),
		"bulletins", len(bulletins),
		"duration", b.clock.Since(start),
	)
	return state, nil
}
