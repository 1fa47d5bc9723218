package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
	"github.com/couchcryptid/gfs-forecast-service/internal/filestore"
	"github.com/couchcryptid/gfs-forecast-service/internal/grid"
	"github.com/couchcryptid/gfs-forecast-service/internal/observability"
)

// Downloader fetches one GRIB subset.
type Downloader interface {
	FetchGrib(ctx context.Context, region domain.Region, run domain.ModelRun, hour int) ([]byte, error)
}

// Decoder turns a GRIB file into grid records.
type Decoder interface {
	Decode(ctx context.Context, path string) ([]grid.Record, error)
}

// Options tune a regional build.
type Options struct {
	Hours                  []int
	Workers                int
	Attempts               int
	MaxConsecutiveFailures int
}

// Builder downloads missing files for a region and decodes them.
type Builder struct {
	store      *filestore.Store
	downloader Downloader
	decoder    Decoder
	opts       Options
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewBuilder creates a Builder.
func NewBuilder(store *filestore.Store, downloader Downloader, decoder Decoder, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Builder {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = 3
	}
	return &Builder{
		store:      store,
		downloader: downloader,
		decoder:    decoder,
		opts:       opts,
		logger:     logger.With("component", "dataset_builder"),
		metrics:    metrics,
	}
}

// Build produces a Ready Regional, or a Failed one with an error when the
// region yields no decodable data. Cancellation aborts in-flight downloads.
func (b *Builder) Build(ctx context.Context, region domain.Region, run domain.ModelRun) (*Regional, error) {
	const op = "dataset.Build"
	r := newRegional(region, run)
	r.setState(StateDownloading)
	log := b.logger.With("region", region.Name, "kind", region.Kind, "cycle", run.ID())

	missing := b.store.MissingFiles(region.Name, run, b.opts.Hours)
	r.stats.Cached = len(b.opts.Hours) - len(missing)
	if err := b.download(ctx, r, missing, log); err != nil {
		r.setState(StateFailed)
		return r, err
	}

	valid := b.store.ValidFiles(region.Name, run, b.opts.Hours)
	if len(valid) == 0 {
		r.setState(StateFailed)
		return r, domain.E(domain.KindDownloadFailed, op, fmt.Errorf("%s %s: no files available", region.Kind, region.Name))
	}

	var records []grid.Record
	for _, f := range valid {
		recs, err := b.decoder.Decode(ctx, f.Path)
		if err != nil {
			if ctx.Err() != nil {
				r.setState(StateFailed)
				return r, ctx.Err()
			}
			r.stats.DecodeFailed++
			log.Warn("decode failed, discarding file", "forecast_hour", f.Hour, "error", err)
			_ = b.store.Remove(f.Path)
			continue
		}
		r.stats.Decoded++
		records = append(records, recs...)
	}
	if len(records) == 0 {
		r.setState(StateFailed)
		return r, domain.E(domain.KindParseFailed, op, fmt.Errorf("%s %s: no decodable files", region.Kind, region.Name))
	}

	r.data = grid.NewDataset(region, records)
	r.setState(StateReady)
	log.Info("region ready",
		"steps", len(r.data.Steps()),
		"cached", r.stats.Cached,
		"downloaded", r.stats.Downloaded,
		"failed", r.stats.Failed,
		"skipped", r.stats.Skipped,
	)
	return r, nil
}

// download fetches missing files one day block at a time. Within a block a
// bounded pool runs the downloads; once MaxConsecutiveFailures downloads fail
// in a row the rest of the block is skipped.
func (b *Builder) download(ctx context.Context, r *Regional, missing []filestore.File, log *slog.Logger) error {
	for _, block := range dayBlocks(missing) {
		var (
			mu          sync.Mutex
			consecutive int
		)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.opts.Workers)
		for _, f := range block {
			g.Go(func() error {
				mu.Lock()
				skip := consecutive >= b.opts.MaxConsecutiveFailures
				if skip {
					r.stats.Skipped++
				}
				mu.Unlock()
				if skip {
					return nil
				}

				err := b.fetch(gctx, r, f)
				if err != nil && gctx.Err() != nil {
					return gctx.Err()
				}

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					consecutive++
					r.stats.Failed++
					log.Warn("download failed", "forecast_hour", f.Hour, "error", err)
					return nil
				}
				consecutive = 0
				r.stats.Downloaded++
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if consecutive >= b.opts.MaxConsecutiveFailures {
			log.Warn("skipping to next day block after consecutive failures",
				"day", block[0].Hour/24, "failures", consecutive)
		}
	}
	return nil
}

// fetch downloads one file with bounded retries. NotYetAvailable is not
// retried. Pacing between attempts comes from the shared rate limiter.
func (b *Builder) fetch(ctx context.Context, r *Regional, f filestore.File) error {
	var lastErr error
	for attempt := 1; attempt <= b.opts.Attempts; attempt++ {
		data, err := b.downloader.FetchGrib(ctx, r.region, r.run, f.Hour)
		if err == nil {
			n, err := b.store.Write(f.Path, bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("write %s: %w", f.Path, err)
			}
			b.logger.Debug("downloaded", "region", r.region.Name, "forecast_hour", f.Hour, "bytes", n)
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, domain.ErrNotYetAvailable) || !domain.IsRetryable(err) {
			break
		}
	}
	return lastErr
}

// dayBlocks groups files by forecast day (hour / 24), in ascending order.
func dayBlocks(files []filestore.File) [][]filestore.File {
	byDay := make(map[int][]filestore.File)
	for _, f := range files {
		byDay[f.Hour/24] = append(byDay[f.Hour/24], f)
	}
	days := make([]int, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Ints(days)

	out := make([][]filestore.File, 0, len(days))
	for _, d := range days {
		block := byDay[d]
		sort.Slice(block, func(i, j int) bool { return block[i].Hour < block[j].Hour })
		out = append(out, block)
	}
	return out
}
