package bulletin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
	"github.com/couchcryptid/gfs-forecast-service/internal/filestore"
	"github.com/couchcryptid/gfs-forecast-service/internal/observability"
)

// Fetcher downloads raw bulletin text.
type Fetcher interface {
	FetchBulletin(ctx context.Context, station string, run domain.ModelRun) (string, error)
}

// Loader fetches, caches and parses station bulletins.
type Loader struct {
	fetcher Fetcher
	store   *filestore.Store
	loc     *time.Location
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewLoader creates a Loader. loc decides calendar days for stitching.
func NewLoader(fetcher Fetcher, store *filestore.Store, loc *time.Location, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Loader {
	if loc == nil {
		loc = time.UTC
	}
	return &Loader{
		fetcher: fetcher,
		store:   store,
		loc:     loc,
		clock:   domain.Clock(clock),
		logger:  logger.With("component", "bulletin_loader"),
		metrics: metrics,
	}
}

// Load returns the station's series for run. When the first point of run
// falls on a later calendar day than today, points from the previous cycle
// covering [today 00:00 local, first point) are prepended.
func (l *Loader) Load(ctx context.Context, station string, run domain.ModelRun) ([]domain.WavePoint, error) {
	points, err := l.loadOne(ctx, station, run)
	if err != nil {
		return nil, err
	}

	// Bulletin days are UTC days; "today" is the local calendar day.
	now := l.clock.Now().In(l.loc)
	if !civilDate(points[0].Time.UTC()).After(civilDate(now)) {
		return points, nil
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, l.loc)

	prev := run.Previous()
	prevPoints, err := l.loadOne(ctx, station, prev)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		l.logger.Warn("stitching skipped, previous cycle unavailable",
			"station", station, "cycle", prev.ID(), "error", err)
		return points, nil
	}

	return Stitch(prevPoints, points, today), nil
}

// Stitch prepends the points of prev that fall in [from, first point of cur).
func Stitch(prev, cur []domain.WavePoint, from time.Time) []domain.WavePoint {
	if len(cur) == 0 {
		return prev
	}
	first := cur[0].Time
	var head []domain.WavePoint
	for _, p := range prev {
		if !p.Time.Before(from) && p.Time.Before(first) {
			head = append(head, p)
		}
	}
	if len(head) == 0 {
		return cur
	}
	out := make([]domain.WavePoint, 0, len(head)+len(cur))
	out = append(out, head...)
	return append(out, cur...)
}

// civilDate drops the clock and zone, keeping only the calendar date.
func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (l *Loader) loadOne(ctx context.Context, station string, run domain.ModelRun) ([]domain.WavePoint, error) {
	const op = "bulletin.Load"
	text, err := l.text(ctx, station, run)
	if err != nil {
		return nil, err
	}

	points, stats := Parse(text, run.Start())
	l.metrics.BulletinLinesSkipped.Add(float64(stats.Skipped))
	if stats.Skipped > 0 {
		l.logger.Warn("bulletin lines skipped", "station", station, "cycle", run.ID(), "skipped", stats.Skipped, "points", stats.Points)
	}
	if len(points) == 0 {
		_ = l.store.Remove(l.store.BulletinPath(station, run))
		return nil, domain.E(domain.KindParseFailed, op, fmt.Errorf("station %s cycle %s: no forecast points", station, run.ID()))
	}
	return points, nil
}

// text returns the cached bulletin or downloads and caches it.
func (l *Loader) text(ctx context.Context, station string, run domain.ModelRun) (string, error) {
	path := l.store.BulletinPath(station, run)
	if l.store.IsValid(path) {
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data), nil
		}
		l.logger.Warn("cached bulletin unreadable", "path", path, "error", err)
	}

	text, err := l.fetcher.FetchBulletin(ctx, station, run)
	if err != nil {
		return "", err
	}
	if _, err := l.store.Write(path, strings.NewReader(text)); err != nil && !errors.Is(err, context.Canceled) {
		l.logger.Warn("caching bulletin failed", "path", path, "error", err)
	}
	return text, nil
}
