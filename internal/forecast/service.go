// Package forecast serves per-location forecasts from the active model run.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/couchcryptid/gfs-forecast-service/internal/cache"
	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
	"github.com/couchcryptid/gfs-forecast-service/internal/grid"
	"github.com/couchcryptid/gfs-forecast-service/internal/modelrun"
	"github.com/couchcryptid/gfs-forecast-service/internal/observability"
)

const (
	SourceBulletin = "bulletin"
	SourceGrid     = "grid"
)

// ActiveState exposes the currently active model run.
type ActiveState interface {
	Active() *modelrun.State
}

// Service answers forecast requests. It never blocks on downloads: before
// the first model run is active it returns ServiceUnavailable.
type Service struct {
	states    ActiveState
	extractor *grid.Extractor
	cache     cache.Cache[domain.Forecast]
	ttl       time.Duration
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewService creates a Service.
func NewService(states ActiveState, extractor *grid.Extractor, c cache.Cache[domain.Forecast], ttl time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		states:    states,
		extractor: extractor,
		cache:     c,
		ttl:       ttl,
		logger:    logger.With("component", "forecast_service"),
		metrics:   metrics,
	}
}

// StationForecast returns the forecast of kind for a station at (lat, lon).
// lon may use either longitude convention; the result reports it in
// [-180, 180). Wave requests for a station with a loaded bulletin are
// served from the bulletin, everything else from the regional grids.
func (s *Service) StationForecast(ctx context.Context, stationID string, lat, lon float64, kind domain.Kind) (domain.Forecast, error) {
	const op = "forecast.StationForecast"
	if kind != domain.KindWave && kind != domain.KindWind {
		return domain.Forecast{}, fmt.Errorf("%s: unknown kind %q", op, kind)
	}
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 360 {
		return domain.Forecast{}, domain.E(domain.KindRegionUnsupported, op, fmt.Errorf("invalid coordinate %g,%g", lat, lon))
	}

	state := s.states.Active()
	if state == nil {
		return domain.Forecast{}, domain.E(domain.KindServiceUnavailable, op, errors.New("no model run loaded yet"))
	}

	key := cacheKey(state.Run(), kind, stationID, lat, lon)
	if fc, ok := s.lookup(ctx, key, kind); ok {
		return fc, nil
	}

	fc, err := s.extract(state, stationID, lat, lon, kind)
	if err != nil {
		return domain.Forecast{}, err
	}
	if err := s.cache.Set(ctx, key, fc, s.ttl); err != nil {
		s.logger.Warn("forecast cache write failed", "key", key.String(), "error", err)
	}
	return fc, nil
}

func (s *Service) lookup(ctx context.Context, key cache.Key, kind domain.Kind) (domain.Forecast, bool) {
	fc, ok, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		s.logger.Warn("forecast cache read failed", "key", key.String(), "error", err)
		s.metrics.CacheLookups.WithLabelValues(string(kind), "error").Inc()
		return domain.Forecast{}, false
	case !ok:
		s.metrics.CacheLookups.WithLabelValues(string(kind), "miss").Inc()
		return domain.Forecast{}, false
	}
	s.metrics.CacheLookups.WithLabelValues(string(kind), "hit").Inc()
	return fc, true
}

func (s *Service) extract(state *modelrun.State, stationID string, lat, lon float64, kind domain.Kind) (domain.Forecast, error) {
	const op = "forecast.extract"
	fc := domain.Forecast{
		StationID: stationID,
		Lat:       lat,
		Lon:       domain.ToSignedLon(lon),
		Kind:      kind,
		Cycle:     state.Run().ID(),
	}

	if kind == domain.KindWave && stationID != "" {
		if pts, ok := state.Bulletin(stationID); ok {
			fc.Source = SourceBulletin
			fc.Waves = pts
			return fc, nil
		}
	}

	region, ok := state.Lookup(kind, lat, lon)
	if !ok {
		return domain.Forecast{}, domain.E(domain.KindRegionUnsupported, op,
			fmt.Errorf("no %s region covers %.3f,%.3f", kind, lat, fc.Lon))
	}
	fc.Source = SourceGrid

	var err error
	switch kind {
	case domain.KindWave:
		fc.Waves, err = region.WaveSeries(s.extractor, lat, lon)
	case domain.KindWind:
		fc.Winds, err = region.WindSeries(s.extractor, lat, lon)
	}
	if err != nil {
		return domain.Forecast{}, err
	}
	return fc, nil
}

// cacheKey scopes entries to the run so that a swap invalidates them.
// Coordinates are rounded to three decimals in the signed convention.
func cacheKey(run domain.ModelRun, kind domain.Kind, stationID string, lat, lon float64) cache.Key {
	return cache.Key{
		Namespace: string(kind) + ":" + run.ID(),
		ID:        fmt.Sprintf("%s@%.3f,%.3f", stationID, lat, domain.ToSignedLon(lon)),
	}
}
