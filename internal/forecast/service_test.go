package forecast

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/gfs-forecast-service/internal/cache"
	"github.com/couchcryptid/gfs-forecast-service/internal/dataset"
	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
	"github.com/couchcryptid/gfs-forecast-service/internal/grid"
	"github.com/couchcryptid/gfs-forecast-service/internal/modelrun"
	"github.com/couchcryptid/gfs-forecast-service/internal/observability"
)

var (
	waveRegion = domain.Region{Name: "gulfofmaine", Kind: domain.KindWave, LatMin: 40, LatMax: 46, LonMin: 288, LonMax: 294}
	windRegion = domain.Region{Name: "gulfofmaine", Kind: domain.KindWind, LatMin: 40, LatMax: 46, LonMin: -72, LonMax: -66}
	run06      = mustRun("2025020606")
	run12      = mustRun("2025020612")
)

func mustRun(id string) domain.ModelRun {
	r, err := domain.ParseModelRun(id)
	if err != nil {
		panic(err)
	}
	return r
}

type staticState struct {
	mu sync.Mutex
	s  *modelrun.State
}

func (f *staticState) Active() *modelrun.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

func (f *staticState) set(s *modelrun.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.s = s
}

type recordingCache struct {
	cache.Cache[domain.Forecast]
	sets int
	err  error
}

func (c *recordingCache) Get(ctx context.Context, k cache.Key) (domain.Forecast, bool, error) {
	if c.err != nil {
		return domain.Forecast{}, false, c.err
	}
	return c.Cache.Get(ctx, k)
}

func (c *recordingCache) Set(ctx context.Context, k cache.Key, v domain.Forecast, ttl time.Duration) error {
	c.sets++
	if c.err != nil {
		return c.err
	}
	return c.Cache.Set(ctx, k, v, ttl)
}

func buildState(run domain.ModelRun, bulletins map[string][]domain.WavePoint) *modelrun.State {
	rec := func(name, level string, v float64) grid.Record {
		return grid.Record{Valid: run.Start(), Var: name, Level: level, Lat: 42, Lon: 290, Value: v}
	}
	wave := dataset.FromRecords(waveRegion, run, []grid.Record{
		rec("HTSGW", "surface", 1.5), rec("PERPW", "surface", 9), rec("DIRPW", "surface", 120),
	})
	wind := dataset.FromRecords(windRegion, run, []grid.Record{
		rec("UGRD", "10 m above ground", 3), rec("VGRD", "10 m above ground", 4),
	})
	return modelrun.NewState(run, "build", run.Start(), []*dataset.Regional{wave, wind}, bulletins)
}

func newTestService(states ActiveState) (*Service, *recordingCache) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rc := &recordingCache{Cache: cache.NewMemory[domain.Forecast](100, clockwork.NewFakeClock())}
	ex := grid.NewExtractor(logger, observability.NewMetricsForTesting())
	return NewService(states, ex, rc, 10*time.Minute, logger, observability.NewMetricsForTesting()), rc
}

func TestStationForecast_BeforeFirstLoad(t *testing.T) {
	svc, _ := newTestService(&staticState{})

	_, err := svc.StationForecast(context.Background(), "44098", 42, -70, domain.KindWave)
	require.ErrorIs(t, err, domain.ErrServiceUnavailable)
}

func TestStationForecast_WaveFromGrid(t *testing.T) {
	svc, _ := newTestService(&staticState{s: buildState(run06, nil)})

	fc, err := svc.StationForecast(context.Background(), "", 42, 290, domain.KindWave)
	require.NoError(t, err)

	assert.Equal(t, SourceGrid, fc.Source)
	assert.Equal(t, "2025020606", fc.Cycle)
	assert.InDelta(t, -70.0, fc.Lon, 1e-9, "longitude reported in signed form")
	require.Len(t, fc.Waves, 1)
	assert.Equal(t, []domain.WaveComponent{{Height: 1.5, Period: 9, Direction: 120}}, fc.Waves[0].Components)
	assert.Empty(t, fc.Winds)
}

func TestStationForecast_PrefersBulletin(t *testing.T) {
	bull := []domain.WavePoint{{Time: run06.Start(), Components: []domain.WaveComponent{{Height: 2.2, Period: 12, Direction: 140}}}}
	svc, _ := newTestService(&staticState{s: buildState(run06, map[string][]domain.WavePoint{"44098": bull})})

	fc, err := svc.StationForecast(context.Background(), "44098", 42, -70, domain.KindWave)
	require.NoError(t, err)
	assert.Equal(t, SourceBulletin, fc.Source)
	assert.Equal(t, bull, fc.Waves)

	other, err := svc.StationForecast(context.Background(), "44013", 42, -70, domain.KindWave)
	require.NoError(t, err)
	assert.Equal(t, SourceGrid, other.Source)
}

func TestStationForecast_Wind(t *testing.T) {
	svc, _ := newTestService(&staticState{s: buildState(run06, nil)})

	fc, err := svc.StationForecast(context.Background(), "44098", 42, -70, domain.KindWind)
	require.NoError(t, err)
	require.Len(t, fc.Winds, 1)
	assert.InDelta(t, 5.0, fc.Winds[0].Speed, 1e-9)
	assert.InDelta(t, 5.0, fc.Winds[0].Gust, 1e-9)
}

func TestStationForecast_OutsideRegions(t *testing.T) {
	svc, _ := newTestService(&staticState{s: buildState(run06, nil)})

	_, err := svc.StationForecast(context.Background(), "", 25, -90, domain.KindWave)
	require.ErrorIs(t, err, domain.ErrRegionUnsupported)

	_, err = svc.StationForecast(context.Background(), "", 95, -70, domain.KindWind)
	require.ErrorIs(t, err, domain.ErrRegionUnsupported)
}

func TestStationForecast_CachedPerRun(t *testing.T) {
	states := &staticState{s: buildState(run06, nil)}
	svc, rc := newTestService(states)
	ctx := context.Background()

	_, err := svc.StationForecast(ctx, "", 42, -70, domain.KindWave)
	require.NoError(t, err)
	_, err = svc.StationForecast(ctx, "", 42, 290, domain.KindWave)
	require.NoError(t, err)
	assert.Equal(t, 1, rc.sets, "both conventions share one entry")

	states.set(buildState(run12, nil))
	fc, err := svc.StationForecast(ctx, "", 42, -70, domain.KindWave)
	require.NoError(t, err)
	assert.Equal(t, "2025020612", fc.Cycle, "swap invalidates cached entries")
	assert.Equal(t, 2, rc.sets)
}

func TestStationForecast_CacheFailureIsNotFatal(t *testing.T) {
	svc, rc := newTestService(&staticState{s: buildState(run06, nil)})
	rc.err = errors.New("connection refused")

	fc, err := svc.StationForecast(context.Background(), "", 42, -70, domain.KindWave)
	require.NoError(t, err)
	assert.Equal(t, SourceGrid, fc.Source)
}
