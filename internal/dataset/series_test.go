package dataset

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
	"github.com/couchcryptid/gfs-forecast-service/internal/grid"
	"github.com/couchcryptid/gfs-forecast-service/internal/observability"
)

var testWind = domain.Region{Name: "gulfofmaine", Kind: domain.KindWind, LatMin: 40, LatMax: 46, LonMin: -72, LonMax: -66}

func readyRegional(region domain.Region, records []grid.Record) *Regional {
	r := newRegional(region, testRun)
	r.data = grid.NewDataset(region, records)
	r.setState(StateReady)
	return r
}

func rec(hour int, name, level string, v float64) grid.Record {
	return grid.Record{
		Ref:   testRun.Start(),
		Valid: testRun.Start().Add(time.Duration(hour) * time.Hour),
		Var:   name, Level: level,
		Lat: 42, Lon: 290,
		Value: v,
	}
}

func newSeriesExtractor() *grid.Extractor {
	return grid.NewExtractor(slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting())
}

func TestWaveSeries_Partitions(t *testing.T) {
	r := readyRegional(testWave, []grid.Record{
		rec(0, "WVHGT", "surface", 0.4), rec(0, "WVPER", "surface", 4), rec(0, "WVDIR", "surface", 200),
		rec(0, "SWELL", "1 in sequence", 1.8), rec(0, "SWPER", "1 in sequence", 11), rec(0, "SWDIR", "1 in sequence", 135),
		rec(0, "SWELL", "2 in sequence", 0), rec(0, "SWPER", "2 in sequence", 7), rec(0, "SWDIR", "2 in sequence", 90),
		rec(0, "SWELL", "3 in sequence", 0.9), rec(0, "SWPER", "3 in sequence", 15), rec(0, "SWDIR", "3 in sequence", -10),
		rec(0, "HTSGW", "surface", 2.1), rec(0, "PERPW", "surface", 11), rec(0, "DIRPW", "surface", 140),
	})

	points, err := r.WaveSeries(newSeriesExtractor(), 42, -70)
	require.NoError(t, err)
	require.Len(t, points, 1)

	assert.Equal(t, []domain.WaveComponent{
		{Height: 1.8, Period: 11, Direction: 135},
		{Height: 0.9, Period: 15, Direction: 350},
		{Height: 0.4, Period: 4, Direction: 200},
	}, points[0].Components, "zero-height partition dropped, largest first")
}

func TestWaveSeries_CombinedFallback(t *testing.T) {
	r := readyRegional(testWave, []grid.Record{
		rec(0, "HTSGW", "surface", 2.1), rec(0, "PERPW", "surface", 11), rec(0, "DIRPW", "surface", 140),
		rec(3, "HTSGW", "surface", 0), rec(3, "PERPW", "surface", 11), rec(3, "DIRPW", "surface", 140),
	})

	points, err := r.WaveSeries(newSeriesExtractor(), 42, 290)
	require.NoError(t, err)
	require.Len(t, points, 1, "flat step has no components")
	assert.Equal(t, []domain.WaveComponent{{Height: 2.1, Period: 11, Direction: 140}}, points[0].Components)
}

func TestWindSeries(t *testing.T) {
	r := readyRegional(testWind, []grid.Record{
		rec(0, "UGRD", "10 m above ground", 0), rec(0, "VGRD", "10 m above ground", -5), rec(0, "GUST", "surface", 8),
		rec(3, "UGRD", "10 m above ground", 3), rec(3, "VGRD", "10 m above ground", 4),
	})

	points, err := r.WindSeries(newSeriesExtractor(), 42, -70)
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.InDelta(t, 5.0, points[0].Speed, 1e-9)
	assert.InDelta(t, 0.0, points[0].Direction, 1e-9, "southward flow comes from the north")
	assert.InDelta(t, 8.0, points[0].Gust, 1e-9)

	assert.InDelta(t, 5.0, points[1].Speed, 1e-9)
	assert.InDelta(t, 5.0, points[1].Gust, 1e-9, "missing gust falls back to speed")
	assert.True(t, points[1].Time.After(points[0].Time))
}

func TestWindDirection(t *testing.T) {
	tests := []struct {
		name string
		u, v float64
		want float64
	}{
		{"from west", 5, 0, 270},
		{"from south", 0, 5, 180},
		{"from east", -5, 0, 90},
		{"from north", 0, -5, 0},
		{"calm", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, windDirection(tt.u, tt.v), 1e-9)
		})
	}
}

func TestSeries_WrongKind(t *testing.T) {
	r := readyRegional(testWind, []grid.Record{rec(0, "UGRD", "10 m above ground", 1)})
	_, err := r.WaveSeries(newSeriesExtractor(), 42, -70)
	require.Error(t, err)
}

func TestSeries_NotReady(t *testing.T) {
	r := newRegional(testWave, testRun)
	_, err := r.WaveSeries(newSeriesExtractor(), 42, -70)
	require.ErrorIs(t, err, domain.ErrRegionUnsupported)
}
