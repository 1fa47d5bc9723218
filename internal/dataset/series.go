package dataset

import (
	"fmt"
	"math"

	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
	"github.com/couchcryptid/gfs-forecast-service/internal/grid"
)

type triple struct{ height, period, direction string }

// Partitioned wave fields: wind sea at the surface plus up to three swells.
var wavePartitions = []triple{
	{grid.VarKey("WVHGT", "surface"), grid.VarKey("WVPER", "surface"), grid.VarKey("WVDIR", "surface")},
	{grid.VarKey("SWELL", "1 in sequence"), grid.VarKey("SWPER", "1 in sequence"), grid.VarKey("SWDIR", "1 in sequence")},
	{grid.VarKey("SWELL", "2 in sequence"), grid.VarKey("SWPER", "2 in sequence"), grid.VarKey("SWDIR", "2 in sequence")},
	{grid.VarKey("SWELL", "3 in sequence"), grid.VarKey("SWPER", "3 in sequence"), grid.VarKey("SWDIR", "3 in sequence")},
}

// Combined sea state, used when no partition is defined.
var waveCombined = triple{grid.VarKey("HTSGW", "surface"), grid.VarKey("PERPW", "surface"), grid.VarKey("DIRPW", "surface")}

var (
	windU    = grid.VarKey("UGRD", "10 m above ground")
	windV    = grid.VarKey("VGRD", "10 m above ground")
	windGust = grid.VarKey("GUST", "surface")
)

var waveKeys, windKeys []string

func init() {
	for _, t := range append(append([]triple{}, wavePartitions...), waveCombined) {
		waveKeys = append(waveKeys, t.height, t.period, t.direction)
	}
	windKeys = []string{windU, windV, windGust}
}

// WaveSeries extracts wave points at the node nearest (lat, lon).
func (r *Regional) WaveSeries(ex *grid.Extractor, lat, lon float64) ([]domain.WavePoint, error) {
	if r.region.Kind != domain.KindWave {
		return nil, fmt.Errorf("region %s holds %s data", r.region.Name, r.region.Kind)
	}
	samples, err := ex.Extract(r.Data(), lat, lon, waveKeys)
	if err != nil {
		return nil, err
	}
	out := make([]domain.WavePoint, 0, len(samples))
	for _, s := range samples {
		if p, ok := wavePoint(s); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// WindSeries extracts wind points at the node nearest (lat, lon).
func (r *Regional) WindSeries(ex *grid.Extractor, lat, lon float64) ([]domain.WindPoint, error) {
	if r.region.Kind != domain.KindWind {
		return nil, fmt.Errorf("region %s holds %s data", r.region.Name, r.region.Kind)
	}
	samples, err := ex.Extract(r.Data(), lat, lon, windKeys)
	if err != nil {
		return nil, err
	}
	out := make([]domain.WindPoint, 0, len(samples))
	for _, s := range samples {
		if p, ok := windPoint(s); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func wavePoint(s grid.Sample) (domain.WavePoint, bool) {
	var comps []domain.WaveComponent
	for _, t := range wavePartitions {
		if c, ok := component(s, t); ok {
			comps = append(comps, c)
		}
	}
	if len(comps) == 0 {
		if c, ok := component(s, waveCombined); ok {
			comps = append(comps, c)
		}
	}
	if len(comps) == 0 {
		return domain.WavePoint{}, false
	}
	domain.SortComponents(comps)
	return domain.WavePoint{Time: s.Time, Components: comps}, true
}

func component(s grid.Sample, t triple) (domain.WaveComponent, bool) {
	h, okH := s.Values[t.height]
	p, okP := s.Values[t.period]
	d, okD := s.Values[t.direction]
	if !okH || !okP || !okD || h <= 0 {
		return domain.WaveComponent{}, false
	}
	c := domain.WaveComponent{Height: h, Period: p, Direction: domain.NormalizeDirection(d)}
	return c, domain.ValidComponent(c)
}

func windPoint(s grid.Sample) (domain.WindPoint, bool) {
	u, okU := s.Values[windU]
	v, okV := s.Values[windV]
	if !okU || !okV {
		return domain.WindPoint{}, false
	}
	speed := math.Hypot(u, v)
	gust, ok := s.Values[windGust]
	if !ok || gust < speed {
		gust = speed
	}
	return domain.WindPoint{
		Time:      s.Time,
		Speed:     speed,
		Direction: windDirection(u, v),
		Gust:      gust,
	}, true
}

// windDirection converts u/v components to the meteorological direction the
// wind blows from, in degrees clockwise from north.
func windDirection(u, v float64) float64 {
	if u == 0 && v == 0 {
		return 0
	}
	return domain.NormalizeDirection(270 - math.Atan2(v, u)*180/math.Pi)
}
