package grid

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
	"github.com/couchcryptid/gfs-forecast-service/internal/observability"
)

// Sample is the value of each requested variable at one node and time.
// Variables that are undefined at that step are absent.
type Sample struct {
	Time   time.Time
	Values map[string]float64
}

// Extractor reads nearest-node series out of datasets.
type Extractor struct {
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewExtractor creates an Extractor.
func NewExtractor(logger *slog.Logger, metrics *observability.Metrics) *Extractor {
	return &Extractor{logger: logger.With("component", "grid_extractor"), metrics: metrics}
}

// Extract returns the series of keys at the node nearest (lat, lon). Steps
// where none of the keys is defined are skipped. The result is ordered by
// time.
func (e *Extractor) Extract(ds *Dataset, lat, lon float64, keys []string) ([]Sample, error) {
	const op = "grid.Extract"
	if ds.Empty() {
		return nil, domain.E(domain.KindRegionUnsupported, op, fmt.Errorf("no data loaded for %.3f,%.3f", lat, lon))
	}
	i, j, ok := ds.Nearest(lat, lon)
	if !ok {
		return nil, domain.E(domain.KindRegionUnsupported, op,
			fmt.Errorf("%.3f,%.3f is outside the %s %s grid", lat, lon, ds.region.Kind, ds.region.Name))
	}

	out := make([]Sample, 0, len(ds.steps))
	skipped := 0
	for _, st := range ds.steps {
		s, ok := sampleAt(ds, st, keys, i, j)
		if !ok {
			skipped++
			continue
		}
		out = append(out, s)
	}

	if skipped > 0 {
		e.metrics.GridStepsSkipped.Add(float64(skipped))
		e.logger.Debug("grid steps skipped", "region", ds.region.Name, "kind", ds.region.Kind, "skipped", skipped)
	}

	if !sort.SliceIsSorted(out, func(a, b int) bool { return out[a].Time.Before(out[b].Time) }) {
		e.logger.Warn("grid steps out of order, sorting", "region", ds.region.Name, "kind", ds.region.Kind)
		sort.SliceStable(out, func(a, b int) bool { return out[a].Time.Before(out[b].Time) })
	}
	return out, nil
}

func sampleAt(ds *Dataset, st Step, keys []string, i, j int) (Sample, bool) {
	s := Sample{Time: st.Time, Values: make(map[string]float64, len(keys))}
	for _, k := range keys {
		if v, ok := ds.Value(st, k, i, j); ok {
			s.Values[k] = v
		}
	}
	return s, len(s.Values) > 0
}
