package grid

import (
	"math"
	"sort"
	"time"

	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
)

// Step holds every variable of one valid time on the dataset grid. Values
// are laid out row-major by latitude then longitude.
type Step struct {
	Time time.Time
	Vars map[string][]float64
}

// Dataset is a decoded regular grid for one region and model run. Longitudes
// are stored in the region's convention. A Dataset is read-only once built.
type Dataset struct {
	region domain.Region
	lats   []float64
	lons   []float64
	steps  []Step
}

// NewDataset assembles records into a grid. Records may arrive in any order
// and from several files; steps are ordered by valid time.
func NewDataset(region domain.Region, records []Record) *Dataset {
	ds := &Dataset{region: region}
	if len(records) == 0 {
		return ds
	}

	latSet := make(map[float64]struct{})
	lonSet := make(map[float64]struct{})
	for i := range records {
		records[i].Lon = region.NormalizeLon(records[i].Lon)
		latSet[records[i].Lat] = struct{}{}
		lonSet[records[i].Lon] = struct{}{}
	}
	ds.lats = sortedKeys(latSet)
	ds.lons = sortedKeys(lonSet)

	latIdx := indexOf(ds.lats)
	lonIdx := indexOf(ds.lons)
	size := len(ds.lats) * len(ds.lons)

	byTime := make(map[time.Time]*Step)
	for _, r := range records {
		st, ok := byTime[r.Valid]
		if !ok {
			st = &Step{Time: r.Valid, Vars: make(map[string][]float64)}
			byTime[r.Valid] = st
		}
		key := r.Key()
		vals, ok := st.Vars[key]
		if !ok {
			vals = make([]float64, size)
			for i := range vals {
				vals[i] = math.NaN()
			}
			st.Vars[key] = vals
		}
		vals[latIdx[r.Lat]*len(ds.lons)+lonIdx[r.Lon]] = r.Value
	}

	ds.steps = make([]Step, 0, len(byTime))
	for _, st := range byTime {
		ds.steps = append(ds.steps, *st)
	}
	sort.Slice(ds.steps, func(i, j int) bool { return ds.steps[i].Time.Before(ds.steps[j].Time) })
	return ds
}

// Region returns the region the dataset covers.
func (d *Dataset) Region() domain.Region { return d.region }

// Steps returns the time steps in stored order.
func (d *Dataset) Steps() []Step { return d.steps }

// Size returns the latitude and longitude axis lengths.
func (d *Dataset) Size() (nlat, nlon int) { return len(d.lats), len(d.lons) }

// Empty reports whether the dataset has no usable grid.
func (d *Dataset) Empty() bool {
	return d == nil || len(d.steps) == 0 || len(d.lats) == 0 || len(d.lons) == 0
}

// Node returns the coordinates of the grid node at (i, j).
func (d *Dataset) Node(i, j int) (lat, lon float64) {
	return d.lats[i], d.lons[j]
}

// Nearest returns the indices of the node closest to (lat, lon) along each
// axis independently. lon may be in either convention. ok is false when the
// point lies more than half a grid spacing outside the grid.
func (d *Dataset) Nearest(lat, lon float64) (i, j int, ok bool) {
	if d.Empty() {
		return 0, 0, false
	}
	lon = d.region.NormalizeLon(lon)
	i, iok := nearestIndex(d.lats, lat)
	j, jok := nearestIndex(d.lons, lon)
	return i, j, iok && jok
}

// Value returns the value of key at node (i, j) in step s.
func (d *Dataset) Value(s Step, key string, i, j int) (float64, bool) {
	vals, ok := s.Vars[key]
	if !ok {
		return math.NaN(), false
	}
	v := vals[i*len(d.lons)+j]
	return v, !math.IsNaN(v)
}

func nearestIndex(axis []float64, v float64) (int, bool) {
	n := len(axis)
	k := sort.SearchFloat64s(axis, v)
	switch {
	case k == 0:
		k = 0
	case k == n:
		k = n - 1
	case v-axis[k-1] <= axis[k]-v:
		k--
	}
	if n == 1 {
		return k, true
	}
	tol := 0.5 * spacing(axis)
	return k, math.Abs(axis[k]-v) <= tol+1e-9
}

func spacing(axis []float64) float64 {
	if len(axis) < 2 {
		return 0
	}
	return (axis[len(axis)-1] - axis[0]) / float64(len(axis)-1)
}

func sortedKeys(set map[float64]struct{}) []float64 {
	out := make([]float64, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}

func indexOf(axis []float64) map[float64]int {
	m := make(map[float64]int, len(axis))
	for i, v := range axis {
		m[v] = i
	}
	return m
}
