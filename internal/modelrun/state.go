// Package modelrun assembles every regional dataset and station bulletin of
// one model run into an immutable State, and holds the active State behind
// an atomically swappable Handle.
package modelrun

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/gfs-forecast-service/internal/dataset"
	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
)

// State is the complete forecast data of exactly one model run. It is built
// off to the side and never mutated after it becomes visible through a
// Handle.
type State struct {
	run       domain.ModelRun
	buildID   string
	builtAt   time.Time
	regions   map[domain.Kind][]*dataset.Regional
	bulletins map[string][]domain.WavePoint
	retired   atomic.Bool
}

// NewState assembles a State from already built parts. Regions that are not
// Ready are kept for status reporting but never serve lookups.
func NewState(run domain.ModelRun, buildID string, builtAt time.Time, regions []*dataset.Regional, bulletins map[string][]domain.WavePoint) *State {
	s := &State{
		run:       run,
		buildID:   buildID,
		builtAt:   builtAt,
		regions:   make(map[domain.Kind][]*dataset.Regional),
		bulletins: bulletins,
	}
	if s.bulletins == nil {
		s.bulletins = make(map[string][]domain.WavePoint)
	}
	for _, r := range regions {
		k := r.Region().Kind
		s.regions[k] = append(s.regions[k], r)
	}
	for _, rs := range s.regions {
		sort.Slice(rs, func(i, j int) bool { return rs[i].Region().Name < rs[j].Region().Name })
	}
	return s
}

// Run returns the model run this state belongs to.
func (s *State) Run() domain.ModelRun { return s.run }

// BuildID uniquely identifies this build.
func (s *State) BuildID() string { return s.buildID }

// BuiltAt is when the build finished.
func (s *State) BuiltAt() time.Time { return s.builtAt }

// Lookup returns the first Ready region of kind containing (lat, lon).
func (s *State) Lookup(kind domain.Kind, lat, lon float64) (*dataset.Regional, bool) {
	for _, r := range s.regions[kind] {
		if r.State() == dataset.StateReady && r.Region().Contains(lat, lon) {
			return r, true
		}
	}
	return nil, false
}

// Bulletin returns the parsed bulletin series for station.
func (s *State) Bulletin(station string) ([]domain.WavePoint, bool) {
	pts, ok := s.bulletins[station]
	return pts, ok && len(pts) > 0
}

// ReadyRegions counts the regions that can serve lookups.
func (s *State) ReadyRegions() int {
	n := 0
	for _, rs := range s.regions {
		for _, r := range rs {
			if r.State() == dataset.StateReady {
				n++
			}
		}
	}
	return n
}

// Close marks the state retired once it has been swapped out. Readers that
// still hold it may finish; memory is reclaimed when the last one lets go.
func (s *State) Close() { s.retired.Store(true) }

// Retired reports whether Close has been called.
func (s *State) Retired() bool { return s.retired.Load() }

// RegionStatus describes one region in a Summary.
type RegionStatus struct {
	Name  string        `json:"name"`
	Kind  domain.Kind   `json:"kind"`
	State string        `json:"state"`
	Stats dataset.Stats `json:"stats"`
}

// Summary is the JSON view of a State served on the status endpoint.
type Summary struct {
	Cycle         string         `json:"cycle"`
	DateStr       string         `json:"date"`
	AvailableTime time.Time      `json:"available_time"`
	Fallback      bool           `json:"fallback"`
	BuildID       string         `json:"build_id"`
	BuiltAt       time.Time      `json:"built_at"`
	Regions       []RegionStatus `json:"regions"`
	Bulletins     []string       `json:"bulletins"`
}

// Summary reports the run and per-region outcome, with dates rendered in loc.
func (s *State) Summary(loc *time.Location) Summary {
	out := Summary{
		Cycle:         s.run.ID(),
		DateStr:       s.run.DateStr(loc),
		AvailableTime: s.run.AvailableTime,
		Fallback:      s.run.Fallback,
		BuildID:       s.buildID,
		BuiltAt:       s.builtAt,
		Regions:       []RegionStatus{},
		Bulletins:     []string{},
	}
	for _, kind := range []domain.Kind{domain.KindWave, domain.KindWind} {
		for _, r := range s.regions[kind] {
			out.Regions = append(out.Regions, RegionStatus{
				Name:  r.Region().Name,
				Kind:  kind,
				State: r.State().String(),
				Stats: r.Stats(),
			})
		}
	}
	for station, pts := range s.bulletins {
		if len(pts) > 0 {
			out.Bulletins = append(out.Bulletins, station)
		}
	}
	sort.Strings(out.Bulletins)
	return out
}

// Handle holds the active State. The pointer is the only mutable value
// shared between the background loop and readers.
type Handle struct {
	p atomic.Pointer[State]
}

// NewHandle returns an empty Handle.
func NewHandle() *Handle { return &Handle{} }

// Load returns the active state, or nil before the first build.
func (h *Handle) Load() *State { return h.p.Load() }

// Swap publishes next and returns the previously active state.
func (h *Handle) Swap(next *State) *State { return h.p.Swap(next) }
