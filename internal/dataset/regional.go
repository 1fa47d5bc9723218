// Package dataset builds the per-region decoded grids of a model run and
// turns them into wave and wind forecast series.
package dataset

import (
	"sync/atomic"

	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
	"github.com/couchcryptid/gfs-forecast-service/internal/grid"
)

// State is the lifecycle of one regional dataset.
type State int32

const (
	StateUninitialized State = iota
	StateDownloading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDownloading:
		return "downloading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// Stats counts what happened while building a region.
type Stats struct {
	Cached       int `json:"cached"`
	Downloaded   int `json:"downloaded"`
	Failed       int `json:"failed"`
	Skipped      int `json:"skipped"`
	Decoded      int `json:"decoded"`
	DecodeFailed int `json:"decode_failed"`
}

// Regional owns the decoded grid of one region for one model run. Once
// Ready it is never mutated.
type Regional struct {
	region domain.Region
	run    domain.ModelRun
	state  atomic.Int32
	data   *grid.Dataset
	stats  Stats
}

func newRegional(region domain.Region, run domain.ModelRun) *Regional {
	return &Regional{region: region, run: run}
}

// FromRecords wraps already decoded records in a Regional. It is Ready when
// the records form a usable grid and Failed otherwise.
func FromRecords(region domain.Region, run domain.ModelRun, records []grid.Record) *Regional {
	r := newRegional(region, run)
	r.data = grid.NewDataset(region, records)
	if r.data.Empty() {
		r.setState(StateFailed)
		return r
	}
	r.stats.Decoded = 1
	r.setState(StateReady)
	return r
}

// Region returns the covered region.
func (r *Regional) Region() domain.Region { return r.region }

// Run returns the model run the data belongs to.
func (r *Regional) Run() domain.ModelRun { return r.run }

// State returns the current lifecycle state.
func (r *Regional) State() State { return State(r.state.Load()) }

// Stats returns the build counters.
func (r *Regional) Stats() Stats { return r.stats }

// Data returns the decoded grid, or nil unless Ready.
func (r *Regional) Data() *grid.Dataset {
	if r.State() != StateReady {
		return nil
	}
	return r.data
}

func (r *Regional) setState(s State) { r.state.Store(int32(s)) }
