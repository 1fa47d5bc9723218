package domain

import (
	"fmt"
	"time"
)

// CycleHours lists the GFS cycle hours, most recent first.
var CycleHours = []int{18, 12, 6, 0}

// CycleInterval is the spacing between consecutive GFS cycles.
const CycleInterval = 6 * time.Hour

// ModelRun identifies a single GFS cycle.
type ModelRun struct {
	Date          time.Time // midnight UTC of the run date
	CycleHour     int       // 0, 6, 12 or 18
	AvailableTime time.Time // provider Last-Modified, UTC

	// Fallback is set when no cycle could be confirmed and the run was
	// synthesized from the clock alone.
	Fallback bool
}

// NewModelRun builds a ModelRun for the given date and cycle hour. The date is
// truncated to midnight UTC and availableTime is normalized to UTC.
func NewModelRun(date time.Time, cycleHour int, availableTime time.Time) (ModelRun, error) {
	if !ValidCycleHour(cycleHour) {
		return ModelRun{}, fmt.Errorf("invalid cycle hour %d", cycleHour)
	}
	d := date.UTC()
	return ModelRun{
		Date:          time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC),
		CycleHour:     cycleHour,
		AvailableTime: availableTime.UTC(),
	}, nil
}

// ParseModelRun parses a "YYYYMMDDHH" cycle identifier.
func ParseModelRun(s string) (ModelRun, error) {
	t, err := time.Parse("2006010215", s)
	if err != nil {
		return ModelRun{}, fmt.Errorf("parse model run %q: %w", s, err)
	}
	return NewModelRun(t, t.Hour(), time.Time{})
}

// ValidCycleHour reports whether h is one of the four GFS cycle hours.
func ValidCycleHour(h int) bool {
	return h == 0 || h == 6 || h == 12 || h == 18
}

// Start returns the cycle start time in UTC.
func (r ModelRun) Start() time.Time {
	return r.Date.Add(time.Duration(r.CycleHour) * time.Hour)
}

// ID returns the cycle identifier, e.g. "2025020606".
func (r ModelRun) ID() string {
	return r.DateStamp() + r.HourStamp()
}

// DateStamp returns the run date as YYYYMMDD.
func (r ModelRun) DateStamp() string {
	return r.Date.Format("20060102")
}

// HourStamp returns the zero-padded cycle hour.
func (r ModelRun) HourStamp() string {
	return fmt.Sprintf("%02d", r.CycleHour)
}

// DateStr returns the local calendar date of the cycle start. Late cycles can
// fall on the next or previous local day relative to the UTC run date.
func (r ModelRun) DateStr(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return r.Start().In(loc).Format("2006-01-02")
}

// ExpectedAvailableTime is the earliest time the cycle is expected on the provider.
func (r ModelRun) ExpectedAvailableTime(publishDelay time.Duration) time.Time {
	return r.Start().Add(publishDelay)
}

// Previous returns the cycle six hours earlier.
func (r ModelRun) Previous() ModelRun {
	prev := r.Start().Add(-CycleInterval)
	run, _ := NewModelRun(prev, prev.Hour(), time.Time{})
	return run
}

// NewerThan reports whether r starts strictly after other.
func (r ModelRun) NewerThan(other ModelRun) bool {
	return r.Start().After(other.Start())
}

// Same reports whether both values identify the same cycle.
func (r ModelRun) Same(other ModelRun) bool {
	return r.Start().Equal(other.Start())
}

// IsZero reports whether the run is unset.
func (r ModelRun) IsZero() bool {
	return r.Date.IsZero()
}

func (r ModelRun) String() string {
	return fmt.Sprintf("%s %sZ", r.DateStamp(), r.HourStamp())
}
