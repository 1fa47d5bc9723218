package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Kind selects the wave or wind forecast family.
type Kind string

const (
	KindWave Kind = "wave"
	KindWind Kind = "wind"
)

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindWave, KindWind:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown forecast kind %q", s)
}

// WaveComponent is one spectral partition (swell or wind sea).
type WaveComponent struct {
	Height    float64 `json:"height"`
	Period    float64 `json:"period"`
	Direction float64 `json:"direction"`
}

// WavePoint is the wave forecast at one valid time. Components are ordered
// by height, largest first.
type WavePoint struct {
	Time       time.Time       `json:"time"`
	Components []WaveComponent `json:"components"`
}

// Primary returns the largest component, or false when there are none.
func (p WavePoint) Primary() (WaveComponent, bool) {
	if len(p.Components) == 0 {
		return WaveComponent{}, false
	}
	return p.Components[0], true
}

// WindPoint is the wind forecast at one valid time.
type WindPoint struct {
	Time      time.Time `json:"time"`
	Speed     float64   `json:"speed"`
	Direction float64   `json:"direction"`
	Gust      float64   `json:"gust"`
}

// Forecast is the consumer-facing result for one location. Exactly one of
// Waves or Winds is populated, matching Kind.
type Forecast struct {
	StationID string      `json:"station_id,omitempty"`
	Lat       float64     `json:"lat"`
	Lon       float64     `json:"lon"`
	Kind      Kind        `json:"kind"`
	Cycle     string      `json:"cycle"`
	Source    string      `json:"source"` // "bulletin" or "grid"
	Waves     []WavePoint `json:"waves,omitempty"`
	Winds     []WindPoint `json:"winds,omitempty"`
}

// SortComponents orders components by height, largest first.
func SortComponents(cs []WaveComponent) {
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].Height > cs[j].Height })
}

// NormalizeDirection maps any angle in degrees into [0, 360).
func NormalizeDirection(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d = 0
	}
	return d
}

// ValidComponent reports whether c satisfies the wave component invariants.
func ValidComponent(c WaveComponent) bool {
	return c.Height >= 0 && c.Period >= 0 &&
		c.Direction >= 0 && c.Direction < 360 &&
		!math.IsNaN(c.Height) && !math.IsNaN(c.Period)
}
