package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Region is a bounding box for which gridded files are downloaded. Longitude
// bounds may be expressed in 0–360 or −180–180; the convention is inferred
// from the bounds and shared by the decoded dataset.
type Region struct {
	Name   string  `yaml:"name"`
	Kind   Kind    `yaml:"kind"`
	LatMin float64 `yaml:"lat_min"`
	LatMax float64 `yaml:"lat_max"`
	LonMin float64 `yaml:"lon_min"`
	LonMax float64 `yaml:"lon_max"`
}

// Validate checks bounds and naming.
func (r Region) Validate() error {
	if r.Name == "" {
		return errors.New("region name is required")
	}
	if strings.ContainsAny(r.Name, "_/ ") {
		return fmt.Errorf("region %q: name must not contain '_', '/' or spaces", r.Name)
	}
	if _, err := ParseKind(string(r.Kind)); err != nil {
		return fmt.Errorf("region %q: %w", r.Name, err)
	}
	if r.LatMin >= r.LatMax || r.LatMin < -90 || r.LatMax > 90 {
		return fmt.Errorf("region %q: invalid latitude bounds [%g, %g]", r.Name, r.LatMin, r.LatMax)
	}
	if r.LonMin >= r.LonMax || r.LonMin < -180 || r.LonMax > 360 {
		return fmt.Errorf("region %q: invalid longitude bounds [%g, %g]", r.Name, r.LonMin, r.LonMax)
	}
	if r.LonMin < 0 && r.LonMax > 180 {
		return fmt.Errorf("region %q: longitude bounds mix conventions", r.Name)
	}
	return nil
}

// PositiveLongitudes reports whether the region uses the 0–360 convention.
func (r Region) PositiveLongitudes() bool {
	return r.LonMax > 180 || r.LonMin >= 180
}

// NormalizeLon converts lon into the region's longitude convention.
func (r Region) NormalizeLon(lon float64) float64 {
	if r.PositiveLongitudes() {
		return ToPositiveLon(lon)
	}
	return ToSignedLon(lon)
}

// Contains reports whether the coordinate falls inside the bounds.
func (r Region) Contains(lat, lon float64) bool {
	lon = r.NormalizeLon(lon)
	return lat >= r.LatMin && lat <= r.LatMax && lon >= r.LonMin && lon <= r.LonMax
}

// SignedBounds returns the longitude bounds in −180–180 form, as the GRIB
// filter endpoints expect.
func (r Region) SignedBounds() (west, east float64) {
	return ToSignedLon(r.LonMin), ToSignedLon(r.LonMax)
}

// ToPositiveLon maps a longitude into [0, 360).
func ToPositiveLon(lon float64) float64 {
	l := math.Mod(lon, 360)
	if l < 0 {
		l += 360
	}
	return l
}

// ToSignedLon maps a longitude into [−180, 180).
func ToSignedLon(lon float64) float64 {
	l := ToPositiveLon(lon)
	if l >= 180 {
		l -= 360
	}
	return l
}
