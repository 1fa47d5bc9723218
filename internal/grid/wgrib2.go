// Package grid decodes GRIB2 subsets into in-memory regular grids and
// extracts nearest-node time series from them.
package grid

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// wgrib2 writes this value for undefined grid points.
const undefinedValue = 9.999e20

const csvTimeLayout = "2006-01-02 15:04:05"

// Record is one grid value as emitted by "wgrib2 -csv".
type Record struct {
	Ref   time.Time
	Valid time.Time
	Var   string
	Level string
	Lon   float64
	Lat   float64
	Value float64 // NaN when undefined
}

// Key identifies a variable at a level, e.g. "SWELL:1 in sequence".
func (r Record) Key() string { return VarKey(r.Var, r.Level) }

// VarKey joins a GRIB short name and level description.
func VarKey(name, level string) string { return name + ":" + level }

// ReadCSV parses wgrib2 CSV output: reference time, valid time, variable,
// level, longitude, latitude, value.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 7
	cr.ReuseRecord = true

	var out []Record
	for line := 1; ; line++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		rec, err := parseRecord(fields)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		out = append(out, rec)
	}
}

func parseRecord(f []string) (Record, error) {
	ref, err := time.Parse(csvTimeLayout, f[0])
	if err != nil {
		return Record{}, fmt.Errorf("reference time: %w", err)
	}
	valid, err := time.Parse(csvTimeLayout, f[1])
	if err != nil {
		return Record{}, fmt.Errorf("valid time: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(f[4]), 64)
	if err != nil {
		return Record{}, fmt.Errorf("longitude: %w", err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(f[5]), 64)
	if err != nil {
		return Record{}, fmt.Errorf("latitude: %w", err)
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(f[6]), 64)
	if err != nil {
		return Record{}, fmt.Errorf("value: %w", err)
	}
	if val >= undefinedValue {
		val = math.NaN()
	}
	return Record{
		Ref:   ref.UTC(),
		Valid: valid.UTC(),
		Var:   f[2],
		Level: f[3],
		Lon:   lon,
		Lat:   lat,
		Value: val,
	}, nil
}

// Wgrib2 decodes GRIB2 files by running the wgrib2 binary.
type Wgrib2 struct {
	Bin string
}

// Decode runs "wgrib2 <path> -csv -" and parses its output.
func (w Wgrib2) Decode(ctx context.Context, path string) ([]Record, error) {
	bin := w.Bin
	if bin == "" {
		bin = "wgrib2"
	}
	cmd := exec.CommandContext(ctx, bin, path, "-csv", "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("wgrib2 %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return ReadCSV(&stdout)
}
