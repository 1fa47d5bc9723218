// Command inspect answers a forecast query from local files, without
// touching NOMADS. It is meant for checking a downloaded bulletin or GRIB
// subset when the service output looks wrong.
//
// Usage:
//
//	go run ./cmd/inspect -cycle 2025020606 -bulletin gfswave.44098.bull -station 44098
//	go run ./cmd/inspect -cycle 2025020606 -grib wind_f000.grib2 -kind wind -lat 42.8 -lon -70.2
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/gfs-forecast-service/internal/bulletin"
	"github.com/couchcryptid/gfs-forecast-service/internal/cache"
	"github.com/couchcryptid/gfs-forecast-service/internal/dataset"
	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
	"github.com/couchcryptid/gfs-forecast-service/internal/forecast"
	"github.com/couchcryptid/gfs-forecast-service/internal/grid"
	"github.com/couchcryptid/gfs-forecast-service/internal/modelrun"
	"github.com/couchcryptid/gfs-forecast-service/internal/observability"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "inspect:", err)
		os.Exit(1)
	}
}

// fixedState serves one prebuilt state.
type fixedState struct{ s *modelrun.State }

func (f fixedState) Active() *modelrun.State { return f.s }

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cycleID := fs.String("cycle", "", "model run the file belongs to, YYYYMMDDHH")
	bulletinPath := fs.String("bulletin", "", "station bulletin file")
	station := fs.String("station", "", "station ID the bulletin belongs to")
	gribPath := fs.String("grib", "", "GRIB2 subset to decode")
	wgrib2 := fs.String("wgrib2", "wgrib2", "path to the wgrib2 binary")
	kindFlag := fs.String("kind", "wave", "wave or wind")
	lat := fs.Float64("lat", math.NaN(), "latitude")
	lon := fs.Float64("lon", math.NaN(), "longitude, either convention")
	if err := fs.Parse(args); err != nil {
		return err
	}

	modelRun, err := domain.ParseModelRun(*cycleID)
	if err != nil {
		return err
	}
	kind, err := domain.ParseKind(*kindFlag)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	metrics := observability.NewMetricsForTesting()

	var (
		regions   []*dataset.Regional
		bulletins map[string][]domain.WavePoint
	)
	switch {
	case *bulletinPath != "":
		if *station == "" {
			return errors.New("-station is required with -bulletin")
		}
		text, err := os.ReadFile(*bulletinPath)
		if err != nil {
			return err
		}
		points, stats := bulletin.Parse(string(text), modelRun.Start())
		logger.Warn("bulletin parsed", "points", stats.Points, "skipped", stats.Skipped)
		bulletins = map[string][]domain.WavePoint{*station: points}
		kind = domain.KindWave
		if math.IsNaN(*lat) || math.IsNaN(*lon) {
			*lat, *lon = 0, 0
		}
	case *gribPath != "":
		if math.IsNaN(*lat) || math.IsNaN(*lon) {
			return errors.New("-lat and -lon are required with -grib")
		}
		records, err := grid.Wgrib2{Bin: *wgrib2}.Decode(ctx, *gribPath)
		if err != nil {
			return err
		}
		regions = append(regions, dataset.FromRecords(boundsOf(kind, records), modelRun, records))
	default:
		return errors.New("one of -bulletin or -grib is required")
	}

	state := modelrun.NewState(modelRun, "inspect", modelRun.Start(), regions, bulletins)
	svc := forecast.NewService(fixedState{state}, grid.NewExtractor(logger, metrics),
		cache.NewMemory[domain.Forecast](1, clockwork.NewRealClock()), 0, logger, metrics)

	fc, err := svc.StationForecast(ctx, *station, *lat, *lon, kind)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(fc)
}

// boundsOf spans every decoded node, in the longitude convention the file
// itself uses.
func boundsOf(kind domain.Kind, records []grid.Record) domain.Region {
	r := domain.Region{Name: "file", Kind: kind, LatMin: 90, LatMax: -90, LonMin: 360, LonMax: -180}
	for _, rec := range records {
		r.LatMin = math.Min(r.LatMin, rec.Lat)
		r.LatMax = math.Max(r.LatMax, rec.Lat)
		r.LonMin = math.Min(r.LonMin, rec.Lon)
		r.LonMax = math.Max(r.LonMax, rec.Lon)
	}
	return r
}
