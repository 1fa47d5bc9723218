// Package bulletin parses GFS-Wave station bulletins into wave forecast
// points and loads them, with disk caching and cross-cycle stitching.
package bulletin

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
)

// Stats describes one parse.
type Stats struct {
	Lines   int // data lines considered
	Points  int // points produced
	Skipped int // data lines discarded
}

var headerTokens = []string{
	"Location", "Model", "Cycle", "day &", "hour", "Hst", "(m)", "Tp", "dir",
}

// Parse converts bulletin text into points ordered by time. It never fails:
// lines that cannot be parsed are skipped and counted in Stats.
//
// Each data row reads "| dd hh | Hst n x | Hs Tp dir | Hs Tp dir | ...". The
// leading cell holds the day of month and hour (UTC) of the valid time,
// resolved against cycleStart so the series may cross a month boundary.
func Parse(text string, cycleStart time.Time) ([]domain.WavePoint, Stats) {
	var (
		points []domain.WavePoint
		stats  Stats
	)
	cycleStart = cycleStart.UTC()

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if isHeader(line) {
			continue
		}
		stats.Lines++

		parts := strings.Split(strings.Trim(line, "|"), "|")
		if len(parts) < 3 {
			stats.Skipped++
			continue
		}

		ts, ok := parseTime(parts[0], cycleStart)
		if !ok {
			stats.Skipped++
			continue
		}

		var comps []domain.WaveComponent
		for _, cell := range parts[1:] {
			if c, ok := parseComponent(cell); ok {
				comps = append(comps, c)
			}
		}
		if len(comps) == 0 {
			stats.Skipped++
			continue
		}

		domain.SortComponents(comps)
		points = append(points, domain.WavePoint{Time: ts, Components: comps})
	}

	sort.SliceStable(points, func(i, j int) bool { return points[i].Time.Before(points[j].Time) })
	stats.Points = len(points)
	return points, stats
}

func isHeader(line string) bool {
	if line == "" || line[0] == '+' || !strings.Contains(line, "|") {
		return true
	}
	for _, tok := range headerTokens {
		if strings.Contains(line, tok) {
			return true
		}
	}
	return false
}

// parseTime reads "dd hh" and places it at or after cycleStart's day.
func parseTime(cell string, cycleStart time.Time) (time.Time, bool) {
	fields := strings.Fields(cell)
	if len(fields) != 2 {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(fields[0])
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, false
	}
	hour, err := strconv.Atoi(fields[1])
	if err != nil || hour < 0 || hour > 23 {
		return time.Time{}, false
	}

	month := cycleStart.Month()
	if day < cycleStart.Day() {
		month++
	}
	ts := time.Date(cycleStart.Year(), month, day, hour, 0, 0, 0, time.UTC)
	if ts.Day() != day {
		// e.g. day 31 in a 30-day month
		return time.Time{}, false
	}
	return ts, true
}

// parseComponent reads "Hs Tp dir". Asterisks mark low-confidence values and
// are stripped.
func parseComponent(cell string) (domain.WaveComponent, bool) {
	fields := strings.Fields(strings.ReplaceAll(cell, "*", " "))
	if len(fields) != 3 {
		return domain.WaveComponent{}, false
	}
	var vals [3]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return domain.WaveComponent{}, false
		}
		vals[i] = v
	}
	c := domain.WaveComponent{
		Height:    vals[0],
		Period:    vals[1],
		Direction: domain.NormalizeDirection(vals[2]),
	}
	if !domain.ValidComponent(c) {
		return domain.WaveComponent{}, false
	}
	return c, true
}
