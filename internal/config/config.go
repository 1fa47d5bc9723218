package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Provider endpoints.
	NomadsBaseURL   string
	NomadsFilterURL string
	TestStationID   string

	// Download pacing.
	RequestsPerMinute int
	RequestBatchSize  int
	RequestBatchPause time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration

	// Build behaviour.
	CacheDir               string
	FileMaxAge             time.Duration
	DownloadWorkers        int
	DownloadAttempts       int
	MaxConsecutiveFailures int
	MinGribBytes           int64
	ForecastHourMax        int
	ForecastHourStep       int
	Wgrib2Path             string
	BulletinStations       []string
	Regions                []domain.Region

	// Orchestration.
	PollInterval     time.Duration
	PublishDelay     time.Duration
	MaxCycleAttempts int
	LocalTimezone    *time.Location
	LedgerDBPath     string

	// Forecast cache.
	CacheBackend string
	CacheSize    int
	CacheTTL     time.Duration
	ValkeyAddr   string

	// Run-activated events.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string
}

// DefaultRegions covers the Gulf of Maine. The wave region is expressed in
// 0–360 longitudes and the wind region in −180–180 to match how each
// NOMADS filter reports its grid.
var DefaultRegions = []domain.Region{
	{Name: "gulfofmaine", Kind: domain.KindWave, LatMin: 40, LatMax: 46, LonMin: 288, LonMax: 294},
	{Name: "gulfofmaine", Kind: domain.KindWind, LatMin: 40, LatMax: 46, LonMin: -72, LonMax: -66},
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		NomadsBaseURL:   strings.TrimRight(sharedcfg.EnvOrDefault("NOMADS_BASE_URL", "https://nomads.ncep.noaa.gov/pub/data/nccf/com/gfs/prod"), "/"),
		NomadsFilterURL: strings.TrimRight(sharedcfg.EnvOrDefault("NOMADS_FILTER_URL", "https://nomads.ncep.noaa.gov/cgi-bin"), "/"),
		TestStationID:   sharedcfg.EnvOrDefault("TEST_STATION_ID", "44098"),

		CacheDir:         sharedcfg.EnvOrDefault("CACHE_DIR", "data/gfs"),
		Wgrib2Path:       sharedcfg.EnvOrDefault("WGRIB2_PATH", "wgrib2"),
		BulletinStations: splitList(sharedcfg.EnvOrDefault("BULLETIN_STATIONS", "44098")),
		Regions:          append([]domain.Region(nil), DefaultRegions...),
		LedgerDBPath:     os.Getenv("LEDGER_DB_PATH"),

		CacheBackend: sharedcfg.EnvOrDefault("CACHE_BACKEND", "memory"),
		ValkeyAddr:   sharedcfg.EnvOrDefault("VALKEY_ADDR", "localhost:6379"),

		KafkaEnabled: os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "gfs-model-runs"),
	}

	durations := []struct {
		env  string
		def  string
		dest *time.Duration
	}{
		{"REQUEST_BATCH_PAUSE", "10s", &cfg.RequestBatchPause},
		{"BACKOFF_BASE", "2s", &cfg.BackoffBase},
		{"BACKOFF_MAX", "60s", &cfg.BackoffMax},
		{"FILE_MAX_AGE", "12h", &cfg.FileMaxAge},
		{"POLL_INTERVAL", "15m", &cfg.PollInterval},
		{"PUBLISH_DELAY", "3h30m", &cfg.PublishDelay},
		{"CACHE_TTL", "10m", &cfg.CacheTTL},
	}
	for _, d := range durations {
		v, err := parseDuration(d.env, d.def)
		if err != nil {
			return nil, err
		}
		*d.dest = v
	}

	ints := []struct {
		env  string
		def  int
		dest *int
	}{
		{"REQUESTS_PER_MINUTE", 60, &cfg.RequestsPerMinute},
		{"REQUEST_BATCH_SIZE", 20, &cfg.RequestBatchSize},
		{"DOWNLOAD_WORKERS", 4, &cfg.DownloadWorkers},
		{"DOWNLOAD_ATTEMPTS", 3, &cfg.DownloadAttempts},
		{"MAX_CONSECUTIVE_FAILURES", 3, &cfg.MaxConsecutiveFailures},
		{"FORECAST_HOUR_MAX", 120, &cfg.ForecastHourMax},
		{"FORECAST_HOUR_STEP", 3, &cfg.ForecastHourStep},
		{"MAX_CYCLE_ATTEMPTS", 8, &cfg.MaxCycleAttempts},
		{"CACHE_SIZE", 1000, &cfg.CacheSize},
	}
	for _, i := range ints {
		v, err := parsePositiveInt(i.env, i.def)
		if err != nil {
			return nil, err
		}
		*i.dest = v
	}

	minBytes, err := parsePositiveInt("MIN_GRIB_BYTES", 1024)
	if err != nil {
		return nil, err
	}
	cfg.MinGribBytes = int64(minBytes)

	loc, err := time.LoadLocation(sharedcfg.EnvOrDefault("LOCAL_TIMEZONE", "America/New_York"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOCAL_TIMEZONE: %w", err)
	}
	cfg.LocalTimezone = loc

	if path := os.Getenv("REGIONS_FILE"); path != "" {
		regions, err := loadRegions(path)
		if err != nil {
			return nil, err
		}
		cfg.Regions = regions
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.TestStationID == "" {
		return errors.New("TEST_STATION_ID is required")
	}
	if len(c.Regions) == 0 {
		return errors.New("at least one region is required")
	}
	seen := make(map[string]bool, len(c.Regions))
	for _, r := range c.Regions {
		if err := r.Validate(); err != nil {
			return err
		}
		key := string(r.Kind) + "/" + r.Name
		if seen[key] {
			return fmt.Errorf("duplicate %s region %q", r.Kind, r.Name)
		}
		seen[key] = true
	}
	if c.ForecastHourStep > c.ForecastHourMax {
		return errors.New("FORECAST_HOUR_STEP must not exceed FORECAST_HOUR_MAX")
	}
	if c.BackoffBase > c.BackoffMax {
		return errors.New("BACKOFF_BASE must not exceed BACKOFF_MAX")
	}
	switch c.CacheBackend {
	case "memory", "valkey":
	default:
		return fmt.Errorf("invalid CACHE_BACKEND %q", c.CacheBackend)
	}
	if c.LedgerDBPath != "" && within(c.CacheDir, c.LedgerDBPath) {
		return errors.New("LEDGER_DB_PATH must be outside CACHE_DIR")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
	}
	if c.KafkaEnabled && c.KafkaTopic == "" {
		return errors.New("KAFKA_TOPIC is required when KAFKA_ENABLED is true")
	}
	return nil
}

// within reports whether path is dir or lies below it.
func within(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// ForecastHours lists the forecast hours to download, 0 through ForecastHourMax.
func (c *Config) ForecastHours() []int {
	hours := make([]int, 0, c.ForecastHourMax/c.ForecastHourStep+1)
	for h := 0; h <= c.ForecastHourMax; h += c.ForecastHourStep {
		hours = append(hours, h)
	}
	return hours
}

type regionsFile struct {
	Regions []domain.Region `yaml:"regions"`
}

func loadRegions(path string) ([]domain.Region, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read regions file: %w", err)
	}
	var f regionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse regions file: %w", err)
	}
	if len(f.Regions) == 0 {
		return nil, fmt.Errorf("regions file %s defines no regions", path)
	}
	return f.Regions, nil
}

func parseDuration(env, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(env, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", env)
	}
	return d, nil
}

func parsePositiveInt(env string, def int) (int, error) {
	s := os.Getenv(env)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", env)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
