// Package nomads talks to the NOAA NOMADS distribution server: existence
// probes, station bulletins, and GRIB filter downloads.
package nomads

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
	"github.com/couchcryptid/gfs-forecast-service/internal/observability"
)

const (
	defaultTimeout   = 60 * time.Second
	maxBulletinBytes = 4 << 20
	maxGribBytes     = 256 << 20
)

var gribMagic = []byte("GRIB")

// Limiter paces outbound requests.
type Limiter interface {
	Acquire(ctx context.Context) error
	RecordSuccess()
	RecordError()
}

// Config holds the endpoints and download limits.
type Config struct {
	BaseURL      string
	FilterURL    string
	MinGribBytes int64
	Timeout      time.Duration
}

// Client issues rate-limited requests against NOMADS.
type Client struct {
	baseURL      string
	filterURL    string
	minGribBytes int64
	httpClient   *http.Client
	limiter      Limiter
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// NewClient creates a NOMADS client. Every request goes through limiter.
func NewClient(cfg Config, limiter Limiter, logger *slog.Logger, metrics *observability.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		filterURL:    strings.TrimRight(cfg.FilterURL, "/"),
		minGribBytes: cfg.MinGribBytes,
		httpClient:   &http.Client{Timeout: timeout},
		limiter:      limiter,
		logger:       logger,
		metrics:      metrics,
	}
}

// BulletinURL is the station bulletin published with a wave cycle.
func (c *Client) BulletinURL(station string, run domain.ModelRun) string {
	hh := run.HourStamp()
	return fmt.Sprintf("%s/gfs.%s/%s/wave/station/bulls.t%sz/gfswave.%s.bull",
		c.baseURL, run.DateStamp(), hh, hh, station)
}

// AtmosIndexURL is the small inventory file of the first atmosphere grid.
func (c *Client) AtmosIndexURL(run domain.ModelRun) string {
	hh := run.HourStamp()
	return fmt.Sprintf("%s/gfs.%s/%s/atmos/gfs.t%sz.pgrb2.0p25.f000.idx",
		c.baseURL, run.DateStamp(), hh, hh)
}

// GribFilterURL builds the GRIB filter query for one region and forecast hour.
func (c *Client) GribFilterURL(region domain.Region, run domain.ModelRun, hour int) string {
	hh := run.HourStamp()
	west, east := region.SignedBounds()
	params := url.Values{}

	var script string
	switch region.Kind {
	case domain.KindWind:
		script = "filter_gfs_0p25.pl"
		params.Set("dir", fmt.Sprintf("/gfs.%s/%s/atmos", run.DateStamp(), hh))
		params.Set("file", fmt.Sprintf("gfs.t%sz.pgrb2.0p25.f%03d", hh, hour))
		for _, v := range WindVariables {
			params.Set("var_"+v, "on")
		}
		for _, l := range WindLevels {
			params.Set("lev_"+l, "on")
		}
	default:
		script = "filter_gfswave.pl"
		params.Set("dir", fmt.Sprintf("/gfs.%s/%s/wave/gridded", run.DateStamp(), hh))
		params.Set("file", fmt.Sprintf("gfswave.t%sz.global.0p25.f%03d.grib2", hh, hour))
		for _, v := range WaveVariables {
			params.Set("var_"+v, "on")
		}
		for _, l := range WaveLevels {
			params.Set("lev_"+l, "on")
		}
	}

	params.Set("subregion", "")
	params.Set("leftlon", formatCoord(west))
	params.Set("rightlon", formatCoord(east))
	params.Set("toplat", formatCoord(region.LatMax))
	params.Set("bottomlat", formatCoord(region.LatMin))
	return c.filterURL + "/" + script + "?" + params.Encode()
}

// Probe issues a HEAD request and returns the Last-Modified time, or the
// zero time when the header is absent. A 404 yields ErrNotYetAvailable.
func (c *Client) Probe(ctx context.Context, rawURL string) (time.Time, error) {
	const op = "nomads.Probe"
	resp, err := c.do(ctx, http.MethodHead, rawURL, op)
	if err != nil {
		return time.Time{}, err
	}
	resp.Body.Close()

	lm := resp.Header.Get("Last-Modified")
	if lm == "" {
		return time.Time{}, nil
	}
	t, err := http.ParseTime(lm)
	if err != nil {
		c.logger.Debug("unparseable last-modified header", "url", rawURL, "value", lm)
		return time.Time{}, nil
	}
	return t.UTC(), nil
}

// FetchBulletin downloads a station bulletin as text.
func (c *Client) FetchBulletin(ctx context.Context, station string, run domain.ModelRun) (string, error) {
	const op = "nomads.FetchBulletin"
	data, err := c.get(ctx, c.BulletinURL(station, run), op, maxBulletinBytes)
	if err != nil {
		c.countDownload("bulletin", err)
		return "", err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		err := domain.E(domain.KindDownloadFailed, op, errors.New("empty bulletin"))
		c.countDownload("bulletin", err)
		return "", err
	}
	c.countDownload("bulletin", nil)
	c.metrics.DownloadBytes.Add(float64(len(data)))
	return string(data), nil
}

// FetchGrib downloads one GRIB subset. Responses smaller than the configured
// minimum or lacking the GRIB header are rejected as error pages.
func (c *Client) FetchGrib(ctx context.Context, region domain.Region, run domain.ModelRun, hour int) ([]byte, error) {
	const op = "nomads.FetchGrib"
	kind := string(region.Kind)
	data, err := c.get(ctx, c.GribFilterURL(region, run, hour), op, maxGribBytes)
	if err != nil {
		c.countDownload(kind, err)
		return nil, err
	}
	if int64(len(data)) < c.minGribBytes || !bytes.HasPrefix(data, gribMagic) {
		c.metrics.Downloads.WithLabelValues(kind, "undersized").Inc()
		return nil, domain.E(domain.KindDownloadFailed, op,
			fmt.Errorf("undersized or non-GRIB response (%d bytes) for %s f%03d", len(data), region.Name, hour))
	}
	c.countDownload(kind, nil)
	c.metrics.DownloadBytes.Add(float64(len(data)))
	return data, nil
}

func (c *Client) get(ctx context.Context, rawURL, op string, limit int64) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, rawURL, op)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		c.limiter.RecordError()
		return nil, domain.E(domain.KindDownloadFailed, op, fmt.Errorf("read body: %w", err))
	}
	return data, nil
}

// do acquires the limiter, performs the request and classifies the status.
// On success the caller owns resp.Body.
func (c *Client) do(ctx context.Context, method, rawURL, op string) (*http.Response, error) {
	start := time.Now()
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	c.metrics.LimiterWait.Observe(time.Since(start).Seconds())

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.limiter.RecordError()
		return nil, domain.E(domain.KindDownloadFailed, op, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		c.limiter.RecordSuccess()
		return resp, nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		c.limiter.RecordSuccess()
		return nil, domain.E(domain.KindNotYetAvailable, op, fmt.Errorf("%s: status 404", rawURL))
	default:
		resp.Body.Close()
		c.limiter.RecordError()
		return nil, domain.E(domain.KindDownloadFailed, op, fmt.Errorf("%s: status %d", rawURL, resp.StatusCode))
	}
}

func (c *Client) countDownload(kind string, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotYetAvailable):
		outcome = "not_available"
	default:
		outcome = "error"
	}
	c.metrics.Downloads.WithLabelValues(kind, outcome).Inc()
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
