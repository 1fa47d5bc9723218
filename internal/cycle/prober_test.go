package cycle

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
	"github.com/couchcryptid/gfs-forecast-service/internal/observability"
)

const publishDelay = 3*time.Hour + 30*time.Minute

// fakeProbeClient serves Last-Modified times keyed by URL. Unknown URLs are
// not yet available.
type fakeProbeClient struct {
	mu       sync.Mutex
	modified map[string]time.Time
	all      bool // every URL exists, with no Last-Modified
	probed   []string
}

func (f *fakeProbeClient) BulletinURL(station string, run domain.ModelRun) string {
	return "bull/" + station + "/" + run.ID()
}

func (f *fakeProbeClient) AtmosIndexURL(run domain.ModelRun) string {
	return "idx/" + run.ID()
}

func (f *fakeProbeClient) Probe(_ context.Context, u string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probed = append(f.probed, u)
	if f.all {
		return time.Time{}, nil
	}
	if t, ok := f.modified[u]; ok {
		return t, nil
	}
	return time.Time{}, domain.E(domain.KindNotYetAvailable, "fake.Probe", nil)
}

func (f *fakeProbeClient) publish(id string, bull, idx time.Time) {
	if f.modified == nil {
		f.modified = make(map[string]time.Time)
	}
	f.modified["bull/44098/"+id] = bull
	f.modified["idx/"+id] = idx
}

func newTestProber(client ProbeClient, now time.Time, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return NewProber(client, "44098", publishDelay, clockwork.NewFakeClockAt(now), logger, observability.NewMetricsForTesting())
}

func TestProber_ReturnsNewestPublishedCycle(t *testing.T) {
	now := time.Date(2025, 2, 6, 10, 0, 0, 0, time.UTC)
	bullMod := time.Date(2025, 2, 6, 9, 41, 0, 0, time.UTC)
	idxMod := time.Date(2025, 2, 6, 9, 44, 0, 0, time.UTC)

	client := &fakeProbeClient{}
	client.publish("2025020606", bullMod, idxMod)
	client.publish("2025020600", bullMod.Add(-6*time.Hour), idxMod.Add(-6*time.Hour))

	run, err := newTestProber(client, now, nil).LatestAvailableCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025020606", run.ID())
	assert.Equal(t, idxMod, run.AvailableTime, "later Last-Modified wins")
	assert.False(t, run.Fallback)
	assert.NotContains(t, client.probed, "bull/44098/2025020612", "future cycles are not probed")
}

func TestProber_SkipsCycleNotYetDue(t *testing.T) {
	now := time.Date(2025, 2, 6, 9, 0, 0, 0, time.UTC)
	client := &fakeProbeClient{all: true}

	run, err := newTestProber(client, now, nil).LatestAvailableCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025020600", run.ID())
	assert.Equal(t, now, run.AvailableTime, "missing Last-Modified uses now")
}

func TestProber_FallsBackToYesterday(t *testing.T) {
	now := time.Date(2025, 2, 6, 2, 0, 0, 0, time.UTC)
	client := &fakeProbeClient{}
	client.publish("2025020518", now.Add(-time.Hour), now.Add(-time.Hour))

	run, err := newTestProber(client, now, nil).LatestAvailableCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025020518", run.ID())
}

func TestProber_RequiresBothFiles(t *testing.T) {
	now := time.Date(2025, 2, 6, 12, 0, 0, 0, time.UTC)
	client := &fakeProbeClient{modified: map[string]time.Time{
		"bull/44098/2025020606": now,
		"bull/44098/2025020600": now,
		"idx/2025020600":        now,
	}}

	run, err := newTestProber(client, now, nil).LatestAvailableCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025020600", run.ID())
}

func TestProber_TerminalFallback(t *testing.T) {
	now := time.Date(2025, 2, 6, 10, 15, 0, 0, time.UTC)
	client := &fakeProbeClient{}

	run, err := newTestProber(client, now, nil).LatestAvailableCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, run.Fallback)
	assert.Equal(t, "2025020506", run.ID())
	assert.Equal(t, now, run.AvailableTime)
}

func TestProber_NeverReturnsUnpublishedCycle(t *testing.T) {
	base := time.Date(2025, 2, 6, 0, 0, 0, 0, time.UTC)
	for minutes := 0; minutes < 24*60; minutes += 20 {
		now := base.Add(time.Duration(minutes) * time.Minute)
		client := &fakeProbeClient{all: true}

		run, err := newTestProber(client, now, nil).LatestAvailableCycle(context.Background())
		require.NoError(t, err)
		if run.Fallback {
			continue
		}
		assert.False(t, run.ExpectedAvailableTime(publishDelay).After(now),
			"now=%s returned %s", now.Format(time.RFC3339), run)
	}
}

func TestProber_LogsNewCycleOnce(t *testing.T) {
	now := time.Date(2025, 2, 6, 10, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	client := &fakeProbeClient{all: true}
	p := newTestProber(client, now, logger)

	for range 3 {
		_, err := p.LatestAvailableCycle(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, strings.Count(buf.String(), "msg=\"new cycle\""))
}

func TestProber_Cancelled(t *testing.T) {
	now := time.Date(2025, 2, 6, 10, 0, 0, 0, time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestProber(&fakeProbeClient{}, now, nil).LatestAvailableCycle(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFallbackRun(t *testing.T) {
	tests := []struct {
		hour int
		want string
	}{
		{0, "2025020500"},
		{5, "2025020500"},
		{6, "2025020506"},
		{13, "2025020512"},
		{23, "2025020518"},
	}
	for _, tt := range tests {
		now := time.Date(2025, 2, 6, tt.hour, 30, 0, 0, time.UTC)
		assert.Equal(t, tt.want, fallbackRun(now).ID(), "hour %d", tt.hour)
	}
}
