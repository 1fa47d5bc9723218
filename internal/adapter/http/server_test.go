package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/gfs-forecast-service/internal/adapter/http"
	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
	"github.com/couchcryptid/gfs-forecast-service/internal/modelrun"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockState struct {
	state *modelrun.State
}

func (m *mockState) Active() *modelrun.State { return m.state }

type mockForecaster struct {
	fc  domain.Forecast
	err error
	got []any
}

func (m *mockForecaster) StationForecast(_ context.Context, stationID string, lat, lon float64, kind domain.Kind) (domain.Forecast, error) {
	m.got = []any{stationID, lat, lon, kind}
	return m.fc, m.err
}

func newTestServer(readyErr error, state *modelrun.State) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, &mockState{state: state}, &mockForecaster{}, time.UTC, slog.Default())
}

func TestHealthzReturns200(t *testing.T) {
	srv := newTestServer(nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	srv := newTestServer(nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	srv := newTestServer(fmt.Errorf("no model run loaded yet"), nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusBeforeFirstLoad(t *testing.T) {
	srv := newTestServer(nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "loading", body["status"])
}

func TestStatusReportsActiveRun(t *testing.T) {
	run, err := domain.ParseModelRun("2025020606")
	require.NoError(t, err)
	state := modelrun.NewState(run, "build-1", time.Date(2025, 2, 6, 10, 0, 0, 0, time.UTC), nil,
		map[string][]domain.WavePoint{"44098": {{Time: run.Start()}}})

	srv := newTestServer(nil, state)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body modelrun.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2025020606", body.Cycle)
	assert.Equal(t, "2025-02-06", body.DateStr)
	assert.Equal(t, "build-1", body.BuildID)
	assert.Equal(t, []string{"44098"}, body.Bulletins)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestForecastEndpoint(t *testing.T) {
	fc := &mockForecaster{fc: domain.Forecast{StationID: "44098", Kind: domain.KindWave, Cycle: "2025020606", Source: "bulletin"}}
	srv := httpadapter.NewServer(":0", &mockReadiness{}, &mockState{}, fc, time.UTC, slog.Default())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/forecast?station=44098&lat=42.8&lon=-70.17&kind=wave", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"44098", 42.8, -70.17, domain.KindWave}, fc.got)
	var body domain.Forecast
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "bulletin", body.Source)
}

func TestForecastEndpointErrors(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		err    error
		status int
	}{
		{"missing lat", "?lon=-70&kind=wave", nil, http.StatusBadRequest},
		{"bad kind", "?lat=42&lon=-70&kind=tide", nil, http.StatusBadRequest},
		{"not loaded", "?lat=42&lon=-70&kind=wave", domain.E(domain.KindServiceUnavailable, "test", nil), http.StatusServiceUnavailable},
		{"outside regions", "?lat=10&lon=-70&kind=wind", domain.E(domain.KindRegionUnsupported, "test", nil), http.StatusNotFound},
		{"other failure", "?lat=42&lon=-70&kind=wind", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httpadapter.NewServer(":0", &mockReadiness{}, &mockState{}, &mockForecaster{err: tt.err}, time.UTC, slog.Default())
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/forecast"+tt.query, nil))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
