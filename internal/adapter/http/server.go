package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
	"github.com/couchcryptid/gfs-forecast-service/internal/modelrun"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// ActiveState exposes the model run currently being served.
type ActiveState interface {
	Active() *modelrun.State
}

// Forecaster answers single-location forecast requests.
type Forecaster interface {
	StationForecast(ctx context.Context, stationID string, lat, lon float64, kind domain.Kind) (domain.Forecast, error)
}

// Server exposes health, readiness, status and metrics HTTP endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /status,
// /forecast and /metrics routes. Dates on /status are rendered in loc.
func NewServer(addr string, ready ReadinessChecker, states ActiveState, forecasts Forecaster, loc *time.Location, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.HandleFunc("GET /status", handleStatus(states, loc))
	mux.HandleFunc("GET /forecast", handleForecast(forecasts))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func handleStatus(states ActiveState, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		state := states.Active()
		if state == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "loading"})
			return
		}
		writeJSON(w, http.StatusOK, state.Summary(loc))
	}
}

// handleForecast serves ?lat=&lon=&kind=[&station=] for operators checking
// what the active run holds for a point.
func handleForecast(forecasts Forecaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
		lon, lonErr := strconv.ParseFloat(q.Get("lon"), 64)
		if latErr != nil || lonErr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "lat and lon are required numbers"})
			return
		}
		kind, err := domain.ParseKind(q.Get("kind"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		fc, err := forecasts.StationForecast(r.Context(), q.Get("station"), lat, lon, kind)
		if err != nil {
			writeJSON(w, statusFor(err), map[string]string{"error": err.Error(), "kind": string(domain.KindOf(err))})
			return
		}
		writeJSON(w, http.StatusOK, fc)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrRegionUnsupported):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort status response
}
