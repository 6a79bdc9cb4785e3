package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/bicing-station-service/internal/lifecycle"
	"github.com/kjstillabower/bicing-station-service/internal/models"
	"github.com/kjstillabower/bicing-station-service/internal/observability"
	"github.com/kjstillabower/bicing-station-service/internal/service"
	"github.com/kjstillabower/bicing-station-service/internal/stations"
	"github.com/kjstillabower/bicing-station-service/internal/traffic"
	"github.com/kjstillabower/bicing-station-service/internal/validation"
)

// StationFinder is the service surface the handlers need.
type StationFinder interface {
	AllStations(ctx context.Context) ([]models.Station, error)
	NearbyStations(ctx context.Context, q service.NearbyQuery) (service.NearbyResult, error)
}

// SearchConfig bounds the radius query parameter.
type SearchConfig struct {
	DefaultRadiusMeters int
	// MaxRadiusMeters clamps larger requests; 0 disables the clamp.
	MaxRadiusMeters int
}

// HealthConfig holds thresholds for the feed check of the health handler.
type HealthConfig struct {
	DegradedWindow     time.Duration
	DegradedErrorRatio float64
	DegradedMinSamples int
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	stations      StationFinder
	search        SearchConfig
	health        HealthConfig
	logger        *zap.Logger
	feedCheckMu   sync.Mutex
	feedCheckPrev traffic.Health
}

// NewHandler returns a new Handler.
func NewHandler(finder StationFinder, search SearchConfig, health HealthConfig, logger *zap.Logger) *Handler {
	if search.DefaultRadiusMeters <= 0 {
		search.DefaultRadiusMeters = stations.DefaultRadiusMeters
	}
	if health.DegradedWindow <= 0 {
		health.DegradedWindow = time.Minute
	}
	if health.DegradedErrorRatio <= 0 {
		health.DegradedErrorRatio = 0.5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{stations: finder, search: search, health: health, logger: logger}
}

type nearbyResponse struct {
	Stations      []models.RankedStation `json:"stations"`
	Count         int                    `json:"count"`
	UserLocation  models.Location        `json:"user_location"`
	RadiusMeters  int                    `json:"radius_meters"`
	InServiceArea bool                   `json:"in_service_area"`
}

// GetNearbyStations handles GET /api/stations/nearby?lat=&lng=&radius=.
func (h *Handler) GetNearbyStations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, lng, err := validation.ParseCoordinates(q.Get("lat"), q.Get("lng"))
	if err != nil {
		writeValidationError(w, r, err)
		return
	}
	radius := validation.ParseRadius(q.Get("radius"), h.search.DefaultRadiusMeters, h.search.MaxRadiusMeters)

	radiusMeters := float64(radius)
	result, err := h.stations.NearbyStations(r.Context(), service.NearbyQuery{
		Lat:          lat,
		Lng:          lng,
		RadiusMeters: &radiusMeters,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nearbyResponse{
		Stations:      result.Stations,
		Count:         result.Count,
		UserLocation:  result.UserLocation,
		RadiusMeters:  radius,
		InServiceArea: result.InServiceArea,
	})
}

type allStationsResponse struct {
	Stations []models.Station `json:"stations"`
	Count    int              `json:"count"`
	Summary  stations.Summary `json:"summary"`
}

// GetAllStations handles GET /api/stations. Returns the full merged list, unfiltered.
func (h *Handler) GetAllStations(w http.ResponseWriter, r *http.Request) {
	list, err := h.stations.AllStations(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Station{}
	}
	writeJSON(w, http.StatusOK, allStationsResponse{
		Stations: list,
		Count:    len(list),
		Summary:  stations.Summarize(list),
	})
}

type healthResponse struct {
	Status    string            `json:"status"`
	Message   string            `json:"message,omitempty"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// GetHealth handles GET /api/health. The service reports OK while it can
// accept traffic; the checks map describes the feed and cache without
// changing the status code.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Service:   observability.ServiceName,
		Version:   observability.Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if lifecycle.IsShuttingDown() {
		resp.Status = "SHUTTING_DOWN"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	feed := traffic.Assess(h.health.DegradedWindow, h.health.DegradedErrorRatio, h.health.DegradedMinSamples)
	h.logFeedTransition(feed)

	resp.Status = "OK"
	resp.Message = "API is running"
	resp.Checks = map[string]string{"feed": string(feed)}
	if h.health.CachePing != nil {
		if err := h.health.CachePing(); err != nil {
			resp.Checks["cache"] = "unhealthy"
		} else {
			resp.Checks["cache"] = "healthy"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) logFeedTransition(current traffic.Health) {
	h.feedCheckMu.Lock()
	defer h.feedCheckMu.Unlock()
	prev := h.feedCheckPrev
	if prev != "" && prev != current {
		h.logger.Info("feed health transition",
			zap.String("previous_status", string(prev)),
			zap.String("current_status", string(current)))
	}
	h.feedCheckPrev = current
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{
		"error": {
			Code:      code,
			Message:   message,
			RequestID: observability.CorrelationID(r.Context()),
		},
	})
}

func writeValidationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, validation.ErrMissingParameter):
		writeError(w, r, http.StatusBadRequest, "MISSING_PARAMETER", "lat and lng parameters are required")
	default:
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
	}
}

// writeServiceError maps service failures to 500 responses. The underlying
// error is logged, never echoed to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.LoggerFromContext(r.Context())
	if errors.Is(err, service.ErrUpstreamUnavailable) {
		logger.Warn("upstream unavailable", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "UPSTREAM_UNAVAILABLE", "Could not fetch station data")
		return
	}
	logger.Error("internal error", zap.Error(err))
	writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
}
