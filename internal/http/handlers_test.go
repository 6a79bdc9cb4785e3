package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/bicing-station-service/internal/lifecycle"
	"github.com/kjstillabower/bicing-station-service/internal/models"
	"github.com/kjstillabower/bicing-station-service/internal/observability"
	"github.com/kjstillabower/bicing-station-service/internal/service"
	"github.com/kjstillabower/bicing-station-service/internal/traffic"
)

type mockFinder struct {
	all       []models.Station
	nearby    service.NearbyResult
	err       error
	lastQuery service.NearbyQuery
}

func (m *mockFinder) AllStations(ctx context.Context) ([]models.Station, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.all, nil
}

func (m *mockFinder) NearbyStations(ctx context.Context, q service.NearbyQuery) (service.NearbyResult, error) {
	m.lastQuery = q
	if m.err != nil {
		return service.NearbyResult{}, m.err
	}
	res := m.nearby
	res.UserLocation = models.Location{Lat: q.Lat, Lng: q.Lng}
	if q.RadiusMeters != nil {
		res.RadiusMeters = *q.RadiusMeters
	}
	return res, nil
}

type errorEnvelope struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

func newTestHandler(finder StationFinder) *Handler {
	return NewHandler(finder, SearchConfig{DefaultRadiusMeters: 1000, MaxRadiusMeters: 10000}, HealthConfig{}, zap.NewNop())
}

func sampleNearby() service.NearbyResult {
	ranked := []models.RankedStation{{
		Station: models.Station{
			StationID:                   "1",
			Name:                        "GRAN VIA CORTS CATALANES, 760",
			Latitude:                    41.3979779,
			Longitude:                   2.1801069,
			NumBikesAvailableEbike:      2,
			NumBikesAvailableMechanical: 3,
			NumDocksAvailable:           10,
			IsActive:                    true,
		},
		DistanceMeters:    120.5,
		DistanceFormatted: "120m",
	}}
	return service.NearbyResult{Stations: ranked, Count: 1, InServiceArea: true}
}

func TestGetNearbyStations_Success(t *testing.T) {
	finder := &mockFinder{nearby: sampleNearby()}
	h := newTestHandler(finder)

	req := httptest.NewRequest(http.MethodGet, "/api/stations/nearby?lat=41.3851&lng=2.1734&radius=500", nil)
	w := httptest.NewRecorder()
	h.GetNearbyStations(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body struct {
		Stations []struct {
			StationID         string  `json:"station_id"`
			Mechanical        int     `json:"num_bikes_available_mechanical"`
			Ebike             int     `json:"num_bikes_available_ebike"`
			DistanceMeters    float64 `json:"distance_meters"`
			DistanceFormatted string  `json:"distance_formatted"`
			IsActive          bool    `json:"is_active"`
		} `json:"stations"`
		Count        int `json:"count"`
		UserLocation struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"user_location"`
		RadiusMeters  int  `json:"radius_meters"`
		InServiceArea bool `json:"in_service_area"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Count != 1 || len(body.Stations) != 1 {
		t.Fatalf("count = %d, stations = %d; want 1, 1", body.Count, len(body.Stations))
	}
	s := body.Stations[0]
	if s.StationID != "1" || s.Ebike != 2 || s.Mechanical != 3 || !s.IsActive {
		t.Errorf("station = %+v", s)
	}
	if s.DistanceMeters != 120.5 || s.DistanceFormatted != "120m" {
		t.Errorf("distance = %v %q", s.DistanceMeters, s.DistanceFormatted)
	}
	if body.UserLocation.Lat != 41.3851 || body.UserLocation.Lng != 2.1734 {
		t.Errorf("user_location = %+v", body.UserLocation)
	}
	if body.RadiusMeters != 500 {
		t.Errorf("radius_meters = %d, want 500", body.RadiusMeters)
	}
	if !body.InServiceArea {
		t.Error("in_service_area = false, want true")
	}
	if r := finder.lastQuery.RadiusMeters; r == nil || *r != 500 {
		t.Errorf("query radius = %v, want 500", r)
	}
}

func TestGetNearbyStations_RadiusDefaultsAndClamp(t *testing.T) {
	tests := []struct {
		query string
		want  float64
	}{
		{"", 1000},
		{"&radius=abc", 1000},
		{"&radius=99999", 10000},
	}
	for _, tt := range tests {
		finder := &mockFinder{}
		h := newTestHandler(finder)
		req := httptest.NewRequest(http.MethodGet, "/api/stations/nearby?lat=41.38&lng=2.17"+tt.query, nil)
		w := httptest.NewRecorder()
		h.GetNearbyStations(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("%q: status = %d, want 200", tt.query, w.Code)
		}
		r := finder.lastQuery.RadiusMeters
		if r == nil || *r != tt.want {
			t.Errorf("%q: radius = %v, want %v", tt.query, r, tt.want)
		}
	}
}

// TestGetNearbyStations_ExplicitNonPositiveRadius verifies an explicit zero or
// negative radius reaches the service unchanged instead of becoming the default.
func TestGetNearbyStations_ExplicitNonPositiveRadius(t *testing.T) {
	for _, tt := range []struct {
		query string
		want  float64
	}{
		{"&radius=0", 0},
		{"&radius=-5", -5},
	} {
		finder := &mockFinder{nearby: service.NearbyResult{Stations: []models.RankedStation{}}}
		h := newTestHandler(finder)
		req := httptest.NewRequest(http.MethodGet, "/api/stations/nearby?lat=41.38&lng=2.17"+tt.query, nil)
		w := httptest.NewRecorder()
		h.GetNearbyStations(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("%q: status = %d, want 200", tt.query, w.Code)
		}
		if r := finder.lastQuery.RadiusMeters; r == nil || *r != tt.want {
			t.Errorf("%q: query radius = %v, want %v", tt.query, r, tt.want)
		}
		var body nearbyResponse
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if float64(body.RadiusMeters) != tt.want {
			t.Errorf("%q: radius_meters = %d, want %v", tt.query, body.RadiusMeters, tt.want)
		}
	}
}

func TestGetNearbyStations_EmptyResultIsArray(t *testing.T) {
	finder := &mockFinder{nearby: service.NearbyResult{Stations: []models.RankedStation{}}}
	h := newTestHandler(finder)

	req := httptest.NewRequest(http.MethodGet, "/api/stations/nearby?lat=40.4168&lng=-3.7038", nil)
	w := httptest.NewRecorder()
	h.GetNearbyStations(w, req)

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got := string(raw["stations"]); got != "[]" {
		t.Errorf("stations = %s, want []", got)
	}
	if got := string(raw["count"]); got != "0" {
		t.Errorf("count = %s, want 0", got)
	}
}

func TestGetNearbyStations_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantCode string
	}{
		{"no params", "", "MISSING_PARAMETER"},
		{"lat only", "?lat=41.38", "MISSING_PARAMETER"},
		{"lng only", "?lng=2.17", "MISSING_PARAMETER"},
		{"lat not numeric", "?lat=north&lng=2.17", "INVALID_PARAMETER"},
		{"lat out of range", "?lat=123&lng=2.17", "INVALID_PARAMETER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			finder := &mockFinder{}
			h := newTestHandler(finder)
			req := httptest.NewRequest(http.MethodGet, "/api/stations/nearby"+tt.query, nil)
			req = req.WithContext(observability.WithCorrelationID(req.Context(), "req-1"))
			w := httptest.NewRecorder()
			h.GetNearbyStations(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			var body errorEnvelope
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Error.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Error.Code, tt.wantCode)
			}
			if body.Error.RequestID != "req-1" {
				t.Errorf("requestId = %q, want req-1", body.Error.RequestID)
			}
		})
	}
}

func TestGetNearbyStations_UpstreamUnavailable(t *testing.T) {
	finder := &mockFinder{err: fmt.Errorf("%w: connection refused", service.ErrUpstreamUnavailable)}
	h := newTestHandler(finder)

	req := httptest.NewRequest(http.MethodGet, "/api/stations/nearby?lat=41.38&lng=2.17", nil)
	w := httptest.NewRecorder()
	h.GetNearbyStations(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var body errorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error.Code != "UPSTREAM_UNAVAILABLE" {
		t.Errorf("code = %q, want UPSTREAM_UNAVAILABLE", body.Error.Code)
	}
	if body.Error.Message == "" || body.Error.Message == finder.err.Error() {
		t.Errorf("message = %q, should be generic", body.Error.Message)
	}
}

func TestGetAllStations_Success(t *testing.T) {
	finder := &mockFinder{all: []models.Station{
		{StationID: "1", IsActive: true, NumBikesAvailableEbike: 1},
		{StationID: "2", IsActive: false},
		{StationID: "3", IsActive: true, NumBikesAvailableMechanical: 4},
	}}
	h := newTestHandler(finder)

	req := httptest.NewRequest(http.MethodGet, "/api/stations", nil)
	w := httptest.NewRecorder()
	h.GetAllStations(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Stations []models.Station `json:"stations"`
		Count    int              `json:"count"`
		Summary  struct {
			Total     int `json:"total"`
			Active    int `json:"active"`
			Inactive  int `json:"inactive"`
			WithBikes int `json:"with_bikes"`
		} `json:"summary"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Count != 3 || len(body.Stations) != 3 {
		t.Errorf("count = %d, len = %d; want 3", body.Count, len(body.Stations))
	}
	if body.Summary.Total != 3 || body.Summary.Active != 2 || body.Summary.Inactive != 1 || body.Summary.WithBikes != 2 {
		t.Errorf("summary = %+v", body.Summary)
	}
}

func TestGetAllStations_NilListEncodesEmptyArray(t *testing.T) {
	h := newTestHandler(&mockFinder{})

	req := httptest.NewRequest(http.MethodGet, "/api/stations", nil)
	w := httptest.NewRecorder()
	h.GetAllStations(w, req)

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got := string(raw["stations"]); got != "[]" {
		t.Errorf("stations = %s, want []", got)
	}
}

func TestGetAllStations_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"upstream", fmt.Errorf("%w: HTTP 503", service.ErrUpstreamUnavailable), "UPSTREAM_UNAVAILABLE"},
		{"unexpected", errors.New("boom"), "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&mockFinder{err: tt.err})
			req := httptest.NewRequest(http.MethodGet, "/api/stations", nil)
			w := httptest.NewRecorder()
			h.GetAllStations(w, req)

			if w.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", w.Code)
			}
			var body errorEnvelope
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Error.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Error.Code, tt.wantCode)
			}
		})
	}
}

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) healthResponse {
	t.Helper()
	var body healthResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestGetHealth_OK(t *testing.T) {
	traffic.Reset()
	defer traffic.Reset()
	h := newTestHandler(&mockFinder{})

	w := httptest.NewRecorder()
	h.GetHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeHealth(t, w)
	if body.Status != "OK" {
		t.Errorf("status = %q, want OK", body.Status)
	}
	if body.Service != observability.ServiceName {
		t.Errorf("service = %q, want %q", body.Service, observability.ServiceName)
	}
	if body.Checks["feed"] != string(traffic.HealthUnknown) {
		t.Errorf("checks.feed = %q, want unknown", body.Checks["feed"])
	}
	if _, ok := body.Checks["cache"]; ok {
		t.Error("checks.cache present without a cache ping")
	}
	if _, err := time.Parse(time.RFC3339, body.Timestamp); err != nil {
		t.Errorf("timestamp %q not RFC3339: %v", body.Timestamp, err)
	}
}

func TestGetHealth_FeedDegradedStaysOK(t *testing.T) {
	traffic.Reset()
	defer traffic.Reset()
	for i := 0; i < 4; i++ {
		traffic.RecordError()
	}
	core, logs := observer.New(zapcore.InfoLevel)
	h := NewHandler(&mockFinder{}, SearchConfig{}, HealthConfig{DegradedMinSamples: 3}, zap.New(core))

	w := httptest.NewRecorder()
	h.GetHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeHealth(t, w)
	if body.Checks["feed"] != string(traffic.HealthDegraded) {
		t.Errorf("checks.feed = %q, want degraded", body.Checks["feed"])
	}

	for i := 0; i < 20; i++ {
		traffic.RecordSuccess()
	}
	w = httptest.NewRecorder()
	h.GetHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if got := decodeHealth(t, w).Checks["feed"]; got != string(traffic.HealthOK) {
		t.Errorf("checks.feed = %q, want ok", got)
	}
	if logs.FilterMessage("feed health transition").Len() != 1 {
		t.Errorf("transition logs = %d, want 1", logs.FilterMessage("feed health transition").Len())
	}
}

func TestGetHealth_CachePing(t *testing.T) {
	tests := []struct {
		name string
		ping func() error
		want string
	}{
		{"reachable", func() error { return nil }, "healthy"},
		{"unreachable", func() error { return errors.New("dial tcp: refused") }, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&mockFinder{}, SearchConfig{}, HealthConfig{CachePing: tt.ping}, nil)
			w := httptest.NewRecorder()
			h.GetHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if got := decodeHealth(t, w).Checks["cache"]; got != tt.want {
				t.Errorf("checks.cache = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetHealth_ShuttingDown(t *testing.T) {
	lifecycle.MarkShuttingDown()
	defer lifecycle.Reset()
	h := newTestHandler(&mockFinder{})

	w := httptest.NewRecorder()
	h.GetHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if got := decodeHealth(t, w).Status; got != "SHUTTING_DOWN" {
		t.Errorf("status = %q, want SHUTTING_DOWN", got)
	}
}
