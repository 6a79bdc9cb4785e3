package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/bicing-station-service/internal/observability"
)

// RouterConfig carries the cross-cutting settings applied by NewRouter.
type RouterConfig struct {
	RequestTimeout time.Duration
	AllowedOrigins []string
	// Limiter guards the station routes; nil disables rate limiting.
	Limiter *rate.Limiter
}

// NewRouter wires the API routes and middleware. The returned handler is
// instrumented with otelhttp so each request gets a server span.
func NewRouter(h *Handler, logger *zap.Logger, cfg RouterConfig) http.Handler {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.Use(CORSMiddleware(cfg.AllowedOrigins))

	router.HandleFunc("/api/health", h.GetHealth).Methods(http.MethodGet, http.MethodOptions)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter))
	if cfg.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	api.HandleFunc("/stations/nearby", h.GetNearbyStations).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/stations", h.GetAllStations).Methods(http.MethodGet, http.MethodOptions)

	return otelhttp.NewHandler(router, "http.server",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
