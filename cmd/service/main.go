package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/bicing-station-service/internal/cache"
	"github.com/kjstillabower/bicing-station-service/internal/circuitbreaker"
	"github.com/kjstillabower/bicing-station-service/internal/client"
	"github.com/kjstillabower/bicing-station-service/internal/config"
	httphandler "github.com/kjstillabower/bicing-station-service/internal/http"
	"github.com/kjstillabower/bicing-station-service/internal/lifecycle"
	"github.com/kjstillabower/bicing-station-service/internal/observability"
	"github.com/kjstillabower/bicing-station-service/internal/service"
	"github.com/kjstillabower/bicing-station-service/internal/stations"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	shutdownTracing, err := observability.InitTracing(context.Background(), observability.TracingConfig{
		Endpoint:    cfg.TracingEndpoint,
		Protocol:    cfg.TracingProtocol,
		Insecure:    cfg.TracingInsecure,
		SampleRatio: cfg.TracingSampleRatio,
		Environment: cfg.Environment,
	})
	if err != nil {
		logger.Fatal("tracing", zap.Error(err))
	}
	stopProfiling := observability.InitProfiling(observability.ProfilingConfig{
		ServerAddress:     cfg.ProfilingServerAddress,
		BasicAuthUser:     cfg.ProfilingBasicAuthUser,
		BasicAuthPassword: cfg.ProfilingBasicAuthPassword,
	}, logger)

	gbfs, err := client.NewGBFSClient(client.Config{
		StationInformationURL: cfg.StationInformationURL,
		StationStatusURL:      cfg.StationStatusURL,
		Timeout:               cfg.FeedTimeout,
		RetryAttempts:         cfg.RetryAttempts,
		RetryBaseDelay:        cfg.RetryBaseDelay,
		RetryMaxDelay:         cfg.RetryMaxDelay,
	})
	if err != nil {
		logger.Fatal("gbfs client", zap.Error(err))
	}

	if cfg.CircuitBreakerEnabled {
		for _, feed := range []client.Feed{client.FeedStationInformation, client.FeedStationStatus} {
			name := "gbfs_" + string(feed)
			cb := circuitbreaker.New(circuitbreaker.Config{
				Name:             name,
				FailureThreshold: cfg.CircuitBreakerFailureThreshold,
				SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
				Timeout:          cfg.CircuitBreakerTimeout,
				OnStateChange: func(name string, from, to circuitbreaker.State) {
					observability.RecordCircuitBreakerTransition(name, from.String(), to.String(), int(to))
					logger.Warn("circuit breaker transition",
						zap.String("breaker", name),
						zap.String("from", from.String()),
						zap.String("to", to.String()))
				},
				IsFailure: func(err error) bool { return !errors.Is(err, context.Canceled) },
			})
			gbfs.SetCircuitBreaker(feed, cb)
			observability.CircuitBreakerState.WithLabelValues(name).Set(0)
		}
		logger.Info("circuit breakers enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	var feed client.FeedClient = gbfs
	var cachePinger cache.Pinger
	var memcacheCloser *cache.MemcachedCache
	var warmer *cache.Warmer
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		cachePinger = mc
		cached := cache.NewCachedFeed(gbfs, mc, cfg.MetadataTTL, cfg.StatusTTL)
		feed = cached
		warmer = cache.NewWarmer(cached, logger)
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case "in_memory":
		mem, err := cache.NewInMemoryCache(cfg.LRUSize)
		if err != nil {
			logger.Fatal("in-memory cache", zap.Error(err))
		}
		cached := cache.NewCachedFeed(gbfs, mem, cfg.MetadataTTL, cfg.StatusTTL)
		feed = cached
		warmer = cache.NewWarmer(cached, logger)
		logger.Info("cache backend: in_memory", zap.Int("lru_size", cfg.LRUSize))
	default:
		logger.Info("cache backend: none")
	}

	var warmDone <-chan struct{}
	if warmer != nil && cfg.WarmCache {
		warmCtx, warmCancel := context.WithTimeout(ctx, 2*cfg.FeedTimeout)
		if err := warmer.Warm(warmCtx); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
		if cfg.WarmInterval > 0 {
			warmDone = startPeriodicWarming(ctx, warmer, cfg.WarmInterval, logger)
		}
	}

	opts := service.Options{
		Rank: stations.RankOptions{
			RadiusMeters: float64(cfg.DefaultRadiusMeters),
			Limit:        cfg.SearchLimit,
		},
		ServiceArea: cfg.ServiceArea,
	}
	if cfg.CoalesceEnabled {
		opts.CoalesceTimeout = cfg.CoalesceTimeout
	}
	stationService := service.NewStationService(feed, opts)

	health := httphandler.HealthConfig{
		DegradedWindow:     cfg.DegradedWindow,
		DegradedErrorRatio: cfg.DegradedErrorRatio,
		DegradedMinSamples: cfg.DegradedMinSamples,
	}
	if cachePinger != nil {
		health.CachePing = cachePinger.Ping
	}
	handler := httphandler.NewHandler(stationService, httphandler.SearchConfig{
		DefaultRadiusMeters: cfg.DefaultRadiusMeters,
		MaxRadiusMeters:     cfg.MaxRadiusMeters,
	}, health, logger)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	observability.RegisterTrafficGauges(cfg.DegradedWindow)

	router := httphandler.NewRouter(handler, logger, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		AllowedOrigins: cfg.AllowedOrigins,
		Limiter:        limiter,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", ":"+cfg.ServerPort),
			zap.String("env", cfg.Environment),
			zap.String("cache_backend", cfg.CacheBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()
	lifecycle.MarkServing()

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.MarkShuttingDown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	if warmDone != nil {
		select {
		case <-warmDone:
		case <-shutdownCtx.Done():
			logger.Warn("periodic cache warming did not stop before shutdown timeout")
		}
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := observability.FlushTelemetry(flushCtx, logger, shutdownTracing, stopProfiling); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

type periodicWarmer interface {
	WarmPeriodic(ctx context.Context, interval time.Duration) error
}

// startPeriodicWarming runs w until ctx is cancelled. The returned channel is
// closed once the warming loop has exited.
func startPeriodicWarming(ctx context.Context, w periodicWarmer, interval time.Duration, logger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.WarmPeriodic(ctx, interval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("periodic cache warming stopped", zap.Error(err))
		}
	}()
	return done
}
