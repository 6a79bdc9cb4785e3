package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/bicing-station-service/internal/geo"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	Environment string
	ServerPort  string

	StationInformationURL string
	StationStatusURL      string
	FeedTimeout           time.Duration

	DefaultRadiusMeters int
	MaxRadiusMeters     int
	SearchLimit         int
	ServiceArea         geo.BoundingBox

	RequestTimeout time.Duration

	CacheBackend          string // "none", "in_memory" or "memcached"
	MetadataTTL           time.Duration
	StatusTTL             time.Duration
	LRUSize               int
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	WarmCache             bool
	WarmInterval          time.Duration

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	DegradedWindow     time.Duration
	DegradedErrorRatio float64
	DegradedMinSamples int

	AllowedOrigins []string

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	TracingEndpoint    string
	TracingProtocol    string
	TracingInsecure    bool
	TracingSampleRatio float64

	ProfilingServerAddress     string
	ProfilingBasicAuthUser     string
	ProfilingBasicAuthPassword string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Feed struct {
		StationInformationURL string `yaml:"station_information_url"`
		StationStatusURL      string `yaml:"station_status_url"`
		Timeout               string `yaml:"timeout"`
	} `yaml:"feed"`

	Search struct {
		DefaultRadiusMeters int              `yaml:"default_radius_meters"`
		MaxRadiusMeters     int              `yaml:"max_radius_meters"`
		Limit               int              `yaml:"limit"`
		ServiceArea         *geo.BoundingBox `yaml:"service_area"`
	} `yaml:"search"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend     string `yaml:"backend"`
		MetadataTTL string `yaml:"metadata_ttl"`
		StatusTTL   string `yaml:"status_ttl"`
		LRUSize     int    `yaml:"lru_size"`
		Memcached   struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Warm         bool   `yaml:"warm"`
		WarmInterval string `yaml:"warm_interval"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker   struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
		Coalesce struct {
			Enabled bool   `yaml:"enabled"`
			Timeout string `yaml:"timeout"`
		} `yaml:"coalesce"`
		DegradedWindow     string  `yaml:"degraded_window"`
		DegradedErrorRatio float64 `yaml:"degraded_error_ratio"`
		DegradedMinSamples int     `yaml:"degraded_min_samples"`
	} `yaml:"reliability"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Telemetry struct {
		Tracing struct {
			Endpoint    string   `yaml:"endpoint"`
			Protocol    string   `yaml:"protocol"`
			Insecure    bool     `yaml:"insecure"`
			SampleRatio *float64 `yaml:"sample_ratio"`
		} `yaml:"tracing"`
		Profiling struct {
			ServerAddress     string `yaml:"server_address"`
			BasicAuthUser     string `yaml:"basic_auth_user"`
			BasicAuthPassword string `yaml:"basic_auth_password"`
		} `yaml:"profiling"`
	} `yaml:"telemetry"`
}

// Load reads .env (if present), then config/{ENV_NAME}.yaml (default dev)
// under the working directory. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom is Load rooted at dir instead of the working directory.
func LoadFrom(dir string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{Environment: env}

	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "5000")

	cfg.StationInformationURL = firstNonEmpty(os.Getenv("GBFS_STATION_INFORMATION_URL"), fc.Feed.StationInformationURL,
		"https://barcelona-sp.publicbikesystem.net/customer/ube/gbfs/v1/en/station_information")
	cfg.StationStatusURL = firstNonEmpty(os.Getenv("GBFS_STATION_STATUS_URL"), fc.Feed.StationStatusURL,
		"https://barcelona-sp.publicbikesystem.net/customer/ube/gbfs/v1/en/station_status")
	cfg.FeedTimeout = parseDurationOrZero(fc.Feed.Timeout, 10*time.Second)

	cfg.DefaultRadiusMeters = fc.Search.DefaultRadiusMeters
	if cfg.DefaultRadiusMeters <= 0 {
		cfg.DefaultRadiusMeters = 1000
	}
	cfg.MaxRadiusMeters = fc.Search.MaxRadiusMeters
	cfg.SearchLimit = fc.Search.Limit
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 10
	}
	cfg.ServiceArea = geo.BarcelonaServiceArea
	if fc.Search.ServiceArea != nil {
		cfg.ServiceArea = *fc.Search.ServiceArea
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)

	cfg.CacheBackend = strings.ToLower(firstNonEmpty(
		strings.TrimSpace(os.Getenv("CACHE_BACKEND")),
		strings.TrimSpace(fc.Cache.Backend),
		"none",
	))
	cfg.MetadataTTL = parseDuration(fc.Cache.MetadataTTL, 5*time.Minute)
	cfg.StatusTTL = parseDuration(fc.Cache.StatusTTL, 30*time.Second)
	cfg.LRUSize = fc.Cache.LRUSize
	if cfg.LRUSize <= 0 {
		cfg.LRUSize = 16
	}
	cfg.MemcachedAddrs = firstNonEmpty(
		strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")),
		strings.TrimSpace(fc.Cache.Memcached.Addrs),
		"localhost:11211",
	)
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.WarmCache = fc.Cache.Warm
	cfg.WarmInterval = parseDurationOrZero(fc.Cache.WarmInterval, 0)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled == nil || *cb.Enabled
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.CoalesceEnabled = fc.Reliability.Coalesce.Enabled
	cfg.CoalesceTimeout = parseDuration(fc.Reliability.Coalesce.Timeout, 12*time.Second)

	cfg.DegradedWindow = parseDuration(fc.Reliability.DegradedWindow, time.Minute)
	cfg.DegradedErrorRatio = fc.Reliability.DegradedErrorRatio
	if cfg.DegradedErrorRatio <= 0 {
		cfg.DegradedErrorRatio = 0.5
	}
	cfg.DegradedMinSamples = fc.Reliability.DegradedMinSamples
	if cfg.DegradedMinSamples <= 0 {
		cfg.DegradedMinSamples = 5
	}

	cfg.AllowedOrigins = fc.CORS.AllowedOrigins
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	tr := fc.Telemetry.Tracing
	cfg.TracingEndpoint = firstNonEmpty(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), tr.Endpoint)
	cfg.TracingProtocol = strings.ToLower(firstNonEmpty(os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL"), tr.Protocol, "grpc"))
	cfg.TracingInsecure = tr.Insecure
	if v, err := strconv.ParseBool(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); err == nil {
		cfg.TracingInsecure = v
	}
	cfg.TracingSampleRatio = 1
	if tr.SampleRatio != nil {
		cfg.TracingSampleRatio = *tr.SampleRatio
	}

	pr := fc.Telemetry.Profiling
	cfg.ProfilingServerAddress = firstNonEmpty(os.Getenv("PYROSCOPE_SERVER_ADDRESS"), pr.ServerAddress)
	cfg.ProfilingBasicAuthUser = firstNonEmpty(os.Getenv("PYROSCOPE_BASIC_AUTH_USER"), pr.BasicAuthUser)
	cfg.ProfilingBasicAuthPassword = firstNonEmpty(os.Getenv("PYROSCOPE_BASIC_AUTH_PASSWORD"), pr.BasicAuthPassword)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate rejects unusable values and raises RequestTimeout above
// FeedTimeout so a feed call can finish before the request deadline.
func validate(cfg *Config) error {
	if cfg.FeedTimeout <= 0 {
		return fmt.Errorf("feed.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.FeedTimeout {
		cfg.RequestTimeout = cfg.FeedTimeout + time.Second
	}
	if cfg.MaxRadiusMeters < 0 {
		return fmt.Errorf("search.max_radius_meters must not be negative")
	}
	if cfg.MaxRadiusMeters > 0 && cfg.DefaultRadiusMeters > cfg.MaxRadiusMeters {
		return fmt.Errorf("search.default_radius_meters (%d) exceeds search.max_radius_meters (%d)",
			cfg.DefaultRadiusMeters, cfg.MaxRadiusMeters)
	}
	a := cfg.ServiceArea
	if a.MinLat > a.MaxLat || a.MinLng > a.MaxLng || !geo.IsValidCoordinate(a.MinLat, a.MinLng) || !geo.IsValidCoordinate(a.MaxLat, a.MaxLng) {
		return fmt.Errorf("search.service_area is not a valid bounding box")
	}
	switch cfg.CacheBackend {
	case "none", "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be none, in_memory or memcached, got %q", cfg.CacheBackend)
	}
	if cfg.CacheBackend != "none" && cfg.WarmCache && cfg.WarmInterval < 0 {
		return fmt.Errorf("cache.warm_interval must not be negative")
	}
	switch cfg.TracingProtocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("telemetry.tracing.protocol must be grpc or http, got %q", cfg.TracingProtocol)
	}
	if cfg.TracingSampleRatio < 0 || cfg.TracingSampleRatio > 1 {
		return fmt.Errorf("telemetry.tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}
