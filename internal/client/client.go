package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kjstillabower/bicing-station-service/internal/circuitbreaker"
	"github.com/kjstillabower/bicing-station-service/internal/models"
	"github.com/kjstillabower/bicing-station-service/internal/observability"
)

// FeedClient retrieves the two GBFS datasets. Both calls are bounded by the
// client timeout and report failure as an error value.
type FeedClient interface {
	FetchStationMetadata(ctx context.Context) ([]models.StationInfo, error)
	FetchStationStatus(ctx context.Context) ([]models.StationStatus, error)
}

// Feed names a GBFS dataset; used as a metric label and breaker name.
type Feed string

const (
	FeedStationInformation Feed = "station_information"
	FeedStationStatus      Feed = "station_status"
)

var (
	// ErrUpstreamFailure wraps transport errors, timeouts and non-2xx responses.
	ErrUpstreamFailure = errors.New("upstream failure")
	// ErrRateLimited is returned when the feed answers 429.
	ErrRateLimited = errors.New("rate limited")
	// ErrMalformedPayload means the body is not JSON or lacks data.stations.
	ErrMalformedPayload = errors.New("malformed feed payload")
	// ErrCircuitOpen is returned without a request while the feed's breaker is open.
	ErrCircuitOpen = circuitbreaker.ErrOpen

	errMissingStations = errors.New("missing data.stations")
)

const (
	DefaultStationInformationURL = "https://barcelona-sp.publicbikesystem.net/customer/ube/gbfs/v1/en/station_information"
	DefaultStationStatusURL      = "https://barcelona-sp.publicbikesystem.net/customer/ube/gbfs/v1/en/station_status"
	DefaultTimeout               = 10 * time.Second
)

// Config configures a GBFSClient. Zero values take the Barcelona feed URLs,
// a 10s timeout and a single attempt per fetch.
type Config struct {
	StationInformationURL string
	StationStatusURL      string
	Timeout               time.Duration
	RetryAttempts         int
	RetryBaseDelay        time.Duration
	RetryMaxDelay         time.Duration
	// Transport overrides the base round tripper; it is still wrapped for tracing.
	Transport http.RoundTripper
}

// GBFSClient fetches station_information and station_status over HTTP.
type GBFSClient struct {
	urls           map[Feed]string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breakers       map[Feed]*circuitbreaker.CircuitBreaker
	tracer         trace.Tracer
}

// NewGBFSClient validates cfg and returns a client.
func NewGBFSClient(cfg Config) (*GBFSClient, error) {
	if cfg.StationInformationURL == "" {
		cfg.StationInformationURL = DefaultStationInformationURL
	}
	if cfg.StationStatusURL == "" {
		cfg.StationStatusURL = DefaultStationStatusURL
	}
	for _, raw := range []string{cfg.StationInformationURL, cfg.StationStatusURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid feed URL %q", raw)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 100 * time.Millisecond
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	return &GBFSClient{
		urls: map[Feed]string{
			FeedStationInformation: cfg.StationInformationURL,
			FeedStationStatus:      cfg.StationStatusURL,
		},
		timeout:        cfg.Timeout,
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
		retryMaxDelay:  cfg.RetryMaxDelay,
		client: &http.Client{
			Transport: otelhttp.NewTransport(base),
			Timeout:   cfg.Timeout,
		},
		breakers: make(map[Feed]*circuitbreaker.CircuitBreaker),
		tracer:   otel.Tracer("gbfs-client"),
	}, nil
}

// SetCircuitBreaker guards one feed with cb. Call before serving traffic.
func (c *GBFSClient) SetCircuitBreaker(feed Feed, cb *circuitbreaker.CircuitBreaker) {
	c.breakers[feed] = cb
}

// FetchStationMetadata returns every station in station_information.
func (c *GBFSClient) FetchStationMetadata(ctx context.Context) ([]models.StationInfo, error) {
	body, err := c.fetch(ctx, FeedStationInformation)
	if err != nil {
		return nil, err
	}
	infos, skipped, err := decodeStations(body, decodeInfo)
	if err != nil {
		return nil, c.malformed(ctx, FeedStationInformation, err)
	}
	c.recordSkipped(ctx, FeedStationInformation, skipped)
	return infos, nil
}

// FetchStationStatus returns every record in station_status.
func (c *GBFSClient) FetchStationStatus(ctx context.Context) ([]models.StationStatus, error) {
	body, err := c.fetch(ctx, FeedStationStatus)
	if err != nil {
		return nil, err
	}
	statuses, skipped, err := decodeStations(body, decodeStatus)
	if err != nil {
		return nil, c.malformed(ctx, FeedStationStatus, err)
	}
	c.recordSkipped(ctx, FeedStationStatus, skipped)
	return statuses, nil
}

func (c *GBFSClient) malformed(ctx context.Context, feed Feed, err error) error {
	wrapped := fmt.Errorf("%w: %s: %v", ErrMalformedPayload, feed, err)
	observability.FeedErrorsTotal.WithLabelValues(string(feed), string(ErrorCategoryMalformed)).Inc()
	trace.SpanFromContext(ctx).RecordError(wrapped)
	return wrapped
}

func (c *GBFSClient) recordSkipped(ctx context.Context, feed Feed, skipped int) {
	if skipped == 0 {
		return
	}
	observability.FeedRecordsSkippedTotal.WithLabelValues(string(feed)).Add(float64(skipped))
	observability.LoggerFromContext(ctx).Warn("skipped malformed station records",
		zap.String("feed", string(feed)), zap.Int("skipped", skipped))
}

// fetch returns the raw body of feed, going through the feed's breaker when set.
func (c *GBFSClient) fetch(ctx context.Context, feed Feed) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "gbfs.fetch",
		trace.WithAttributes(
			attribute.String("gbfs.feed", string(feed)),
			attribute.String("http.url", c.urls[feed]),
		),
	)
	defer span.End()

	var body []byte
	run := func(ctx context.Context) error {
		var err error
		body, err = c.fetchWithRetry(ctx, feed)
		return err
	}

	var err error
	if cb := c.breakers[feed]; cb != nil {
		err = cb.Call(ctx, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		observability.FeedErrorsTotal.WithLabelValues(string(feed), string(CategorizeError(err))).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("fetch %s: %w", feed, err)
	}
	span.SetAttributes(attribute.Int("response.size_bytes", len(body)))
	return body, nil
}

func (c *GBFSClient) fetchWithRetry(ctx context.Context, feed Feed) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.FeedRetriesTotal.WithLabelValues(string(feed)).Inc()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.calculateBackoff(attempt)):
			}
		}

		body, err := c.callFeed(ctx, feed)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	if c.retryAttempts > 1 {
		return nil, fmt.Errorf("exhausted retries: %w", lastErr)
	}
	return nil, lastErr
}

func (c *GBFSClient) callFeed(ctx context.Context, feed Feed) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.urls[feed], nil)
	if err != nil {
		observability.FeedCallsTotal.WithLabelValues(string(feed), "error").Inc()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", observability.ServiceName+"/"+observability.Version)
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.FeedCallsTotal.WithLabelValues(string(feed), "error").Inc()
		observability.FeedDurationSeconds.WithLabelValues(string(feed), "error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: request timeout: %w", ErrUpstreamFailure, err)
		}
		return nil, fmt.Errorf("%w: http request failed: %w", ErrUpstreamFailure, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.FeedCallsTotal.WithLabelValues(string(feed), status).Inc()
	observability.FeedDurationSeconds.WithLabelValues(string(feed), status).Observe(time.Since(start).Seconds())

	if err := handleErrorResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %w", ErrUpstreamFailure, err)
	}
	return body, nil
}

func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure)
}

func (c *GBFSClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func handleErrorResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == http.StatusTooManyRequests {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
