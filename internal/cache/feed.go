package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/bicing-station-service/internal/models"
	"github.com/kjstillabower/bicing-station-service/internal/observability"
)

// FeedSource is the feed client contract, declared here so the cache does not
// depend on the client package.
type FeedSource interface {
	FetchStationMetadata(ctx context.Context) ([]models.StationInfo, error)
	FetchStationStatus(ctx context.Context) ([]models.StationStatus, error)
}

const (
	DefaultMetadataTTL = 5 * time.Minute
	DefaultStatusTTL   = 30 * time.Second
)

// CachedFeed wraps a FeedSource with cache-aside reads. Backend errors are
// logged and counted, then the call falls through to the upstream feed.
type CachedFeed struct {
	source      FeedSource
	cache       Cache
	metadataTTL time.Duration
	statusTTL   time.Duration
}

// NewCachedFeed returns a CachedFeed. Non-positive TTLs use the defaults.
func NewCachedFeed(source FeedSource, c Cache, metadataTTL, statusTTL time.Duration) *CachedFeed {
	if metadataTTL <= 0 {
		metadataTTL = DefaultMetadataTTL
	}
	if statusTTL <= 0 {
		statusTTL = DefaultStatusTTL
	}
	return &CachedFeed{source: source, cache: c, metadataTTL: metadataTTL, statusTTL: statusTTL}
}

func (f *CachedFeed) FetchStationMetadata(ctx context.Context) ([]models.StationInfo, error) {
	return readThrough(ctx, DatasetMetadata, f.metadataTTL,
		f.cache.GetMetadata, f.cache.SetMetadata, f.source.FetchStationMetadata)
}

func (f *CachedFeed) FetchStationStatus(ctx context.Context) ([]models.StationStatus, error) {
	return readThrough(ctx, DatasetStatus, f.statusTTL,
		f.cache.GetStatus, f.cache.SetStatus, f.source.FetchStationStatus)
}

func readThrough[T any](
	ctx context.Context,
	dataset Dataset,
	ttl time.Duration,
	get func(context.Context) ([]T, bool, error),
	set func(context.Context, []T, time.Duration) error,
	fetch func(context.Context) ([]T, error),
) ([]T, error) {
	logger := observability.LoggerFromContext(ctx)

	cached, ok, err := get(ctx)
	switch {
	case err != nil:
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		logger.Warn("cache get failed", zap.String("dataset", string(dataset)), zap.Error(err))
	case ok:
		observability.CacheLookupsTotal.WithLabelValues(string(dataset), "hit").Inc()
		return cached, nil
	}
	observability.CacheLookupsTotal.WithLabelValues(string(dataset), "miss").Inc()

	fresh, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := set(ctx, fresh, ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		logger.Warn("cache set failed", zap.String("dataset", string(dataset)), zap.Error(err))
	}
	return fresh, nil
}
