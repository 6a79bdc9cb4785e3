package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/bicing-station-service/internal/observability"
)

// Warmer fills the cache by fetching both feed snapshots through a CachedFeed.
type Warmer struct {
	feed   FeedSource
	logger *zap.Logger
}

// NewWarmer creates a Warmer. feed should be the CachedFeed so fetched
// snapshots land in the cache.
func NewWarmer(feed FeedSource, logger *zap.Logger) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{feed: feed, logger: logger}
}

// Warm fetches metadata and status concurrently. Returns the joined errors of
// any dataset that failed.
func (w *Warmer) Warm(ctx context.Context) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache")

	var (
		wg          sync.WaitGroup
		metaErr     error
		statusErr   error
		stationsLen int
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		infos, err := w.feed.FetchStationMetadata(ctx)
		if err != nil {
			metaErr = fmt.Errorf("warm %s: %w", DatasetMetadata, err)
			return
		}
		stationsLen = len(infos)
	}()
	go func() {
		defer wg.Done()
		if _, err := w.feed.FetchStationStatus(ctx); err != nil {
			statusErr = fmt.Errorf("warm %s: %w", DatasetStatus, err)
		}
	}()
	wg.Wait()

	err := errors.Join(metaErr, statusErr)
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("stations", stationsLen),
		zap.Bool("failed", err != nil),
		zap.Float64("duration_seconds", duration))
	if err != nil {
		observability.CacheWarmingErrorsTotal.Inc()
		return err
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval until ctx is done.
func (w *Warmer) WarmPeriodic(ctx context.Context, interval time.Duration) error {
	if err := w.Warm(ctx); err != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx); err != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
