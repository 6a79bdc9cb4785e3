package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kjstillabower/bicing-station-service/internal/client"
	"github.com/kjstillabower/bicing-station-service/internal/geo"
	"github.com/kjstillabower/bicing-station-service/internal/models"
	"github.com/kjstillabower/bicing-station-service/internal/observability"
	"github.com/kjstillabower/bicing-station-service/internal/stations"
	"github.com/kjstillabower/bicing-station-service/internal/traffic"
)

// ErrUpstreamUnavailable means station metadata could not be fetched, so no
// station list can be built.
var ErrUpstreamUnavailable = errors.New("station data unavailable")

// errNoStations marks a metadata feed that answered with an empty list.
var errNoStations = errors.New("station_information has no stations")

const snapshotKey = "stations"

// Options configures a StationService. Zero values fall back to the defaults
// of the stations package and the Barcelona service area.
type Options struct {
	Rank        stations.RankOptions
	ServiceArea geo.BoundingBox
	// CoalesceTimeout enables sharing one feed fetch between concurrent
	// queries; it bounds how long a caller waits. 0 disables coalescing.
	CoalesceTimeout time.Duration
}

// StationService builds merged station lists from the GBFS feeds and answers
// nearby searches over them.
type StationService struct {
	feed      client.FeedClient
	rank      stations.RankOptions
	area      geo.BoundingBox
	coalescer *requestCoalescer[[]models.Station]
	tracer    trace.Tracer
}

// NearbyQuery is a validated nearby search. A nil RadiusMeters uses the
// default; zero or negative radii match no station.
type NearbyQuery struct {
	Lat          float64
	Lng          float64
	RadiusMeters *float64
}

// NearbyResult is the ranked answer to a NearbyQuery.
type NearbyResult struct {
	Stations      []models.RankedStation
	Count         int
	UserLocation  models.Location
	RadiusMeters  float64
	InServiceArea bool
}

// NewStationService creates a StationService reading from feed.
func NewStationService(feed client.FeedClient, opts Options) *StationService {
	defaults := stations.DefaultRankOptions()
	if opts.Rank.RadiusMeters <= 0 {
		opts.Rank.RadiusMeters = defaults.RadiusMeters
	}
	if opts.Rank.Limit <= 0 {
		opts.Rank.Limit = defaults.Limit
	}
	if opts.ServiceArea.IsZero() {
		opts.ServiceArea = geo.BarcelonaServiceArea
	}
	s := &StationService{
		feed:   feed,
		rank:   opts.Rank,
		area:   opts.ServiceArea,
		tracer: otel.Tracer("station-service"),
	}
	if opts.CoalesceTimeout > 0 {
		s.coalescer = newRequestCoalescer[[]models.Station](opts.CoalesceTimeout)
	}
	return s
}

// DefaultRadiusMeters returns the radius used when a query gives none.
func (s *StationService) DefaultRadiusMeters() float64 {
	return s.rank.RadiusMeters
}

// AllStations fetches both feeds concurrently and merges them. A metadata
// failure or an empty metadata list returns ErrUpstreamUnavailable. A status failure is not an error:
// the list is built from metadata alone with every station inactive.
func (s *StationService) AllStations(ctx context.Context) ([]models.Station, error) {
	ctx, span := s.tracer.Start(ctx, "StationService.AllStations")
	defer span.End()

	var (
		list []models.Station
		err  error
	)
	if s.coalescer != nil {
		// Detach cancellation so one caller leaving does not fail the shared fetch.
		shared := context.WithoutCancel(ctx)
		var joined bool
		list, joined, err = s.coalescer.GetOrDo(ctx, snapshotKey, func() ([]models.Station, error) {
			return s.buildSnapshot(shared)
		})
		if joined {
			observability.SnapshotCoalescedTotal.Inc()
		}
		if err != nil && !errors.Is(err, ErrUpstreamUnavailable) {
			// The wait itself timed out or was cancelled.
			err = fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
		}
	} else {
		list, err = s.buildSnapshot(ctx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("stations.count", len(list)))
	return list, nil
}

func (s *StationService) buildSnapshot(ctx context.Context) ([]models.Station, error) {
	logger := observability.LoggerFromContext(ctx)
	start := time.Now()

	var (
		wg        sync.WaitGroup
		infos     []models.StationInfo
		statuses  []models.StationStatus
		infoErr   error
		statusErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		infos, infoErr = s.feed.FetchStationMetadata(ctx)
	}()
	go func() {
		defer wg.Done()
		statuses, statusErr = s.feed.FetchStationStatus(ctx)
	}()
	wg.Wait()

	if infoErr == nil && len(infos) == 0 {
		infoErr = errNoStations
	}
	if infoErr != nil {
		traffic.RecordError()
		logger.Error("station metadata unavailable", zap.Error(infoErr))
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, infoErr)
	}
	traffic.RecordSuccess()

	if statusErr != nil {
		observability.FeedDegradedTotal.Inc()
		logger.Warn("station status unavailable, serving metadata only",
			zap.Error(statusErr),
			zap.Int("stations", len(infos)))
		statuses = nil
	}

	merged := stations.Merge(infos, statuses)
	if ids := stations.Inconsistent(merged); len(ids) > 0 {
		observability.StationInconsistentStatusTotal.Add(float64(len(ids)))
		logger.Warn("stations report more ebikes than bikes",
			zap.Strings("station_ids", ids))
	}

	logger.Debug("station list built",
		zap.Int("stations", len(merged)),
		zap.Bool("degraded", statusErr != nil),
		zap.Duration("duration", time.Since(start)))
	return merged, nil
}

// NearbyStations returns up to the configured limit of stations within the
// query radius, nearest first.
func (s *StationService) NearbyStations(ctx context.Context, q NearbyQuery) (NearbyResult, error) {
	ctx, span := s.tracer.Start(ctx, "StationService.NearbyStations",
		trace.WithAttributes(
			attribute.Float64("query.lat", q.Lat),
			attribute.Float64("query.lng", q.Lng),
		),
	)
	defer span.End()

	opts := s.rank
	if q.RadiusMeters != nil {
		opts.RadiusMeters = *q.RadiusMeters
	}
	span.SetAttributes(attribute.Float64("query.radius_meters", opts.RadiusMeters))

	all, err := s.AllStations(ctx)
	if err != nil {
		return NearbyResult{}, err
	}

	ranked := stations.Rank(q.Lat, q.Lng, all, opts)
	inArea := s.area.Contains(q.Lat, q.Lng)
	observability.RecordNearbyQuery(inArea, len(ranked))
	span.SetAttributes(
		attribute.Int("results.count", len(ranked)),
		attribute.Bool("query.in_service_area", inArea),
	)

	return NearbyResult{
		Stations:      ranked,
		Count:         len(ranked),
		UserLocation:  models.Location{Lat: q.Lat, Lng: q.Lng},
		RadiusMeters:  opts.RadiusMeters,
		InServiceArea: inArea,
	}, nil
}
