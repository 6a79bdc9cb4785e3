package stations

import (
	"math"
	"sort"

	"github.com/kjstillabower/bicing-station-service/internal/geo"
	"github.com/kjstillabower/bicing-station-service/internal/models"
)

const (
	// DefaultRadiusMeters is the search radius when a query gives none.
	DefaultRadiusMeters = 1000
	// DefaultLimit caps how many stations a search returns.
	DefaultLimit = 10
)

// RankOptions bounds a proximity search.
type RankOptions struct {
	RadiusMeters float64
	Limit        int
}

// DefaultRankOptions returns a 1000m radius and a top-10 cutoff.
func DefaultRankOptions() RankOptions {
	return RankOptions{RadiusMeters: DefaultRadiusMeters, Limit: DefaultLimit}
}

// Rank returns the stations within opts.RadiusMeters of (lat, lng), nearest
// first, capped at opts.Limit. Stations with a zero latitude or longitude
// have no usable position and are skipped. Equal distances keep input order.
func Rank(lat, lng float64, stations []models.Station, opts RankOptions) []models.RankedStation {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	ranked := make([]models.RankedStation, 0)
	for _, s := range stations {
		if s.Latitude == 0 || s.Longitude == 0 {
			continue
		}
		d := geo.Distance(lat, lng, s.Latitude, s.Longitude)
		if d > opts.RadiusMeters {
			continue
		}
		ranked = append(ranked, models.RankedStation{
			Station:           s,
			DistanceMeters:    roundTenth(d),
			DistanceFormatted: geo.FormatDistance(d),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].DistanceMeters < ranked[j].DistanceMeters
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
