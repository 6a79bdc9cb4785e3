// Package stations merges GBFS metadata with live status and ranks the
// result by proximity to a query point.
package stations

import "github.com/kjstillabower/bicing-station-service/internal/models"

// statusIndex maps station_id to its live status record.
type statusIndex map[string]models.StationStatus

func indexStatuses(statuses []models.StationStatus) statusIndex {
	idx := make(statusIndex, len(statuses))
	for _, s := range statuses {
		if s.StationID == "" {
			continue
		}
		// Duplicate IDs: last record wins.
		idx[s.StationID] = s
	}
	return idx
}

// lookup returns the status for id, or nil when the feed had none.
func (idx statusIndex) lookup(id string) *models.StationStatus {
	s, ok := idx[id]
	if !ok {
		return nil
	}
	return &s
}

// Merge combines metadata with live status by station_id. The result has one
// Station per info record, in input order. Stations without a matching
// status keep zero counts and IsActive=false, which is also what every
// station gets when statuses is empty (degraded mode).
func Merge(infos []models.StationInfo, statuses []models.StationStatus) []models.Station {
	idx := indexStatuses(statuses)
	out := make([]models.Station, 0, len(infos))
	for _, info := range infos {
		out = append(out, newStation(info, idx.lookup(info.StationID)))
	}
	return out
}

// newStation builds a Station from metadata and an optional status.
func newStation(info models.StationInfo, status *models.StationStatus) models.Station {
	st := models.Station{
		StationID: info.StationID,
		Name:      info.Name,
		Address:   info.Address,
		Latitude:  info.Latitude,
		Longitude: info.Longitude,
	}
	if status == nil {
		return st
	}
	st.NumBikesAvailableEbike = status.NumEbikesAvailable
	// Not clamped: a negative value means the feed reported more ebikes than bikes.
	st.NumBikesAvailableMechanical = status.NumBikesAvailable - status.NumEbikesAvailable
	st.NumDocksAvailable = status.NumDocksAvailable
	st.IsActive = status.IsRenting && status.IsReturning
	return st
}

// Inconsistent returns the IDs of stations whose mechanical bike count came
// out negative.
func Inconsistent(stations []models.Station) []string {
	var ids []string
	for _, s := range stations {
		if s.NumBikesAvailableMechanical < 0 {
			ids = append(ids, s.StationID)
		}
	}
	return ids
}
