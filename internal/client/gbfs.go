package client

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/kjstillabower/bicing-station-service/internal/models"
)

// gbfsEnvelope is the common GBFS wrapper. Stations stay raw so that one bad
// record does not fail the whole list.
type gbfsEnvelope struct {
	LastUpdated flexInt `json:"last_updated"`
	TTL         flexInt `json:"ttl"`
	Data        *struct {
		Stations []json.RawMessage `json:"stations"`
	} `json:"data"`
}

type infoRecord struct {
	StationID flexString `json:"station_id"`
	Name      flexString `json:"name"`
	Address   flexString `json:"address"`
	Lat       flexFloat  `json:"lat"`
	Lon       flexFloat  `json:"lon"`
	Capacity  flexInt    `json:"capacity"`
}

func (r infoRecord) toModel() models.StationInfo {
	return models.StationInfo{
		StationID: string(r.StationID),
		Name:      string(r.Name),
		Address:   string(r.Address),
		Latitude:  float64(r.Lat),
		Longitude: float64(r.Lon),
		Capacity:  int(r.Capacity),
	}
}

type statusRecord struct {
	StationID          flexString `json:"station_id"`
	NumEbikesAvailable flexInt    `json:"num_ebikes_available"`
	NumBikesAvailable  flexInt    `json:"num_bikes_available"`
	NumDocksAvailable  flexInt    `json:"num_docks_available"`
	IsRenting          flexBool   `json:"is_renting"`
	IsReturning        flexBool   `json:"is_returning"`
}

func (r statusRecord) toModel() models.StationStatus {
	return models.StationStatus{
		StationID:          string(r.StationID),
		NumEbikesAvailable: int(r.NumEbikesAvailable),
		NumBikesAvailable:  int(r.NumBikesAvailable),
		NumDocksAvailable:  int(r.NumDocksAvailable),
		IsRenting:          bool(r.IsRenting),
		IsReturning:        bool(r.IsReturning),
	}
}

// decodeStations unwraps a GBFS payload and decodes each station with decode.
// It fails only when the envelope itself is unusable; records that are not
// JSON objects are dropped and counted in skipped.
func decodeStations[T any](body []byte, decode func(json.RawMessage) (T, bool)) (out []T, skipped int, err error) {
	var env gbfsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, 0, err
	}
	if env.Data == nil || env.Data.Stations == nil {
		return nil, 0, errMissingStations
	}
	out = make([]T, 0, len(env.Data.Stations))
	for _, raw := range env.Data.Stations {
		v, ok := decode(raw)
		if !ok {
			skipped++
			continue
		}
		out = append(out, v)
	}
	return out, skipped, nil
}

func decodeInfo(raw json.RawMessage) (models.StationInfo, bool) {
	if isNull(raw) {
		return models.StationInfo{}, false
	}
	var r infoRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.StationInfo{}, false
	}
	return r.toModel(), true
}

func decodeStatus(raw json.RawMessage) (models.StationStatus, bool) {
	if isNull(raw) {
		return models.StationStatus{}, false
	}
	var r statusRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.StationStatus{}, false
	}
	return r.toModel(), true
}

// The flex types accept the loose typing seen across GBFS publishers
// (numbers as strings, 0/1 for booleans). Unusable values decode to zero.

type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	*s = ""
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = flexString(str)
		return nil
	}
	raw := strings.TrimSpace(string(b))
	if raw != "null" && !strings.HasPrefix(raw, "{") && !strings.HasPrefix(raw, "[") {
		*s = flexString(raw)
	}
	return nil
}

type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	*f = 0
	if v, ok := parseFinite(b); ok {
		*f = flexFloat(v)
	}
	return nil
}

type flexInt int

func (i *flexInt) UnmarshalJSON(b []byte) error {
	*i = 0
	if v, ok := parseFinite(b); ok {
		*i = flexInt(int(v))
	}
	return nil
}

type flexBool bool

func (v *flexBool) UnmarshalJSON(b []byte) error {
	switch strings.ToLower(unquote(b)) {
	case "true", "1":
		*v = true
	default:
		*v = false
	}
	return nil
}

func unquote(b []byte) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(string(b)), `"`))
}

func parseFinite(b []byte) (float64, bool) {
	v, err := strconv.ParseFloat(unquote(b), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
