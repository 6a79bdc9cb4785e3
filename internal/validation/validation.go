package validation

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/kjstillabower/bicing-station-service/internal/geo"
)

// ErrMissingParameter is returned when lat or lng is absent or blank.
var ErrMissingParameter = errors.New("lat and lng are required")

// ErrInvalidParameter is returned when lat or lng is not a finite number.
var ErrInvalidParameter = errors.New("lat and lng must be numbers")

// ErrInvalidCoordinate is returned when lat/lng are numbers outside the valid
// ranges (latitude -90..90, longitude -180..180).
var ErrInvalidCoordinate = errors.New("lat or lng out of range")

// ParseCoordinates parses raw query values into a coordinate pair.
// Both values are trimmed first.
func ParseCoordinates(latRaw, lngRaw string) (lat, lng float64, err error) {
	latRaw = strings.TrimSpace(latRaw)
	lngRaw = strings.TrimSpace(lngRaw)
	if latRaw == "" || lngRaw == "" {
		return 0, 0, ErrMissingParameter
	}
	lat, ok := parseFinite(latRaw)
	if !ok {
		return 0, 0, ErrInvalidParameter
	}
	lng, ok = parseFinite(lngRaw)
	if !ok {
		return 0, 0, ErrInvalidParameter
	}
	if !geo.IsValidCoordinate(lat, lng) {
		return 0, 0, ErrInvalidCoordinate
	}
	return lat, lng, nil
}

// ParseRadius parses a whole number of meters. Blank or unparsable input
// yields def. Zero and negative values are returned as given and match no
// station. Results above max are clamped when max > 0.
func ParseRadius(raw string, def, max int) int {
	r, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		r = def
	}
	if max > 0 && r > max {
		r = max
	}
	return r
}

func parseFinite(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
