package stations

import "github.com/kjstillabower/bicing-station-service/internal/models"

// Summary counts stations by availability.
type Summary struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Inactive  int `json:"inactive"`
	WithBikes int `json:"with_bikes"`
}

// Summarize aggregates a merged station list.
func Summarize(stations []models.Station) Summary {
	sum := Summary{Total: len(stations)}
	for _, s := range stations {
		if s.IsActive {
			sum.Active++
		}
		if s.NumBikesAvailableEbike > 0 || s.NumBikesAvailableMechanical > 0 {
			sum.WithBikes++
		}
	}
	sum.Inactive = sum.Total - sum.Active
	return sum
}
