package models

// StationInfo is static station metadata from the GBFS station_information feed.
type StationInfo struct {
	StationID string  `json:"station_id"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Capacity  int     `json:"capacity,omitempty"`
}

// StationStatus is live availability from the GBFS station_status feed.
// NumBikesAvailable counts every bike at the dock, powered and mechanical.
type StationStatus struct {
	StationID          string `json:"station_id"`
	NumEbikesAvailable int    `json:"num_ebikes_available"`
	NumBikesAvailable  int    `json:"num_bikes_available"`
	NumDocksAvailable  int    `json:"num_docks_available"`
	IsRenting          bool   `json:"is_renting"`
	IsReturning        bool   `json:"is_returning"`
}

// Station is the merged view of one dock: metadata plus live counts.
// Live fields are zero and IsActive false when no status was available.
type Station struct {
	StationID                   string  `json:"station_id"`
	Name                        string  `json:"name"`
	Address                     string  `json:"address"`
	Latitude                    float64 `json:"latitude"`
	Longitude                   float64 `json:"longitude"`
	NumBikesAvailableEbike      int     `json:"num_bikes_available_ebike"`
	NumBikesAvailableMechanical int     `json:"num_bikes_available_mechanical"`
	NumDocksAvailable           int     `json:"num_docks_available"`
	IsActive                    bool    `json:"is_active"`
}

// RankedStation is a Station annotated with its distance to a query point.
type RankedStation struct {
	Station
	DistanceMeters    float64 `json:"distance_meters"`
	DistanceFormatted string  `json:"distance_formatted"`
}

// Location is a query point.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
