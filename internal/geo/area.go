package geo

// BoundingBox is an axis-aligned lat/lng rectangle, bounds inclusive.
type BoundingBox struct {
	MinLat float64 `yaml:"min_lat"`
	MaxLat float64 `yaml:"max_lat"`
	MinLng float64 `yaml:"min_lng"`
	MaxLng float64 `yaml:"max_lng"`
}

// BarcelonaServiceArea approximates the Bicing coverage area.
var BarcelonaServiceArea = BoundingBox{
	MinLat: 41.320,
	MaxLat: 41.470,
	MinLng: 2.050,
	MaxLng: 2.250,
}

// Contains reports whether the point lies inside the box.
func (b BoundingBox) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// IsZero reports whether the box was left unset.
func (b BoundingBox) IsZero() bool {
	return b == BoundingBox{}
}

// IsInServiceArea reports whether the point is inside the deployment's service area.
func IsInServiceArea(lat, lng float64) bool {
	return BarcelonaServiceArea.Contains(lat, lng)
}
