package zones

import (
	"math"

	"storefront-delivery/internal/models"
)

// EarthRadiusKm is the mean radius of the spherical Earth approximation.
const EarthRadiusKm = 6371.0

// DistanceKm returns the haversine great-circle distance between a and b in
// kilometres.
func DistanceKm(a, b models.Coordinate) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180.0 }
	dlat := rad(b.Latitude - a.Latitude)
	dlon := rad(b.Longitude - a.Longitude)
	h := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(rad(a.Latitude))*math.Cos(rad(b.Latitude))*math.Sin(dlon/2)*math.Sin(dlon/2)
	// rounding can push h a hair above 1 for antipodal points
	h = math.Min(1, h)
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}
