package territory

import (
	"math"

	"github.com/twpayne/go-geom"
)

const earthRadiusKm = 6371.0088

// HaversineKm returns the great-circle distance between two lat/lon pairs.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// PointDistanceKm measures between two XY (lon, lat) points.
func PointDistanceKm(a, b *geom.Point) float64 {
	return HaversineKm(a.Y(), a.X(), b.Y(), b.X())
}
