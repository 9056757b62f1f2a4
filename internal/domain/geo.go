package domain

import "math"

// earthRadiusKm is the mean Earth radius used for great-circle distances.
const earthRadiusKm = 6371.0

// DefaultNearbyRadiusKm is the search radius used when a caller gives none.
const DefaultNearbyRadiusKm = 100.0

// DistanceKm returns the haversine great-circle distance between two points.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// WithinRadius returns the events no further than radiusKm from the point,
// in input order. This is a linear scan; there is no spatial index.
func WithinRadius(events []Event, lat, lon, radiusKm float64) []Event {
	out := make([]Event, 0)
	for _, e := range events {
		if DistanceKm(lat, lon, e.Latitude, e.Longitude) <= radiusKm {
			out = append(out, e)
		}
	}
	return out
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
