package domain

import "math"

const earthRadiusMeters = 6371000.0

// DistanceMeters returns the haversine great-circle distance between
// two WGS84 points. Symmetric in its arguments.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// WithinRadius reports whether the two points are within radiusMeters
// of each other, and returns the measured distance either way so the
// caller can produce a precise rejection message.
func WithinRadius(lat1, lng1, lat2, lng2, radiusMeters float64) (bool, float64) {
	d := DistanceMeters(lat1, lng1, lat2, lng2)
	return d <= radiusMeters, d
}
