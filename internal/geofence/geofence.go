// Package geofence checks worker positions against circular job-site boundaries.
package geofence

import "math"

const (
	earthRadiusMeters = 6371008.8

	MinRadiusMeters   = 75.0
	MaxRadiusMeters   = 250.0
	MinAccuracyMeters = 15.0
)

// Position is a reported device fix.
type Position struct {
	Lat      float64 `json:"lat" validate:"latitude"`
	Lng      float64 `json:"lng" validate:"longitude"`
	Accuracy float64 `json:"accuracy" validate:"gte=0,lte=10000"`
}

// Fence is a circular job-site boundary.
type Fence struct {
	Lat     float64
	Lng     float64
	RadiusM float64
}

type Result struct {
	Valid                 bool    `json:"valid"`
	DistanceMeters        float64 `json:"distance_meters"`
	EffectiveRadiusMeters float64 `json:"effective_radius_meters"`
}

// EffectiveRadius widens the clamped fence radius by the reported accuracy,
// never by less than MinAccuracyMeters.
func EffectiveRadius(radiusM, accuracy float64) float64 {
	return ClampRadius(radiusM) + math.Max(accuracy, MinAccuracyMeters)
}

func ClampRadius(radiusM float64) float64 {
	return math.Min(math.Max(radiusM, MinRadiusMeters), MaxRadiusMeters)
}

// Validate reports whether pos lies inside fence.
func Validate(pos Position, fence Fence) Result {
	distance := Distance(pos.Lat, pos.Lng, fence.Lat, fence.Lng)
	radius := EffectiveRadius(fence.RadiusM, pos.Accuracy)
	return Result{
		Valid:                 distance <= radius,
		DistanceMeters:        distance,
		EffectiveRadiusMeters: radius,
	}
}

// Distance is the haversine great-circle distance in meters.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := toRadians(lat2 - lat1)
	dLambda := toRadians(lng2 - lng1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
