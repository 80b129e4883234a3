package geofence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

var site = Fence{Lat: 37.7793, Lng: -122.4193, RadiusM: 150}

// offsetNorth returns a point d meters due north of the fence center.
func offsetNorth(d float64) Position {
	dLat := d / earthRadiusMeters * 180 / math.Pi
	return Position{Lat: site.Lat + dLat, Lng: site.Lng}
}

func TestValidateInsideFence(t *testing.T) {
	pos := offsetNorth(40)
	pos.Accuracy = 10

	res := Validate(pos, site)

	assert.True(t, res.Valid)
	assert.InDelta(t, 40, res.DistanceMeters, 0.01)
	assert.Equal(t, 165.0, res.EffectiveRadiusMeters)
}

func TestValidateOutsideFence(t *testing.T) {
	pos := offsetNorth(200)
	pos.Accuracy = 10

	res := Validate(pos, site)

	assert.False(t, res.Valid)
	assert.InDelta(t, 200, res.DistanceMeters, 0.01)
	assert.Equal(t, 165.0, res.EffectiveRadiusMeters)
}

func TestEffectiveRadiusClampsAndFloorsAccuracy(t *testing.T) {
	cases := []struct {
		name     string
		radius   float64
		accuracy float64
		want     float64
	}{
		{name: "below_min_radius", radius: 20, accuracy: 0, want: 90},
		{name: "above_max_radius", radius: 900, accuracy: 30, want: 280},
		{name: "in_range", radius: 150, accuracy: 50, want: 200},
		{name: "negative_accuracy", radius: 100, accuracy: -5, want: 115},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, EffectiveRadius(tc.radius, tc.accuracy))
		})
	}
}

func TestValidateMonotonicInDistance(t *testing.T) {
	radius := EffectiveRadius(site.RadiusM, 10)
	seenInvalid := false
	for d := 0.0; d <= 400; d += 2.5 {
		pos := offsetNorth(d)
		pos.Accuracy = 10
		res := Validate(pos, site)
		if seenInvalid {
			assert.False(t, res.Valid, "distance %.1f valid after an invalid distance", d)
		}
		if !res.Valid {
			seenInvalid = true
		}
		if res.DistanceMeters <= radius-0.01 {
			assert.True(t, res.Valid, "distance %.1f should be valid", d)
		}
		if res.DistanceMeters > radius+0.01 {
			assert.False(t, res.Valid, "distance %.1f should be invalid", d)
		}
	}
	assert.True(t, seenInvalid)
}

func TestValidateDeterministic(t *testing.T) {
	pos := Position{Lat: 37.78, Lng: -122.42, Accuracy: 12}
	assert.Equal(t, Validate(pos, site), Validate(pos, site))
}
