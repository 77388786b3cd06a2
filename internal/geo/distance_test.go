package geo

import (
	"math"
	"testing"
)

func TestDistanceKm_ZeroForIdenticalPoints(t *testing.T) {
	d := DistanceKm(18.4861, -69.9312, 18.4861, -69.9312)
	if d != 0 {
		t.Fatalf("expected 0 for identical points, got %v", d)
	}
}

func TestDistanceKm_OneDegreeLatitude(t *testing.T) {
	// One degree of latitude is ~111.19 km anywhere on the globe.
	d := DistanceKm(18.0, -69.9312, 19.0, -69.9312)
	want := 111.19
	if math.Abs(d-want)/want > 0.01 {
		t.Fatalf("expected ~%v km within 1%%, got %v", want, d)
	}
}

func TestDistanceKm_Symmetric(t *testing.T) {
	a := DistanceKm(18.4861, -69.9312, 18.5001, -69.8500)
	b := DistanceKm(18.5001, -69.8500, 18.4861, -69.9312)
	if math.Abs(a-b) > 1e-9 {
		t.Fatalf("distance not symmetric: %v vs %v", a, b)
	}
}

func TestValidCoordinates(t *testing.T) {
	cases := []struct {
		lat, lng float64
		want     bool
	}{
		{18.4861, -69.9312, true},
		{90, 180, true},
		{-90, -180, true},
		{91, 0, false},
		{0, -181, false},
	}
	for _, c := range cases {
		if got := ValidCoordinates(c.lat, c.lng); got != c.want {
			t.Fatalf("ValidCoordinates(%v, %v) = %v, want %v", c.lat, c.lng, got, c.want)
		}
	}
}
