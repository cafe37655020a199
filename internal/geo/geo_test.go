package geo

import (
	"math"
	"testing"
)

func TestDistanceMetersZero(t *testing.T) {
	if d := DistanceMeters(10, 45, 10, 45); d != 0 {
		t.Fatalf("expected 0, got %v", d)
	}
}

func TestDistanceMetersLatitudeDegree(t *testing.T) {
	// One degree of latitude is about 111.2km everywhere on the sphere.
	d := DistanceMeters(0, 0, 0, 1)
	if math.Abs(d-111195) > 200 {
		t.Fatalf("expected ~111195m, got %v", d)
	}
}

func TestDistanceMetersSymmetric(t *testing.T) {
	a := DistanceMeters(2.35, 48.85, 13.40, 52.52)
	b := DistanceMeters(13.40, 52.52, 2.35, 48.85)
	if math.Abs(a-b) > 1e-6 {
		t.Fatalf("distance not symmetric: %v vs %v", a, b)
	}
	// Paris to Berlin is roughly 878km.
	if a < 850000 || a > 910000 {
		t.Fatalf("implausible Paris-Berlin distance: %v", a)
	}
}
