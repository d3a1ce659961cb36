package search

import "testing"

func TestHaversineZeroDistance(t *testing.T) {
	if d := haversineMeters(50, 14, 50, 14); d != 0 {
		t.Fatalf("expected 0 distance for identical points, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// Prague to Berlin, roughly 280km.
	d := haversineMeters(50.0755, 14.4378, 52.5200, 13.4050)
	if d < 260000 || d > 300000 {
		t.Fatalf("expected roughly 280km, got %fm", d)
	}
}
