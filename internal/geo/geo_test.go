package geo

import (
	"testing"

	"ridehail/internal/domain"
)

func TestHaversineSamePoint(t *testing.T) {
	p := domain.Coordinate{Latitude: 37.78, Longitude: -122.41}
	if got := Haversine(p, p); got != 0 {
		t.Errorf("Haversine(same point) = %v, want 0", got)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	sf := domain.Coordinate{Latitude: 37.78, Longitude: -122.41}
	nearby := domain.Coordinate{Latitude: 37.79, Longitude: -122.40}
	got := Haversine(sf, nearby)
	if got <= 0 || got > 5 {
		t.Errorf("Haversine(sf, nearby) = %.3f km, want small positive distance", got)
	}
}

func TestAdaptiveRadiusNeverShrinks(t *testing.T) {
	prev := AdaptiveRadius(10, 5, 0)
	for attempt := 1; attempt <= 5; attempt++ {
		next := AdaptiveRadius(10, 5, attempt)
		if next < prev {
			t.Fatalf("radius shrank at attempt %d: %v -> %v", attempt, prev, next)
		}
		prev = next
	}
}

func TestAdaptiveRadiusDesignDefaults(t *testing.T) {
	if got := AdaptiveRadius(10, 5, 0); got != 10 {
		t.Errorf("first attempt radius = %v, want 10", got)
	}
	if got := AdaptiveRadius(10, 5, 2); got != 20 {
		t.Errorf("third attempt radius = %v, want 20", got)
	}
}

func TestInMemoryLocatorNearbyOrderedAndTieBroken(t *testing.T) {
	l := NewInMemoryLocator()
	origin := domain.Coordinate{Latitude: 0, Longitude: 0}
	_ = l.Add(2, 0.01, 0)
	_ = l.Add(1, 0.01, 0) // identical distance to driver 2, lower id
	_ = l.Add(3, 0.5, 0)  // farther

	out, err := l.Nearby(origin.Latitude, origin.Longitude, 100)
	if err != nil {
		t.Fatalf("Nearby: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	if out[0].DriverID != 1 {
		t.Errorf("tie-break: first candidate = %d, want 1 (lowest id)", out[0].DriverID)
	}
	if out[2].DriverID != 3 {
		t.Errorf("farthest candidate = %d, want 3", out[2].DriverID)
	}
}

func TestInMemoryLocatorRadiusExcludesFarDrivers(t *testing.T) {
	l := NewInMemoryLocator()
	_ = l.Add(1, 10, 10)
	out, err := l.Nearby(0, 0, 5)
	if err != nil {
		t.Fatalf("Nearby: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("len(out) = %d, want 0 (driver outside radius)", len(out))
	}
}

func TestInMemoryLocatorRemove(t *testing.T) {
	l := NewInMemoryLocator()
	_ = l.Add(1, 0, 0)
	_ = l.Remove(1)
	out, _ := l.Nearby(0, 0, 100)
	if len(out) != 0 {
		t.Errorf("len(out) = %d after remove, want 0", len(out))
	}
}
