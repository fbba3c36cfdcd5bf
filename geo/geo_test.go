package geo

import (
	"math"
	"strings"
	"testing"
)

func TestBoundsFromExtent(t *testing.T) {
	b := BoundsFromExtent([4]float64{8.0, 53.0, 9.0, 54.0})
	if b.IsNil() {
		t.Fatal("expected valid bounds")
	}
	if b.Area() != 1.0 {
		t.Errorf("area: got %f, want 1.0", b.Area())
	}

	empty := BoundsFromExtent([4]float64{})
	if !empty.IsNil() {
		t.Error("zero extent should map to nil bounds")
	}
	if empty.Area() != 0 {
		t.Error("nil bounds should have zero area")
	}
}

func TestBoundsIntersects(t *testing.T) {
	tests := []struct {
		a, b   Bounds
		expect bool
	}{
		{Bounds{0, 0, 2, 2}, Bounds{1, 1, 3, 3}, true},
		{Bounds{0, 0, 2, 2}, Bounds{2, 2, 3, 3}, true}, // touching
		{Bounds{0, 0, 1, 1}, Bounds{2, 2, 3, 3}, false},
		{Bounds{0, 0, 1, 1}, NilBounds, false},
	}
	for i, tt := range tests {
		if got := tt.a.Intersects(tt.b); got != tt.expect {
			t.Errorf("case %d: got %v, want %v", i, got, tt.expect)
		}
	}
}

const aoiGeoJSON = `{
	"type": "FeatureCollection",
	"features": [{
		"type": "Feature",
		"properties": {},
		"geometry": {
			"type": "Polygon",
			"coordinates": [[[0, 0], [10, 0], [10, 10], [0, 10], [0, 0]]]
		}
	}]
}`

func TestLimiterIntersectsBounds(t *testing.T) {
	polygons, err := ParseGeoJSON(strings.NewReader(aoiGeoJSON))
	if err != nil {
		t.Fatal(err)
	}
	limiter := NewLimiter(polygons)

	tests := []struct {
		name   string
		bounds Bounds
		expect bool
	}{
		{"inside", Bounds{2, 2, 3, 3}, true},
		{"overlapping", Bounds{8, 8, 12, 12}, true},
		{"covering", Bounds{-5, -5, 15, 15}, true},
		{"outside", Bounds{20, 20, 30, 30}, false},
		{"nil", NilBounds, false},
	}
	for _, tt := range tests {
		if got := limiter.IntersectsBounds(tt.bounds); got != tt.expect {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.expect)
		}
	}

	if limiter.Area() != 100 {
		t.Errorf("limiter area: got %f, want 100", limiter.Area())
	}
}

func TestLimiterNonConvex(t *testing.T) {
	// L-shaped polygon, bbox overlapping only the notch does not
	// intersect
	poly := Polygon{Outer: Ring{
		{0, 0}, {10, 0}, {10, 4}, {4, 4}, {4, 10}, {0, 10},
	}}
	limiter := NewLimiter([]Polygon{poly})

	if limiter.IntersectsBounds(Bounds{6, 6, 9, 9}) {
		t.Error("bbox in the notch should not intersect")
	}
	if !limiter.IntersectsBounds(Bounds{1, 1, 2, 2}) {
		t.Error("bbox in the leg should intersect")
	}
}

func TestRingArea(t *testing.T) {
	r := Ring{{0, 0}, {4, 0}, {4, 4}, {0, 4}}
	if got := ringArea(r); math.Abs(got-16) > 1e-12 {
		t.Errorf("got %f, want 16", got)
	}
}

func TestParseGeoJSONErrors(t *testing.T) {
	if _, err := ParseGeoJSON(strings.NewReader(`{"type": "Point", "coordinates": [1, 2]}`)); err == nil {
		t.Error("expected error for point geometry")
	}
	if _, err := ParseGeoJSON(strings.NewReader(`{`)); err == nil {
		t.Error("expected error for truncated json")
	}
}
