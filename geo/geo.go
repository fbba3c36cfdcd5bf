// Package geo provides the planar geometry needed for changeset
// bounding boxes and the import area filter. Coordinates are WGS84
// lon/lat, computations are planar.
package geo

import "math"

type Bounds struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

var NilBounds = Bounds{math.MaxFloat64, math.MaxFloat64, -math.MaxFloat64, -math.MaxFloat64}

// BoundsFromExtent builds Bounds from an OSM extent
// (min lon, min lat, max lon, max lat). Changesets without any
// geometry carry a zero extent; those map to NilBounds.
func BoundsFromExtent(extent [4]float64) Bounds {
	if extent == ([4]float64{}) {
		return NilBounds
	}
	return Bounds{extent[0], extent[1], extent[2], extent[3]}
}

func (b Bounds) IsNil() bool {
	return b.MinX > b.MaxX || b.MinY > b.MaxY
}

// Area returns the planar area in squared degrees.
func (b Bounds) Area() float64 {
	if b.IsNil() {
		return 0
	}
	return (b.MaxX - b.MinX) * (b.MaxY - b.MinY)
}

func (b Bounds) Intersects(other Bounds) bool {
	if b.IsNil() || other.IsNil() {
		return false
	}
	return b.MinX <= other.MaxX && b.MaxX >= other.MinX &&
		b.MinY <= other.MaxY && b.MaxY >= other.MinY
}

func (b Bounds) Center() (lon, lat float64) {
	return (b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2
}

type Point struct {
	Long float64
	Lat  float64
}

// A Ring is a closed sequence of points. The first and last point do
// not need to repeat.
type Ring []Point

func (r Ring) bounds() Bounds {
	b := NilBounds
	for _, p := range r {
		if p.Long < b.MinX {
			b.MinX = p.Long
		}
		if p.Long > b.MaxX {
			b.MaxX = p.Long
		}
		if p.Lat < b.MinY {
			b.MinY = p.Lat
		}
		if p.Lat > b.MaxY {
			b.MaxY = p.Lat
		}
	}
	return b
}

func (r Ring) contains(p Point) bool {
	// ray casting, horizontal ray to the east
	inside := false
	n := len(r)
	for i := 0; i < n; i++ {
		a := r[i]
		b := r[(i+1)%n]
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			x := a.Long + (p.Lat-a.Lat)/(b.Lat-a.Lat)*(b.Long-a.Long)
			if x > p.Long {
				inside = !inside
			}
		}
	}
	return inside
}

func (r Ring) intersectsBounds(b Bounds) bool {
	n := len(r)
	for i := 0; i < n; i++ {
		if segmentIntersectsBounds(r[i], r[(i+1)%n], b) {
			return true
		}
	}
	return false
}

func segmentIntersectsBounds(p, q Point, b Bounds) bool {
	sb := Bounds{
		math.Min(p.Long, q.Long), math.Min(p.Lat, q.Lat),
		math.Max(p.Long, q.Long), math.Max(p.Lat, q.Lat),
	}
	if !sb.Intersects(b) {
		return false
	}
	if pointInBounds(p, b) || pointInBounds(q, b) {
		return true
	}
	corners := [4]Point{
		{b.MinX, b.MinY}, {b.MaxX, b.MinY},
		{b.MaxX, b.MaxY}, {b.MinX, b.MaxY},
	}
	for i := 0; i < 4; i++ {
		if segmentsCross(p, q, corners[i], corners[(i+1)%4]) {
			return true
		}
	}
	return false
}

func pointInBounds(p Point, b Bounds) bool {
	return p.Long >= b.MinX && p.Long <= b.MaxX && p.Lat >= b.MinY && p.Lat <= b.MaxY
}

func segmentsCross(p1, p2, q1, q2 Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return d1 == 0 && onSegment(q1, q2, p1) ||
		d2 == 0 && onSegment(q1, q2, p2) ||
		d3 == 0 && onSegment(p1, p2, q1) ||
		d4 == 0 && onSegment(p1, p2, q2)
}

func cross(a, b, c Point) float64 {
	return (b.Long-a.Long)*(c.Lat-a.Lat) - (b.Lat-a.Lat)*(c.Long-a.Long)
}

func onSegment(a, b, c Point) bool {
	return math.Min(a.Long, b.Long) <= c.Long && c.Long <= math.Max(a.Long, b.Long) &&
		math.Min(a.Lat, b.Lat) <= c.Lat && c.Lat <= math.Max(a.Lat, b.Lat)
}

// A Polygon is an outer ring with optional holes.
type Polygon struct {
	Outer Ring
	Holes []Ring
}

// A Limiter checks whether changeset bounding boxes touch the
// configured import area.
type Limiter struct {
	polygons []Polygon
	bounds   Bounds
}

func NewLimiter(polygons []Polygon) *Limiter {
	b := NilBounds
	for _, poly := range polygons {
		pb := poly.Outer.bounds()
		if pb.MinX < b.MinX {
			b.MinX = pb.MinX
		}
		if pb.MinY < b.MinY {
			b.MinY = pb.MinY
		}
		if pb.MaxX > b.MaxX {
			b.MaxX = pb.MaxX
		}
		if pb.MaxY > b.MaxY {
			b.MaxY = pb.MaxY
		}
	}
	return &Limiter{polygons: polygons, bounds: b}
}

// Area returns the summed planar area of all outer rings, holes
// subtracted.
func (l *Limiter) Area() float64 {
	var total float64
	for _, poly := range l.polygons {
		total += ringArea(poly.Outer)
		for _, hole := range poly.Holes {
			total -= ringArea(hole)
		}
	}
	return total
}

func ringArea(r Ring) float64 {
	var sum float64
	n := len(r)
	for i := 0; i < n; i++ {
		a := r[i]
		b := r[(i+1)%n]
		sum += a.Long*b.Lat - b.Long*a.Lat
	}
	return math.Abs(sum) / 2
}

// IntersectsBounds reports whether b touches any polygon of the
// limiter. Holes are ignored; a bbox entirely inside a hole still
// counts as intersecting, which errs on the side of importing.
func (l *Limiter) IntersectsBounds(b Bounds) bool {
	if b.IsNil() || !l.bounds.Intersects(b) {
		return false
	}
	corners := [4]Point{
		{b.MinX, b.MinY}, {b.MaxX, b.MinY},
		{b.MaxX, b.MaxY}, {b.MinX, b.MaxY},
	}
	for _, poly := range l.polygons {
		for _, c := range corners {
			if poly.Outer.contains(c) {
				return true
			}
		}
		// bbox may contain the polygon or cross its boundary
		if len(poly.Outer) > 0 && pointInBounds(poly.Outer[0], b) {
			return true
		}
		if poly.Outer.intersectsBounds(b) {
			return true
		}
	}
	return false
}
