package geom

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrDegenerate is returned for polygons with fewer than three distinct
	// points or no enclosed area.
	ErrDegenerate = errors.New("geom: degenerate polygon")
	// ErrNotSimple is returned when ear clipping finds no ear, which happens
	// for self-intersecting input.
	ErrNotSimple = errors.New("geom: polygon is not simple")
)

// areaEpsilon is the smallest doubled area (m²) treated as non-zero
const areaEpsilon = 1e-9

// Clean drops consecutive duplicate points and a closing point equal to the
// first, as found in GeoJSON rings.
func Clean(poly []Point) []Point {
	out := make([]Point, 0, len(poly))
	for _, p := range poly {
		if len(out) > 0 && out[len(out)-1] == p {
			continue
		}
		out = append(out, p)
	}
	for len(out) > 1 && out[len(out)-1] == out[0] {
		out = out[:len(out)-1]
	}
	return out
}

// SignedArea returns the shoelace area of poly; positive when the points run
// counter-clockwise with X to the right and Z up.
func SignedArea(poly []Point) float64 {
	var sum float64
	for i := range poly {
		a, b := poly[i], poly[(i+1)%len(poly)]
		sum += a.X*b.Z - b.X*a.Z
	}
	return sum / 2
}

// Triangulate decomposes a simple, hole-free polygon into triangles lying in
// the y = 0 plane. The vertices are the cleaned input points (no Steiner
// points) and every triangle faces +Y.
func Triangulate(poly []Point) (*Mesh, error) {
	pts := Clean(poly)
	tris, err := earClip(pts)
	if err != nil {
		return nil, err
	}

	m := &Mesh{
		Vertices:  make([]r3.Vec, len(pts)),
		Triangles: tris,
	}
	for i, p := range pts {
		m.Vertices[i] = r3.Vec{X: p.X, Z: p.Z}
	}
	m.RecalculateNormals()
	m.RecalculateBounds()
	return m, nil
}

// cross is the z component of (b-a) x (c-a) in the X/Z plane
func cross(a, b, c Point) float64 {
	return (b.X-a.X)*(c.Z-a.Z) - (b.Z-a.Z)*(c.X-a.X)
}

// earClip triangulates pts (already cleaned) and returns index triples
// wound to face +Y.
func earClip(pts []Point) ([]Triangle, error) {
	n := len(pts)
	if n < 3 {
		return nil, ErrDegenerate
	}
	area := SignedArea(pts)
	if math.Abs(area) < areaEpsilon {
		return nil, ErrDegenerate
	}

	// Work on a counter-clockwise index ring.
	ring := make([]int, n)
	for i := range ring {
		if area > 0 {
			ring[i] = i
		} else {
			ring[i] = n - 1 - i
		}
	}

	tris := make([]Triangle, 0, n-2)
	for len(ring) > 3 {
		clipped := false
		for i := range ring {
			prev := ring[(i+len(ring)-1)%len(ring)]
			cur := ring[i]
			next := ring[(i+1)%len(ring)]
			if !isEar(pts, ring, prev, cur, next) {
				continue
			}
			tris = append(tris, faceUp(prev, cur, next))
			ring = append(ring[:i], ring[i+1:]...)
			clipped = true
			break
		}
		if clipped {
			continue
		}

		// No ear: a collinear vertex can be dropped without losing area.
		// It stays in the input, so an extruded wall still uses it and the
		// cap edge it sat on gets a T-junction.
		j := collinearVertex(pts, ring)
		if j < 0 {
			return nil, ErrNotSimple
		}
		ring = append(ring[:j], ring[j+1:]...)
	}

	if math.Abs(cross(pts[ring[0]], pts[ring[1]], pts[ring[2]])) >= areaEpsilon {
		tris = append(tris, faceUp(ring[0], ring[1], ring[2]))
	}
	if len(tris) == 0 {
		return nil, ErrDegenerate
	}
	return tris, nil
}

// faceUp reorders a counter-clockwise (X right, Z up) triangle so that
// cross(b-a, c-a) points +Y.
func faceUp(a, b, c int) Triangle {
	return Triangle{a, c, b}
}

func isEar(pts []Point, ring []int, prev, cur, next int) bool {
	a, b, c := pts[prev], pts[cur], pts[next]
	if cross(a, b, c) < areaEpsilon {
		return false // reflex or flat
	}
	for _, k := range ring {
		if k == prev || k == cur || k == next {
			continue
		}
		p := pts[k]
		if p == a || p == b || p == c {
			continue
		}
		if inTriangle(p, a, b, c) {
			return false
		}
	}
	return true
}

// inTriangle reports whether p lies inside or on the counter-clockwise
// triangle abc.
func inTriangle(p, a, b, c Point) bool {
	return cross(a, b, p) >= 0 && cross(b, c, p) >= 0 && cross(c, a, p) >= 0
}

func collinearVertex(pts []Point, ring []int) int {
	for i := range ring {
		prev := pts[ring[(i+len(ring)-1)%len(ring)]]
		next := pts[ring[(i+1)%len(ring)]]
		if math.Abs(cross(prev, pts[ring[i]], next)) < areaEpsilon {
			return i
		}
	}
	return -1
}
