package geom

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Extrude lifts a simple polygon into a closed volume of the given height:
// a bottom cap at y = 0 facing down, a top cap at y = height facing up and
// two outward-facing wall triangles per boundary edge, including the edge
// from the last point back to the first.
//
// For N cleaned points the mesh has 2N vertices (bottom ring then top ring)
// and 2(N-2) + 2N triangles. Height must be positive; anything else is a
// caller bug and panics.
func Extrude(poly []Point, height float64) (*Mesh, error) {
	if !(height > 0) {
		panic(fmt.Sprintf("geom: extrude height must be > 0, got %v", height))
	}

	pts := Clean(poly)
	caps, err := earClip(pts)
	if err != nil {
		return nil, err
	}

	n := len(pts)
	m := &Mesh{
		Vertices:  make([]r3.Vec, 0, 2*n),
		Triangles: make([]Triangle, 0, 2*len(caps)+2*n),
	}
	for _, p := range pts {
		m.Vertices = append(m.Vertices, r3.Vec{X: p.X, Y: 0, Z: p.Z})
	}
	for _, p := range pts {
		m.Vertices = append(m.Vertices, r3.Vec{X: p.X, Y: height, Z: p.Z})
	}

	for _, t := range caps {
		m.Triangles = append(m.Triangles, Triangle{t[0], t[2], t[1]})
	}
	for _, t := range caps {
		m.Triangles = append(m.Triangles, Triangle{t[0] + n, t[1] + n, t[2] + n})
	}

	ccw := SignedArea(pts) > 0
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		a, b := i, j
		at, bt := i+n, j+n
		if ccw {
			m.Triangles = append(m.Triangles, Triangle{a, bt, b}, Triangle{a, at, bt})
		} else {
			m.Triangles = append(m.Triangles, Triangle{a, b, bt}, Triangle{a, bt, at})
		}
	}

	m.RecalculateNormals()
	m.RecalculateBounds()
	return m, nil
}
