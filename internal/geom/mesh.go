package geom

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Triangle holds three vertex indices
type Triangle [3]int

// Mesh is an indexed triangle mesh. Normals has one entry per vertex once
// RecalculateNormals has run; UVs is either empty or one per vertex.
type Mesh struct {
	Vertices  []r3.Vec   `msgpack:"vertices"`
	Triangles []Triangle `msgpack:"triangles"`
	Normals   []r3.Vec   `msgpack:"normals"`
	UVs       []r2.Vec   `msgpack:"uvs,omitempty"`
	Bounds    r3.Box     `msgpack:"bounds"`
}

// Validate checks that every triangle index refers to a vertex
func (m *Mesh) Validate() error {
	n := len(m.Vertices)
	for i, t := range m.Triangles {
		for _, v := range t {
			if v < 0 || v >= n {
				return fmt.Errorf("triangle %d: index %d out of range [0,%d)", i, v, n)
			}
		}
	}
	if len(m.Normals) != 0 && len(m.Normals) != n {
		return fmt.Errorf("normals: have %d, want %d", len(m.Normals), n)
	}
	if len(m.UVs) != 0 && len(m.UVs) != n {
		return fmt.Errorf("uvs: have %d, want %d", len(m.UVs), n)
	}
	return nil
}

// FaceNormal returns the unnormalized normal of triangle i,
// cross(b-a, c-a). Its length is twice the triangle area.
func (m *Mesh) FaceNormal(i int) r3.Vec {
	t := m.Triangles[i]
	a, b, c := m.Vertices[t[0]], m.Vertices[t[1]], m.Vertices[t[2]]
	return r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
}

// RecalculateNormals sets each vertex normal to the normalized, area-weighted
// sum of the normals of the faces that use it. With unshared vertices this
// is exactly the face normal.
func (m *Mesh) RecalculateNormals() {
	normals := make([]r3.Vec, len(m.Vertices))
	for i, t := range m.Triangles {
		fn := m.FaceNormal(i)
		for _, v := range t {
			normals[v] = r3.Add(normals[v], fn)
		}
	}
	for i, n := range normals {
		if r3.Norm(n) == 0 {
			continue
		}
		normals[i] = r3.Unit(n)
	}
	m.Normals = normals
}

// RecalculateBounds sets Bounds to the box enclosing all vertices
func (m *Mesh) RecalculateBounds() {
	if len(m.Vertices) == 0 {
		m.Bounds = r3.Box{}
		return
	}
	lo := r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi := r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, v := range m.Vertices {
		lo = r3.Vec{X: math.Min(lo.X, v.X), Y: math.Min(lo.Y, v.Y), Z: math.Min(lo.Z, v.Z)}
		hi = r3.Vec{X: math.Max(hi.X, v.X), Y: math.Max(hi.Y, v.Y), Z: math.Max(hi.Z, v.Z)}
	}
	m.Bounds = r3.Box{Min: lo, Max: hi}
}
