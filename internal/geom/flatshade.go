package geom

import (
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Unshare gives every triangle its own three vertices, copied from the
// original corners, and renumbers triangle i to (3i, 3i+1, 3i+2). Positions
// and winding are unchanged; only index topology differs. Normals and bounds
// are left for the caller to recompute (see FlatShade).
func Unshare(m *Mesh) *Mesh {
	withUV := len(m.UVs) > 0 && len(m.UVs) == len(m.Vertices)

	out := &Mesh{
		Vertices:  make([]r3.Vec, 0, 3*len(m.Triangles)),
		Triangles: make([]Triangle, len(m.Triangles)),
	}
	if withUV {
		out.UVs = make([]r2.Vec, 0, 3*len(m.Triangles))
	}

	for i, t := range m.Triangles {
		for k, v := range t {
			out.Vertices = append(out.Vertices, m.Vertices[v])
			if withUV {
				out.UVs = append(out.UVs, m.UVs[v])
			}
			out.Triangles[i][k] = 3*i + k
		}
	}
	return out
}

// FlatShade unshares m and recomputes normals and bounds, so each vertex
// normal equals its face normal.
func FlatShade(m *Mesh) *Mesh {
	out := Unshare(m)
	out.RecalculateNormals()
	out.RecalculateBounds()
	return out
}
