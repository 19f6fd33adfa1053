package scene

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteOBJ writes every object as a Wavefront OBJ group with vertices
// translated by the object's offset. Normals are written per vertex and
// UVs when the mesh has them. OBJ indices are 1-based and global.
func WriteOBJ(w io.Writer, s *Scene) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "# %s\n", s.Name)
	fmt.Fprintf(bw, "# tile %s,%s,%s,%s\n",
		ff(s.Tile.MinLon), ff(s.Tile.MinLat), ff(s.Tile.MaxLon), ff(s.Tile.MaxLat))

	base := 1
	for _, o := range s.Objects() {
		if o.Mesh == nil {
			continue
		}
		m := o.Mesh

		fmt.Fprintf(bw, "g %s\n", objName(o))
		if o.Material != "" {
			fmt.Fprintf(bw, "usemtl %s\n", o.Material)
		}
		for _, v := range m.Vertices {
			fmt.Fprintf(bw, "v %s %s %s\n", ff(v.X+o.Offset.X), ff(v.Y+o.Offset.Y), ff(v.Z+o.Offset.Z))
		}
		hasNormals := len(m.Normals) == len(m.Vertices)
		for _, n := range m.Normals {
			fmt.Fprintf(bw, "vn %s %s %s\n", ff(n.X), ff(n.Y), ff(n.Z))
		}
		hasUVs := len(m.UVs) == len(m.Vertices)
		for _, uv := range m.UVs {
			fmt.Fprintf(bw, "vt %s %s\n", ff(uv.X), ff(uv.Y))
		}

		for _, t := range m.Triangles {
			bw.WriteString("f")
			for _, idx := range t {
				i := strconv.Itoa(base + idx)
				switch {
				case hasUVs && hasNormals:
					bw.WriteString(" " + i + "/" + i + "/" + i)
				case hasNormals:
					bw.WriteString(" " + i + "//" + i)
				default:
					bw.WriteString(" " + i)
				}
			}
			bw.WriteString("\n")
		}
		base += len(m.Vertices)
	}

	return bw.Flush()
}

// WriteOBJFile writes the scene to path
func WriteOBJFile(path string, s *Scene) error {
	return writeAtomic(path, func(w io.Writer) error { return WriteOBJ(w, s) })
}

func objName(o *Object) string {
	name := o.Name
	if name == "" {
		name = o.SourceID
	}
	if name == "" {
		name = string(o.Kind)
	}
	name = strings.Join(strings.Fields(name), "_")
	if len(o.ID) >= 8 {
		name += "_" + o.ID[:8]
	}
	return name
}

func ff(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
