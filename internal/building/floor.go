package building

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/wegman-software/osm2scene-go/internal/geom"
	"github.com/wegman-software/osm2scene-go/internal/scene"
	"github.com/wegman-software/osm2scene-go/internal/style"
)

// FloorPlane builds a flat rectangle covering the tile, centered on the
// tile center, with UVs spanning [0,1] so the raster can be draped over it.
// U grows east and V grows north.
func FloorPlane(tile geom.AABB, material string) (*scene.Object, error) {
	size := tile.Size()
	if !(size.X > 0) || !(size.Z > 0) {
		return nil, fmt.Errorf("floor: tile has no area (%v x %v)", size.X, size.Z)
	}

	center := tile.Center()
	corners := tile.Corners()
	local := make([]geom.Point, len(corners))
	for i, c := range corners {
		local[i] = c.Sub(center)
	}

	mesh, err := geom.Triangulate(local)
	if err != nil {
		return nil, fmt.Errorf("floor: %w", err)
	}
	mesh.UVs = make([]r2.Vec, len(mesh.Vertices))
	for i, v := range mesh.Vertices {
		mesh.UVs[i] = r2.Vec{
			X: (v.X + size.X/2) / size.X,
			Y: (v.Z + size.Z/2) / size.Z,
		}
	}
	mesh = geom.FlatShade(mesh)

	if material == "" {
		material = style.MaterialFloor
	}
	obj := scene.NewObject(scene.KindFloor, scene.FloorName, mesh)
	obj.Material = material
	return obj, nil
}
