// Package scene holds the assembled 3D scene for a tile and writes it out.
package scene

import (
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/wegman-software/osm2scene-go/internal/config"
	"github.com/wegman-software/osm2scene-go/internal/geom"
	"github.com/wegman-software/osm2scene-go/internal/proj"
	"github.com/wegman-software/osm2scene-go/internal/source"
)

// Names used for the scene hierarchy
const (
	RootName      = "MapContainer"
	BuildingGroup = "Geometry"
	FloorName     = "Tile Plane"
)

// Kind classifies an object
type Kind string

const (
	KindBuilding Kind = "building"
	KindFloor    Kind = "floor"
)

// Object is one positioned mesh. Mesh vertices are local to the object;
// Offset places it relative to the tile center (Y is always 0).
type Object struct {
	ID        string            `msgpack:"id"`
	Name      string            `msgpack:"name"`
	Kind      Kind              `msgpack:"kind"`
	Material  string            `msgpack:"material"`
	SourceID  string            `msgpack:"source_id,omitempty"`
	Mesh      *geom.Mesh        `msgpack:"mesh"`
	Offset    r3.Vec            `msgpack:"offset"`
	Height    float64           `msgpack:"height,omitempty"`
	Levels    int               `msgpack:"levels,omitempty"`
	Footprint []proj.GeoPoint   `msgpack:"footprint,omitempty"`
	Tags      map[string]string `msgpack:"tags,omitempty"`
}

// NewObject creates an object with a fresh ID
func NewObject(kind Kind, name string, mesh *geom.Mesh) *Object {
	return &Object{
		ID:   uuid.NewString(),
		Name: name,
		Kind: kind,
		Mesh: mesh,
	}
}

// WorldBounds returns the mesh bounds translated by Offset
func (o *Object) WorldBounds() r3.Box {
	if o.Mesh == nil {
		return r3.Box{}
	}
	return r3.Box{
		Min: r3.Add(o.Mesh.Bounds.Min, o.Offset),
		Max: r3.Add(o.Mesh.Bounds.Max, o.Offset),
	}
}

// Projector tells the renderer how to drape the raster over the scene:
// an orthographic camera looking straight down.
type Projector struct {
	Orthographic bool    `msgpack:"orthographic"`
	Size         float64 `msgpack:"size"`
	Near         float64 `msgpack:"near"`
	Far          float64 `msgpack:"far"`
	RotationX    float64 `msgpack:"rotation_x"` // degrees
}

// DefaultProjector returns the projector settings for a single tile
func DefaultProjector() Projector {
	return Projector{
		Orthographic: true,
		Size:         1500,
		Near:         -10,
		Far:          10,
		RotationX:    -90,
	}
}

// Texture is the satellite raster and where the tile sits inside it
type Texture struct {
	Format string           `msgpack:"format"`
	Width  int              `msgpack:"width"`
	Height int              `msgpack:"height"`
	Data   []byte           `msgpack:"data"`
	Fit    *source.ImageFit `msgpack:"fit,omitempty"`
}

// Scene is the result of loading one tile
type Scene struct {
	Name       string      `msgpack:"name"`
	Group      string      `msgpack:"group"`
	Tile       config.BBox `msgpack:"tile"`
	TileBounds geom.AABB   `msgpack:"tile_bounds"`
	Buildings  []*Object   `msgpack:"buildings"`
	Floor      *Object     `msgpack:"floor,omitempty"`
	Texture    *Texture    `msgpack:"texture,omitempty"`
	Projector  *Projector  `msgpack:"projector,omitempty"`
	CreatedAt  time.Time   `msgpack:"created_at"`
}

// New creates an empty scene for a tile
func New(tile config.BBox, bounds geom.AABB) *Scene {
	return &Scene{
		Name:       RootName,
		Group:      BuildingGroup,
		Tile:       tile,
		TileBounds: bounds,
		CreatedAt:  time.Now().UTC(),
	}
}

// Reset drops everything loaded so far, keeping the tile
func (s *Scene) Reset() {
	s.Buildings = nil
	s.Floor = nil
	s.Texture = nil
	s.Projector = nil
}

// AddBuildings appends building objects
func (s *Scene) AddBuildings(objs ...*Object) {
	s.Buildings = append(s.Buildings, objs...)
}

// Objects returns the buildings followed by the floor, if any
func (s *Scene) Objects() []*Object {
	out := make([]*Object, 0, len(s.Buildings)+1)
	out = append(out, s.Buildings...)
	if s.Floor != nil {
		out = append(out, s.Floor)
	}
	return out
}

// Stats counts objects, vertices and triangles
func (s *Scene) Stats() (objects, vertices, triangles int) {
	for _, o := range s.Objects() {
		objects++
		if o.Mesh != nil {
			vertices += len(o.Mesh.Vertices)
			triangles += len(o.Mesh.Triangles)
		}
	}
	return objects, vertices, triangles
}
