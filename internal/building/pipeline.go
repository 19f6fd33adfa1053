// Package building turns building footprints into positioned, flat-shaded
// meshes and builds the textured ground plane for a tile.
package building

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/wegman-software/osm2scene-go/internal/config"
	"github.com/wegman-software/osm2scene-go/internal/geom"
	"github.com/wegman-software/osm2scene-go/internal/logger"
	"github.com/wegman-software/osm2scene-go/internal/proj"
	"github.com/wegman-software/osm2scene-go/internal/scene"
	"github.com/wegman-software/osm2scene-go/internal/source"
	"github.com/wegman-software/osm2scene-go/internal/style"
)

// ErrEmptyRing is returned for a feature without a usable outer ring
var ErrEmptyRing = errors.New("building: feature has no outer ring")

// Override lets a Hook adjust or drop a feature before it is built.
// Zero fields leave the feature's own values in place.
type Override struct {
	Skip     bool
	Levels   string
	Height   float64 // meters; takes precedence over levels
	Name     string
	Material string
}

// Hook inspects each feature before it is built
type Hook interface {
	Building(f *source.BuildingFeature) (Override, error)
}

// Options configures a Pipeline
type Options struct {
	MetersPerLevel float64
	Material       string
	Hook           Hook
	// Progress is called after each feature with the number handled so far
	Progress func(done, total int)
}

// Stats summarizes one Process call
type Stats struct {
	Features  int
	Built     int
	Skipped   int // dropped by the hook
	Failed    int
	Vertices  int
	Triangles int
}

// Pipeline builds building objects
type Pipeline struct {
	opts Options
}

// New creates a pipeline. A non-positive MetersPerLevel falls back to the
// default storey height.
func New(opts Options) *Pipeline {
	if !(opts.MetersPerLevel > 0) {
		opts.MetersPerLevel = style.DefaultMetersPerLevel
	}
	if opts.Material == "" {
		opts.Material = style.MaterialBuilding
	}
	return &Pipeline{opts: opts}
}

// Process builds every feature. A feature that fails is logged and counted
// and does not stop the batch.
func (p *Pipeline) Process(features []*source.BuildingFeature, tile geom.AABB) ([]*scene.Object, Stats) {
	log := logger.Get()

	stats := Stats{Features: len(features)}
	objects := make([]*scene.Object, 0, len(features))

	for i, f := range features {
		obj, err := p.Build(f, tile)
		switch {
		case err != nil:
			stats.Failed++
			log.Warn("Skipping building",
				zap.String("id", f.ID),
				zap.Error(err))
		case obj == nil:
			stats.Skipped++
		default:
			stats.Built++
			stats.Vertices += len(obj.Mesh.Vertices)
			stats.Triangles += len(obj.Mesh.Triangles)
			objects = append(objects, obj)
		}

		if p.opts.Progress != nil {
			p.opts.Progress(i+1, len(features))
		}
	}

	log.Info("Buildings processed",
		zap.Int("features", stats.Features),
		zap.Int("built", stats.Built),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Int("triangles", stats.Triangles))

	return objects, stats
}

// Build turns one feature into an object positioned relative to the tile
// center. It returns nil, nil when the hook skips the feature. Panics from
// malformed geometry are recovered into errors.
func (p *Pipeline) Build(f *source.BuildingFeature, tile geom.AABB) (obj *scene.Object, err error) {
	defer func() {
		if r := recover(); r != nil {
			obj = nil
			err = fmt.Errorf("building %s: panic: %v", f.ID, r)
		}
	}()

	var ov Override
	if p.opts.Hook != nil {
		ov, err = p.opts.Hook.Building(f)
		if err != nil {
			return nil, fmt.Errorf("building %s: hook: %w", f.ID, err)
		}
		if ov.Skip {
			return nil, nil
		}
	}

	ring := f.OuterRing()
	if len(ring) < 3 {
		return nil, fmt.Errorf("building %s: %w", f.ID, ErrEmptyRing)
	}

	pts := ProjectRing(ring)
	box, _ := geom.BoundOf(pts)
	center := box.Center()
	for i := range pts {
		pts[i] = pts[i].Sub(center)
	}

	levels := ParseLevels(f.Levels)
	if ov.Levels != "" {
		levels = ParseLevels(ov.Levels)
	}
	height := float64(levels) * p.opts.MetersPerLevel
	if ov.Height > 0 {
		height = ov.Height
	}

	mesh, err := geom.Extrude(pts, height)
	if err != nil {
		return nil, fmt.Errorf("building %s: %w", f.ID, err)
	}
	mesh = geom.FlatShade(mesh)

	name := f.DisplayName()
	if ov.Name != "" {
		name = ov.Name
	}

	obj = scene.NewObject(scene.KindBuilding, name, mesh)
	obj.SourceID = f.ID
	obj.Material = p.opts.Material
	if ov.Material != "" {
		obj.Material = ov.Material
	}
	off := center.Sub(tile.Center())
	obj.Offset = r3.Vec{X: off.X, Y: 0, Z: off.Z}
	obj.Height = height
	obj.Levels = levels
	obj.Footprint = ring
	obj.Tags = f.Tags
	return obj, nil
}

// ProjectRing projects a geographic ring into planar meters
func ProjectRing(ring []proj.GeoPoint) []geom.Point {
	pts := make([]geom.Point, len(ring))
	for i, g := range ring {
		x, z := g.ToMeters()
		pts[i] = geom.Point{X: x, Z: z}
	}
	return pts
}

// ParseLevels reads a building:levels value. Anything that is not a
// positive integer counts as one level.
func ParseLevels(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 1
	}
	return n
}

// TileAABB projects the four corners of bbox and returns their bounds
func TileAABB(bbox config.BBox) geom.AABB {
	corners := []proj.GeoPoint{
		{Lat: bbox.MinLat, Lon: bbox.MinLon},
		{Lat: bbox.MinLat, Lon: bbox.MaxLon},
		{Lat: bbox.MaxLat, Lon: bbox.MaxLon},
		{Lat: bbox.MaxLat, Lon: bbox.MinLon},
	}
	box, _ := geom.BoundOf(ProjectRing(corners))
	return box
}
