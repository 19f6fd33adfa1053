// Package source reads building footprints and imagery metadata: GeoJSON
// feature collections from the mapping API, OSM PBF extracts and the raster
// metadata document that accompanies a satellite image.
package source

import (
	"github.com/wegman-software/osm2scene-go/internal/proj"
)

// Tag keys read from building features
const (
	TagBuilding  = "building"
	TagLevels    = "building:levels"
	TagName      = "name"
	TagHouseName = "addr:housename"
	TagStreet    = "addr:street"
)

// Matcher decides whether a tagged feature is kept.
type Matcher interface {
	Match(tags map[string]string) bool
}

// BuildingFeature is one building footprint. Rings are in source order; the
// first ring is the outer boundary.
type BuildingFeature struct {
	ID        string            `msgpack:"id"`
	Rings     [][]proj.GeoPoint `msgpack:"rings"`
	Name      string            `msgpack:"name,omitempty"`
	HouseName string            `msgpack:"house_name,omitempty"`
	Street    string            `msgpack:"street,omitempty"`
	Levels    string            `msgpack:"levels,omitempty"` // raw building:levels value
	Tags      map[string]string `msgpack:"tags,omitempty"`
}

// NewBuildingFeature fills the well-known fields from tags.
func NewBuildingFeature(id string, rings [][]proj.GeoPoint, tags map[string]string) *BuildingFeature {
	return &BuildingFeature{
		ID:        id,
		Rings:     rings,
		Name:      tags[TagName],
		HouseName: tags[TagHouseName],
		Street:    tags[TagStreet],
		Levels:    tags[TagLevels],
		Tags:      tags,
	}
}

// OuterRing returns the first ring, or nil.
func (f *BuildingFeature) OuterRing() []proj.GeoPoint {
	if len(f.Rings) == 0 {
		return nil
	}
	return f.Rings[0]
}

// DisplayName picks name, then house name, then street. Empty when none
// are set.
func (f *BuildingFeature) DisplayName() string {
	switch {
	case f.Name != "":
		return f.Name
	case f.HouseName != "":
		return f.HouseName
	default:
		return f.Street
	}
}

// isBuilding is the selection used when no Matcher is configured.
func isBuilding(tags map[string]string) bool {
	v, ok := tags[TagBuilding]
	return ok && v != "" && v != "no"
}

func matches(m Matcher, tags map[string]string) bool {
	if m == nil {
		return isBuilding(tags)
	}
	return m.Match(tags)
}
