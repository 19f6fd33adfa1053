package proj

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// SRID constants for common projections
const (
	SRID4326 = 4326 // WGS84 (lat/lon)
	SRID3857 = 3857 // Web Mercator
)

// Web Mercator latitude limits (approximately 85.051129°)
const (
	MaxMercatorLat = 85.0511287798
	MinMercatorLat = -85.0511287798
)

// GeoPoint is a WGS84 coordinate in degrees.
type GeoPoint struct {
	Lat float64 `msgpack:"lat"`
	Lon float64 `msgpack:"lon"`
}

// FromLonLat converts a GeoJSON-ordered point (lon, lat) into a GeoPoint.
// GeoJSON stores longitude first; this is the one place the swap happens.
func FromLonLat(p orb.Point) GeoPoint {
	return GeoPoint{Lat: p[1], Lon: p[0]}
}

// ToMeters projects a latitude/longitude pair to spherical Mercator meters.
// Note the argument order: latitude first. x grows east, z grows north.
// The transform is fixed for the life of the process so every coordinate of
// a tile (bounds and rings) lands in the same planar frame.
func ToMeters(lat, lon float64) (x, z float64) {
	p := project.WGS84.ToMercator(orb.Point{lon, clampLat(lat)})
	return p[0], p[1]
}

// ToMeters projects the point; see the package-level ToMeters.
func (g GeoPoint) ToMeters() (x, z float64) {
	return ToMeters(g.Lat, g.Lon)
}

func clampLat(lat float64) float64 {
	if lat > MaxMercatorLat {
		return MaxMercatorLat
	}
	if lat < MinMercatorLat {
		return MinMercatorLat
	}
	return lat
}

// Transformer handles coordinate transformations between projections
type Transformer struct {
	SourceSRID int
	TargetSRID int
}

// NewTransformer creates a transformer from source to target SRID
func NewTransformer(sourceSRID, targetSRID int) (*Transformer, error) {
	if sourceSRID != SRID4326 {
		return nil, fmt.Errorf("unsupported source SRID: %d (only 4326 supported)", sourceSRID)
	}
	if targetSRID != SRID4326 && targetSRID != SRID3857 {
		return nil, fmt.Errorf("unsupported target SRID: %d (only 4326 and 3857 supported)", targetSRID)
	}

	return &Transformer{
		SourceSRID: sourceSRID,
		TargetSRID: targetSRID,
	}, nil
}

// Transform converts a coordinate from source to target projection.
// Input is lon, lat; output is x, y in the target projection.
func (t *Transformer) Transform(lon, lat float64) (x, y float64) {
	if t.SourceSRID == t.TargetSRID {
		return lon, lat
	}
	return ToMeters(lat, lon)
}

// TransformRing returns a flat [x1, y1, x2, y2, ...] array for a ring
func (t *Transformer) TransformRing(ring []GeoPoint) []float64 {
	coords := make([]float64, 0, len(ring)*2)
	for _, p := range ring {
		x, y := t.Transform(p.Lon, p.Lat)
		coords = append(coords, x, y)
	}
	return coords
}

// ParseSRID parses a projection string to SRID
// Accepts: "4326", "3857", "EPSG:4326", "EPSG:3857"
func ParseSRID(s string) (int, error) {
	switch s {
	case "4326", "EPSG:4326":
		return SRID4326, nil
	case "3857", "EPSG:3857":
		return SRID3857, nil
	default:
		return 0, fmt.Errorf("unsupported projection: %s (supported: 4326, 3857)", s)
	}
}
