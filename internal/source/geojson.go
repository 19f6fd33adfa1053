package source

import (
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/wegman-software/osm2scene-go/internal/logger"
	"github.com/wegman-software/osm2scene-go/internal/proj"
)

// Some exporters flatten ':' out of tag keys.
var tagAliases = map[string]string{
	"building_levels": TagLevels,
	"buildinglevels":  TagLevels,
	"addr_housename":  TagHouseName,
	"addrhousename":   TagHouseName,
	"addr_street":     TagStreet,
	"addrstreet":      TagStreet,
}

// ParseGeoJSON reads a FeatureCollection and returns the features m accepts.
// Tags are taken from a nested "tags" object when present, otherwise from
// the flat properties. A MultiPolygon yields one feature per polygon; other
// geometry types are skipped.
func ParseGeoJSON(data []byte, m Matcher) ([]*BuildingFeature, error) {
	log := logger.Get()

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse GeoJSON: %w", err)
	}

	var (
		out      []*BuildingFeature
		filtered int
		skipped  int
	)
	for i, f := range fc.Features {
		tags := featureTags(f.Properties)
		if !matches(m, tags) {
			filtered++
			continue
		}

		id := featureID(f, i)
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			out = append(out, NewBuildingFeature(id, polygonRings(g), tags))
		case orb.MultiPolygon:
			for k, p := range g {
				fid := id
				if len(g) > 1 {
					fid = fmt.Sprintf("%s#%d", id, k)
				}
				out = append(out, NewBuildingFeature(fid, polygonRings(p), tags))
			}
		default:
			skipped++
		}
	}

	log.Debug("Parsed GeoJSON",
		zap.Int("features", len(fc.Features)),
		zap.Int("buildings", len(out)),
		zap.Int("filtered", filtered),
		zap.Int("unsupported_geometry", skipped))

	return out, nil
}

func polygonRings(p orb.Polygon) [][]proj.GeoPoint {
	rings := make([][]proj.GeoPoint, 0, len(p))
	for _, r := range p {
		ring := make([]proj.GeoPoint, len(r))
		for i, pt := range r {
			ring[i] = proj.FromLonLat(pt)
		}
		rings = append(rings, ring)
	}
	return rings
}

func featureID(f *geojson.Feature, index int) string {
	if f.ID != nil {
		return propertyString(f.ID)
	}
	for _, key := range []string{"id", "@id", "osm_id"} {
		if v, ok := f.Properties[key]; ok && v != nil {
			return propertyString(v)
		}
	}
	return "feature/" + strconv.Itoa(index)
}

func featureTags(props geojson.Properties) map[string]string {
	src := map[string]interface{}(props)
	if nested, ok := props["tags"].(map[string]interface{}); ok {
		src = nested
	}

	tags := make(map[string]string, len(src))
	for k, v := range src {
		if v == nil {
			continue
		}
		if _, isMap := v.(map[string]interface{}); isMap {
			continue
		}
		if alias, ok := tagAliases[k]; ok {
			k = alias
		}
		tags[k] = propertyString(v)
	}
	return tags
}

func propertyString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
