package source

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/osm"

	"github.com/wegman-software/osm2scene-go/internal/config"
	"github.com/wegman-software/osm2scene-go/internal/proj"
)

const collection = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "id": "way/1",
      "geometry": {"type": "Polygon", "coordinates": [[[-0.15,51.05],[-0.14,51.05],[-0.14,51.06],[-0.15,51.06],[-0.15,51.05]]]},
      "properties": {"tags": {"building": "yes", "building_levels": "3", "name": "Town Hall"}}
    },
    {
      "type": "Feature",
      "geometry": {"type": "Polygon", "coordinates": [[[-0.13,51.05],[-0.12,51.05],[-0.12,51.06],[-0.13,51.05]]]},
      "properties": {"building": "house", "addr:street": "High Street", "building:levels": 2}
    },
    {
      "type": "Feature",
      "id": 7,
      "geometry": {"type": "MultiPolygon", "coordinates": [
        [[[0,0],[1,0],[1,1],[0,0]]],
        [[[2,2],[3,2],[3,3],[2,2]]]
      ]},
      "properties": {"tags": {"building": "retail"}}
    },
    {
      "type": "Feature",
      "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,0]]]},
      "properties": {"tags": {"landuse": "grass"}}
    },
    {
      "type": "Feature",
      "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,0]]]},
      "properties": {"tags": {"building": "no"}}
    },
    {
      "type": "Feature",
      "geometry": {"type": "Point", "coordinates": [0,0]},
      "properties": {"tags": {"building": "yes"}}
    }
  ]
}`

func TestParseGeoJSON(t *testing.T) {
	features, err := ParseGeoJSON([]byte(collection), nil)
	if err != nil {
		t.Fatalf("ParseGeoJSON: %v", err)
	}

	var ids []string
	for _, f := range features {
		ids = append(ids, f.ID)
	}
	if diff := cmp.Diff([]string{"way/1", "feature/1", "7#0", "7#1"}, ids); diff != "" {
		t.Fatalf("feature IDs (-want +got):\n%s", diff)
	}

	hall := features[0]
	if hall.Levels != "3" || hall.Name != "Town Hall" {
		t.Errorf("nested tags: levels %q name %q", hall.Levels, hall.Name)
	}
	ring := hall.OuterRing()
	if len(ring) != 5 {
		t.Fatalf("ring has %d points, want 5", len(ring))
	}
	if want := (proj.GeoPoint{Lat: 51.05, Lon: -0.15}); ring[0] != want {
		t.Errorf("first point = %+v, want %+v (lat/lon swapped?)", ring[0], want)
	}

	house := features[1]
	if house.Levels != "2" || house.Street != "High Street" {
		t.Errorf("flat properties: levels %q street %q", house.Levels, house.Street)
	}
	if house.DisplayName() != "High Street" {
		t.Errorf("DisplayName() = %q, want street fallback", house.DisplayName())
	}
}

type keyMatcher string

func (k keyMatcher) Match(tags map[string]string) bool {
	_, ok := tags[string(k)]
	return ok
}

func TestParseGeoJSONWithMatcher(t *testing.T) {
	features, err := ParseGeoJSON([]byte(collection), keyMatcher("landuse"))
	if err != nil {
		t.Fatalf("ParseGeoJSON: %v", err)
	}
	if len(features) != 1 || features[0].Tags["landuse"] != "grass" {
		t.Errorf("got %d features, want the single landuse feature", len(features))
	}
}

func TestParseGeoJSONInvalid(t *testing.T) {
	for _, in := range []string{`not json`, `{"type":"Feature"}`} {
		if _, err := ParseGeoJSON([]byte(in), nil); err == nil {
			t.Errorf("ParseGeoJSON(%q) succeeded, want error", in)
		}
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name string
		tags map[string]string
		want string
	}{
		{"name wins", map[string]string{TagName: "A", TagHouseName: "B", TagStreet: "C"}, "A"},
		{"house name", map[string]string{TagHouseName: "B", TagStreet: "C"}, "B"},
		{"street", map[string]string{TagStreet: "C"}, "C"},
		{"none", map[string]string{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewBuildingFeature("x", nil, tt.tags)
			if got := f.DisplayName(); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWayCollector(t *testing.T) {
	bbox := &config.BBox{MinLon: -1, MinLat: 50, MaxLon: 1, MaxLat: 52, IsSet: true}
	c := newWayCollector(bbox, nil)

	nodes := []*osm.Node{
		{ID: 1, Lat: 51.0, Lon: 0.0},
		{ID: 2, Lat: 51.0, Lon: 0.001},
		{ID: 3, Lat: 51.001, Lon: 0.001},
		{ID: 4, Lat: 60.0, Lon: 10.0},
		{ID: 5, Lat: 60.0, Lon: 10.001},
		{ID: 6, Lat: 60.001, Lon: 10.001},
	}
	for _, n := range nodes {
		c.addNode(n)
	}

	building := osm.Tags{{Key: "building", Value: "yes"}, {Key: "building:levels", Value: "4"}}
	ways := []*osm.Way{
		{ID: 10, Nodes: osm.WayNodes{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 1}}, Tags: building},
		{ID: 11, Nodes: osm.WayNodes{{ID: 1}, {ID: 2}, {ID: 3}}, Tags: building},           // open
		{ID: 12, Nodes: osm.WayNodes{{ID: 4}, {ID: 5}, {ID: 6}, {ID: 4}}, Tags: building},  // outside bbox
		{ID: 13, Nodes: osm.WayNodes{{ID: 1}, {ID: 2}, {ID: 99}, {ID: 1}}, Tags: building}, // missing node
		{ID: 14, Nodes: osm.WayNodes{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 1}}, Tags: osm.Tags{{Key: "highway", Value: "service"}}},
	}
	for _, w := range ways {
		c.addWay(w)
	}

	if len(c.features) != 1 {
		t.Fatalf("features = %d, want 1", len(c.features))
	}
	f := c.features[0]
	if f.ID != "way/10" || f.Levels != "4" || len(f.OuterRing()) != 4 {
		t.Errorf("feature = %+v", f)
	}
	if c.open != 1 || c.missing != 1 {
		t.Errorf("open = %d, missing = %d; want 1, 1", c.open, c.missing)
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		data string
		want Format
	}{
		{"tile.osm.pbf", "", FormatPBF},
		{"tile.geojson", "", FormatGeoJSON},
		{"download", "  {\"type\":\"FeatureCollection\"}", FormatGeoJSON},
		{"download", "\x00\x00\x00\x0d\x0a\x09OSMHeader", FormatPBF},
		{"download", "GIF89a", FormatUnknown},
	}
	for _, tt := range tests {
		if got := DetectFormat(tt.name, []byte(tt.data)); got != tt.want {
			t.Errorf("DetectFormat(%q, %q) = %v, want %v", tt.name, tt.data, got, tt.want)
		}
	}
}

func TestParseBuildingsUnknownFormat(t *testing.T) {
	if _, err := ParseBuildings(context.Background(), "x.bin", []byte("GIF89a"), nil, nil); err == nil {
		t.Error("ParseBuildings accepted unknown data")
	}
}

const metadataJSON = `{
  "resourceSets": [{
    "resources": [{
      "bbox": [51.0, -0.2, 51.2, 0.0],
      "mapCenter": {"type": "Point", "coordinates": [51.1, -0.1]},
      "imageWidth": "1000",
      "imageHeight": 800
    }]
  }]
}`

func TestParseMetadata(t *testing.T) {
	m, err := ParseMetadata([]byte(metadataJSON))
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}
	want := &Metadata{
		MinLat: 51.0, MinLon: -0.2, MaxLat: 51.2, MaxLon: 0.0,
		Center:     proj.GeoPoint{Lat: 51.1, Lon: -0.1},
		ImageWidth: 1000, ImageHeight: 800,
	}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("metadata (-want +got):\n%s", diff)
	}
}

func TestParseMetadataErrors(t *testing.T) {
	tests := []string{
		`{`,
		`{"resourceSets": []}`,
		`{"resourceSets": [{"resources": [{"bbox": [1, 2, 3]}]}]}`,
		`{"resourceSets": [{"resources": [{"bbox": [1, 2, 3, 4], "imageWidth": "wide"}]}]}`,
	}
	for _, in := range tests {
		if _, err := ParseMetadata([]byte(in)); err == nil {
			t.Errorf("ParseMetadata(%s) succeeded, want error", in)
		}
	}
}

func TestFitImage(t *testing.T) {
	m, err := ParseMetadata([]byte(metadataJSON))
	if err != nil {
		t.Fatal(err)
	}
	tile := config.BBox{MinLon: -0.15, MinLat: 51.05, MaxLon: -0.05, MaxLat: 51.15, IsSet: true}

	fit, err := FitImage(m, tile)
	if err != nil {
		t.Fatalf("FitImage: %v", err)
	}
	if math.Abs(fit.PropX-0.5) > 1e-9 || math.Abs(fit.PropY-0.5) > 1e-9 {
		t.Errorf("props = %v, %v; want 0.5, 0.5", fit.PropX, fit.PropY)
	}
	if fit.CropWidth != 500 || fit.CropHeight != 400 {
		t.Errorf("crop = %dx%d, want 500x400", fit.CropWidth, fit.CropHeight)
	}
	if fit.CropX != 250 || fit.CropY != 200 {
		t.Errorf("origin = %d,%d; want 250,200", fit.CropX, fit.CropY)
	}
	if math.Abs(fit.Aspect-1.25) > 1e-9 {
		t.Errorf("aspect = %v, want 1.25", fit.Aspect)
	}
	if fit.CenterDrift > 1e-3 || fit.BoundsDrift > 1e-3 {
		t.Errorf("drift = %v, %v; want ~0", fit.CenterDrift, fit.BoundsDrift)
	}

	// Shift the declared center by 0.01 degrees of latitude (~1.1 km).
	m.Center.Lat += 0.01
	fit, _ = FitImage(m, tile)
	if fit.CenterDrift < 1000 || fit.BoundsDrift > 1e-3 {
		t.Errorf("drift after shift = %v, %v", fit.CenterDrift, fit.BoundsDrift)
	}
}

func TestFitImageRoundsHalfAwayFromZero(t *testing.T) {
	m := &Metadata{MinLat: 0, MinLon: 0, MaxLat: 1, MaxLon: 1, ImageWidth: 3, ImageHeight: 5}
	fit, err := FitImage(m, config.BBox{MinLon: 0, MinLat: 0, MaxLon: 0.5, MaxLat: 0.5})
	if err != nil {
		t.Fatalf("FitImage: %v", err)
	}
	if fit.CropWidth != 2 || fit.CropHeight != 3 {
		t.Errorf("crop = %dx%d, want 2x3", fit.CropWidth, fit.CropHeight)
	}
}

func TestFitImageRejectsBadMetadata(t *testing.T) {
	tile := config.BBox{MinLon: 0, MinLat: 0, MaxLon: 1, MaxLat: 1}
	for _, m := range []*Metadata{
		{MaxLat: 1, MaxLon: 1},
		{ImageWidth: 10, ImageHeight: 10},
	} {
		if _, err := FitImage(m, tile); err == nil {
			t.Errorf("FitImage(%+v) succeeded, want error", m)
		}
	}
}

func TestDecodeImageConfig(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 3))); err != nil {
		t.Fatal(err)
	}
	cfg, format, err := DecodeImageConfig(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeImageConfig: %v", err)
	}
	if format != "png" || cfg.Width != 4 || cfg.Height != 3 {
		t.Errorf("got %s %dx%d, want png 4x3", format, cfg.Width, cfg.Height)
	}
	if _, _, err := DecodeImageConfig([]byte("nope")); err == nil {
		t.Error("DecodeImageConfig accepted garbage")
	}
}
