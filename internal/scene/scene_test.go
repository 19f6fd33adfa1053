package scene

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/wegman-software/osm2scene-go/internal/config"
	"github.com/wegman-software/osm2scene-go/internal/geom"
	"github.com/wegman-software/osm2scene-go/internal/proj"
	"github.com/wegman-software/osm2scene-go/internal/source"
)

func box(t *testing.T, height float64) *geom.Mesh {
	t.Helper()
	m, err := geom.Extrude([]geom.Point{{X: -1, Z: -1}, {X: 1, Z: -1}, {X: 1, Z: 1}, {X: -1, Z: 1}}, height)
	if err != nil {
		t.Fatal(err)
	}
	return geom.FlatShade(m)
}

func testScene(t *testing.T) *Scene {
	t.Helper()
	tile := config.BBox{MinLon: -0.2, MinLat: 51.0, MaxLon: -0.1, MaxLat: 51.1, IsSet: true}
	s := New(tile, geom.AABB{Min: geom.Point{X: -100, Z: -100}, Max: geom.Point{X: 100, Z: 100}})

	b := NewObject(KindBuilding, "Guildhall", box(t, 16))
	b.Material = "grey"
	b.SourceID = "way/1"
	b.Offset = r3.Vec{X: 10, Z: -5}
	b.Height = 16
	b.Levels = 1
	b.Footprint = []proj.GeoPoint{{Lat: 51.05, Lon: -0.15}, {Lat: 51.05, Lon: -0.14}, {Lat: 51.06, Lon: -0.14}}
	b.Tags = map[string]string{"building": "yes"}
	s.AddBuildings(b)

	floor, err := geom.Triangulate([]geom.Point{{X: -100, Z: -100}, {X: 100, Z: -100}, {X: 100, Z: 100}, {X: -100, Z: 100}})
	if err != nil {
		t.Fatal(err)
	}
	floor.UVs = []r2.Vec{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}
	s.Floor = NewObject(KindFloor, FloorName, geom.FlatShade(floor))
	s.Floor.Material = "white"

	p := DefaultProjector()
	s.Projector = &p
	s.Texture = &Texture{
		Format: "jpeg",
		Width:  2,
		Height: 2,
		Data:   []byte{0xff, 0xd8, 0xff},
		Fit:    &source.ImageFit{CropWidth: 2, CropHeight: 2, Aspect: 1},
	}
	return s
}

func TestSaveLoadRoundtrip(t *testing.T) {
	s := testScene(t)

	var buf bytes.Buffer
	if err := Save(&buf, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if diff := cmp.Diff(s, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("roundtrip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	if _, err := Load(strings.NewReader("not a scene")); err == nil {
		t.Error("Load accepted garbage")
	}
}

func TestSaveFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scene.msgpack.zst")
	s := testScene(t)

	if err := SaveFile(path, s); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind: %v", err)
	}

	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(got.Buildings) != 1 || got.Floor == nil || got.Buildings[0].Name != "Guildhall" {
		t.Errorf("loaded scene = %d buildings, floor %v", len(got.Buildings), got.Floor != nil)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing")); err == nil {
		t.Error("LoadFile accepted a missing file")
	}
}

func TestStatsAndReset(t *testing.T) {
	s := testScene(t)

	objects, vertices, triangles := s.Stats()
	if objects != 2 || vertices != 36+6 || triangles != 12+2 {
		t.Errorf("Stats() = %d, %d, %d", objects, vertices, triangles)
	}

	wb := s.Buildings[0].WorldBounds()
	if wb.Min != (r3.Vec{X: 9, Y: 0, Z: -6}) || wb.Max != (r3.Vec{X: 11, Y: 16, Z: -4}) {
		t.Errorf("WorldBounds() = %+v", wb)
	}

	s.Reset()
	if objects, _, _ := s.Stats(); objects != 0 || s.Texture != nil || s.Projector != nil {
		t.Errorf("Reset left %d objects", objects)
	}
	if !s.Tile.IsSet || s.Name != RootName || s.Group != BuildingGroup {
		t.Errorf("Reset dropped the tile: %+v", s)
	}
}

func TestWriteOBJ(t *testing.T) {
	s := testScene(t)

	var buf bytes.Buffer
	if err := WriteOBJ(&buf, s); err != nil {
		t.Fatalf("WriteOBJ: %v", err)
	}

	counts := make(map[string]int)
	var groups, faces []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		fields := strings.Fields(line)
		counts[fields[0]]++
		switch fields[0] {
		case "g":
			groups = append(groups, fields[1])
		case "f":
			faces = append(faces, line)
		}
	}

	want := map[string]int{"#": 2, "g": 2, "usemtl": 2, "v": 42, "vn": 42, "vt": 6, "f": 14}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("line counts (-want +got):\n%s", diff)
	}

	if !strings.HasPrefix(groups[0], "Guildhall_") || !strings.HasPrefix(groups[1], "Tile_Plane_") {
		t.Errorf("groups = %v", groups)
	}

	// Building faces carry normals only; floor faces index past the
	// building's 36 vertices and carry UVs too.
	if !strings.Contains(faces[0], "//") {
		t.Errorf("building face %q has no normal reference", faces[0])
	}
	if faces[12] != "f 37/37/37 38/38/38 39/39/39" {
		t.Errorf("first floor face = %q", faces[12])
	}
}

func TestWriteOBJAppliesOffset(t *testing.T) {
	s := New(config.BBox{}, geom.AABB{})
	m, err := geom.Triangulate([]geom.Point{{X: 0, Z: 0}, {X: 1, Z: 0}, {X: 0, Z: 1}})
	if err != nil {
		t.Fatal(err)
	}
	o := NewObject(KindBuilding, "", m)
	o.Offset = r3.Vec{X: 100, Z: 200}
	s.AddBuildings(o)

	var buf bytes.Buffer
	if err := WriteOBJ(&buf, s); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "v 100 0 200\n") {
		t.Errorf("offset not applied:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "g building_") {
		t.Errorf("unnamed object not named by kind:\n%s", buf.String())
	}
}

func TestOBJGroupNames(t *testing.T) {
	tests := []struct {
		name, sourceID string
		want           string
	}{
		{"Guildhall", "way/1", "Guildhall_"},
		{"", "way/9", "way/9_"},
		{"", "", "building_"},
	}
	for _, tt := range tests {
		o := NewObject(KindBuilding, tt.name, nil)
		o.SourceID = tt.sourceID
		if got := objName(o); !strings.HasPrefix(got, tt.want) {
			t.Errorf("objName(%q, %q) = %q, want prefix %q", tt.name, tt.sourceID, got, tt.want)
		}
	}
}
