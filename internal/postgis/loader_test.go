package postgis

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/wegman-software/osm2scene-go/internal/config"
	"github.com/wegman-software/osm2scene-go/internal/geom"
	"github.com/wegman-software/osm2scene-go/internal/proj"
	"github.com/wegman-software/osm2scene-go/internal/scene"
)

func TestCreateTableSQL(t *testing.T) {
	sql := CreateTableSQL(`"public"."scene_buildings"`, 3857)
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "public"."scene_buildings"`,
		"footprint GEOMETRY(Polygon, 3857)",
		"mesh GEOMETRY(TinZ, 3857)",
		"tags JSONB",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("DDL missing %q:\n%s", want, sql)
		}
	}
	if !strings.Contains(CreateTableSQL("t", 0), "GEOMETRY(Polygon, 4326)") {
		t.Error("SRID 0 should default to 4326")
	}
}

func TestRowSource(t *testing.T) {
	tile := geom.AABB{Min: geom.Point{X: 1000, Z: 2000}, Max: geom.Point{X: 1200, Z: 2400}}
	s := scene.New(config.BBox{}, tile)

	mesh, err := geom.Triangulate([]geom.Point{{X: 0, Z: 0}, {X: 1, Z: 0}, {X: 0, Z: 1}})
	if err != nil {
		t.Fatal(err)
	}
	a := scene.NewObject(scene.KindBuilding, "Guildhall", mesh)
	a.SourceID = "way/1"
	a.Levels = 2
	a.Height = 32
	a.Offset = r3.Vec{X: 5, Z: -5}
	a.Tags = map[string]string{"building": "yes"}
	a.Footprint = []proj.GeoPoint{{Lat: 51, Lon: -0.2}, {Lat: 51, Lon: -0.1}, {Lat: 51.1, Lon: -0.1}}

	b := scene.NewObject(scene.KindBuilding, "", nil)
	b.SourceID = "way/2"

	s.AddBuildings(a, b)
	s.Floor = scene.NewObject(scene.KindFloor, scene.FloorName, mesh)

	src := NewRowSource(s, 4326)
	var rows [][]any
	for src.Next() {
		v, err := src.Values()
		if err != nil {
			t.Fatal(err)
		}
		rows = append(rows, v)
	}
	if src.Err() != nil {
		t.Fatal(src.Err())
	}

	// The floor is not a building row
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	for _, row := range rows {
		if len(row) != len(Columns) {
			t.Fatalf("row has %d values, want %d", len(row), len(Columns))
		}
	}

	first := rows[0]
	if first[0] != a.ID || first[1] != "way/1" || first[4] != int32(2) || first[5] != 32.0 || first[6] != `{"building":"yes"}` {
		t.Errorf("row = %v", first[:7])
	}

	footprint := first[7].([]byte)
	if got := binary.LittleEndian.Uint32(footprint[5:]); got != 4326 {
		t.Errorf("footprint srid = %d", got)
	}

	// First TIN point: vertex (0,0,0) + tile center (1100, 2200) + offset (5, -5)
	tin := first[8].([]byte)
	x := math.Float64frombits(binary.LittleEndian.Uint64(tin[26:]))
	y := math.Float64frombits(binary.LittleEndian.Uint64(tin[34:]))
	if x != 1105 || y != 2195 {
		t.Errorf("first TIN point = (%v, %v), want (1105, 2195)", x, y)
	}

	if rows[1][7].([]byte) != nil || rows[1][8].([]byte) != nil || rows[1][6] != "{}" {
		t.Errorf("empty building row = %v", rows[1])
	}
}
