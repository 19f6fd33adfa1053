package flex

import (
	"os"
	"path/filepath"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/wegman-software/osm2scene-go/internal/building"
	"github.com/wegman-software/osm2scene-go/internal/source"
)

func testFeature(id string, tags map[string]string) *source.BuildingFeature {
	return source.NewBuildingFeature(id, nil, tags)
}

func TestNewRuntime(t *testing.T) {
	runtime := NewRuntime(16)
	defer runtime.Close()

	if runtime.L == nil {
		t.Fatal("Lua state should not be nil")
	}
	if err := runtime.LoadString(`mpl = osm2scene.meters_per_level`); err != nil {
		t.Fatalf("Lua execution failed: %v", err)
	}
	if got := runtime.L.GetGlobal("mpl"); got != lua.LNumber(16) {
		t.Errorf("meters_per_level = %v, want 16", got)
	}
	if runtime.HasProcessBuilding() {
		t.Error("HasProcessBuilding() = true without a callback")
	}

	ov, err := runtime.Building(testFeature("way/1", nil))
	if err != nil || ov != (building.Override{}) {
		t.Errorf("Building() without callback = %+v, %v", ov, err)
	}
}

func TestProcessBuilding(t *testing.T) {
	runtime := NewRuntime(16)
	defer runtime.Close()

	code := `
		function osm2scene.process_building(object)
			if object.tags.building == "shed" then
				return nil
			end
			if object.tags.building == "garage" then
				return false
			end
			if object.tags["building:levels"] == nil and object.tags.height then
				return { height = parse_int(object.tags.height) }
			end
			if object.tags.building == "church" then
				return { levels = 4, name = "St. " .. get_name(object.tags), material = "stone" }
			end
			return true
		end
	`
	if err := runtime.LoadString(code); err != nil {
		t.Fatalf("Lua execution failed: %v", err)
	}
	if !runtime.HasProcessBuilding() {
		t.Fatal("process_building not found")
	}

	tests := []struct {
		name string
		tags map[string]string
		want building.Override
	}{
		{"nil skips", map[string]string{"building": "shed"}, building.Override{Skip: true}},
		{"false skips", map[string]string{"building": "garage"}, building.Override{Skip: true}},
		{"true keeps", map[string]string{"building": "yes"}, building.Override{}},
		{"height", map[string]string{"building": "yes", "height": "21"}, building.Override{Height: 21}},
		{"table", map[string]string{"building": "church", "addr:street": "Fleet Street"},
			building.Override{Levels: "4", Name: "St. Fleet Street", Material: "stone"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := runtime.Building(testFeature("way/1", tt.tags))
			if err != nil {
				t.Fatalf("Building: %v", err)
			}
			if got != tt.want {
				t.Errorf("Building() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestProcessBuildingGlobalAndGrabTag(t *testing.T) {
	runtime := NewRuntime(3)
	defer runtime.Close()

	code := `
		function process_building(object)
			local name = object:grab_tag("name")
			if object.tags.name ~= nil then
				error("grab_tag did not remove the tag")
			end
			return { name = trim(name) }
		end
	`
	if err := runtime.LoadString(code); err != nil {
		t.Fatalf("Lua execution failed: %v", err)
	}

	got, err := runtime.Building(testFeature("way/2", map[string]string{"name": "  Barbican  "}))
	if err != nil {
		t.Fatalf("Building: %v", err)
	}
	if got.Name != "Barbican" {
		t.Errorf("Name = %q, want %q", got.Name, "Barbican")
	}
}

func TestProcessBuildingErrors(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"runtime error", `function process_building(o) error("boom") end`},
		{"bad return", `function process_building(o) return 42 end`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runtime := NewRuntime(16)
			defer runtime.Close()
			if err := runtime.LoadString(tt.code); err != nil {
				t.Fatalf("Lua execution failed: %v", err)
			}
			if _, err := runtime.Building(testFeature("way/3", nil)); err == nil {
				t.Error("Building() succeeded, want error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buildings.lua")
	code := `
		function osm2scene.process_building(object)
			return osm2scene.transforms.is_building(object.tags)
		end
	`
	if err := os.WriteFile(path, []byte(code), 0644); err != nil {
		t.Fatal(err)
	}

	runtime := NewRuntime(16)
	defer runtime.Close()
	if err := runtime.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	got, _ := runtime.Building(testFeature("way/4", map[string]string{"building": "no"}))
	if !got.Skip {
		t.Error("building=no was not skipped")
	}

	if err := runtime.LoadFile(filepath.Join(t.TempDir(), "missing.lua")); err == nil {
		t.Error("LoadFile accepted a missing file")
	}
}

func TestPipelineUsesRuntimeAsHook(t *testing.T) {
	runtime := NewRuntime(16)
	defer runtime.Close()
	if err := runtime.LoadString(`function process_building(o) return { levels = "2" } end`); err != nil {
		t.Fatal(err)
	}

	var hook building.Hook = runtime
	p := building.New(building.Options{Hook: hook})
	ov, err := hook.Building(testFeature("way/5", nil))
	if err != nil || ov.Levels != "2" || p == nil {
		t.Errorf("hook = %+v, %v", ov, err)
	}
}
