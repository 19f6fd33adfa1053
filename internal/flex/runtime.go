// Package flex runs Lua style scripts that decide, per building, whether it
// is built and with which levels, height, name and material.
//
// A script defines osm2scene.process_building(object). Returning nil or
// false drops the building, true keeps it unchanged, and a table may set
// levels, height, name or material.
package flex

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wegman-software/osm2scene-go/internal/building"
	"github.com/wegman-software/osm2scene-go/internal/logger"
	"github.com/wegman-software/osm2scene-go/internal/source"
)

const apiName = "osm2scene"

// Runtime manages the Lua interpreter. It implements building.Hook.
type Runtime struct {
	L               *lua.LState
	mu              sync.Mutex
	metersPerLevel  float64
	processBuilding lua.LValue
}

// NewRuntime creates a Lua runtime with the osm2scene API
func NewRuntime(metersPerLevel float64) *Runtime {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	r := &Runtime{
		L:              L,
		metersPerLevel: metersPerLevel,
	}

	r.registerAPI()
	return r
}

// Close releases Lua resources
func (r *Runtime) Close() {
	r.L.Close()
}

// registerAPI registers the osm2scene Lua API
func (r *Runtime) registerAPI() {
	api := r.L.NewTable()
	api.RawSetString("version", lua.LString("1.0.0"))
	api.RawSetString("meters_per_level", lua.LNumber(r.metersPerLevel))
	r.L.SetGlobal(apiName, api)

	RegisterTransforms(r.L)

	r.L.SetGlobal("print", r.L.NewFunction(r.luaPrint))
}

// LoadFile loads and executes a Lua style file
func (r *Runtime) LoadFile(path string) error {
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to load Lua file: %w", err)
	}

	r.extractCallbacks()
	return nil
}

// LoadString loads and executes Lua code from a string
func (r *Runtime) LoadString(code string) error {
	if err := r.L.DoString(code); err != nil {
		return fmt.Errorf("failed to load Lua code: %w", err)
	}

	r.extractCallbacks()
	return nil
}

// extractCallbacks looks for osm2scene.process_building, then a global
// process_building
func (r *Runtime) extractCallbacks() {
	if api, ok := r.L.GetGlobal(apiName).(*lua.LTable); ok {
		r.processBuilding = api.RawGetString("process_building")
	}
	if !r.HasProcessBuilding() {
		r.processBuilding = r.L.GetGlobal("process_building")
	}
}

// HasProcessBuilding returns true if process_building is defined
func (r *Runtime) HasProcessBuilding() bool {
	return r.processBuilding != nil && r.processBuilding.Type() == lua.LTFunction
}

// Building calls process_building for f
func (r *Runtime) Building(f *source.BuildingFeature) (building.Override, error) {
	if !r.HasProcessBuilding() {
		return building.Override{}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.L.CallByParam(lua.P{
		Fn:      r.processBuilding,
		NRet:    1,
		Protect: true,
	}, r.featureToLua(f)); err != nil {
		return building.Override{}, fmt.Errorf("lua callback error: %w", err)
	}

	ret := r.L.Get(-1)
	r.L.Pop(1)
	return overrideFromLua(ret)
}

// featureToLua converts a feature to a Lua table
func (r *Runtime) featureToLua(f *source.BuildingFeature) *lua.LTable {
	L := r.L
	tbl := L.NewTable()

	tbl.RawSetString("id", lua.LString(f.ID))
	tbl.RawSetString("name", lua.LString(f.DisplayName()))
	tbl.RawSetString("levels", lua.LNumber(building.ParseLevels(f.Levels)))
	tbl.RawSetString("points", lua.LNumber(len(f.OuterRing())))

	tags := L.NewTable()
	for k, v := range f.Tags {
		tags.RawSetString(k, lua.LString(v))
	}
	tbl.RawSetString("tags", tags)

	// object:grab_tag(key) returns the value and removes it from tags
	L.SetField(tbl, "grab_tag", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(2)
		v := tags.RawGetString(key)
		tags.RawSetString(key, lua.LNil)
		L.Push(v)
		return 1
	}))

	return tbl
}

// overrideFromLua interprets the value returned by process_building
func overrideFromLua(v lua.LValue) (building.Override, error) {
	switch ret := v.(type) {
	case *lua.LNilType:
		return building.Override{Skip: true}, nil
	case lua.LBool:
		return building.Override{Skip: !bool(ret)}, nil
	case *lua.LTable:
		var ov building.Override
		if skip, ok := ret.RawGetString("skip").(lua.LBool); ok {
			ov.Skip = bool(skip)
		}
		switch levels := ret.RawGetString("levels").(type) {
		case lua.LNumber:
			ov.Levels = strconv.Itoa(int(levels))
		case lua.LString:
			ov.Levels = string(levels)
		}
		if h, ok := ret.RawGetString("height").(lua.LNumber); ok {
			ov.Height = float64(h)
		}
		if name, ok := ret.RawGetString("name").(lua.LString); ok {
			ov.Name = string(name)
		}
		if mat, ok := ret.RawGetString("material").(lua.LString); ok {
			ov.Material = string(mat)
		}
		return ov, nil
	default:
		return building.Override{}, fmt.Errorf("process_building returned %s, want nil, boolean or table", v.Type())
	}
}

// luaPrint routes print() to the logger
func (r *Runtime) luaPrint(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	logger.Get().Info("lua", zap.String("message", strings.Join(parts, "\t")))
	return 0
}
