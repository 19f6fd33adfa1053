package flex

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/wegman-software/osm2scene-go/internal/style"
)

var (
	whitespaceRegex = regexp.MustCompile(`\s+`)
	// OSM height values: "12", "12 m", "12.5m", "40'", "40 ft"
	heightRegex = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)\s*(m|ft|')?$`)
)

const metersPerFoot = 0.3048

// RegisterTransforms registers the tag helpers under osm2scene.transforms
// and the most common ones as globals
func RegisterTransforms(L *lua.LState) {
	transforms := L.NewTable()

	// String transforms
	L.SetField(transforms, "trim", L.NewFunction(luaTrim))
	L.SetField(transforms, "lower", L.NewFunction(luaLower))
	L.SetField(transforms, "upper", L.NewFunction(luaUpper))
	L.SetField(transforms, "clean_spaces", L.NewFunction(luaCleanSpaces))

	// Type parsing
	L.SetField(transforms, "parse_int", L.NewFunction(luaParseInt))
	L.SetField(transforms, "parse_real", L.NewFunction(luaParseReal))
	L.SetField(transforms, "parse_bool", L.NewFunction(luaParseBool))

	// Building helpers
	L.SetField(transforms, "get_name", L.NewFunction(luaGetName))
	L.SetField(transforms, "is_building", L.NewFunction(luaIsBuilding))
	L.SetField(transforms, "parse_height", L.NewFunction(luaParseHeight))
	L.SetField(transforms, "levels_to_height", L.NewFunction(luaLevelsToHeight))

	// Tag formatting
	L.SetField(transforms, "tags_to_json", L.NewFunction(luaTagsToJSON))
	L.SetField(transforms, "filter_tags", L.NewFunction(luaFilterTags))

	api := L.GetGlobal(apiName)
	if api == lua.LNil {
		api = L.NewTable()
		L.SetGlobal(apiName, api)
	}
	L.SetField(api.(*lua.LTable), "transforms", transforms)

	L.SetGlobal("trim", L.NewFunction(luaTrim))
	L.SetGlobal("parse_int", L.NewFunction(luaParseInt))
	L.SetGlobal("parse_bool", L.NewFunction(luaParseBool))
	L.SetGlobal("get_name", L.NewFunction(luaGetName))
	L.SetGlobal("parse_height", L.NewFunction(luaParseHeight))
}

// optNumber returns argument n, or def when it is absent
func optNumber(L *lua.LState, n int, def float64) float64 {
	if L.GetTop() >= n {
		return float64(L.CheckNumber(n))
	}
	return def
}

func luaTrim(L *lua.LState) int {
	L.Push(lua.LString(strings.TrimSpace(L.CheckString(1))))
	return 1
}

func luaLower(L *lua.LState) int {
	L.Push(lua.LString(strings.ToLower(L.CheckString(1))))
	return 1
}

func luaUpper(L *lua.LState) int {
	L.Push(lua.LString(strings.ToUpper(L.CheckString(1))))
	return 1
}

// luaCleanSpaces collapses runs of whitespace and trims
func luaCleanSpaces(L *lua.LState) int {
	s := whitespaceRegex.ReplaceAllString(L.CheckString(1), " ")
	L.Push(lua.LString(strings.TrimSpace(s)))
	return 1
}

// luaParseInt parses string to integer with optional default
func luaParseInt(L *lua.LState) int {
	s := strings.TrimSpace(L.CheckString(1))
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// "3.7" counts as 3
		if f, ferr := strconv.ParseFloat(s, 64); ferr == nil {
			n = int64(f)
		} else {
			n = int64(optNumber(L, 2, 0))
		}
	}
	L.Push(lua.LNumber(n))
	return 1
}

// luaParseReal parses string to float with optional default
func luaParseReal(L *lua.LState) int {
	f, err := strconv.ParseFloat(strings.TrimSpace(L.CheckString(1)), 64)
	if err != nil {
		f = optNumber(L, 2, 0)
	}
	L.Push(lua.LNumber(f))
	return 1
}

// luaParseBool parses yes/no style values; any other non-empty value is true
func luaParseBool(L *lua.LState) int {
	switch strings.ToLower(strings.TrimSpace(L.CheckString(1))) {
	case "no", "false", "0", "off", "":
		L.Push(lua.LFalse)
	default:
		L.Push(lua.LTrue)
	}
	return 1
}

// luaGetName returns the display name of a building.
// Priority: name, addr:housename, addr:street
func luaGetName(L *lua.LState) int {
	tags := L.CheckTable(1)
	for _, key := range []string{"name", "addr:housename", "addr:street"} {
		if v := L.GetField(tags, key); v != lua.LNil {
			if s := lua.LVAsString(v); s != "" {
				L.Push(lua.LString(s))
				return 1
			}
		}
	}
	L.Push(lua.LNil)
	return 1
}

// luaIsBuilding reports whether tags carry a building value other than "no"
func luaIsBuilding(L *lua.LState) int {
	tags := L.CheckTable(1)
	v := lua.LVAsString(L.GetField(tags, "building"))
	L.Push(lua.LBool(v != "" && v != "no"))
	return 1
}

// ParseHeight reads an OSM height value in meters or feet. ok is false for
// anything else, including zero.
func ParseHeight(s string) (meters float64, ok bool) {
	m := heightRegex.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	if m[2] == "ft" || m[2] == "'" {
		v *= metersPerFoot
	}
	return v, true
}

// luaParseHeight returns the height in meters, or nil when unparsable
func luaParseHeight(L *lua.LState) int {
	if v, ok := ParseHeight(L.CheckString(1)); ok {
		L.Push(lua.LNumber(v))
	} else {
		L.Push(lua.LNil)
	}
	return 1
}

// luaLevelsToHeight multiplies a level count by the storey height
// Usage: levels_to_height(levels [, meters_per_level])
func luaLevelsToHeight(L *lua.LState) int {
	levels := float64(L.CheckNumber(1))
	if levels < 1 {
		levels = 1
	}
	L.Push(lua.LNumber(levels * optNumber(L, 2, style.DefaultMetersPerLevel)))
	return 1
}

// luaTagsToJSON converts tags table to JSON string
func luaTagsToJSON(L *lua.LState) int {
	tags := L.CheckTable(1)

	m := make(map[string]string)
	tags.ForEach(func(k, v lua.LValue) {
		if key := lua.LVAsString(k); key != "" {
			m[key] = lua.LVAsString(v)
		}
	})

	b, err := json.Marshal(m)
	if err != nil {
		b = []byte("{}")
	}
	L.Push(lua.LString(b))
	return 1
}

// luaFilterTags keeps only the listed keys
// Usage: filter_tags(tags, {"name", "building", "height"})
func luaFilterTags(L *lua.LState) int {
	tags := L.CheckTable(1)
	keepKeys := L.CheckTable(2)

	keep := make(map[string]bool)
	keepKeys.ForEach(func(_, v lua.LValue) {
		if s := lua.LVAsString(v); s != "" {
			keep[s] = true
		}
	})

	result := L.NewTable()
	tags.ForEach(func(k, v lua.LValue) {
		if key := lua.LVAsString(k); keep[key] {
			L.SetField(result, key, v)
		}
	})

	L.Push(result)
	return 1
}
