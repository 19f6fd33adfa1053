package style

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultMetersPerLevel is the storey height used to turn levels into meters
const DefaultMetersPerLevel = 16.0

// Default material hints
const (
	MaterialBuilding = "grey"
	MaterialFloor    = "white"
)

// Config represents the style configuration for building selection and
// appearance
type Config struct {
	// Buildings selects which features become buildings
	Buildings *FilterConfig `yaml:"buildings,omitempty"`
	// MetersPerLevel converts building:levels into a height
	MetersPerLevel float64 `yaml:"meters_per_level,omitempty"`
	// Materials names the material hint recorded on each object kind
	Materials Materials `yaml:"materials,omitempty"`
	// Script is an optional Lua hook, relative to the style file
	Script string `yaml:"script,omitempty"`
}

// Materials holds material hints for the renderer
type Materials struct {
	Building string `yaml:"building,omitempty"`
	Floor    string `yaml:"floor,omitempty"`
}

// FilterConfig defines filtering rules on feature tags
type FilterConfig struct {
	// Include specifies which tag keys/values to include
	// If empty, all tags are included (no filtering)
	Include map[string][]string `yaml:"include,omitempty"`
	// Exclude specifies which tag keys/values to exclude
	// Applied after include rules
	Exclude map[string][]string `yaml:"exclude,omitempty"`
	// RequireAny specifies that at least one of these tags must be present
	// If empty, no requirement
	RequireAny []string `yaml:"require_any,omitempty"`
}

// LoadConfig loads a style configuration from a YAML file. Unset fields
// take their defaults and Script is resolved against the file's directory.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read style file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse style YAML: %w", err)
	}
	if cfg.MetersPerLevel < 0 {
		return nil, fmt.Errorf("meters_per_level must be positive, got %v", cfg.MetersPerLevel)
	}
	if cfg.Script != "" && !filepath.IsAbs(cfg.Script) {
		cfg.Script = filepath.Join(filepath.Dir(path), cfg.Script)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// DefaultConfig returns the built-in building style
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// DefaultBuildingFilter keeps features tagged building, except building=no
func DefaultBuildingFilter() *FilterConfig {
	return &FilterConfig{
		RequireAny: []string{"building"},
		Exclude:    map[string][]string{"building": {"no"}},
	}
}

func (c *Config) applyDefaults() {
	if c.Buildings == nil {
		c.Buildings = DefaultBuildingFilter()
	}
	if c.MetersPerLevel == 0 {
		c.MetersPerLevel = DefaultMetersPerLevel
	}
	if c.Materials.Building == "" {
		c.Materials.Building = MaterialBuilding
	}
	if c.Materials.Floor == "" {
		c.Materials.Floor = MaterialFloor
	}
}

// Filter checks if tags match the filter configuration
type Filter struct {
	cfg *FilterConfig
}

// NewFilter creates a filter from configuration
func NewFilter(cfg *FilterConfig) *Filter {
	if cfg == nil {
		return &Filter{cfg: &FilterConfig{}}
	}
	return &Filter{cfg: cfg}
}

// Match checks if the given tags match the filter rules
// Returns true if the feature should be included
func (f *Filter) Match(tags map[string]string) bool {
	if f.cfg == nil {
		return true
	}

	// Check require_any - at least one tag must be present
	if len(f.cfg.RequireAny) > 0 {
		found := false
		for _, key := range f.cfg.RequireAny {
			if _, ok := tags[key]; ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	// Check include rules
	if len(f.cfg.Include) > 0 && !matchAny(f.cfg.Include, tags) {
		return false
	}

	// Check exclude rules
	if len(f.cfg.Exclude) > 0 && matchAny(f.cfg.Exclude, tags) {
		return false
	}

	return true
}

// matchAny reports whether any rule matches. A rule with no values matches
// any value of its key; "*" is a wildcard.
func matchAny(rules map[string][]string, tags map[string]string) bool {
	for key, values := range rules {
		tagValue, ok := tags[key]
		if !ok {
			continue
		}
		if len(values) == 0 {
			return true
		}
		for _, v := range values {
			if v == tagValue || v == "*" {
				return true
			}
		}
	}
	return false
}

// HasFilter returns true if filtering is enabled
func (f *Filter) HasFilter() bool {
	if f.cfg == nil {
		return false
	}
	return len(f.cfg.Include) > 0 || len(f.cfg.Exclude) > 0 || len(f.cfg.RequireAny) > 0
}
