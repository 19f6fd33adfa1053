package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BBox represents a geographic bounding box
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
	IsSet                          bool
}

// Contains checks if a point is within the bounding box
func (b *BBox) Contains(lat, lon float64) bool {
	if !b.IsSet {
		return true
	}
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// String formats the box the way ParseBBox reads it
func (b BBox) String() string {
	if !b.IsSet {
		return ""
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return f(b.MinLon) + "," + f(b.MinLat) + "," + f(b.MaxLon) + "," + f(b.MaxLat)
}

// UnmarshalYAML accepts the "minlon,minlat,maxlon,maxlat" form
func (b *BBox) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseBBox(s)
	if err != nil {
		return err
	}
	*b = *parsed
	return nil
}

// ParseBBox parses a bbox string in format "minlon,minlat,maxlon,maxlat"
func ParseBBox(s string) (*BBox, error) {
	if s == "" {
		return &BBox{IsSet: false}, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox must have 4 values: minlon,minlat,maxlon,maxlat")
	}

	var coords [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bbox coordinate %q: %w", p, err)
		}
		coords[i] = v
	}

	bbox := &BBox{
		MinLon: coords[0],
		MinLat: coords[1],
		MaxLon: coords[2],
		MaxLat: coords[3],
		IsSet:  true,
	}

	// Validate
	if bbox.MinLon > bbox.MaxLon {
		return nil, fmt.Errorf("minlon (%f) must be <= maxlon (%f)", bbox.MinLon, bbox.MaxLon)
	}
	if bbox.MinLat > bbox.MaxLat {
		return nil, fmt.Errorf("minlat (%f) must be <= maxlat (%f)", bbox.MinLat, bbox.MaxLat)
	}

	return bbox, nil
}

// DefaultBBox is the tile loaded when none is given (central London)
const DefaultBBox = "-0.2,51.0,-0.1,51.1"

// Output file names inside OutputDir
const (
	SceneFileName   = "scene.msgpack.zst"
	OBJFileName     = "scene.obj"
	ParquetFileName = "buildings.parquet"
)

// Config holds the global configuration for a scene build
type Config struct {
	// Tile
	BBox *BBox `yaml:"bbox"`

	// Input settings: either the mapping API or local files
	APIBaseURL   string `yaml:"api_base_url"`
	GeometryFile string `yaml:"geometry_file"` // GeoJSON or PBF
	ImageFile    string `yaml:"image_file"`
	MetadataFile string `yaml:"metadata_file"`
	CacheDir     string `yaml:"cache_dir"` // on-disk fetch cache (empty = none)

	// Fetch settings
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	FetchRetries int           `yaml:"fetch_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`

	// Output settings
	OutputDir    string `yaml:"output_dir"`
	WriteOBJ     bool   `yaml:"write_obj"`
	WriteParquet bool   `yaml:"write_parquet"`
	Projection   int    `yaml:"projection"` // footprint SRID (4326 or 3857)
	StyleFile    string `yaml:"style_file"` // style YAML or Lua hook

	// Building settings
	MetersPerLevel float64 `yaml:"meters_per_level"`

	// Scheduling
	TickInterval    time.Duration `yaml:"tick_interval"`
	LoadTimeout     time.Duration `yaml:"load_timeout"`
	FailurePolicy   string        `yaml:"failure_policy"`    // settle or stall
	CenterDriftWarn float64       `yaml:"center_drift_warn"` // meters

	// Database settings
	PostGIS    bool   `yaml:"postgis"`
	DBHost     string `yaml:"db_host"`
	DBPort     int    `yaml:"db_port"`
	DBName     string `yaml:"db_name"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBSchema   string `yaml:"db_schema"`
	DBTable    string `yaml:"db_table"`
	DropTable  bool   `yaml:"drop_table"`

	// Logging and metrics
	Verbose         bool          `yaml:"verbose"`
	LogFile         string        `yaml:"log_file"`         // Path to log file (empty = no file logging)
	MetricsInterval time.Duration `yaml:"metrics_interval"` // Interval for system metrics logging
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	bbox, _ := ParseBBox(DefaultBBox)
	return &Config{
		BBox:            bbox,
		APIBaseURL:      "http://localhost:8165",
		FetchTimeout:    60 * time.Second,
		FetchRetries:    3,
		RetryDelay:      2 * time.Second,
		OutputDir:       "./scene_data",
		WriteOBJ:        true,
		Projection:      4326, // WGS84 by default
		MetersPerLevel:  16,
		TickInterval:    16 * time.Millisecond,
		LoadTimeout:     5 * time.Minute,
		FailurePolicy:   "settle",
		CenterDriftWarn: 50,
		DBHost:          "localhost",
		DBPort:          5432,
		DBName:          "osm",
		DBUser:          "postgres",
		DBSchema:        "public",
		DBTable:         "scene_buildings",
		MetricsInterval: 30 * time.Second,
	}
}

// LoadFile merges a YAML config file over c. Keys absent from the file keep
// their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// UseLocalFiles reports whether inputs come from files instead of the API
func (c *Config) UseLocalFiles() bool {
	return c.GeometryFile != ""
}

// ScenePath returns the path of the msgpack scene file
func (c *Config) ScenePath() string {
	return filepath.Join(c.OutputDir, SceneFileName)
}

// OBJPath returns the path of the Wavefront OBJ export
func (c *Config) OBJPath() string {
	return filepath.Join(c.OutputDir, OBJFileName)
}

// ParquetPath returns the path of the building Parquet export
func (c *Config) ParquetPath() string {
	return filepath.Join(c.OutputDir, ParquetFileName)
}

// ConnectionString returns a PostgreSQL connection string
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.BBox == nil || !c.BBox.IsSet {
		return fmt.Errorf("bbox is required")
	}
	if c.BBox.MinLon == c.BBox.MaxLon || c.BBox.MinLat == c.BBox.MaxLat {
		return fmt.Errorf("bbox %s has zero area", c.BBox)
	}
	if c.UseLocalFiles() {
		if c.ImageFile == "" || c.MetadataFile == "" {
			return fmt.Errorf("geometry file given: image and metadata files are required too")
		}
	} else if c.APIBaseURL == "" {
		return fmt.Errorf("api base url or local input files are required")
	}
	if c.MetersPerLevel <= 0 {
		return fmt.Errorf("meters per level must be positive")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	if c.Projection != 4326 && c.Projection != 3857 {
		return fmt.Errorf("unsupported projection: %d (supported: 4326, 3857)", c.Projection)
	}
	if c.PostGIS && c.DBTable == "" {
		return fmt.Errorf("db table is required for PostGIS output")
	}
	return nil
}
