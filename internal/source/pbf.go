package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"go.uber.org/zap"

	"github.com/wegman-software/osm2scene-go/internal/config"
	"github.com/wegman-software/osm2scene-go/internal/logger"
	"github.com/wegman-software/osm2scene-go/internal/proj"
)

// Format identifies a footprint file encoding.
type Format int

const (
	FormatUnknown Format = iota
	FormatGeoJSON
	FormatPBF
)

func (f Format) String() string {
	switch f {
	case FormatGeoJSON:
		return "geojson"
	case FormatPBF:
		return "pbf"
	default:
		return "unknown"
	}
}

// DetectFormat guesses the encoding from the file name, then the content.
func DetectFormat(name string, data []byte) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pbf":
		return FormatPBF
	case ".geojson", ".json":
		return FormatGeoJSON
	}

	head := data
	if len(head) > 64 {
		head = head[:64]
	}
	if bytes.Contains(head, []byte("OSMHeader")) {
		return FormatPBF
	}
	if trimmed := bytes.TrimSpace(head); len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatGeoJSON
	}
	return FormatUnknown
}

// ParseBuildings decodes data according to its detected format.
func ParseBuildings(ctx context.Context, name string, data []byte, bbox *config.BBox, m Matcher) ([]*BuildingFeature, error) {
	switch format := DetectFormat(name, data); format {
	case FormatGeoJSON:
		return ParseGeoJSON(data, m)
	case FormatPBF:
		return ReadPBF(ctx, bytes.NewReader(data), bbox, m)
	default:
		return nil, fmt.Errorf("unrecognized footprint format for %q", name)
	}
}

// ReadPBF extracts building footprints from closed ways in an OSM PBF
// stream. Node coordinates are held in memory, which suits tile-sized
// extracts. A way is kept when any of its nodes falls inside bbox.
func ReadPBF(ctx context.Context, r io.Reader, bbox *config.BBox, m Matcher) ([]*BuildingFeature, error) {
	log := logger.Get()

	scanner := osmpbf.New(ctx, r, runtime.NumCPU())
	defer scanner.Close()

	c := newWayCollector(bbox, m)
	for scanner.Scan() {
		switch obj := scanner.Object().(type) {
		case *osm.Node:
			c.addNode(obj)
		case *osm.Way:
			c.addWay(obj)
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read PBF: %w", err)
	}

	log.Debug("Read PBF",
		zap.Int("nodes", len(c.nodes)),
		zap.Int("buildings", len(c.features)),
		zap.Int("open_ways", c.open),
		zap.Int("missing_nodes", c.missing))

	return c.features, nil
}

// wayCollector turns closed building ways into features. Nodes must be
// added before the ways that reference them, which PBF ordering guarantees.
type wayCollector struct {
	bbox    *config.BBox
	matcher Matcher
	nodes   map[osm.NodeID]proj.GeoPoint

	features []*BuildingFeature
	open     int
	missing  int
}

func newWayCollector(bbox *config.BBox, m Matcher) *wayCollector {
	return &wayCollector{
		bbox:    bbox,
		matcher: m,
		nodes:   make(map[osm.NodeID]proj.GeoPoint),
	}
}

func (c *wayCollector) addNode(n *osm.Node) {
	c.nodes[n.ID] = proj.GeoPoint{Lat: n.Lat, Lon: n.Lon}
}

func (c *wayCollector) addWay(w *osm.Way) {
	tags := tagsToMap(w.Tags)
	if !matches(c.matcher, tags) {
		return
	}
	if len(w.Nodes) < 4 || w.Nodes[0].ID != w.Nodes[len(w.Nodes)-1].ID {
		c.open++
		return
	}

	ring := make([]proj.GeoPoint, 0, len(w.Nodes))
	inBBox := c.bbox == nil || !c.bbox.IsSet
	for _, wn := range w.Nodes {
		p, ok := c.nodes[wn.ID]
		if !ok {
			c.missing++
			return
		}
		if !inBBox && c.bbox.Contains(p.Lat, p.Lon) {
			inBBox = true
		}
		ring = append(ring, p)
	}
	if !inBBox {
		return
	}

	id := "way/" + strconv.FormatInt(int64(w.ID), 10)
	c.features = append(c.features, NewBuildingFeature(id, [][]proj.GeoPoint{ring}, tags))
}

// tagsToMap converts OSM tags to a map
func tagsToMap(tags osm.Tags) map[string]string {
	m := make(map[string]string, len(tags))
	for _, tag := range tags {
		m[tag.Key] = tag.Value
	}
	return m
}
