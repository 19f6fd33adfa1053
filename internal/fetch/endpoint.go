package fetch

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/wegman-software/osm2scene-go/internal/config"
)

// DefaultBaseURL is where the mapping API listens in a local setup.
const DefaultBaseURL = "http://localhost:8165"

// Endpoint describes a mapping API that serves building geometry, imagery
// and imagery metadata for a bounding box.
type Endpoint struct {
	Name        string
	BaseURL     string
	Description string
}

// Resource names under /api/mapping/
const (
	ResourceGeometry = "geoJson"
	ResourceImage    = "image"
	ResourceMetadata = "metadata"
)

// EndpointLocal is the mapping API on the default local port.
var EndpointLocal = &Endpoint{
	Name:        "local",
	BaseURL:     DefaultBaseURL,
	Description: "Mapping API running on localhost",
}

// NewEndpoint returns an endpoint for baseURL, or EndpointLocal when empty.
func NewEndpoint(baseURL string) *Endpoint {
	if baseURL == "" {
		return EndpointLocal
	}
	return &Endpoint{
		Name:    "custom",
		BaseURL: strings.TrimRight(baseURL, "/"),
	}
}

// GeometryURL returns the URL of the building GeoJSON for bbox
func (e *Endpoint) GeometryURL(bbox config.BBox) string {
	return e.resourceURL(ResourceGeometry, bbox)
}

// ImageURL returns the URL of the satellite raster for bbox
func (e *Endpoint) ImageURL(bbox config.BBox) string {
	return e.resourceURL(ResourceImage, bbox)
}

// MetadataURL returns the URL of the raster metadata for bbox
func (e *Endpoint) MetadataURL(bbox config.BBox) string {
	return e.resourceURL(ResourceMetadata, bbox)
}

func (e *Endpoint) resourceURL(resource string, bbox config.BBox) string {
	q := url.Values{}
	q.Set("maxLat", formatCoord(bbox.MaxLat))
	q.Set("maxLon", formatCoord(bbox.MaxLon))
	q.Set("minLat", formatCoord(bbox.MinLat))
	q.Set("minLon", formatCoord(bbox.MinLon))
	return e.BaseURL + "/api/mapping/" + resource + "?" + q.Encode()
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
