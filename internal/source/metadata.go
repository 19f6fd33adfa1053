package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for DecodeImageConfig
	_ "image/png"
	"math"
	"strconv"

	"github.com/wegman-software/osm2scene-go/internal/config"
	"github.com/wegman-software/osm2scene-go/internal/proj"
)

// Metadata describes the raster returned for a tile request. The imagery
// service may return a larger area than requested, so the raster's own
// bounds are kept alongside its pixel size.
type Metadata struct {
	MinLat, MinLon, MaxLat, MaxLon float64
	Center                         proj.GeoPoint
	ImageWidth                     int
	ImageHeight                    int
	ImageURL                       string
}

// BoundsCenter is the middle of the declared bounds, which need not equal
// the declared Center.
func (m Metadata) BoundsCenter() proj.GeoPoint {
	return proj.GeoPoint{
		Lat: m.MinLat + (m.MaxLat-m.MinLat)/2,
		Lon: m.MinLon + (m.MaxLon-m.MinLon)/2,
	}
}

type metadataDoc struct {
	ResourceSets []struct {
		Resources []struct {
			BBox      []float64 `json:"bbox"`
			MapCenter struct {
				Coordinates []float64 `json:"coordinates"`
			} `json:"mapCenter"`
			ImageWidth  flexInt `json:"imageWidth"`
			ImageHeight flexInt `json:"imageHeight"`
			ImageURL    string  `json:"imageUrl"`
		} `json:"resources"`
	} `json:"resourceSets"`
}

// flexInt accepts 640 as well as "640"
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if v, err := strconv.Atoi(s); err == nil {
		*f = flexInt(v)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v != math.Trunc(v) {
		return fmt.Errorf("invalid integer %q", s)
	}
	*f = flexInt(v)
	return nil
}

// ParseMetadata reads the first resource of the first resource set. Its
// bbox is ordered minLat, minLon, maxLat, maxLon and its center is lat, lon.
func ParseMetadata(data []byte) (*Metadata, error) {
	var doc metadataDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse imagery metadata: %w", err)
	}
	if len(doc.ResourceSets) == 0 || len(doc.ResourceSets[0].Resources) == 0 {
		return nil, errors.New("imagery metadata has no resources")
	}

	res := doc.ResourceSets[0].Resources[0]
	if len(res.BBox) != 4 {
		return nil, fmt.Errorf("imagery bbox has %d values, want 4", len(res.BBox))
	}

	m := &Metadata{
		MinLat:      res.BBox[0],
		MinLon:      res.BBox[1],
		MaxLat:      res.BBox[2],
		MaxLon:      res.BBox[3],
		ImageWidth:  int(res.ImageWidth),
		ImageHeight: int(res.ImageHeight),
		ImageURL:    res.ImageURL,
	}
	if c := res.MapCenter.Coordinates; len(c) == 2 {
		m.Center = proj.GeoPoint{Lat: c[0], Lon: c[1]}
	} else {
		m.Center = m.BoundsCenter()
	}
	return m, nil
}

// ImageFit locates the requested tile inside the returned raster.
type ImageFit struct {
	PropX, PropY float64 // tile extent / raster extent per axis
	CropX, CropY int     // top-left pixel of the tile in the raster
	CropWidth    int
	CropHeight   int
	Aspect       float64 // CropWidth / CropHeight

	// Distances in meters from the tile center to the raster's declared
	// center and to the center of the raster's bounds.
	CenterDrift float64
	BoundsDrift float64
}

// FitImage computes the pixel window of tile inside the raster described by
// meta. Pixel sizes round half away from zero.
func FitImage(meta *Metadata, tile config.BBox) (ImageFit, error) {
	if meta.ImageWidth <= 0 || meta.ImageHeight <= 0 {
		return ImageFit{}, fmt.Errorf("invalid image size %dx%d", meta.ImageWidth, meta.ImageHeight)
	}
	outerWidth := meta.MaxLon - meta.MinLon
	outerHeight := meta.MaxLat - meta.MinLat
	if !(outerWidth > 0) || !(outerHeight > 0) {
		return ImageFit{}, fmt.Errorf("invalid imagery bounds %v,%v,%v,%v", meta.MinLat, meta.MinLon, meta.MaxLat, meta.MaxLon)
	}

	w, h := float64(meta.ImageWidth), float64(meta.ImageHeight)
	fit := ImageFit{
		PropX: (tile.MaxLon - tile.MinLon) / outerWidth,
		PropY: (tile.MaxLat - tile.MinLat) / outerHeight,
		CropX: int(math.Round((tile.MinLon - meta.MinLon) / outerWidth * w)),
		CropY: int(math.Round((meta.MaxLat - tile.MaxLat) / outerHeight * h)),
	}
	fit.CropWidth = int(math.Round(w * fit.PropX))
	fit.CropHeight = int(math.Round(h * fit.PropY))
	if fit.CropHeight == 0 {
		return ImageFit{}, errors.New("tile is too small for the raster")
	}
	fit.Aspect = float64(fit.CropWidth) / float64(fit.CropHeight)

	tileCenter := proj.GeoPoint{
		Lat: tile.MinLat + (tile.MaxLat-tile.MinLat)/2,
		Lon: tile.MinLon + (tile.MaxLon-tile.MinLon)/2,
	}
	fit.CenterDrift = distance(tileCenter, meta.Center)
	fit.BoundsDrift = distance(tileCenter, meta.BoundsCenter())
	return fit, nil
}

func distance(a, b proj.GeoPoint) float64 {
	ax, az := a.ToMeters()
	bx, bz := b.ToMeters()
	return math.Hypot(ax-bx, az-bz)
}

// DecodeImageConfig reads the dimensions and format of a PNG or JPEG
// without decoding the pixels.
func DecodeImageConfig(data []byte) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", fmt.Errorf("failed to decode image header: %w", err)
	}
	return cfg, format, nil
}
