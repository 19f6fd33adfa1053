// Package wkb encodes building footprints and meshes as PostGIS extended WKB.
package wkb

import (
	"encoding/binary"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/wegman-software/osm2scene-go/internal/geom"
	"github.com/wegman-software/osm2scene-go/internal/proj"
)

// WKB type constants
const (
	wkbPolygon  = 3
	wkbTIN      = 16
	wkbTriangle = 17

	// EWKB flags
	wkbZFlag    = 0x80000000
	wkbSRIDFlag = 0x20000000
)

// Common SRID constants
const (
	SRID4326 = proj.SRID4326
	SRID3857 = proj.SRID3857
)

// Encoder encodes geometries to EWKB.
// Uses little-endian byte order and includes the SRID on the top-level geometry.
type Encoder struct {
	buf       []byte
	srid      uint32
	transform *proj.Transformer
}

// NewEncoder creates a new encoder with pre-allocated buffer and SRID 4326
func NewEncoder(initialSize int) *Encoder {
	return NewEncoderWithSRID(initialSize, SRID4326)
}

// NewEncoderWithSRID creates a new encoder whose footprints are projected
// to srid (4326 or 3857). Other SRIDs fall back to 4326.
func NewEncoderWithSRID(initialSize int, srid int) *Encoder {
	t, err := proj.NewTransformer(proj.SRID4326, srid)
	if err != nil {
		t, _ = proj.NewTransformer(proj.SRID4326, proj.SRID4326)
	}
	return &Encoder{
		buf:       make([]byte, 0, initialSize),
		srid:      uint32(t.TargetSRID),
		transform: t,
	}
}

// SRID returns the encoder's SRID
func (e *Encoder) SRID() int {
	return int(e.srid)
}

// Reset clears the buffer for reuse
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// Bytes returns the encoded bytes. They are only valid until the next call.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// EncodeFootprint encodes a building outline as a polygon in the encoder's SRID.
// The ring is closed if its last point differs from the first.
// Returns nil for fewer than three points.
func (e *Encoder) EncodeFootprint(ring []proj.GeoPoint) []byte {
	e.Reset()
	if len(ring) < 3 {
		return nil
	}
	closed := ring[0] == ring[len(ring)-1]
	n := len(ring)
	if !closed {
		n++
	}
	// 1 (byte order) + 4 (type) + 4 (srid) + 4 (rings) + 4 (points) + n*16
	e.ensureCapacity(17 + n*16)

	e.buf = append(e.buf, 0x01)
	e.appendUint32(wkbPolygon | wkbSRIDFlag)
	e.appendUint32(e.srid)
	e.appendUint32(1)
	e.appendUint32(uint32(n))
	coords := e.transform.TransformRing(ring)
	if !closed {
		coords = append(coords, coords[0], coords[1])
	}
	for _, c := range coords {
		e.appendFloat64(c)
	}
	return e.buf
}

// EncodeTIN encodes a mesh as a TIN Z in Web Mercator regardless of the
// encoder's SRID. Mesh X and Z become the planar X and Y, translated by
// origin; mesh Y (up) becomes Z.
// Returns nil for a mesh without triangles.
func (e *Encoder) EncodeTIN(m *geom.Mesh, origin r3.Vec) []byte {
	e.Reset()
	if m == nil || len(m.Triangles) == 0 {
		return nil
	}
	// Per triangle: 1 + 4 + 4 (rings) + 4 (points) + 4*24
	e.ensureCapacity(13 + len(m.Triangles)*109)

	e.buf = append(e.buf, 0x01)
	e.appendUint32(wkbTIN | wkbZFlag | wkbSRIDFlag)
	e.appendUint32(SRID3857)
	e.appendUint32(uint32(len(m.Triangles)))

	for _, t := range m.Triangles {
		// Embedded geometries carry no SRID
		e.buf = append(e.buf, 0x01)
		e.appendUint32(wkbTriangle | wkbZFlag)
		e.appendUint32(1)
		e.appendUint32(4)
		for _, idx := range [4]int{t[0], t[1], t[2], t[0]} {
			v := r3.Add(m.Vertices[idx], origin)
			e.appendFloat64(v.X)
			e.appendFloat64(v.Z)
			e.appendFloat64(v.Y)
		}
	}
	return e.buf
}

func (e *Encoder) ensureCapacity(n int) {
	if cap(e.buf) < n {
		e.buf = make([]byte, 0, n)
	}
}

func (e *Encoder) appendUint32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) appendFloat64(v float64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(v))
}
