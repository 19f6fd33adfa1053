// Package geom turns planar footprints into triangle meshes: bounding boxes,
// ear-clipping triangulation, extrusion and flat-shading.
//
// Planar points live in the XZ plane (X east, Z north, meters). Meshes are
// three-dimensional with Y up.
package geom

import "math"

// Point is a planar coordinate in meters.
type Point struct {
	X float64 `msgpack:"x"`
	Z float64 `msgpack:"z"`
}

// Add returns p + q
func (p Point) Add(q Point) Point {
	return Point{X: p.X + q.X, Z: p.Z + q.Z}
}

// Sub returns p - q
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Z: p.Z - q.Z}
}

// AABB is an axis-aligned bounding box in the XZ plane.
// Min is componentwise <= Max.
type AABB struct {
	Min Point `msgpack:"min"`
	Max Point `msgpack:"max"`
}

// Center returns min + (max-min)/2
func (b AABB) Center() Point {
	return Point{
		X: b.Min.X + (b.Max.X-b.Min.X)/2,
		Z: b.Min.Z + (b.Max.Z-b.Min.Z)/2,
	}
}

// Size returns the box extent along each axis
func (b AABB) Size() Point {
	return b.Max.Sub(b.Min)
}

// Corners returns the four corners counter-clockwise (in X/Z) starting at Min.
func (b AABB) Corners() []Point {
	return []Point{
		{X: b.Min.X, Z: b.Min.Z},
		{X: b.Max.X, Z: b.Min.Z},
		{X: b.Max.X, Z: b.Max.Z},
		{X: b.Min.X, Z: b.Max.Z},
	}
}

// Encapsulate grows box to contain p. A nil box yields a degenerate box at p.
// The result does not depend on the order points are folded in.
func Encapsulate(box *AABB, p Point) AABB {
	if box == nil {
		return AABB{Min: p, Max: p}
	}
	return AABB{
		Min: Point{X: math.Min(box.Min.X, p.X), Z: math.Min(box.Min.Z, p.Z)},
		Max: Point{X: math.Max(box.Max.X, p.X), Z: math.Max(box.Max.Z, p.Z)},
	}
}

// BoundOf folds Encapsulate over points. ok is false for an empty slice.
func BoundOf(points []Point) (box AABB, ok bool) {
	var acc *AABB
	for _, p := range points {
		b := Encapsulate(acc, p)
		acc = &b
	}
	if acc == nil {
		return AABB{}, false
	}
	return *acc, true
}
