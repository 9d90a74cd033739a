// Package mcoord implements the "M-coord" delta coordinate scheme used
// to pack line and polygon vertices into a flat stream of 16-bit
// integer pairs. A marker entry re-bases all following plain entries
// onto a new major origin; plain entries are then (dx, dy) offsets from
// that origin. Granularity converts between major-origin units and
// absolute Web Mercator units.
package mcoord

import (
	"math"

	"github.com/kvnloo/triplemap/spatial"
)

// Granularity (G) is the power-of-two multiplier between major-origin
// units and absolute coordinate units. Chosen so that any offset within
// one grid cell's worth of geometry fits comfortably in an int16.
const Granularity = 32768

// markerBit tags both halves of a marker entry. Plain offsets are
// always in [0, Granularity) because the major origin is rounded toward
// negative infinity, so they never set this bit and it is free to
// repurpose as a type tag. A marker stores its major origin in the
// remaining 15 bits, sign-extended on decode.
const markerBit = 1 << 15

// Point is one entry of the M-coord stream: either a marker (both
// fields tagged) or a plain (dx, dy) offset.
type Point struct {
	X, Y int16
}

// IsMarker reports whether p establishes a new major origin.
func IsMarker(p Point) bool {
	return uint16(p.X)&markerBit != 0
}

func markCoord(v int16) int16 {
	return int16(uint16(v) | markerBit)
}

func unmarkCoord(v int16) int16 {
	return int16(uint16(v)<<1) >> 1
}

// marker builds a marker entry for the major origin (mx, my).
func marker(mx, my int16) Point {
	return Point{markCoord(mx), markCoord(my)}
}

// origin recovers the major origin encoded by a marker entry.
func origin(p Point) (int16, int16) {
	return unmarkCoord(p.X), unmarkCoord(p.Y)
}

func majorOf(v float64) int16 {
	return int16(math.Floor(v / Granularity))
}

func minorOf(v float64, major int16) int16 {
	return int16(v - float64(major)*Granularity)
}

// EncodeLine appends l's M-coord representation to stream, preceded by
// its bounding box (lower-left then upper-right, per spec) and followed
// by a trailing marker iff isArea. A major-origin marker is only
// emitted when the major cell actually changes, keeping the stream
// minimal rather than one marker per vertex.
func EncodeLine(stream []Point, l spatial.FLine, isArea bool) []Point {
	bbox := spatial.BoundingBox(l)

	mx := majorOf(bbox.LL.X)
	my := majorOf(bbox.LL.Y)
	if mx != 0 || my != 0 {
		stream = append(stream, marker(mx, my))
	}
	stream = append(stream, Point{minorOf(bbox.LL.X, mx), minorOf(bbox.LL.Y, my)})

	nmx, nmy := majorOf(bbox.UR.X), majorOf(bbox.UR.Y)
	if nmx != mx || nmy != my {
		mx, my = nmx, nmy
		stream = append(stream, marker(mx, my))
	}
	stream = append(stream, Point{minorOf(bbox.UR.X, mx), minorOf(bbox.UR.Y, my)})

	for _, p := range l {
		nmx, nmy = majorOf(p.X), majorOf(p.Y)
		if nmx != mx || nmy != my {
			mx, my = nmx, nmy
			stream = append(stream, marker(mx, my))
		}
		stream = append(stream, Point{minorOf(p.X, mx), minorOf(p.Y, my)})
	}

	if isArea {
		stream = append(stream, marker(0, 0))
	}

	return stream
}

// DecodeAll walks the full stream [start, end) and returns the decoded
// vertices, skipping marker entries, plus whether a trailing marker
// marks the shape as an area. The first two decoded vertices are the
// bounding box (lower-left, upper-right); vertices 3..n are the real
// line/ring points.
func DecodeAll(stream []Point, start, end int) (verts spatial.FLine, isArea bool) {
	var mx, my int16
	for i := start; i < end; i++ {
		p := stream[i]
		if IsMarker(p) {
			mx, my = origin(p)
			if i == end-1 {
				isArea = true
			}
			continue
		}
		verts = append(verts, spatial.FPoint{
			X: float64(mx)*Granularity + float64(p.X),
			Y: float64(my)*Granularity + float64(p.Y),
		})
	}
	return verts, isArea
}

// BBox decodes only the first two non-marker entries of [start, end) —
// the bounding box every EncodeLine call writes up front — without
// materialising the rest of the stream.
func BBox(stream []Point, start, end int) spatial.FBox {
	var mx, my int16
	var box spatial.FBox
	got := 0
	for i := start; i < end && got < 2; i++ {
		p := stream[i]
		if IsMarker(p) {
			mx, my = origin(p)
			continue
		}
		cur := spatial.FPoint{
			X: float64(mx)*Granularity + float64(p.X),
			Y: float64(my)*Granularity + float64(p.Y),
		}
		if got == 0 {
			box.LL = cur
		} else {
			box.UR = cur
		}
		got++
	}
	return box
}

// Vertices decodes [start, end) but skips the leading bounding-box pair,
// returning only the real vertices (and whether the shape is an area).
// Used by GetNearest / the line-pixel grid builder, which need the
// shape itself rather than its precomputed box.
func Vertices(stream []Point, start, end int) (verts spatial.FLine, isArea bool) {
	all, area := DecodeAll(stream, start, end)
	if len(all) <= 2 {
		return nil, area
	}
	return all[2:], area
}
