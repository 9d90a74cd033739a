// Package spatial holds the small set of geometric primitives shared by
// the wkt, mcoord, geomcache, grid, requestor and renderer packages. All
// coordinates in this package are Web Mercator (EPSG:3857) planar units
// unless documented otherwise.
package spatial

import "math"

// FPoint is a floating point Web Mercator coordinate.
type FPoint struct {
	X, Y float64
}

// FLine is an ordered sequence of vertices. A trailing duplicate of the
// first vertex is not implied; callers that need a closed ring add it
// explicitly.
type FLine []FPoint

// FBox is an axis-aligned bounding box in Web Mercator units.
type FBox struct {
	LL, UR FPoint
}

// Pad grows b by d units on every side. A zero-area box padded by a
// positive d becomes non-degenerate, which GetNearest and the grid
// bounding-box passes rely on.
func (b FBox) Pad(d float64) FBox {
	return FBox{
		LL: FPoint{b.LL.X - d, b.LL.Y - d},
		UR: FPoint{b.UR.X + d, b.UR.Y + d},
	}
}

// Intersects reports whether a and b share any area, including touching
// edges.
func (a FBox) Intersects(b FBox) bool {
	return a.LL.X <= b.UR.X && a.UR.X >= b.LL.X &&
		a.LL.Y <= b.UR.Y && a.UR.Y >= b.LL.Y
}

// Contains reports whether p lies within b, inclusive of the border.
func (b FBox) Contains(p FPoint) bool {
	return p.X >= b.LL.X && p.X <= b.UR.X && p.Y >= b.LL.Y && p.Y <= b.UR.Y
}

// BoundingBox computes the bounding box of a non-empty line.
func BoundingBox(l FLine) FBox {
	if len(l) == 0 {
		return FBox{}
	}
	b := FBox{LL: l[0], UR: l[0]}
	for _, p := range l[1:] {
		if p.X < b.LL.X {
			b.LL.X = p.X
		}
		if p.Y < b.LL.Y {
			b.LL.Y = p.Y
		}
		if p.X > b.UR.X {
			b.UR.X = p.X
		}
		if p.Y > b.UR.Y {
			b.UR.Y = p.Y
		}
	}
	return b
}

// Union returns the smallest box covering both a and b. A zero-value box
// counts as empty: the other box is returned unchanged. A degenerate box
// at the origin is the zero value too, so it is ignored the same way.
func Union(a, b FBox) FBox {
	if a == (FBox{}) {
		return b
	}
	if b == (FBox{}) {
		return a
	}
	return FBox{
		LL: FPoint{min(a.LL.X, b.LL.X), min(a.LL.Y, b.LL.Y)},
		UR: FPoint{max(a.UR.X, b.UR.X), max(a.UR.Y, b.UR.Y)},
	}
}

// DistToSegment returns the Euclidean distance from p to the segment a-b.
func DistToSegment(p, a, b FPoint) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	if dx == 0 && dy == 0 {
		return dist(p, a)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / (dx*dx + dy*dy)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	proj := FPoint{a.X + t*dx, a.Y + t*dy}
	return dist(p, proj)
}

// ProjectToSegment returns the closest point to p on the segment a-b.
func ProjectToSegment(p, a, b FPoint) FPoint {
	dx, dy := b.X-a.X, b.Y-a.Y
	if dx == 0 && dy == 0 {
		return a
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / (dx*dx + dy*dy)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return FPoint{a.X + t*dx, a.Y + t*dy}
}

func dist(a, b FPoint) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// InRing reports whether p lies inside the (possibly open) ring using the
// standard even-odd crossing-number test.
func InRing(p FPoint, ring FLine) bool {
	in := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := ring[j], ring[i]
		if (a.Y > p.Y) != (b.Y > p.Y) {
			x := a.X + (p.Y-a.Y)/(b.Y-a.Y)*(b.X-a.X)
			if p.X < x {
				in = !in
			}
		}
	}
	return in
}
