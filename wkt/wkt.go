// Package wkt decodes the restricted subset of Well-Known Text the
// geometry cache ingests — POINT, LINESTRING, POLYGON, MULTILINESTRING
// and MULTIPOLYGON, coordinates given as "lng lat" WGS84 — into Web
// Mercator vertex sequences ready for the mcoord packer. Parsing itself
// is delegated to simplefeatures' WKT decoder; this package only walks
// the resulting geom.Geometry into vertex sequences, then reprojects
// and simplifies them.
package wkt

import (
	"errors"
	"fmt"

	sfgeom "github.com/peterstace/simplefeatures/geom"

	"github.com/kvnloo/triplemap/spatial"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"
	"github.com/paulmach/orb/resample"
	"github.com/paulmach/orb/simplify"
)

// simplifyEpsilon and densifyDelta are tied together: 600 = 200*3, the
// renderer's per-pixel threshold times the simplify epsilon, so that a
// densified line never has a gap wider than what the renderer would
// visibly sample.
const (
	simplifyEpsilon = 3.0
	densifyDelta    = 600.0
)

// ErrUnsupportedGeometry is returned for any WKT shape outside the
// allowed subset (MULTIPOINT, GEOMETRYCOLLECTION, ...). Callers treat
// it as a recoverable per-row WktParse error: drop the row to the
// sentinel GID and keep going.
var ErrUnsupportedGeometry = errors.New("wkt: unsupported geometry type")

// SubGeom is one decoded sub-geometry, already reprojected to Web
// Mercator and, for lines, simplified and densified. Multi-geometries
// decode to several SubGeoms in source order; every one after the
// first has Continuation set.
type SubGeom struct {
	IsPoint      bool
	Point        spatial.FPoint
	Line         spatial.FLine
	IsArea       bool
	Continuation bool
}

// Parse decodes a single WKT literal (already stripped of surrounding
// quotes and any "^^<...wktLiteral>" datatype suffix by the caller)
// into one or more SubGeoms. An empty POINT yields no SubGeoms and a nil
// error.
func Parse(raw string) ([]SubGeom, error) {
	g, err := sfgeom.UnmarshalWKT(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedGeometry, err)
	}
	return fromGeometry(g)
}

func fromGeometry(g sfgeom.Geometry) ([]SubGeom, error) {
	switch g.Type() {
	case sfgeom.TypePoint:
		p := g.MustAsPoint()
		xy, ok := p.XY()
		if !ok {
			return nil, nil // empty point: caller assigns the sentinel GID
		}
		return []SubGeom{{IsPoint: true, Point: projectPoint(xy.X, xy.Y)}}, nil

	case sfgeom.TypeLineString:
		ls := g.MustAsLineString()
		line := lineFromSequence(ls.Coordinates())
		return []SubGeom{{Line: processLine(line), IsArea: false}}, nil

	case sfgeom.TypePolygon:
		return polygonSubGeoms(g.MustAsPolygon(), false), nil

	case sfgeom.TypeMultiLineString:
		mls := g.MustAsMultiLineString()
		n := mls.NumLineStrings()
		out := make([]SubGeom, 0, n)
		for i := 0; i < n; i++ {
			line := lineFromSequence(mls.LineStringN(i).Coordinates())
			out = append(out, SubGeom{Line: processLine(line), IsArea: false, Continuation: i > 0})
		}
		return out, nil

	case sfgeom.TypeMultiPolygon:
		mp := g.MustAsMultiPolygon()
		n := mp.NumPolygons()
		var out []SubGeom
		for i := 0; i < n; i++ {
			out = append(out, polygonSubGeoms(mp.PolygonN(i), i > 0)...)
		}
		return out, nil

	default:
		return nil, ErrUnsupportedGeometry
	}
}

// polygonSubGeoms walks a polygon's exterior ring followed by every
// interior ring (hole) via NumInteriorRings()/InteriorRingN(i): each
// ring becomes its own SubGeom, with every ring after the very first
// of the whole geometry (exteriorIsContinuation, or any interior ring)
// marked Continuation.
func polygonSubGeoms(poly sfgeom.Polygon, exteriorIsContinuation bool) []SubGeom {
	ext := lineFromSequence(poly.ExteriorRing().Coordinates())
	out := []SubGeom{{Line: processLine(ext), IsArea: true, Continuation: exteriorIsContinuation}}

	n := poly.NumInteriorRings()
	for i := 0; i < n; i++ {
		hole := lineFromSequence(poly.InteriorRingN(i).Coordinates())
		out = append(out, SubGeom{Line: processLine(hole), IsArea: true, Continuation: true})
	}
	return out
}

func lineFromSequence(seq sfgeom.Sequence) orb.LineString {
	n := seq.Length()
	ls := make(orb.LineString, 0, n)
	for i := 0; i < n; i++ {
		xy := seq.GetXY(i)
		ls = append(ls, orb.Point{xy.X, xy.Y})
	}
	return ls
}

func projectPoint(lng, lat float64) spatial.FPoint {
	m := project.WGS84.ToMercator(orb.Point{lng, lat})
	return spatial.FPoint{X: m.X(), Y: m.Y()}
}

// processLine reprojects a WGS84 line to Web Mercator, then applies the
// simplify(epsilon=3) -> densify(delta=600) pipeline required so that
// the line-pixel grid's sub-cell sampling never skips a long straight
// run.
func processLine(ls orb.LineString) spatial.FLine {
	if len(ls) == 0 {
		return nil
	}
	merc := make(orb.LineString, len(ls))
	for i, p := range ls {
		merc[i] = project.WGS84.ToMercator(p)
	}

	simplified := merc
	if len(merc) > 2 {
		simplified = simplify.DouglasPeucker(simplifyEpsilon).
			Simplify(merc.Clone()).(orb.LineString)
	}

	densified := simplified
	if len(simplified) >= 2 {
		densified = resample.ToInterval(simplified, planar.Distance, densifyDelta)
	}

	out := make(spatial.FLine, len(densified))
	for i, p := range densified {
		out[i] = spatial.FPoint{X: p.X(), Y: p.Y()}
	}
	return out
}
