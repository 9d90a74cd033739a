package geomcache

import (
	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/kvnloo/triplemap/spatial"
)

// mercatorToLatLng inverse-projects a Web Mercator point back to WGS84
// degrees, solely for feeding the coarse s2 coverage cap — the rest of
// the system never leaves Mercator space.
func mercatorToLatLng(p spatial.FPoint) s2.LatLng {
	wgs := project.Mercator.ToWGS84(orb.Point{p.X, p.Y})
	return s2.LatLngFromDegrees(wgs.Y(), wgs.X())
}

// growCoverage folds box (Web Mercator) into the running s2 coverage
// rectangle. Called once per ingested line's bounding box (points go
// through growCoveragePoint), so the cost stays O(1) per object
// regardless of vertex count.
func (c *Cache) growCoverage(box spatial.FBox) {
	c.coverage = c.coverage.AddPoint(mercatorToLatLng(box.LL))
	c.coverage = c.coverage.AddPoint(mercatorToLatLng(box.UR))
}

// growCoveragePoint is the single-point specialisation of growCoverage.
func (c *Cache) growCoveragePoint(p spatial.FPoint) {
	c.coverage = c.coverage.AddPoint(mercatorToLatLng(p))
}
