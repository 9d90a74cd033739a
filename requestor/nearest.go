package requestor

import (
	"math"
	"sync"

	"github.com/kvnloo/triplemap/geomcache"
	"github.com/kvnloo/triplemap/spatial"
)

// earlyExitDist stops a line's segment scan as soon as a close-enough
// match is found — no query ever needs sub-this precision.
const earlyExitDist = 1e-4

// GetNearest returns the closest object to rp within rad, searching
// the point grid and line grid concurrently. A point strictly inside
// an area object beats the area itself: the area's distance is
// overwritten to rad/4 once rp is confirmed inside its ring, so any
// genuinely closer point candidate still wins on the final compare.
func (r *Requestor) GetNearest(rp spatial.FPoint, rad float64) NearestResult {
	box := spatial.FBox{LL: rp, UR: rp}.Pad(rad)

	var pointCandidates, lineCandidates []uint32
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); pointCandidates = r.pgrid.Get(box, nil) }()
	go func() { defer wg.Done(); lineCandidates = r.lgrid.Get(box, nil) }()
	wg.Wait()

	pFound, pIdx, pDist := r.nearestPoint(rp, pointCandidates)
	lFound, lIdx, lDist, lProj := r.nearestLine(rp, box, rad, lineCandidates)

	if pFound && pDist < rad && pDist <= lDist {
		obj := r.objects[pIdx]
		return NearestResult{
			Hit: true, IsPoint: true,
			GID: obj.GID, Row: obj.Row,
			Point: r.cache.GetPoints()[obj.GID],
			Dist:  pDist,
		}
	}
	if lFound && lDist < rad {
		obj := r.objects[lIdx]
		_, isArea := r.cache.GetLineVertices(geomcache.LineIndex(obj.GID))
		return NearestResult{
			Hit: true, IsPoint: false, IsArea: isArea,
			GID: obj.GID, Row: obj.Row,
			Point: lProj,
			Dist:  lDist,
		}
	}
	return NearestResult{Hit: false}
}

func (r *Requestor) nearestPoint(rp spatial.FPoint, candidates []uint32) (found bool, idx uint32, dist float64) {
	dist = math.Inf(1)
	for _, ci := range candidates {
		obj := r.objects[ci]
		if obj.GID == geomcache.InvalidID {
			continue
		}
		p := r.cache.GetPoints()[obj.GID]
		d := spatial.DistToSegment(rp, p, p)
		if d < dist {
			dist, idx, found = d, ci, true
		}
	}
	return
}

func (r *Requestor) nearestLine(rp spatial.FPoint, box spatial.FBox, rad float64, candidates []uint32) (found bool, idx uint32, dist float64, proj spatial.FPoint) {
	dist = math.Inf(1)
	for _, ci := range candidates {
		obj := r.objects[ci]
		if obj.GID == geomcache.InvalidID {
			continue
		}
		lid := geomcache.LineIndex(obj.GID)
		if !r.cache.GetLineBBox(lid).Intersects(box) {
			continue
		}
		verts, isArea := r.cache.GetLineVertices(lid)
		if len(verts) < 2 {
			continue
		}

		localDist := math.Inf(1)
		var localProj spatial.FPoint
		for i := 0; i+1 < len(verts); i++ {
			d := spatial.DistToSegment(rp, verts[i], verts[i+1])
			if d < localDist {
				localDist = d
				localProj = spatial.ProjectToSegment(rp, verts[i], verts[i+1])
			}
			if localDist < earlyExitDist {
				break
			}
		}

		if isArea && spatial.InRing(rp, verts) {
			localDist = rad / 4
			localProj = rp
		}

		if localDist < dist {
			dist, idx, proj, found = localDist, ci, localProj, true
		}
	}
	return
}
