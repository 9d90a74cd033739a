// Package requestor materialises one session's query result into three
// spatial grids — points, line bounding boxes, and a sparse line-pixel
// footprint — against an already-built geometry cache, and serves
// nearest-object lookups and on-demand row fetches over that
// materialisation.
package requestor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/kvnloo/triplemap/backend"
	"github.com/kvnloo/triplemap/geomcache"
	"github.com/kvnloo/triplemap/grid"
	"github.com/kvnloo/triplemap/spatial"
)

// Error kinds mirroring the ones geomcache defines for its own build,
// reused here since Requestor's failure modes are the same shape:
// not-ready dependency, memory budget breach, transport/protocol
// failure.
var (
	ErrCacheNotReady    = errors.New("requestor: backing cache not ready")
	ErrOutOfMemory      = errors.New("requestor: memory budget exceeded")
	ErrBackendTransport = errors.New("requestor: backend transport error")
)

// memoryCheckInterval is how many objects a populate loop processes
// between budget re-checks, matching the 100_000 cadence.
const memoryCheckInterval = 100_000

// subCellDivisions is the number of sub-cells per axis within one grid
// cell of the line-pixel footprint.
const subCellDivisions = 256

// SubCell is the line-pixel grid's payload: the vertex's position
// within its cell, quantised to a 256x256 sub-grid.
type SubCell struct {
	X, Y uint8
}

// NearestResult is the outcome of GetNearest.
type NearestResult struct {
	Hit     bool
	IsPoint bool
	IsArea  bool
	GID     geomcache.ID
	Row     geomcache.ID
	Point   spatial.FPoint // the point itself, or the projection onto the nearest line/ring
	Dist    float64
}

// Requestor holds one (backend, query) session's materialised result.
// Request is safe to call concurrently; only the first call does work,
// subsequent calls are a no-op once ready.
type Requestor struct {
	cache     *geomcache.Cache
	client    *backend.Client
	query     string
	maxMemory int64
	log       zerolog.Logger

	lock  sync.Mutex
	ready atomic.Bool

	objects []geomcache.ObjectRef

	pointBBox spatial.FBox
	lineBBox  spatial.FBox

	pgrid  *grid.Grid[uint32]  // payload: index into objects
	lgrid  *grid.Grid[uint32]  // payload: index into objects
	lpgrid *grid.Grid[SubCell] // payload: sub-cell position, for the renderer only
}

// New constructs a not-yet-built Requestor for one (backend, query)
// session. cache must belong to the same backend URL the query targets.
func New(cache *geomcache.Cache, client *backend.Client, query string, maxMemory int64, log zerolog.Logger) *Requestor {
	return &Requestor{
		cache:     cache,
		client:    client,
		query:     query,
		maxMemory: maxMemory,
		log:       log.With().Str("component", "requestor").Logger(),
	}
}

// Ready reports whether Request has completed successfully.
func (r *Requestor) Ready() bool { return r.ready.Load() }

// Objects exposes the materialised (gid, row) pairs, valid once Ready.
func (r *Requestor) Objects() []geomcache.ObjectRef { return r.objects }

// Bounds returns the padded union of the point and line bounding
// boxes, as returned to the HTTP surface's query response.
func (r *Requestor) Bounds() spatial.FBox {
	return spatial.Union(r.pointBBox, r.lineBBox)
}

// Request builds the session's grids. Calling it twice with the same
// Requestor is a no-op on the second call — the idempotence invariant
// the session manager relies on to avoid rebuilding on a stale reload.
func (r *Requestor) Request(ctx context.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.ready.Load() {
		return nil
	}
	if !r.cache.Ready() {
		return ErrCacheNotReady
	}

	start := r.log.Info()
	rewritten := backend.RewriteQuery(r.query)

	ids, err := r.fetchSortedIDs(ctx, rewritten)
	if err != nil {
		return err
	}
	r.objects = r.cache.GetRelObjects(ids)

	r.pointBBox, r.lineBBox = r.computeBBoxes()
	footprintBox := spatial.Union(r.pointBBox, r.lineBBox)

	r.pgrid = grid.New[uint32](r.pointBBox)
	r.lgrid = grid.New[uint32](r.lineBBox)
	r.lpgrid = grid.New[SubCell](footprintBox)

	if err := r.checkMemory(); err != nil {
		return err
	}

	if err := r.populateGrids(); err != nil {
		return err
	}

	r.ready.Store(true)
	start.Int("objects", len(r.objects)).Msg("requestor build complete")
	return nil
}

// fetchSortedIDs issues the binary-id pass over the geometry-only
// rewrite of the query and returns the per-row QIDs tagged with their
// row number, sorted ascending by QID as GetRelObjects requires.
func (r *Requestor) fetchSortedIDs(ctx context.Context, rewritten string) ([]geomcache.IdMapping, error) {
	var ids []geomcache.IdMapping
	var row geomcache.ID
	err := r.client.StreamBinaryIDs(ctx, rewritten, func(qid uint64) error {
		ids = append(ids, geomcache.IdMapping{QID: qid, ID: row})
		row++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendTransport, err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].QID < ids[j].QID })
	return ids, nil
}

// computeBBoxes folds every object's geometry, each box padded by 1
// unit, into a running point box and line box, sharded across NumCPU
// workers and reduced under a mutex — the first of Request's three
// independent fork-join sections. Padding each box before the fold
// keeps a point at the origin from being mistaken for spatial.Union's
// empty zero-value box; a set with no points (or no lines) yields the
// zero box.
func (r *Requestor) computeBBoxes() (pointBox, lineBox spatial.FBox) {
	var mu sync.Mutex
	forEachChunk(len(r.objects), func(lo, hi int) {
		var localPoint, localLine spatial.FBox
		for i := lo; i < hi; i++ {
			obj := r.objects[i]
			if obj.GID == geomcache.InvalidID {
				continue
			}
			if geomcache.IsPointID(obj.GID) {
				p := r.cache.GetPoints()[obj.GID]
				localPoint = spatial.Union(localPoint, spatial.FBox{LL: p, UR: p}.Pad(1))
			} else {
				b := r.cache.GetLineBBox(geomcache.LineIndex(obj.GID))
				localLine = spatial.Union(localLine, b.Pad(1))
			}
		}
		mu.Lock()
		pointBox = spatial.Union(pointBox, localPoint)
		lineBox = spatial.Union(lineBox, localLine)
		mu.Unlock()
	})
	return pointBox, lineBox
}

// checkMemory estimates each grid's resident size as 8 bytes per cell
// slot, the same accounting the populate loops re-check periodically.
func (r *Requestor) checkMemory() error {
	if r.maxMemory <= 0 {
		return nil
	}
	needed := int64(8) * int64(r.pgrid.NumCells()+r.lgrid.NumCells()+r.lpgrid.NumCells())
	if needed > r.maxMemory {
		return ErrOutOfMemory
	}
	return nil
}

// populateGrids runs the pgrid/lgrid/lpgrid build sections concurrently.
// Each reads the immutable objects slice and writes only to its own
// grid, so no further locking is required beyond the first error
// winning under errOnce.
func (r *Requestor) populateGrids() error {
	var errOnce sync.Once
	var firstErr error
	report := func(err error) {
		if err == nil {
			return
		}
		errOnce.Do(func() { firstErr = err })
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); report(r.populatePointGrid()) }()
	go func() { defer wg.Done(); report(r.populateLineGrid()) }()
	go func() { defer wg.Done(); report(r.populateLinePixelGrid()) }()
	wg.Wait()

	return firstErr
}

func (r *Requestor) populatePointGrid() error {
	for i, obj := range r.objects {
		if i%memoryCheckInterval == 0 {
			if err := r.checkMemory(); err != nil {
				return err
			}
		}
		if obj.GID == geomcache.InvalidID || !geomcache.IsPointID(obj.GID) {
			continue
		}
		r.pgrid.Add(r.cache.GetPoints()[obj.GID], uint32(i))
	}
	return nil
}

func (r *Requestor) populateLineGrid() error {
	for i, obj := range r.objects {
		if i%memoryCheckInterval == 0 {
			if err := r.checkMemory(); err != nil {
				return err
			}
		}
		if obj.GID == geomcache.InvalidID || geomcache.IsPointID(obj.GID) {
			continue
		}
		b := r.cache.GetLineBBox(geomcache.LineIndex(obj.GID))
		r.lgrid.AddBox(b, uint32(i))
	}
	return nil
}

// populateLinePixelGrid walks every vertex of every line object,
// emitting a sub-cell dot the first time a vertex lands in a new
// sub-cell — the first vertex always emits, later ones only on a
// sub-cell change — producing the sparse dotted footprint the renderer
// samples regardless of total geometry complexity.
func (r *Requestor) populateLinePixelGrid() error {
	origin := r.lpgrid.BBox().LL
	subCellSize := grid.CellSize / subCellDivisions

	for i, obj := range r.objects {
		if i%memoryCheckInterval == 0 {
			if err := r.checkMemory(); err != nil {
				return err
			}
		}
		if obj.GID == geomcache.InvalidID || geomcache.IsPointID(obj.GID) {
			continue
		}
		verts, _ := r.cache.GetLineVertices(geomcache.LineIndex(obj.GID))

		lastCX, lastCY, lastSX, lastSY := math.MinInt, math.MinInt, -1, -1
		for vi, v := range verts {
			cx := r.lpgrid.CellX(v.X)
			cy := r.lpgrid.CellY(v.Y)
			sx := int(math.Floor((v.X - origin.X - float64(cx)*grid.CellSize) / subCellSize))
			sy := int(math.Floor((v.Y - origin.Y - float64(cy)*grid.CellSize) / subCellSize))
			sx, sy = clampSubCell(sx), clampSubCell(sy)

			if vi == 0 || cx != lastCX || cy != lastCY || sx != lastSX || sy != lastSY {
				r.lpgrid.AddCell(cx, cy, SubCell{X: uint8(sx), Y: uint8(sy)})
				lastCX, lastCY, lastSX, lastSY = cx, cy, sx, sy
			}
		}
	}
	return nil
}

func clampSubCell(v int) int {
	if v < 0 {
		return 0
	}
	if v >= subCellDivisions {
		return subCellDivisions - 1
	}
	return v
}

// LinePixelCell returns the sub-cell dots recorded at (cellX, cellY),
// used by the renderer to stamp the line-pixel footprint.
func (r *Requestor) LinePixelCell(cellX, cellY int) []SubCell {
	return r.lpgrid.GetCell(cellX, cellY)
}

// PointGrid and LineGrid expose the built grids for the renderer's
// cell-by-cell walk; GetNearest uses them directly rather than through
// these accessors.
func (r *Requestor) PointGrid() *grid.Grid[uint32]      { return r.pgrid }
func (r *Requestor) LineGrid() *grid.Grid[uint32]       { return r.lgrid }
func (r *Requestor) LinePixelGrid() *grid.Grid[SubCell] { return r.lpgrid }

// CachePoint resolves a point GID against the backing cache, for
// callers (the renderer) that only hold object indices.
func (r *Requestor) CachePoint(gid geomcache.ID) spatial.FPoint {
	return r.cache.GetPoints()[gid]
}

// CacheLineBBox resolves a line/polygon GID's bounding box against the
// backing cache.
func (r *Requestor) CacheLineBBox(gid geomcache.ID) spatial.FBox {
	return r.cache.GetLineBBox(geomcache.LineIndex(gid))
}

// MayOverlap delegates to the backing cache's coarse s2 coverage
// reject, letting callers (the renderer, the HTTP surface) skip grid
// work entirely for a box that cannot possibly contain any ingested
// geometry.
func (r *Requestor) MayOverlap(box spatial.FBox) bool {
	return r.cache.MayOverlap(box)
}

// PersistCache serialises the backing geometry cache to path, letting
// the HTTP surface's /load route trigger persistence without reaching
// past the Requestor into geomcache directly.
func (r *Requestor) PersistCache(path string) error {
	return r.cache.SerializeToDisk(path)
}

// MemoryBytes estimates this Requestor's resident grid memory using
// the same 8-bytes-per-cell accounting checkMemory enforces during
// Request. Used by the session manager to track usage toward its
// global ceiling.
func (r *Requestor) MemoryBytes() int64 {
	if r.pgrid == nil {
		return 0
	}
	return int64(8) * int64(r.pgrid.NumCells()+r.lgrid.NumCells()+r.lpgrid.NumCells())
}

// forEachChunk splits [0,n) into runtime.NumCPU() contiguous chunks and
// runs work on each concurrently, blocking until all finish.
func forEachChunk(n int, work func(lo, hi int)) {
	if n == 0 {
		return
	}
	workers := runtime.NumCPU()
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			work(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}
