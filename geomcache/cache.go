// Package geomcache builds and serves the process-wide geometry store:
// every object behind a "?s hasGeometry ?g" style projection for one
// backend, ingested once and held as compact in-memory vectors.
package geomcache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/golang/geo/s2"
	"github.com/rs/zerolog"

	"github.com/kvnloo/triplemap/backend"
	"github.com/kvnloo/triplemap/mcoord"
	"github.com/kvnloo/triplemap/spatial"
)

// Error kinds the rest of the system branches on with errors.Is:
// Requestor and the session manager each react differently to a
// memory-budget breach than to a transport failure.
var (
	ErrCacheNotReady    = errors.New("geomcache: cache not ready")
	ErrOutOfMemory      = errors.New("geomcache: memory budget exceeded")
	ErrBackendTransport = errors.New("geomcache: backend transport error")
	ErrBackendProtocol  = errors.New("geomcache: unexpected backend framing")
	ErrCacheVersion     = errors.New("geomcache: on-disk cache version mismatch")
	ErrCancelled        = errors.New("geomcache: build cancelled")
)

// Cache holds one backend's complete geometry corpus. It is built once
// and is safe for unlimited concurrent readers once Ready returns true;
// the tables are only mutated by Build, serialised by buildMu, and by
// FromDisk, which takes no lock.
type Cache struct {
	BackendURL string

	buildMu sync.Mutex
	ready   atomic.Bool

	Points     []spatial.FPoint
	LinePoints []mcoord.Point
	Lines      []uint64 // start offset into LinePoints; lines[k+1] (or len(LinePoints)) bounds line k
	QidToID    []IdMapping

	// coverage is a coarse s2 rectangle over every ingested geometry,
	// used to reject queries whose bbox cannot possibly intersect this
	// backend's data before touching the grids (see MayOverlap).
	coverage s2.Rect

	rows *RowCache // optional; nil when no on-disk path was configured

	log zerolog.Logger
}

// New constructs an empty, not-yet-built Cache for backendURL.
func New(backendURL string, log zerolog.Logger) *Cache {
	return &Cache{
		BackendURL: backendURL,
		coverage:   s2.EmptyRect(),
		log:        log.With().Str("component", "geomcache").Str("backend", backendURL).Logger(),
	}
}

// Ready reports whether Build has completed successfully.
func (c *Cache) Ready() bool { return c.ready.Load() }

// AttachRowCache wires a persistent attribute-row cache (bbolt-backed)
// into this Cache. Requestor consults it before issuing a live
// OFFSET/LIMIT 1 query. Optional: a nil RowCache means every row
// lookup hits the backend.
func (c *Cache) AttachRowCache(rc *RowCache) { c.rows = rc }

// RowCache returns the attached attribute-row cache, or nil.
func (c *Cache) RowCache() *RowCache { return c.rows }

// GetPoints returns the point table. Valid once Ready.
func (c *Cache) GetPoints() []spatial.FPoint { return c.Points }

// GetLinePoints returns the flat M-coord stream backing every line.
func (c *Cache) GetLinePoints() []mcoord.Point { return c.LinePoints }

// GetLine returns the start offset of line lid within LinePoints.
func (c *Cache) GetLine(lid int) uint64 { return c.Lines[lid] }

// GetLineEnd returns the end offset (exclusive) of line lid.
func (c *Cache) GetLineEnd(lid int) uint64 {
	if lid+1 < len(c.Lines) {
		return c.Lines[lid+1]
	}
	return uint64(len(c.LinePoints))
}

// GetLineBBox decodes only the leading bounding-box pair of line lid.
func (c *Cache) GetLineBBox(lid int) spatial.FBox {
	start, end := int(c.GetLine(lid)), int(c.GetLineEnd(lid))
	return mcoord.BBox(c.LinePoints, start, end)
}

// GetLineVertices decodes the real vertices (skipping the bbox header)
// of line lid, plus whether it is an area.
func (c *Cache) GetLineVertices(lid int) (spatial.FLine, bool) {
	start, end := int(c.GetLine(lid)), int(c.GetLineEnd(lid))
	return mcoord.Vertices(c.LinePoints, start, end)
}

// Sort orders QidToID by QID ascending. Required before GetRelObjects
// and before serialising to disk.
func (c *Cache) Sort() {
	sort.Slice(c.QidToID, func(i, j int) bool { return c.QidToID[i].QID < c.QidToID[j].QID })
}

// GetRelObjects merges a caller-supplied, QID-sorted id list against
// QidToID and returns the (geometry id, row) pairs in the caller's
// order. It is a doubly-galloping merge: when QidToID races ahead of
// ids (the common case, since a result row can have fewer entries than
// the backend corpus does QIDs), it probes forward in exponentially
// growing steps and finishes with a binary search, rather than
// advancing one slot at a time. Rows whose QID has no match in
// QidToID are silently skipped by the caller's row numbering contract:
// GetRelObjects never invents an InvalidID entry itself, it simply
// returns fewer pairs than len(ids) when backend rows and cache rows
// diverge (which should not happen for a consistent ORDER BY ?g corpus,
// but is handled defensively).
func (c *Cache) GetRelObjects(ids []IdMapping) []ObjectRef {
	ret := make([]ObjectRef, 0, len(ids))

	i, j := 0, 0
	for i < len(ids) && j < len(c.QidToID) {
		switch {
		case ids[i].QID == c.QidToID[j].QID:
			ret = append(ret, ObjectRef{GID: c.QidToID[j].ID, Row: ids[i].ID})
			j++
		case ids[i].QID < c.QidToID[j].QID:
			i = gallopFind(ids, i, c.QidToID[j].QID)
		default:
			j = gallopFind(c.QidToID, j, ids[i].QID)
		}
	}
	return ret
}

// gallopFind returns the first index k >= from such that
// s[k].QID >= target, probing in doubling steps before falling back to
// a bounded binary search. GetRelObjects uses it on both sides of the
// merge.
func gallopFind(s []IdMapping, from int, target QID) int {
	gallop := 1
	for {
		probe := from + gallop
		if probe >= len(s) || s[probe].QID >= target {
			hi := probe
			if hi > len(s) {
				hi = len(s)
			}
			lo := from + gallop/2
			if lo < from {
				lo = from
			}
			return lo + sort.Search(hi-lo, func(k int) bool {
				return s[lo+k].QID >= target
			})
		}
		gallop *= 2
	}
}

// MayOverlap reports whether queryBox (Web Mercator) could possibly
// intersect any geometry in this cache, using the coarse s2 cover built
// during Build. It is a fast, conservative reject: a false result
// guarantees no overlap; a true result only means "go check the
// grids". Callers skip grid work entirely on a false result.
func (c *Cache) MayOverlap(queryBox spatial.FBox) bool {
	if c.coverage.IsEmpty() {
		return false
	}
	ll := mercatorToLatLng(queryBox.LL)
	ur := mercatorToLatLng(queryBox.UR)
	qrect := s2.RectFromLatLng(ll).AddPoint(ur)
	return c.coverage.Intersects(qrect)
}

// Build runs the two-pass ingest against cl: first a WKT pass that
// populates Points/LinePoints/Lines/QidToID (with QID holding only the
// continuation flag), then a binary-id pass that overwrites QidToID's
// placeholder with real QIDs. ctx cancellation aborts the build and
// returns ErrCancelled; the partial cache is discarded — there is no
// atomic commit of the in-memory vectors before the full ingest
// completes.
func (c *Cache) Build(ctx context.Context, cl *backend.Client) error {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()
	if c.ready.Load() {
		return nil
	}

	b := newBuilder(c)
	err := b.runWKTPass(ctx, cl)
	if err == nil {
		err = b.runBinaryIDPass(ctx, cl)
	}
	if err != nil {
		c.Points, c.LinePoints, c.Lines, c.QidToID = nil, nil, nil, nil
		c.coverage = s2.EmptyRect()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(ErrCancelled, ctxErr)
		}
		return err
	}

	c.Sort()
	c.ready.Store(true)
	c.log.Info().
		Int("points", len(c.Points)).
		Int("lines", len(c.Lines)).
		Int("rows", len(c.QidToID)).
		Msg("cache build complete")
	return nil
}
