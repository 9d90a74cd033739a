package requestor

import (
	"context"
	"fmt"

	"github.com/kvnloo/triplemap/backend"
	"github.com/kvnloo/triplemap/geomcache"
)

// RequestRow fetches the attribute row at offset n of the full (not
// geometry-rewritten) query, consulting the attached row cache before
// issuing a live OFFSET/LIMIT 1 request. A nil row with a nil error
// means n is past the end of the result.
func (r *Requestor) RequestRow(ctx context.Context, n int64) (geomcache.Row, error) {
	if rc := r.cache.RowCache(); rc != nil {
		if row, ok, err := rc.Get(r.query, n); err != nil {
			return nil, err
		} else if ok {
			return row, nil
		}
	}

	header, data, err := r.client.FetchRow(ctx, r.query, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendTransport, err)
	}
	if data == nil {
		return nil, nil
	}

	row := rowFromColumns(header, data)
	if rc := r.cache.RowCache(); rc != nil {
		if err := rc.Put(r.query, n, row); err != nil {
			return nil, err
		}
	}
	return row, nil
}

// RequestRows streams every row of the full result, invoking cb once
// per row in backend order. cb returning an error aborts the stream.
func (r *Requestor) RequestRows(ctx context.Context, cb func(geomcache.Row) error) error {
	err := r.client.StreamTSVWithHeader(ctx, r.query, func(header []string, row backend.TSVRow) error {
		return cb(rowFromColumns(header, row))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendTransport, err)
	}
	return nil
}

func rowFromColumns(header []string, data []string) geomcache.Row {
	row := make(geomcache.Row, len(header))
	for i, col := range header {
		val := ""
		if i < len(data) {
			val = data[i]
		}
		row[i] = [2]string{col, val}
	}
	return row
}

// GeomPointGeoms, GeomLineGeoms and GeomPolyGeoms each walk objects
// forward and backward from oid while the result-row number stays
// equal to objects[oid].Row, collecting every sub-geometry the WKT
// pass emitted for that one source row. The backward walk stops at
// index 0 rather than underflowing past it.
func (r *Requestor) GeomPointGeoms(oid int) []geomcache.ID {
	return r.sameRowGIDs(oid, geomcache.IsPointID)
}

func (r *Requestor) GeomLineGeoms(oid int) []geomcache.ID {
	return r.sameRowGIDs(oid, func(gid geomcache.ID) bool {
		if gid == geomcache.InvalidID || geomcache.IsPointID(gid) {
			return false
		}
		_, isArea := r.cache.GetLineVertices(geomcache.LineIndex(gid))
		return !isArea
	})
}

func (r *Requestor) GeomPolyGeoms(oid int) []geomcache.ID {
	return r.sameRowGIDs(oid, func(gid geomcache.ID) bool {
		if gid == geomcache.InvalidID || geomcache.IsPointID(gid) {
			return false
		}
		_, isArea := r.cache.GetLineVertices(geomcache.LineIndex(gid))
		return isArea
	})
}

func (r *Requestor) sameRowGIDs(oid int, keep func(geomcache.ID) bool) []geomcache.ID {
	if oid < 0 || oid >= len(r.objects) {
		return nil
	}
	row := r.objects[oid].Row

	lo := oid
	for lo > 0 && r.objects[lo-1].Row == row {
		lo--
	}
	hi := oid
	for hi+1 < len(r.objects) && r.objects[hi+1].Row == row {
		hi++
	}

	out := make([]geomcache.ID, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		if keep(r.objects[i].GID) {
			out = append(out, r.objects[i].GID)
		}
	}
	return out
}
