package geomcache

import (
	"context"
	"fmt"
	"strings"

	"github.com/kvnloo/triplemap/backend"
	"github.com/kvnloo/triplemap/mcoord"
	"github.com/kvnloo/triplemap/wkt"
)

// builder holds the scratch state for one Build call. The WKT pass has
// no downstream disk format to batch against — the four output vectors
// are themselves the final in-memory tables — so rows are appended
// directly to Cache rather than staged through temp files first.
type builder struct {
	c *Cache

	prevWKT     string
	prevWasPrim bool
}

func newBuilder(c *Cache) *builder {
	return &builder{c: c}
}

// runWKTPass issues the fixed projection query in ChunkRows pages,
// decodes each row's WKT literal, and appends to Points/LinePoints/
// Lines/QidToID. Consecutive rows with byte-identical WKT text reuse
// the previous primary's GID — the corpus is ORDER BY ?g, so this is
// sufficient dedup without a hash set.
func (b *builder) runWKTPass(ctx context.Context, cl *backend.Client) error {
	const projection = "SELECT ?g WHERE { ?s hasGeometry ?g } ORDER BY ?g"

	err := cl.StreamTSV(ctx, projection, func(row backend.TSVRow) error {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		default:
		}
		return b.ingestRow(row)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendTransport, err)
	}
	return nil
}

func (b *builder) ingestRow(row backend.TSVRow) error {
	if len(row) == 0 {
		b.appendInvalid()
		return nil
	}
	raw := stripWKTSuffix(row[len(row)-1])

	if raw == b.prevWKT && b.prevWasPrim && len(b.c.QidToID) > 0 {
		// Consecutive duplicate: reuse the previous primary's GID.
		k := len(b.c.QidToID) - 1
		for k > 0 && b.c.QidToID[k].QID == 1 {
			k--
		}
		b.c.QidToID = append(b.c.QidToID, IdMapping{QID: 0, ID: b.c.QidToID[k].ID})
		return nil
	}

	subs, err := wkt.Parse(raw)
	if err != nil || len(subs) == 0 {
		b.appendInvalid()
		b.prevWKT, b.prevWasPrim = raw, false
		return nil
	}

	for i, s := range subs {
		var gid ID
		if s.IsPoint {
			gid = ID(len(b.c.Points))
			b.c.Points = append(b.c.Points, s.Point)
			b.c.growCoveragePoint(s.Point)
		} else {
			start := len(b.c.LinePoints)
			b.c.LinePoints = mcoord.EncodeLine(b.c.LinePoints, s.Line, s.IsArea)
			lineIdx := len(b.c.Lines)
			b.c.Lines = append(b.c.Lines, uint64(start))
			gid = LineID(lineIdx)
			b.c.growCoverage(mcoord.BBox(b.c.LinePoints, start, len(b.c.LinePoints)))
		}

		flag := ID(0)
		if i > 0 || s.Continuation {
			flag = 1
		}
		b.c.QidToID = append(b.c.QidToID, IdMapping{QID: QID(flag), ID: gid})
	}

	b.prevWKT = raw
	b.prevWasPrim = true
	return nil
}

func (b *builder) appendInvalid() {
	b.c.QidToID = append(b.c.QidToID, IdMapping{QID: 0, ID: InvalidID})
	b.prevWKT = ""
	b.prevWasPrim = false
}

// stripWKTSuffix removes the surrounding quotes and any trailing
// "^^<...wktLiteral>" datatype annotation the backend's TSV framing
// adds to literal columns.
func stripWKTSuffix(cell string) string {
	cell = strings.TrimSpace(cell)
	if idx := strings.Index(cell, "^^"); idx >= 0 {
		cell = cell[:idx]
	}
	cell = strings.TrimSpace(cell)
	cell = strings.Trim(cell, `"`)
	return cell
}

// runBinaryIDPass re-issues the same projection over the octet-stream
// endpoint and writes each incoming QID into the next *primary* slot of
// QidToID; continuation slots copy the QID of the primary immediately
// before them. Order invariant: this must run after runWKTPass, never
// concurrently with it, since it walks QidToID positionally.
func (b *builder) runBinaryIDPass(ctx context.Context, cl *backend.Client) error {
	const projection = "SELECT ?g WHERE { ?s hasGeometry ?g } ORDER BY ?g"

	idx := 0
	var lastReal QID
	err := cl.StreamBinaryIDs(ctx, projection, func(qid uint64) error {
		for idx < len(b.c.QidToID) && b.c.QidToID[idx].QID == 1 {
			b.c.QidToID[idx].QID = lastReal
			idx++
		}
		if idx >= len(b.c.QidToID) {
			return fmt.Errorf("%w: binary-id pass produced more rows than the WKT pass", ErrBackendProtocol)
		}
		b.c.QidToID[idx].QID = QID(qid)
		lastReal = QID(qid)
		idx++
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendTransport, err)
	}
	// Trailing continuations after the final primary.
	for idx < len(b.c.QidToID) {
		b.c.QidToID[idx].QID = lastReal
		idx++
	}
	return nil
}
