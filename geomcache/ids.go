package geomcache

// ID is the internal 32-bit geometry identifier. Values below IOffset
// index into Points; values at or above it index into Lines as
// (id - IOffset). InvalidID marks "no geometry".
type ID = uint32

// QID is the opaque 64-bit per-row identifier the backend's binary
// export endpoint produces. It is only ever used as a join key.
type QID = uint64

const (
	// IOffset partitions the ID space between points and lines/polygons.
	IOffset = ID(1) << 31
	// InvalidID is the sentinel written for rows whose WKT failed to
	// parse or decoded to an empty geometry.
	InvalidID = ^ID(0)
)

// IdMapping pairs a QID with an ID. During the WKT ingest pass QID
// temporarily holds only the continuation flag (0 = primary sub-geometry
// of a result row, 1 = continuation of a multi-geometry); the binary-id
// pass overwrites primaries with their real QID and continuations copy
// the QID of the primary that precedes them. Once sorted by QID, the
// same type is reused by Requestor as the (QID, row) pairs it feeds
// into GetRelObjects, so ID there means "result row index" rather than
// "geometry id".
type IdMapping struct {
	QID QID
	ID  ID
}

// IsPointID reports whether id addresses Points rather than Lines.
func IsPointID(id ID) bool {
	return id < IOffset && id != InvalidID
}

// LineIndex converts a line/polygon ID into an index into Lines. The
// caller must have already checked id is not InvalidID and id >= IOffset.
func LineIndex(id ID) int {
	return int(id - IOffset)
}

// LineID is the inverse of LineIndex.
func LineID(idx int) ID {
	return IOffset + ID(idx)
}

// ObjectRef is one (geometry id, result row) pair, as returned by
// GetRelObjects and stored in Requestor.Objects.
type ObjectRef struct {
	GID ID
	Row ID
}
