package geomcache

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/golang/geo/s2"

	"github.com/kvnloo/triplemap/mcoord"
	"github.com/kvnloo/triplemap/spatial"
)

func mathFloatBits(f float64) uint64     { return math.Float64bits(f) }
func mathFloatFromBits(b uint64) float64 { return math.Float64frombits(b) }

// cacheMagic and cacheVersion guard the on-disk format. The original
// design had neither, so a schema change silently produced garbage
// reads; every build now stamps this 16-byte header ahead of the four
// length-prefixed vectors.
const (
	cacheMagic   uint32 = 0x70747269 // "irtp" little-endian
	cacheVersion uint32 = 1
)

// SerializeToDisk writes the header followed by Points, LinePoints,
// Lines and QidToID, each prefixed by a uint64 element count, in that
// fixed order.
func (c *Cache) SerializeToDisk(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("geomcache: create cache file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, 1<<20)

	var hdr [16]byte
	binary.LittleEndian.PutUint32(hdr[0:], cacheMagic)
	binary.LittleEndian.PutUint32(hdr[4:], cacheVersion)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}

	if err := writeVector(w, len(c.Points), func(wr io.Writer) error {
		return writePoints(wr, c.Points)
	}); err != nil {
		return err
	}
	if err := writeVector(w, len(c.LinePoints), func(wr io.Writer) error {
		return writeMCoords(wr, c.LinePoints)
	}); err != nil {
		return err
	}
	if err := writeVector(w, len(c.Lines), func(wr io.Writer) error {
		return binary.Write(wr, binary.LittleEndian, c.Lines)
	}); err != nil {
		return err
	}
	if err := writeVector(w, len(c.QidToID), func(wr io.Writer) error {
		return writeMappings(wr, c.QidToID)
	}); err != nil {
		return err
	}

	return w.Flush()
}

// FromDisk replaces this Cache's tables with the contents of path. The
// Cache must not be concurrently read while loading.
func (c *Cache) FromDisk(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("geomcache: open cache file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 1<<20)

	var hdr [16]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendProtocol, err)
	}
	magic := binary.LittleEndian.Uint32(hdr[0:])
	version := binary.LittleEndian.Uint32(hdr[4:])
	if magic != cacheMagic {
		return fmt.Errorf("%w: bad magic %#x", ErrCacheVersion, magic)
	}
	if version != cacheVersion {
		return fmt.Errorf("%w: got version %d, want %d", ErrCacheVersion, version, cacheVersion)
	}

	n, err := readCount(r)
	if err != nil {
		return err
	}
	c.Points, err = readPoints(r, n)
	if err != nil {
		return err
	}

	n, err = readCount(r)
	if err != nil {
		return err
	}
	c.LinePoints, err = readMCoords(r, n)
	if err != nil {
		return err
	}

	n, err = readCount(r)
	if err != nil {
		return err
	}
	c.Lines = make([]uint64, n)
	if err := binary.Read(r, binary.LittleEndian, c.Lines); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendProtocol, err)
	}

	n, err = readCount(r)
	if err != nil {
		return err
	}
	c.QidToID, err = readMappings(r, n)
	if err != nil {
		return err
	}

	c.coverage = s2.EmptyRect()
	for i := range c.Points {
		c.growCoveragePoint(c.Points[i])
	}
	for i := range c.Lines {
		c.growCoverage(c.GetLineBBox(i))
	}
	c.ready.Store(true)
	return nil
}

func writeVector(w io.Writer, n int, write func(io.Writer) error) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(n)); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	return write(w)
}

func readCount(r io.Reader) (int, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendProtocol, err)
	}
	return int(n), nil
}

func writePoints(w io.Writer, pts []spatial.FPoint) error {
	buf := make([]byte, 16)
	for _, p := range pts {
		binary.LittleEndian.PutUint64(buf[0:], mathFloatBits(p.X))
		binary.LittleEndian.PutUint64(buf[8:], mathFloatBits(p.Y))
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func readPoints(r io.Reader, n int) ([]spatial.FPoint, error) {
	out := make([]spatial.FPoint, n)
	buf := make([]byte, 16)
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendProtocol, err)
		}
		out[i] = spatial.FPoint{
			X: mathFloatFromBits(binary.LittleEndian.Uint64(buf[0:])),
			Y: mathFloatFromBits(binary.LittleEndian.Uint64(buf[8:])),
		}
	}
	return out, nil
}

func writeMCoords(w io.Writer, pts []mcoord.Point) error {
	buf := make([]byte, 4)
	for _, p := range pts {
		binary.LittleEndian.PutUint16(buf[0:], uint16(p.X))
		binary.LittleEndian.PutUint16(buf[2:], uint16(p.Y))
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func readMCoords(r io.Reader, n int) ([]mcoord.Point, error) {
	out := make([]mcoord.Point, n)
	buf := make([]byte, 4)
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendProtocol, err)
		}
		out[i] = mcoord.Point{
			X: int16(binary.LittleEndian.Uint16(buf[0:])),
			Y: int16(binary.LittleEndian.Uint16(buf[2:])),
		}
	}
	return out, nil
}

func writeMappings(w io.Writer, ms []IdMapping) error {
	buf := make([]byte, 12)
	for _, m := range ms {
		binary.LittleEndian.PutUint64(buf[0:], m.QID)
		binary.LittleEndian.PutUint32(buf[8:], m.ID)
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func readMappings(r io.Reader, n int) ([]IdMapping, error) {
	out := make([]IdMapping, n)
	buf := make([]byte, 12)
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendProtocol, err)
		}
		out[i] = IdMapping{
			QID: binary.LittleEndian.Uint64(buf[0:]),
			ID:  binary.LittleEndian.Uint32(buf[8:]),
		}
	}
	return out, nil
}
