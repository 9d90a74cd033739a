package geomcache

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/kvnloo/triplemap/mcoord"
	"github.com/kvnloo/triplemap/spatial"
)

func TestSerializeToDiskRoundTrip(t *testing.T) {
	src := newTestCache()
	src.Points = []spatial.FPoint{{X: 1.5, Y: -2.25}, {X: 0, Y: 0}}
	src.LinePoints = mcoord.EncodeLine(nil, spatial.FLine{
		{X: 10, Y: 10}, {X: 20, Y: 30}, {X: -5, Y: 5},
	}, true)
	src.Lines = []uint64{0}
	src.QidToID = []IdMapping{
		{QID: 7, ID: 0},
		{QID: 42, ID: LineID(0)},
	}
	src.growCoveragePoint(src.Points[0])
	src.growCoverage(src.GetLineBBox(0))

	path := filepath.Join(t.TempDir(), "cache.bin")
	if err := src.SerializeToDisk(path); err != nil {
		t.Fatalf("SerializeToDisk: %v", err)
	}

	dst := newTestCache()
	if err := dst.FromDisk(path); err != nil {
		t.Fatalf("FromDisk: %v", err)
	}

	if !reflect.DeepEqual(src.Points, dst.Points) {
		t.Errorf("Points mismatch: %+v != %+v", src.Points, dst.Points)
	}
	if !reflect.DeepEqual(src.LinePoints, dst.LinePoints) {
		t.Errorf("LinePoints mismatch: %+v != %+v", src.LinePoints, dst.LinePoints)
	}
	if !reflect.DeepEqual(src.Lines, dst.Lines) {
		t.Errorf("Lines mismatch: %+v != %+v", src.Lines, dst.Lines)
	}
	if !reflect.DeepEqual(src.QidToID, dst.QidToID) {
		t.Errorf("QidToID mismatch: %+v != %+v", src.QidToID, dst.QidToID)
	}
	if !dst.Ready() {
		t.Error("FromDisk should mark the cache ready")
	}
}

func TestFromDiskRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bin")
	src := newTestCache()
	if err := src.SerializeToDisk(path); err != nil {
		t.Fatalf("SerializeToDisk: %v", err)
	}

	// Corrupt the magic bytes.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[0] ^= 0xFF
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	dst := newTestCache()
	err := dst.FromDisk(path)
	if err == nil {
		t.Fatal("expected an error for corrupted magic")
	}
}

func TestSerializeToDiskEmptyCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	src := newTestCache()
	if err := src.SerializeToDisk(path); err != nil {
		t.Fatalf("SerializeToDisk: %v", err)
	}
	dst := newTestCache()
	if err := dst.FromDisk(path); err != nil {
		t.Fatalf("FromDisk: %v", err)
	}
	if len(dst.Points) != 0 || len(dst.LinePoints) != 0 || len(dst.Lines) != 0 || len(dst.QidToID) != 0 {
		t.Fatalf("expected empty tables, got %+v", dst)
	}
}
