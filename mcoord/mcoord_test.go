package mcoord

import (
	"testing"

	"github.com/kvnloo/triplemap/spatial"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	line := spatial.FLine{
		{X: 10, Y: 20},
		{X: 15, Y: 25},
		{X: 100000, Y: -50000},
		{X: -12345, Y: 67890},
	}

	stream := EncodeLine(nil, line, false)
	verts, isArea := Vertices(stream, 0, len(stream))
	if isArea {
		t.Fatalf("open line decoded as area")
	}
	if len(verts) != len(line) {
		t.Fatalf("got %d vertices, want %d", len(verts), len(line))
	}
	for i, p := range line {
		if verts[i] != p {
			t.Errorf("vertex %d = %v, want %v", i, verts[i], p)
		}
	}
}

func TestEncodeAreaTrailingMarker(t *testing.T) {
	ring := spatial.FLine{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}
	stream := EncodeLine(nil, ring, true)
	_, isArea := Vertices(stream, 0, len(stream))
	if !isArea {
		t.Fatalf("expected trailing marker to flag area")
	}
}

func TestBBoxMatchesDecodedFirstTwo(t *testing.T) {
	line := spatial.FLine{{X: -500, Y: 500}, {X: 1000, Y: -1000}, {X: 0, Y: 0}}
	stream := EncodeLine(nil, line, false)
	box := BBox(stream, 0, len(stream))

	all, _ := DecodeAll(stream, 0, len(stream))
	if len(all) < 2 {
		t.Fatalf("decoded stream too short: %d", len(all))
	}
	if box.LL != all[0] || box.UR != all[1] {
		t.Errorf("BBox = %+v, want LL=%v UR=%v", box, all[0], all[1])
	}

	got := spatial.BoundingBox(line)
	if box.LL != got.LL || box.UR != got.UR {
		t.Errorf("BBox = %+v, want %+v", box, got)
	}
}

func TestLargeCoordinatesCrossMajorCell(t *testing.T) {
	// Forces multiple major-origin changes across the granularity boundary.
	line := spatial.FLine{
		{X: 0, Y: 0},
		{X: Granularity * 3, Y: Granularity * -2},
		{X: Granularity*3 + 100, Y: Granularity*-2 + 100},
	}
	stream := EncodeLine(nil, line, false)
	verts, _ := Vertices(stream, 0, len(stream))
	if len(verts) != len(line) {
		t.Fatalf("got %d vertices, want %d", len(verts), len(line))
	}
	for i, p := range line {
		if verts[i] != p {
			t.Errorf("vertex %d = %v, want %v", i, verts[i], p)
		}
	}
}

func TestMultipleLinesConcatenated(t *testing.T) {
	l1 := spatial.FLine{{X: 1, Y: 1}, {X: 2, Y: 2}}
	l2 := spatial.FLine{{X: -1, Y: -1}, {X: -2, Y: -2}, {X: -3, Y: -3}}

	var stream []Point
	start1 := len(stream)
	stream = EncodeLine(stream, l1, false)
	end1 := len(stream)
	start2 := len(stream)
	stream = EncodeLine(stream, l2, true)
	end2 := len(stream)

	v1, a1 := Vertices(stream, start1, end1)
	v2, a2 := Vertices(stream, start2, end2)

	if a1 {
		t.Errorf("line 1 should not be an area")
	}
	if !a2 {
		t.Errorf("line 2 should be an area")
	}
	if len(v1) != 2 || len(v2) != 3 {
		t.Fatalf("got %d/%d vertices, want 2/3", len(v1), len(v2))
	}
}
