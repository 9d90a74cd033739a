package grid

import (
	"testing"

	"github.com/kvnloo/triplemap/spatial"
)

func box(llx, lly, urx, ury float64) spatial.FBox {
	return spatial.FBox{LL: spatial.FPoint{X: llx, Y: lly}, UR: spatial.FPoint{X: urx, Y: ury}}
}

func TestAddAndGetSingleCell(t *testing.T) {
	g := New[int](box(0, 0, 100000, 100000))
	g.Add(spatial.FPoint{X: 10, Y: 10}, 42)

	got := g.Get(box(0, 0, 1000, 1000), nil)
	if len(got) != 1 || got[0] != 42 {
		t.Fatalf("got %v", got)
	}
}

func TestAddOutsideBBoxIsDropped(t *testing.T) {
	g := New[int](box(0, 0, 100000, 100000))
	g.Add(spatial.FPoint{X: -500000, Y: -500000}, 1)

	got := g.Get(box(0, 0, 100000, 100000), nil)
	if len(got) != 0 {
		t.Fatalf("expected no payloads, got %v", got)
	}
}

func TestAddBoxCoversMultipleCells(t *testing.T) {
	g := New[string](box(0, 0, 3*CellSize, 3*CellSize))
	g.AddBox(box(0, 0, 2*CellSize, 2*CellSize), "x")

	var total int
	for cy := 0; cy < 3; cy++ {
		for cx := 0; cx < 3; cx++ {
			total += len(g.GetCell(cx, cy))
		}
	}
	// the upper bound 2*CellSize falls in cell 2 and AddBox is inclusive, so cells 0..2 on both axes (9) are hit
	if total < 4 {
		t.Fatalf("expected AddBox to hit at least 4 cells, got %d", total)
	}
}

func TestAddCellDirectAddressing(t *testing.T) {
	g := New[int](box(0, 0, 3*CellSize, 3*CellSize))
	g.AddCell(1, 1, 7)

	got := g.GetCell(1, 1)
	if len(got) != 1 || got[0] != 7 {
		t.Fatalf("got %v", got)
	}
	if got := g.GetCell(99, 99); got != nil {
		t.Fatalf("out-of-bounds GetCell should be nil, got %v", got)
	}
}

func TestGetOutsideGridReturnsEmpty(t *testing.T) {
	g := New[int](box(0, 0, 1000, 1000))
	g.Add(spatial.FPoint{X: 10, Y: 10}, 1)

	got := g.Get(box(1e9, 1e9, 2e9, 2e9), nil)
	if len(got) != 0 {
		t.Fatalf("expected empty, got %v", got)
	}
}

func TestCellIndexRoundsTowardNegativeInfinity(t *testing.T) {
	if got := cellIndex(-1, 0); got != -1 {
		t.Errorf("cellIndex(-1,0) = %d, want -1", got)
	}
	if got := cellIndex(-CellSize-1, 0); got != -2 {
		t.Errorf("cellIndex(-CellSize-1,0) = %d, want -2", got)
	}
}

func TestNumCells(t *testing.T) {
	g := New[int](box(0, 0, CellSize, CellSize))
	if g.NumCells() != 4 {
		t.Fatalf("got %d cells, want 4 (2x2)", g.NumCells())
	}
}
