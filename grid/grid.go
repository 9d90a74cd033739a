// Package grid implements a fixed-cell-size axis-aligned uniform grid
// used to index points and bounding boxes by the cells they overlap.
// It is deliberately payload-agnostic: the same structure backs the
// point grid, the line-bbox grid and the line-pixel sub-cell grid.
package grid

import (
	"math"

	"github.com/kvnloo/triplemap/spatial"
)

// CellSize is the fixed cell width/height in Web Mercator units.
const CellSize = 65536.0

// Grid is a uniform grid over bbox, divided into CellSize x CellSize
// cells. Payloads of type T are appended to whichever cells they
// overlap; a Grid never shrinks or rehashes once built, matching the
// build-then-read-only lifecycle of Requestor's three grids.
type Grid[T any] struct {
	bbox  spatial.FBox
	cellW int
	cellH int
	cells [][]T
}

// New constructs an empty grid covering bbox. The grid always has at
// least one cell even if bbox is degenerate.
func New[T any](bbox spatial.FBox) *Grid[T] {
	cellW := cellIndex(bbox.UR.X, bbox.LL.X) + 1
	cellH := cellIndex(bbox.UR.Y, bbox.LL.Y) + 1
	if cellW < 1 {
		cellW = 1
	}
	if cellH < 1 {
		cellH = 1
	}
	return &Grid[T]{
		bbox:  bbox,
		cellW: cellW,
		cellH: cellH,
		cells: make([][]T, cellW*cellH),
	}
}

// cellIndex returns the cell coordinate of v relative to origin,
// rounded toward negative infinity so that values below origin still
// resolve to a deterministic (negative) cell rather than truncating
// toward zero.
func cellIndex(v, origin float64) int {
	return int(math.Floor((v - origin) / CellSize))
}

// CellX and CellY convert an absolute Web Mercator coordinate into
// this grid's cell-space, prior to clamping.
func (g *Grid[T]) CellX(x float64) int { return cellIndex(x, g.bbox.LL.X) }
func (g *Grid[T]) CellY(y float64) int { return cellIndex(y, g.bbox.LL.Y) }

func (g *Grid[T]) inBounds(cx, cy int) bool {
	return cx >= 0 && cx < g.cellW && cy >= 0 && cy < g.cellH
}

func (g *Grid[T]) idx(cx, cy int) int { return cy*g.cellW + cx }

// Add inserts payload into the single cell covering p. A point outside
// the grid's bbox is silently dropped.
func (g *Grid[T]) Add(p spatial.FPoint, payload T) {
	cx, cy := g.CellX(p.X), g.CellY(p.Y)
	if !g.inBounds(cx, cy) {
		return
	}
	i := g.idx(cx, cy)
	g.cells[i] = append(g.cells[i], payload)
}

// AddBox inserts payload into every cell overlapping box.
func (g *Grid[T]) AddBox(box spatial.FBox, payload T) {
	x0, y0 := g.CellX(box.LL.X), g.CellY(box.LL.Y)
	x1, y1 := g.CellX(box.UR.X), g.CellY(box.UR.Y)
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 >= g.cellW {
		x1 = g.cellW - 1
	}
	if y1 >= g.cellH {
		y1 = g.cellH - 1
	}
	for cy := y0; cy <= y1; cy++ {
		for cx := x0; cx <= x1; cx++ {
			if !g.inBounds(cx, cy) {
				continue
			}
			i := g.idx(cx, cy)
			g.cells[i] = append(g.cells[i], payload)
		}
	}
}

// AddCell inserts payload directly into (cellX, cellY), bypassing
// coordinate-to-cell conversion. Used by the line-pixel grid, which
// already computes cell coordinates while walking decoded vertices.
func (g *Grid[T]) AddCell(cellX, cellY int, payload T) {
	if !g.inBounds(cellX, cellY) {
		return
	}
	i := g.idx(cellX, cellY)
	g.cells[i] = append(g.cells[i], payload)
}

// Get appends the payloads of every cell overlapping box to out and
// returns the extended slice. Duplicates are possible when a payload
// was inserted into multiple overlapping cells (AddBox); callers that
// care deduplicate themselves.
func (g *Grid[T]) Get(box spatial.FBox, out []T) []T {
	x0, y0 := g.CellX(box.LL.X), g.CellY(box.LL.Y)
	x1, y1 := g.CellX(box.UR.X), g.CellY(box.UR.Y)
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 >= g.cellW {
		x1 = g.cellW - 1
	}
	if y1 >= g.cellH {
		y1 = g.cellH - 1
	}
	if x0 > x1 || y0 > y1 {
		return out
	}
	for cy := y0; cy <= y1; cy++ {
		for cx := x0; cx <= x1; cx++ {
			out = append(out, g.cells[g.idx(cx, cy)]...)
		}
	}
	return out
}

// GetCell returns the payloads stored directly at (cellX, cellY), or
// nil if out of bounds or empty.
func (g *Grid[T]) GetCell(cellX, cellY int) []T {
	if !g.inBounds(cellX, cellY) {
		return nil
	}
	return g.cells[g.idx(cellX, cellY)]
}

// NumCells reports the total cell count, used by the memory-budget
// check (8 bytes per cell slot) before a grid is populated.
func (g *Grid[T]) NumCells() int { return g.cellW * g.cellH }

// BBox returns the grid's covering box.
func (g *Grid[T]) BBox() spatial.FBox { return g.bbox }
