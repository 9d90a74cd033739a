// Package renderer rasterises a Requestor's three spatial grids into a
// heatmap PNG tile for an arbitrary bbox/zoom, without ever touching
// individual line geometries — the line-pixel grid already encodes
// the sub-cell sampling needed at render time.
package renderer

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/kvnloo/triplemap/grid"
	"github.com/kvnloo/triplemap/requestor"
	"github.com/kvnloo/triplemap/spatial"
)

// kernelSigma and kernelRadius size the Gaussian footprint stamped for
// each point/dot hit. kernelRadius is a multiple of sigma large enough
// that the tail contribution is visually negligible.
const (
	kernelSigma  = 2.5
	kernelRadius = 8
)

// Renderer rasterises tiles for whichever Requestor is passed to
// RenderTile. It holds no mutable state of its own beyond the colour
// ramp, so one Renderer can safely serve concurrent RenderTile calls
// for different tiles and sessions.
type Renderer struct {
	ramp ColorRamp
}

// New constructs a Renderer using ramp, or DefaultRamp if ramp is nil.
func New(ramp ColorRamp) *Renderer {
	if ramp == nil {
		ramp = DefaultRamp
	}
	return &Renderer{ramp: ramp}
}

// RenderTile rasterises every grid cell of req overlapping bbox into a
// widthxheight PNG. bbox is in Web Mercator units, y increasing
// upward; the output image has y increasing downward as PNG expects.
func (rd *Renderer) RenderTile(req *requestor.Requestor, bbox spatial.FBox, width, height int) ([]byte, error) {
	acc := make([]float64, width*height)

	if req.MayOverlap(bbox) {
		tx := newTransform(bbox, width, height)
		rd.stampPoints(req, bbox, tx, acc, width, height)
		rd.stampLineBoxes(req, bbox, tx, acc, width, height)
		rd.stampLinePixels(req, bbox, tx, acc, width, height)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	peak := maxOf(acc)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := acc[y*width+x]
			img.Set(x, y, rd.ramp(normalize(v, peak)))
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// transform converts Web Mercator coordinates within bbox to pixel
// coordinates of a width x height raster.
type transform struct {
	bbox        spatial.FBox
	sx, sy      float64
	width, height int
}

func newTransform(bbox spatial.FBox, width, height int) transform {
	w := bbox.UR.X - bbox.LL.X
	h := bbox.UR.Y - bbox.LL.Y
	if w == 0 {
		w = 1
	}
	if h == 0 {
		h = 1
	}
	return transform{
		bbox: bbox, width: width, height: height,
		sx: float64(width) / w,
		sy: float64(height) / h,
	}
}

func (t transform) toPixel(p spatial.FPoint) (float64, float64) {
	px := (p.X - t.bbox.LL.X) * t.sx
	py := float64(t.height) - (p.Y-t.bbox.LL.Y)*t.sy // flip: mercator y-up -> image y-down
	return px, py
}

// stampPoints stamps a Gaussian footprint for every point object whose
// grid cell overlaps bbox.
func (rd *Renderer) stampPoints(req *requestor.Requestor, bbox spatial.FBox, tx transform, acc []float64, width, height int) {
	pg := req.PointGrid()
	if pg == nil {
		return
	}
	objects := req.Objects()
	idxs := pg.Get(bbox, nil)
	for _, idx := range idxs {
		obj := objects[idx]
		p := req.CachePoint(obj.GID)
		px, py := tx.toPixel(p)
		stampGaussian(acc, width, height, px, py, 1.0)
	}
}

// stampLineBoxes draws each candidate line's bounding box as a diffuse
// rectangular overlay — cheap context for where line-heavy regions are,
// distinct from the sharper line-pixel dots.
func (rd *Renderer) stampLineBoxes(req *requestor.Requestor, bbox spatial.FBox, tx transform, acc []float64, width, height int) {
	lg := req.LineGrid()
	if lg == nil {
		return
	}
	objects := req.Objects()
	idxs := lg.Get(bbox, nil)
	for _, idx := range idxs {
		obj := objects[idx]
		lbox := req.CacheLineBBox(obj.GID)
		x0, y0 := tx.toPixel(lbox.LL)
		x1, y1 := tx.toPixel(spatial.FPoint{X: lbox.UR.X, Y: lbox.UR.Y})
		stampRect(acc, width, height, x0, y1, x1, y0, 0.15)
	}
}

// stampLinePixels stamps every recorded sub-cell dot of the
// line-pixel grid whose cell overlaps bbox.
func (rd *Renderer) stampLinePixels(req *requestor.Requestor, bbox spatial.FBox, tx transform, acc []float64, width, height int) {
	lpg := req.LinePixelGrid()
	if lpg == nil {
		return
	}
	subCellSize := grid.CellSize / 256.0
	origin := lpg.BBox().LL

	x0, y0 := lpg.CellX(bbox.LL.X), lpg.CellY(bbox.LL.Y)
	x1, y1 := lpg.CellX(bbox.UR.X), lpg.CellY(bbox.UR.Y)
	for cy := y0; cy <= y1; cy++ {
		for cx := x0; cx <= x1; cx++ {
			for _, sc := range lpg.GetCell(cx, cy) {
				p := spatial.FPoint{
					X: origin.X + float64(cx)*grid.CellSize + float64(sc.X)*subCellSize,
					Y: origin.Y + float64(cy)*grid.CellSize + float64(sc.Y)*subCellSize,
				}
				px, py := tx.toPixel(p)
				stampGaussian(acc, width, height, px, py, 0.6)
			}
		}
	}
}

// stampGaussian adds a Gaussian footprint of peak weight centred at
// (cx, cy) into acc, clipped to [0,width)x[0,height).
func stampGaussian(acc []float64, width, height int, cx, cy, weight float64) {
	x0 := clampInt(int(cx)-kernelRadius, 0, width-1)
	x1 := clampInt(int(cx)+kernelRadius, 0, width-1)
	y0 := clampInt(int(cy)-kernelRadius, 0, height-1)
	y1 := clampInt(int(cy)+kernelRadius, 0, height-1)
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			g := math.Exp(-(dx*dx + dy*dy) / (2 * kernelSigma * kernelSigma))
			acc[y*width+x] += weight * g
		}
	}
}

// stampRect adds weight to every pixel within the rectangle
// [x0,x1]x[y0,y1], clipped to the raster.
func stampRect(acc []float64, width, height int, x0, y0, x1, y1, weight float64) {
	ix0 := clampInt(int(math.Min(x0, x1)), 0, width-1)
	ix1 := clampInt(int(math.Max(x0, x1)), 0, width-1)
	iy0 := clampInt(int(math.Min(y0, y1)), 0, height-1)
	iy1 := clampInt(int(math.Max(y0, y1)), 0, height-1)
	for y := iy0; y <= iy1; y++ {
		for x := ix0; x <= ix1; x++ {
			acc[y*width+x] += weight
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxOf(vs []float64) float64 {
	m := 0.0
	for _, v := range vs {
		if v > m {
			m = v
		}
	}
	return m
}

func normalize(v, peak float64) float64 {
	if peak <= 0 {
		return 0
	}
	n := v / peak
	if n > 1 {
		n = 1
	}
	return n
}

// ColorRamp maps a normalised [0,1] accumulator value to a colour.
type ColorRamp func(v float64) color.RGBA

// DefaultRamp goes transparent -> blue -> green -> red, the classic
// heatmap progression, with alpha rising alongside intensity so sparse
// regions stay legible against the base map.
func DefaultRamp(v float64) color.RGBA {
	if v <= 0 {
		return color.RGBA{}
	}
	a := uint8(math.Min(255, 60+v*195))
	switch {
	case v < 0.5:
		t := v / 0.5
		return color.RGBA{R: 0, G: uint8(t * 255), B: uint8((1 - t) * 255), A: a}
	default:
		t := (v - 0.5) / 0.5
		return color.RGBA{R: uint8(t * 255), G: uint8((1 - t) * 255), B: 0, A: a}
	}
}
