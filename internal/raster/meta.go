// Package raster provides the georeferenced grid model and streaming
// row-oriented I/O over ESRI ASCII grid files used by every pipeline stage.
package raster

import "math"

// Meta describes a grid's geometry: cell counts, upper-left origin, pixel
// size, spatial-reference identifier, and the nodata sentinel value.
// PixelY is negative by convention (rows advance southward).
type Meta struct {
	Rows    int
	Cols    int
	OriginX float64
	OriginY float64
	PixelX  float64
	PixelY  float64
	SRS     string
	NoData  float64
}

// BoundingBox returns (minX, minY, maxX, maxY) in ground units.
func (m Meta) BoundingBox() (float64, float64, float64, float64) {
	minX := m.OriginX
	maxX := m.OriginX + float64(m.Cols)*m.PixelX
	maxY := m.OriginY
	minY := m.OriginY + float64(m.Rows)*m.PixelY
	return minX, minY, maxX, maxY
}

// CellArea returns the ground area covered by one cell.
func (m Meta) CellArea() float64 {
	return m.PixelX * math.Abs(m.PixelY)
}

// CellCenter returns the ground coordinates of the center of cell (row, col).
func (m Meta) CellCenter(row, col int) (float64, float64) {
	x := m.OriginX + (float64(col)+0.5)*m.PixelX
	y := m.OriginY + (float64(row)+0.5)*m.PixelY
	return x, y
}

// SameGeometry reports whether two grids are co-registered: identical origin,
// pixel size, and cell counts, so same-index cells cover the same ground.
func (m Meta) SameGeometry(other Meta) bool {
	const eps = 1e-9
	return m.Rows == other.Rows && m.Cols == other.Cols &&
		math.Abs(m.OriginX-other.OriginX) < eps &&
		math.Abs(m.OriginY-other.OriginY) < eps &&
		math.Abs(m.PixelX-other.PixelX) < eps &&
		math.Abs(m.PixelY-other.PixelY) < eps
}

// PixelSizeCompatible reports whether two grids share a pixel size within a
// relative tolerance. Kernels must be built at the pixel size of the grid
// they are applied to; this is the check that rejects mismatched kernels.
func (m Meta) PixelSizeCompatible(other Meta, rtol float64) bool {
	return relClose(m.PixelX, other.PixelX, rtol) &&
		relClose(math.Abs(m.PixelY), math.Abs(other.PixelY), rtol)
}

// IsNoData reports whether v is the nodata sentinel for this grid.
func (m Meta) IsNoData(v float64) bool {
	return v == m.NoData
}

func relClose(a, b, rtol float64) bool {
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 {
		return diff == 0
	}
	return diff/scale <= rtol
}
