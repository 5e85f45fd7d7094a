// Package align computes the common grid geometry two rasters must share
// before they can be combined cell-for-cell. The actual resampling onto the
// computed geometry is the resample package's job.
package align

import (
	"fmt"
	"math"

	"github.com/verdantmetrics/greenaccess/internal/raster"
)

// GeometryError reports spatial references or extents that cannot be
// reconciled. It is structurally invalid input; callers halt rather than
// retry.
type GeometryError struct {
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("align: %s", e.Reason)
}

// snapEps absorbs floating-point drift when snapping coordinates onto the
// reference lattice.
const snapEps = 1e-9

// Warp computes the target geometry for resampling src onto the reference
// grid's lattice: reference pixel size, origin snapped to a reference cell
// corner, and extent covering the intersection of the two bounding boxes.
// The source grid's nodata sentinel is carried through to the target.
func Warp(ref, src raster.Meta) (raster.Meta, error) {
	if ref.SRS != src.SRS {
		return raster.Meta{}, &GeometryError{Reason: fmt.Sprintf(
			"spatial reference mismatch: reference %q vs source %q (reprojection is out of scope)",
			ref.SRS, src.SRS)}
	}

	refMinX, refMinY, refMaxX, refMaxY := ref.BoundingBox()
	srcMinX, srcMinY, srcMaxX, srcMaxY := src.BoundingBox()

	minX := math.Max(refMinX, srcMinX)
	minY := math.Max(refMinY, srcMinY)
	maxX := math.Min(refMaxX, srcMaxX)
	maxY := math.Min(refMaxY, srcMaxY)
	if minX >= maxX || minY >= maxY {
		return raster.Meta{}, &GeometryError{Reason: "grid extents do not overlap"}
	}

	px := ref.PixelX
	py := ref.PixelY
	absY := -py

	// Snap the intersection's upper-left corner outward onto the reference
	// lattice so target cell boundaries coincide with reference cell
	// boundaries exactly.
	colsWest := math.Floor((minX-ref.OriginX)/px + snapEps)
	rowsNorth := math.Floor((ref.OriginY-maxY)/absY + snapEps)
	originX := ref.OriginX + colsWest*px
	originY := ref.OriginY - rowsNorth*absY

	cols := int(math.Ceil((maxX-originX)/px - snapEps))
	rows := int(math.Ceil((originY-minY)/absY - snapEps))
	if cols < 1 || rows < 1 {
		return raster.Meta{}, &GeometryError{Reason: "snapped extent is degenerate"}
	}

	return raster.Meta{
		Rows:    rows,
		Cols:    cols,
		OriginX: originX,
		OriginY: originY,
		PixelX:  px,
		PixelY:  py,
		SRS:     ref.SRS,
		NoData:  src.NoData,
	}, nil
}
