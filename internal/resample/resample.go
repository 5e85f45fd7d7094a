// Package resample changes a population-count grid's resolution while
// conserving total population. Counts are never re-gridded directly: the
// grid is converted to a density field (count per unit area), the density is
// resampled as a continuous surface, and the result is converted back to
// counts at the target cell area. This density round-trip is what keeps the
// total invariant under any resolution change.
package resample

import (
	"context"
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verdantmetrics/greenaccess/internal/raster"
	"github.com/verdantmetrics/greenaccess/internal/workspace"
)

// ResamplingError reports degenerate or irreconcilable source data: an SRS
// that differs from the target, or a source with no valid cells.
type ResamplingError struct {
	Reason string
}

func (e *ResamplingError) Error() string {
	return fmt.Sprintf("resample: %s", e.Reason)
}

// DefaultTolerance is the relative conservation deviation accepted before a
// warning is logged. Empirical; interpolation over large grids costs about
// this much.
const DefaultTolerance = 1e-3

// Population resamples the count grid at srcPath onto the target geometry
// and writes it to dstPath. The intermediate density raster lives in the
// scratch dir, which the caller cleans up. The sum of the output is checked
// against the sum of the input; a relative deviation beyond tol (default
// DefaultTolerance) is logged as a conservation warning.
func Population(ctx context.Context, srcPath, dstPath string, target raster.Meta, scratch *workspace.Dir, tol float64) error {
	if tol <= 0 {
		tol = DefaultTolerance
	}

	src, err := raster.OpenReader(srcPath)
	if err != nil {
		return eris.Wrap(err, "resample: open source")
	}
	defer src.Close()

	sm := src.Meta()
	if sm.SRS != target.SRS {
		return &ResamplingError{Reason: fmt.Sprintf(
			"spatial reference mismatch: source %q vs target %q", sm.SRS, target.SRS)}
	}

	densityPath := scratch.File("population_density.asc")
	srcSum, err := toDensity(ctx, src, densityPath)
	if err != nil {
		return err
	}

	density, err := raster.OpenReader(densityPath)
	if err != nil {
		return eris.Wrap(err, "resample: open density scratch")
	}
	defer density.Close()

	tmpPath := dstPath + ".tmp"
	dstSum, err := fromDensity(ctx, density, tmpPath, target)
	if err != nil {
		return err
	}
	if err := raster.Rename(tmpPath, dstPath); err != nil {
		return err
	}

	// An all-zero (but valid) source has no relative scale; compare
	// absolutely so the deviation never goes NaN.
	dev := math.Abs(dstSum - srcSum)
	if srcSum != 0 {
		dev /= srcSum
	}
	if dev > tol {
		zap.L().Warn("resample: population conservation deviation above tolerance",
			zap.Float64("source_sum", srcSum),
			zap.Float64("resampled_sum", dstSum),
			zap.Float64("deviation", dev),
			zap.Float64("tolerance", tol),
		)
	} else {
		zap.L().Debug("resample: population conserved",
			zap.Float64("source_sum", srcSum),
			zap.Float64("resampled_sum", dstSum),
			zap.Float64("deviation", dev),
		)
	}
	return nil
}

// toDensity writes the counts-per-area raster and returns the source count
// total. Errors if the source holds no valid cell.
func toDensity(ctx context.Context, src *raster.Reader, path string) (float64, error) {
	sm := src.Meta()
	area := sm.CellArea()

	w, err := raster.NewWriter(path, sm)
	if err != nil {
		return 0, eris.Wrap(err, "resample: create density scratch")
	}

	row := make([]float64, sm.Cols)
	var sum float64
	valid := 0
	for i := 0; i < sm.Rows; i++ {
		if err := ctx.Err(); err != nil {
			return 0, eris.Wrap(err, "resample: canceled")
		}
		if err := src.ReadRowInto(i, row); err != nil {
			return 0, err
		}
		for c, v := range row {
			if sm.IsNoData(v) {
				continue
			}
			sum += v
			valid++
			row[c] = v / area
		}
		if err := w.WriteRow(row); err != nil {
			return 0, err
		}
	}
	if err := w.Close(); err != nil {
		return 0, err
	}

	if valid == 0 {
		return 0, &ResamplingError{Reason: "source grid has no valid data"}
	}
	return sum, nil
}

// fromDensity resamples the density field onto the target geometry and
// converts back to counts, returning the output count total. Coarser (or
// equal) targets use an area-weighted density mean; finer targets use
// bilinear interpolation of the continuous density surface.
func fromDensity(ctx context.Context, density *raster.Reader, path string, target raster.Meta) (float64, error) {
	dm := density.Meta()
	targetArea := target.CellArea()

	w, err := raster.NewWriter(path, target)
	if err != nil {
		return 0, eris.Wrap(err, "resample: create target")
	}

	coarser := target.PixelX >= dm.PixelX
	row := make([]float64, target.Cols)
	var sum float64
	for r := 0; r < target.Rows; r++ {
		if err := ctx.Err(); err != nil {
			return 0, eris.Wrap(err, "resample: canceled")
		}
		var rerr error
		if coarser {
			rerr = areaWeightedRow(row, density, target, r)
		} else {
			rerr = bilinearRow(row, density, target, r)
		}
		if rerr != nil {
			return 0, rerr
		}
		for c, d := range row {
			if d == dm.NoData {
				row[c] = target.NoData
				continue
			}
			v := d * targetArea
			row[c] = v
			sum += v
		}
		if err := w.WriteRow(row); err != nil {
			return 0, err
		}
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return sum, nil
}

// areaWeightedRow fills one target row with the overlap-area-weighted mean
// density of the source cells under each target cell. Nodata source cells
// carry no weight; a target cell covered only by nodata is nodata.
func areaWeightedRow(out []float64, density *raster.Reader, target raster.Meta, r int) error {
	dm := density.Meta()
	absTy := -target.PixelY
	absSy := -dm.PixelY

	yTop := target.OriginY - float64(r)*absTy
	yBot := yTop - absTy

	r0, r1 := overlapRange(dm.OriginY-yTop, dm.OriginY-yBot, absSy, dm.Rows)
	if r0 > r1 {
		for c := range out {
			out[c] = dm.NoData
		}
		return nil
	}

	band, err := density.ReadRows(r0, r1-r0+1)
	if err != nil {
		return err
	}

	for c := range out {
		x0 := target.OriginX + float64(c)*target.PixelX
		x1 := x0 + target.PixelX
		c0, c1 := overlapRange(x0-dm.OriginX, x1-dm.OriginX, dm.PixelX, dm.Cols)
		if c0 > c1 {
			out[c] = dm.NoData
			continue
		}

		var wsum, dsum float64
		for sr := r0; sr <= r1; sr++ {
			srTop := dm.OriginY - float64(sr)*absSy
			srBot := srTop - absSy
			hy := math.Min(yTop, srTop) - math.Max(yBot, srBot)
			if hy <= 0 {
				continue
			}
			for sc := c0; sc <= c1; sc++ {
				scLeft := dm.OriginX + float64(sc)*dm.PixelX
				scRight := scLeft + dm.PixelX
				hx := math.Min(x1, scRight) - math.Max(x0, scLeft)
				if hx <= 0 {
					continue
				}
				d := band[(sr-r0)*dm.Cols+sc]
				if d == dm.NoData {
					continue
				}
				wsum += hx * hy
				dsum += hx * hy * d
			}
		}
		if wsum == 0 {
			out[c] = dm.NoData
			continue
		}
		out[c] = dsum / wsum
	}
	return nil
}

// bilinearRow fills one target row by sampling the density surface at each
// target cell center, interpolating between the four surrounding source
// cell centers. Weights of nodata neighbors are dropped and the remainder
// renormalized; all-nodata neighborhoods yield nodata.
func bilinearRow(out []float64, density *raster.Reader, target raster.Meta, r int) error {
	dm := density.Meta()
	absSy := -dm.PixelY

	_, y := target.CellCenter(r, 0)
	fy := (dm.OriginY-y)/absSy - 0.5
	ry0 := int(math.Floor(fy))
	wy := fy - float64(ry0)
	ry0, ry1 := clampPair(ry0, dm.Rows)

	rows := 1
	if ry1 > ry0 {
		rows = 2
	}
	band, err := density.ReadRows(ry0, rows)
	if err != nil {
		return err
	}

	for c := range out {
		x, _ := target.CellCenter(r, c)
		fx := (x-dm.OriginX)/dm.PixelX - 0.5
		cx0 := int(math.Floor(fx))
		wx := fx - float64(cx0)
		cx0, cx1 := clampPair(cx0, dm.Cols)

		sample := func(sr, sc int) float64 {
			return band[(sr-ry0)*dm.Cols+sc]
		}
		corners := [4]float64{
			sample(ry0, cx0), sample(ry0, cx1),
			sample(ry1, cx0), sample(ry1, cx1),
		}
		weights := [4]float64{
			(1 - wy) * (1 - wx), (1 - wy) * wx,
			wy * (1 - wx), wy * wx,
		}

		var wsum, dsum float64
		for i, d := range corners {
			if d == dm.NoData || weights[i] == 0 {
				continue
			}
			wsum += weights[i]
			dsum += weights[i] * d
		}
		if wsum == 0 {
			out[c] = dm.NoData
			continue
		}
		out[c] = dsum / wsum
	}
	return nil
}

// overlapRange maps a ground interval [a, b) in source-pixel units onto the
// source index range it overlaps, clipped to [0, n).
func overlapRange(a, b, pixel float64, n int) (int, int) {
	const eps = 1e-9
	lo := int(math.Floor(a/pixel + eps))
	hi := int(math.Ceil(b/pixel-eps)) - 1
	if lo < 0 {
		lo = 0
	}
	if hi > n-1 {
		hi = n - 1
	}
	return lo, hi
}

func clampPair(i0, n int) (int, int) {
	i1 := i0 + 1
	if i0 < 0 {
		i0 = 0
	}
	if i1 < 0 {
		i1 = 0
	}
	if i0 > n-1 {
		i0 = n - 1
	}
	if i1 > n-1 {
		i1 = n - 1
	}
	return i0, i1
}
