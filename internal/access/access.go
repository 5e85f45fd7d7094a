// Package access wires alignment, resampling, kernel synthesis, and
// convolution into the end-to-end per-capita greenspace accessibility
// computation.
package access

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verdantmetrics/greenaccess/internal/align"
	"github.com/verdantmetrics/greenaccess/internal/convolve"
	"github.com/verdantmetrics/greenaccess/internal/kernel"
	"github.com/verdantmetrics/greenaccess/internal/raster"
	"github.com/verdantmetrics/greenaccess/internal/resample"
	"github.com/verdantmetrics/greenaccess/internal/workspace"
)

// Args parameterizes one accessibility run. Paths and workspace naming are
// the caller's concern; everything else feeds the computation.
type Args struct {
	PopulationPath string
	LULCPath       string
	WorkspaceDir   string
	ResultsSuffix  string

	SearchDistance  float64
	DecayFamily     kernel.Family
	NormalizeKernel bool
	SupplyMap       map[int]float64

	Tolerance float64
	BlockRows int
	Workers   int
}

// Result names every artifact a run produces. Intermediates are kept for
// downstream aggregation.
type Result struct {
	AlignedPopulationPath string `yaml:"aligned_population"`
	AlignedLULCPath       string `yaml:"aligned_lulc"`
	SupplyPath            string `yaml:"supply"`
	KernelPath            string `yaml:"kernel"`
	DecayedSupplyPath     string `yaml:"decayed_supply"`
	DecayedDemandPath     string `yaml:"decayed_demand"`
	AccessibilityPath     string `yaml:"accessibility"`
	ManifestPath          string `yaml:"manifest"`

	KernelRadiusPixels int `yaml:"kernel_radius_pixels"`
}

// Execute runs the full pipeline: derive the common geometry from the
// land-cover grid, resample population onto it, derive the supply grid,
// build the decay kernel, convolve both directions, and emit the per-capita
// accessibility surface. The first structural error halts the run; scratch
// space is cleaned up on every exit path and the final output appears only
// on success.
func Execute(ctx context.Context, args Args) (*Result, error) {
	start := time.Now()

	if len(args.SupplyMap) == 0 {
		return nil, eris.New("access: land-cover to supply mapping is empty")
	}

	intermediateDir := filepath.Join(args.WorkspaceDir, "intermediate")
	outputDir := filepath.Join(args.WorkspaceDir, "output")
	for _, dir := range []string{intermediateDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "access: create %s", dir)
		}
	}

	res := &Result{
		AlignedPopulationPath: filepath.Join(intermediateDir, suffixed("aligned_population", args.ResultsSuffix)),
		AlignedLULCPath:       filepath.Join(intermediateDir, suffixed("aligned_lulc", args.ResultsSuffix)),
		SupplyPath:            filepath.Join(intermediateDir, suffixed("supply", args.ResultsSuffix)),
		KernelPath:            filepath.Join(intermediateDir, suffixed("kernel", args.ResultsSuffix)),
		DecayedSupplyPath:     filepath.Join(intermediateDir, suffixed("decayed_supply", args.ResultsSuffix)),
		DecayedDemandPath:     filepath.Join(intermediateDir, suffixed("decayed_demand", args.ResultsSuffix)),
		AccessibilityPath:     filepath.Join(outputDir, suffixed("accessibility", args.ResultsSuffix)),
	}

	// Step 1: common target geometry, derived from the land-cover grid.
	lulcMeta, err := raster.ReadMeta(args.LULCPath)
	if err != nil {
		return nil, err
	}
	popMeta, err := raster.ReadMeta(args.PopulationPath)
	if err != nil {
		return nil, err
	}
	target, err := align.Warp(lulcMeta, popMeta)
	if err != nil {
		return nil, err
	}
	zap.L().Info("access: target geometry derived",
		zap.Int("rows", target.Rows),
		zap.Int("cols", target.Cols),
		zap.Float64("pixel", target.PixelX),
	)

	// Step 2: conservative population resample onto the target lattice.
	if err := resamplePopulation(ctx, args, target, res.AlignedPopulationPath); err != nil {
		return nil, err
	}

	// Land cover is categorical; align it onto the same lattice by nearest
	// neighbor.
	lulcTarget := target
	lulcTarget.NoData = lulcMeta.NoData
	if err := alignNearest(ctx, args.LULCPath, res.AlignedLULCPath, lulcTarget); err != nil {
		return nil, err
	}

	// Step 3: class codes → supply values.
	if err := reclassify(ctx, res.AlignedLULCPath, res.SupplyPath, args.SupplyMap); err != nil {
		return nil, err
	}

	// Step 4: decay kernel at the target pixel size.
	radiusPx, err := kernel.RadiusFromGroundDistance(args.SearchDistance, target.PixelX)
	if err != nil {
		return nil, err
	}
	res.KernelRadiusPixels = radiusPx
	if _, err := kernel.Build(res.KernelPath, kernel.Spec{
		Family:       args.DecayFamily,
		RadiusPixels: radiusPx,
		PixelX:       target.PixelX,
		PixelY:       target.PixelY,
		SRS:          target.SRS,
		Normalized:   args.NormalizeKernel,
	}); err != nil {
		return nil, err
	}
	zap.L().Info("access: kernel built",
		zap.String("family", args.DecayFamily.String()),
		zap.Int("radius_pixels", radiusPx),
	)

	// Step 5: decayed supply reaching each cell, decayed demand reaching
	// each cell.
	opts := convolve.Options{BlockRows: args.BlockRows, Workers: args.Workers}
	opts.Mode = convolve.DecayedSupply
	if err := convolve.Run(ctx, res.SupplyPath, res.KernelPath, res.DecayedSupplyPath, opts); err != nil {
		return nil, err
	}
	opts.Mode = convolve.DecayedDemand
	if err := convolve.Run(ctx, res.AlignedPopulationPath, res.KernelPath, res.DecayedDemandPath, opts); err != nil {
		return nil, err
	}

	// Step 6: per-capita accessibility, nodata where no demand reaches.
	if err := perCapita(ctx, res.DecayedSupplyPath, res.DecayedDemandPath, res.AccessibilityPath); err != nil {
		return nil, err
	}

	manifestPath, err := writeManifest(outputDir, args, res)
	if err != nil {
		return nil, err
	}
	res.ManifestPath = manifestPath

	zap.L().Info("access: run complete",
		zap.String("accessibility", res.AccessibilityPath),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// resamplePopulation runs the resample stage inside its own scratch dir.
// The density intermediate is removed as soon as the stage returns, success
// or failure, rather than living until the whole run finishes.
func resamplePopulation(ctx context.Context, args Args, target raster.Meta, dstPath string) error {
	scratch, err := workspace.New(filepath.Join(args.WorkspaceDir, "scratch"), "resample")
	if err != nil {
		return err
	}
	defer scratch.Cleanup()
	return resample.Population(ctx, args.PopulationPath, dstPath, target, scratch, args.Tolerance)
}

func suffixed(stem, suffix string) string {
	if suffix == "" {
		return stem + ".asc"
	}
	return fmt.Sprintf("%s_%s.asc", stem, suffix)
}

// alignNearest rewrites src onto the target geometry by nearest-neighbor
// sampling, preserving categorical values exactly.
func alignNearest(ctx context.Context, srcPath, dstPath string, target raster.Meta) error {
	src, err := raster.OpenReader(srcPath)
	if err != nil {
		return eris.Wrap(err, "access: open land cover")
	}
	defer src.Close()
	sm := src.Meta()

	w, err := raster.NewWriter(dstPath, target)
	if err != nil {
		return err
	}

	srcRow := make([]float64, sm.Cols)
	out := make([]float64, target.Cols)
	for r := 0; r < target.Rows; r++ {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "access: canceled")
		}
		_, y := target.CellCenter(r, 0)
		sr := int(math.Floor((sm.OriginY - y) / -sm.PixelY))
		if sr < 0 {
			sr = 0
		}
		if sr > sm.Rows-1 {
			sr = sm.Rows - 1
		}
		if err := src.ReadRowInto(sr, srcRow); err != nil {
			return err
		}
		for c := range out {
			x, _ := target.CellCenter(r, c)
			sc := int(math.Floor((x - sm.OriginX) / sm.PixelX))
			if sc < 0 {
				sc = 0
			}
			if sc > sm.Cols-1 {
				sc = sm.Cols - 1
			}
			out[c] = srcRow[sc]
		}
		if err := w.WriteRow(out); err != nil {
			return err
		}
	}
	return w.Close()
}

// reclassify maps land-cover class codes to supply values. Classes absent
// from the mapping contribute no supply; land-cover nodata stays nodata,
// since no classification exists there.
func reclassify(ctx context.Context, lulcPath, supplyPath string, supplyMap map[int]float64) error {
	src, err := raster.OpenReader(lulcPath)
	if err != nil {
		return eris.Wrap(err, "access: open aligned land cover")
	}
	defer src.Close()
	sm := src.Meta()

	w, err := raster.NewWriter(supplyPath, sm)
	if err != nil {
		return err
	}

	row := make([]float64, sm.Cols)
	for r := 0; r < sm.Rows; r++ {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "access: canceled")
		}
		if err := src.ReadRowInto(r, row); err != nil {
			return err
		}
		for c, v := range row {
			if sm.IsNoData(v) {
				continue
			}
			supply, ok := supplyMap[int(math.Round(v))]
			if !ok {
				supply = 0
			}
			row[c] = supply
		}
		if err := w.WriteRow(row); err != nil {
			return err
		}
	}
	return w.Close()
}

// perCapita writes decayed supply per unit of decayed demand. Cells where
// no demand reaches (zero or negative demand) get nodata: a ratio against
// nobody is not a measurement. The output appears atomically via rename.
func perCapita(ctx context.Context, supplyPath, demandPath, outPath string) error {
	supply, err := raster.OpenReader(supplyPath)
	if err != nil {
		return eris.Wrap(err, "access: open decayed supply")
	}
	defer supply.Close()
	demand, err := raster.OpenReader(demandPath)
	if err != nil {
		return eris.Wrap(err, "access: open decayed demand")
	}
	defer demand.Close()

	sMeta := supply.Meta()
	dMeta := demand.Meta()
	if !sMeta.SameGeometry(dMeta) {
		return &align.GeometryError{Reason: "decayed supply and demand grids are not co-registered"}
	}

	tmpPath := outPath + ".tmp"
	w, err := raster.NewWriter(tmpPath, sMeta)
	if err != nil {
		return err
	}

	sRow := make([]float64, sMeta.Cols)
	dRow := make([]float64, sMeta.Cols)
	for r := 0; r < sMeta.Rows; r++ {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "access: canceled")
		}
		if err := supply.ReadRowInto(r, sRow); err != nil {
			return err
		}
		if err := demand.ReadRowInto(r, dRow); err != nil {
			return err
		}
		for c := range sRow {
			s, d := sRow[c], dRow[c]
			if sMeta.IsNoData(s) || dMeta.IsNoData(d) || d <= 0 {
				sRow[c] = sMeta.NoData
				continue
			}
			sRow[c] = s / d
		}
		if err := w.WriteRow(sRow); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	return raster.Rename(tmpPath, outPath)
}
