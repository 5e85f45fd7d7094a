package resample

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/verdantmetrics/greenaccess/internal/align"
	"github.com/verdantmetrics/greenaccess/internal/raster"
	"github.com/verdantmetrics/greenaccess/internal/workspace"
)

func populationMeta(rows, cols int, pixel float64) raster.Meta {
	return raster.Meta{
		Rows: rows, Cols: cols,
		OriginX: 444720, OriginY: 3751320,
		PixelX: pixel, PixelY: -pixel,
		SRS: "EPSG:3116", NoData: -1,
	}
}

func writePopulation(t *testing.T, path string, meta raster.Meta, fill func(r, c int) float64) *raster.Grid {
	t.Helper()
	g := raster.NewGrid(meta)
	for r := 0; r < meta.Rows; r++ {
		for c := 0; c < meta.Cols; c++ {
			g.Set(r, c, fill(r, c))
		}
	}
	require.NoError(t, raster.Write(path, g))
	return g
}

func targetFor(t *testing.T, src raster.Meta, pixel float64) raster.Meta {
	t.Helper()
	ref := src
	ref.PixelX = pixel
	ref.PixelY = -pixel
	ref.Cols = int(math.Round(float64(src.Cols) * src.PixelX / pixel))
	ref.Rows = int(math.Round(float64(src.Rows) * -src.PixelY / pixel))
	target, err := align.Warp(ref, src)
	require.NoError(t, err)
	return target
}

func TestPopulationConservation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	fills := map[string]func(r, c int) float64{
		"uniform 100s": func(r, c int) float64 { return 100 },
		"random counts": func(r, c int) float64 {
			return float64(rng.Intn(100))
		},
	}
	// 1/3 the pixel size, way smaller, unchanged, and bigger.
	pixels := []float64{30, 4, 90, 100}

	for name, fill := range fills {
		for _, pixel := range pixels {
			t.Run(fmt.Sprintf("%s to %g", name, pixel), func(t *testing.T) {
				dir := t.TempDir()
				srcPath := filepath.Join(dir, "population.asc")
				meta := populationMeta(10, 10, 90)
				src := writePopulation(t, srcPath, meta, fill)

				scratch, err := workspace.New(dir, "resample")
				require.NoError(t, err)
				defer scratch.Cleanup()

				dstPath := filepath.Join(dir, "resampled.asc")
				target := targetFor(t, meta, pixel)
				require.NoError(t, Population(
					context.Background(), srcPath, dstPath, target, scratch, 0))

				out, err := raster.Read(dstPath)
				require.NoError(t, err)
				assert.True(t, target.SameGeometry(out.Meta))

				// No significant gain or loss of population across the
				// resolution change.
				assert.InEpsilon(t, src.Sum(), out.Sum(), 1e-3,
					"pixel size %g", pixel)
			})
		}
	}
}

func TestNoDataCarriedThrough(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "population.asc")
	meta := populationMeta(4, 4, 90)
	writePopulation(t, srcPath, meta, func(r, c int) float64 {
		if r < 2 {
			return -1 // empty tiles, no census coverage
		}
		return 50
	})

	scratch, err := workspace.New(dir, "resample")
	require.NoError(t, err)
	defer scratch.Cleanup()

	dstPath := filepath.Join(dir, "resampled.asc")
	target := targetFor(t, meta, 180)
	require.NoError(t, Population(context.Background(), srcPath, dstPath, target, scratch, 0))

	out, err := raster.Read(dstPath)
	require.NoError(t, err)
	assert.Equal(t, target.NoData, out.At(0, 0), "uncovered area stays nodata")
	assert.Equal(t, target.NoData, out.At(0, 1))
	assert.InDelta(t, 200, out.At(1, 0), 1e-9, "four 50-person cells aggregate")
	assert.InDelta(t, 200, out.At(1, 1), 1e-9)
}

func TestScratchDensityDiscarded(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "population.asc")
	meta := populationMeta(5, 5, 90)
	writePopulation(t, srcPath, meta, func(r, c int) float64 { return 10 })

	scratch, err := workspace.New(dir, "resample")
	require.NoError(t, err)

	dstPath := filepath.Join(dir, "resampled.asc")
	require.NoError(t, Population(
		context.Background(), srcPath, dstPath, targetFor(t, meta, 45), scratch, 0))

	scratch.Cleanup()
	_, err = raster.OpenReader(scratch.File("population_density.asc"))
	assert.Error(t, err, "intermediate density raster does not outlive the stage")

	out, err := raster.Read(dstPath)
	require.NoError(t, err)
	assert.InEpsilon(t, 250.0, out.Sum(), 1e-6)
}

func TestSpatialReferenceSurvivesResample(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "population.asc")
	meta := populationMeta(5, 5, 90)
	writePopulation(t, srcPath, meta, func(r, c int) float64 { return 10 })

	scratch, err := workspace.New(dir, "resample")
	require.NoError(t, err)
	defer scratch.Cleanup()

	dstPath := filepath.Join(dir, "resampled.asc")
	require.NoError(t, Population(
		context.Background(), srcPath, dstPath, targetFor(t, meta, 45), scratch, 0))

	out, err := raster.ReadMeta(dstPath)
	require.NoError(t, err)
	assert.Equal(t, "EPSG:3116", out.SRS, "sidecar follows the grid through the rename")

	_, err = os.Stat(dstPath + ".prj")
	assert.True(t, os.IsNotExist(err), "no sidecar stranded under the temp stem")
	_, err = os.Stat(filepath.Join(dir, "resampled.prj"))
	assert.NoError(t, err)
}

func TestAllZeroPopulationConserved(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	prev := zap.L()
	zap.ReplaceGlobals(zap.New(core))
	defer zap.ReplaceGlobals(prev)

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "population.asc")
	meta := populationMeta(4, 4, 90)
	writePopulation(t, srcPath, meta, func(r, c int) float64 { return 0 })

	scratch, err := workspace.New(dir, "resample")
	require.NoError(t, err)
	defer scratch.Cleanup()

	dstPath := filepath.Join(dir, "resampled.asc")
	require.NoError(t, Population(
		context.Background(), srcPath, dstPath, targetFor(t, meta, 45), scratch, 0))

	out, err := raster.Read(dstPath)
	require.NoError(t, err)
	assert.Zero(t, out.Sum())

	assert.Empty(t, logs.FilterLevelExact(zap.WarnLevel).All())
	entries := logs.FilterMessage("resample: population conserved").All()
	require.Len(t, entries, 1)
	assert.Equal(t, 0.0, entries[0].ContextMap()["deviation"],
		"zero-sum source yields a finite deviation")
}

func TestResamplingErrors(t *testing.T) {
	dir := t.TempDir()
	meta := populationMeta(3, 3, 90)

	t.Run("srs mismatch", func(t *testing.T) {
		srcPath := filepath.Join(dir, "pop_srs.asc")
		writePopulation(t, srcPath, meta, func(r, c int) float64 { return 1 })

		scratch, err := workspace.New(dir, "resample")
		require.NoError(t, err)
		defer scratch.Cleanup()

		target := targetFor(t, meta, 30)
		target.SRS = "EPSG:4326"
		err = Population(context.Background(), srcPath,
			filepath.Join(dir, "out1.asc"), target, scratch, 0)
		require.Error(t, err)

		var rerr *ResamplingError
		assert.True(t, errors.As(err, &rerr))
	})

	t.Run("no valid data", func(t *testing.T) {
		srcPath := filepath.Join(dir, "pop_empty.asc")
		writePopulation(t, srcPath, meta, func(r, c int) float64 { return -1 })

		scratch, err := workspace.New(dir, "resample")
		require.NoError(t, err)
		defer scratch.Cleanup()

		err = Population(context.Background(), srcPath,
			filepath.Join(dir, "out2.asc"), targetFor(t, meta, 30), scratch, 0)
		require.Error(t, err)

		var rerr *ResamplingError
		assert.True(t, errors.As(err, &rerr))
	})
}
