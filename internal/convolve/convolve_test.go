package convolve

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantmetrics/greenaccess/internal/kernel"
	"github.com/verdantmetrics/greenaccess/internal/raster"
)

func writeGrid(t *testing.T, dir, name string, rows, cols int, fill func(r, c int) float64) string {
	t.Helper()
	m := raster.Meta{
		Rows: rows, Cols: cols,
		OriginX: 0, OriginY: float64(rows) * 30,
		PixelX: 30, PixelY: -30,
		SRS: "EPSG:3116", NoData: -1,
	}
	g := raster.NewGrid(m)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			g.Set(r, c, fill(r, c))
		}
	}
	path := filepath.Join(dir, name)
	require.NoError(t, raster.Write(path, g))
	return path
}

func buildKernel(t *testing.T, dir string, radiusPx int) string {
	t.Helper()
	path := filepath.Join(dir, "kernel.asc")
	_, err := kernel.Build(path, kernel.Spec{
		Family:       kernel.Binary,
		RadiusPixels: radiusPx,
		PixelX:       30,
		PixelY:       -30,
	})
	require.NoError(t, err)
	return path
}

func TestPlusKernelSums(t *testing.T) {
	dir := t.TempDir()
	subject := writeGrid(t, dir, "ones.asc", 4, 4, func(r, c int) float64 { return 1 })
	kpath := buildKernel(t, dir, 1) // 3x3 plus shape
	out := filepath.Join(dir, "out.asc")

	require.NoError(t, Run(context.Background(), subject, kpath, out, Options{}))

	g, err := raster.Read(out)
	require.NoError(t, err)

	// Corner cells see 3 in-bounds neighbors of the plus, edges 4,
	// interior 5. Out-of-bounds cells are truncated, never zero-padded
	// data.
	expected := [][]float64{
		{3, 4, 4, 3},
		{4, 5, 5, 4},
		{4, 5, 5, 4},
		{3, 4, 4, 3},
	}
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			assert.Equal(t, expected[r][c], g.At(r, c), "cell (%d,%d)", r, c)
		}
	}
}

func TestNoDataPropagation(t *testing.T) {
	dir := t.TempDir()
	subject := writeGrid(t, dir, "holes.asc", 4, 4, func(r, c int) float64 {
		if r == 1 && c == 1 {
			return -1 // nodata
		}
		return 1
	})
	kpath := buildKernel(t, dir, 1)
	out := filepath.Join(dir, "out.asc")

	require.NoError(t, Run(context.Background(), subject, kpath, out, Options{}))

	g, err := raster.Read(out)
	require.NoError(t, err)

	// The nodata cell itself has no measurement, so no output.
	assert.Equal(t, -1.0, g.At(1, 1))
	// Its neighbors lose exactly the one missing contribution: the hole
	// contributes zero, not nodata.
	assert.Equal(t, 3.0, g.At(0, 1))
	assert.Equal(t, 3.0, g.At(1, 0), "edge cell also loses an out-of-bounds neighbor")
	assert.Equal(t, 4.0, g.At(2, 1))
	assert.Equal(t, 4.0, g.At(1, 2))
	// Cells outside the hole's reach are unaffected.
	assert.Equal(t, 5.0, g.At(2, 2))
}

func TestBlockBoundariesDoNotCorrupt(t *testing.T) {
	dir := t.TempDir()
	subject := writeGrid(t, dir, "ramp.asc", 20, 6, func(r, c int) float64 {
		return float64(r*6 + c)
	})
	kpath := buildKernel(t, dir, 2)

	wholeOut := filepath.Join(dir, "whole.asc")
	require.NoError(t, Run(context.Background(), subject, kpath, wholeOut, Options{BlockRows: 100}))
	blockedOut := filepath.Join(dir, "blocked.asc")
	require.NoError(t, Run(context.Background(), subject, kpath, blockedOut, Options{BlockRows: 3}))

	whole, err := raster.Read(wholeOut)
	require.NoError(t, err)
	blocked, err := raster.Read(blockedOut)
	require.NoError(t, err)
	assert.Equal(t, whole.Data, blocked.Data, "halo keeps block seams invisible")
}

func TestParallelMatchesSequential(t *testing.T) {
	dir := t.TempDir()
	subject := writeGrid(t, dir, "ramp.asc", 32, 8, func(r, c int) float64 {
		if (r+c)%7 == 0 {
			return -1
		}
		return float64(r ^ c)
	})
	kpath := buildKernel(t, dir, 3)

	seqOut := filepath.Join(dir, "seq.asc")
	require.NoError(t, Run(context.Background(), subject, kpath, seqOut, Options{BlockRows: 4}))
	parOut := filepath.Join(dir, "par.asc")
	require.NoError(t, Run(context.Background(), subject, kpath, parOut, Options{BlockRows: 4, Workers: 4}))

	seq, err := raster.Read(seqOut)
	require.NoError(t, err)
	par, err := raster.Read(parOut)
	require.NoError(t, err)
	assert.Equal(t, seq.Data, par.Data, "block order is deterministic under parallel workers")
}

func TestMismatchedKernelRejected(t *testing.T) {
	dir := t.TempDir()
	subject := writeGrid(t, dir, "ones.asc", 4, 4, func(r, c int) float64 { return 1 })

	// Kernel built at a different pixel size than the subject grid.
	kpath := filepath.Join(dir, "kernel.asc")
	_, err := kernel.Build(kpath, kernel.Spec{
		Family:       kernel.Binary,
		RadiusPixels: 1,
		PixelX:       90,
		PixelY:       -90,
	})
	require.NoError(t, err)

	err = Run(context.Background(), subject, kpath, filepath.Join(dir, "out.asc"), Options{})
	require.Error(t, err)

	var cerr *ConvolutionError
	assert.True(t, errors.As(err, &cerr))
}

func TestCanceledContext(t *testing.T) {
	dir := t.TempDir()
	subject := writeGrid(t, dir, "ones.asc", 8, 8, func(r, c int) float64 { return 1 })
	kpath := buildKernel(t, dir, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, subject, kpath, filepath.Join(dir, "out.asc"), Options{BlockRows: 2})
	assert.Error(t, err)
}

func TestModeNames(t *testing.T) {
	assert.Equal(t, "decayed-supply", DecayedSupply.String())
	assert.Equal(t, "decayed-demand", DecayedDemand.String())
}
