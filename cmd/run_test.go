//go:build !integration

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantmetrics/greenaccess/internal/config"
	"github.com/verdantmetrics/greenaccess/internal/raster"
)

func writeTestGrid(t *testing.T, dir, name string, rows, cols int, pixel, value float64) string {
	t.Helper()
	meta := raster.Meta{
		Rows: rows, Cols: cols,
		OriginX: 444720, OriginY: 3751320,
		PixelX: pixel, PixelY: -pixel,
		NoData: -1,
	}
	g := raster.NewGrid(meta)
	for i := range g.Data {
		g.Data[i] = value
	}
	path := filepath.Join(dir, name)
	require.NoError(t, raster.Write(path, g))
	return path
}

func setRunFlags(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		require.NoError(t, runCmd.Flags().Set(k, v))
	}
}

func TestRunCmd_MissingInputs(t *testing.T) {
	cfg = &config.Config{}
	setRunFlags(t, map[string]string{
		"population": filepath.Join(t.TempDir(), "nope.asc"),
		"lulc":       filepath.Join(t.TempDir(), "nope.asc"),
	})

	_, err := pipelineArgs(runCmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input grid")
}

func TestRunCmd_MissingSearchDistance(t *testing.T) {
	dir := t.TempDir()
	pop := writeTestGrid(t, dir, "pop.asc", 4, 4, 90, 10)
	lulc := writeTestGrid(t, dir, "lulc.asc", 12, 12, 30, 1)

	cfg = &config.Config{}
	setRunFlags(t, map[string]string{
		"population":      pop,
		"lulc":            lulc,
		"search-distance": "0",
	})

	_, err := pipelineArgs(runCmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search distance is required")
}

func TestRunCmd_BadDecayFunction(t *testing.T) {
	dir := t.TempDir()
	pop := writeTestGrid(t, dir, "pop.asc", 4, 4, 90, 10)
	lulc := writeTestGrid(t, dir, "lulc.asc", 12, 12, 30, 1)

	cfg = &config.Config{}
	setRunFlags(t, map[string]string{
		"population":      pop,
		"lulc":            lulc,
		"search-distance": "150",
		"decay":           "quadratic",
	})

	_, err := pipelineArgs(runCmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quadratic")
}

func TestRunCmd_MissingSupplyMap(t *testing.T) {
	dir := t.TempDir()
	pop := writeTestGrid(t, dir, "pop.asc", 4, 4, 90, 10)
	lulc := writeTestGrid(t, dir, "lulc.asc", 12, 12, 30, 1)

	cfg = &config.Config{}
	setRunFlags(t, map[string]string{
		"population":      pop,
		"lulc":            lulc,
		"search-distance": "150",
		"decay":           "binary",
	})

	_, err := pipelineArgs(runCmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "supply mapping is required")
}

func TestRunCmd_FlagOverridesConfig(t *testing.T) {
	dir := t.TempDir()
	pop := writeTestGrid(t, dir, "pop.asc", 4, 4, 90, 10)
	lulc := writeTestGrid(t, dir, "lulc.asc", 12, 12, 30, 1)

	cfg = &config.Config{
		Access: config.AccessConfig{
			SearchDistance: 100,
			DecayFunction:  "binary",
			SupplyMap:      map[string]float64{"1": 1},
			Tolerance:      1e-3,
			BlockRows:      256,
			Workers:        1,
		},
	}
	setRunFlags(t, map[string]string{
		"population":      pop,
		"lulc":            lulc,
		"search-distance": "300",
		"decay":           "gaussian",
		"workers":         "4",
	})

	args, err := pipelineArgs(runCmd)
	require.NoError(t, err)
	assert.Equal(t, 300.0, args.SearchDistance)
	assert.Equal(t, "gaussian", args.DecayFamily.String())
	assert.Equal(t, 4, args.Workers)
	assert.Equal(t, map[int]float64{1: 1}, args.SupplyMap)
}

func TestRunsCmd_EmptyRegistry(t *testing.T) {
	cfg = &config.Config{
		Registry: config.RegistryConfig{
			Path: filepath.Join(t.TempDir(), "runs.db"),
		},
	}

	runsCmd.SetContext(context.Background())
	defer runsCmd.SetContext(nil)

	require.NoError(t, runsCmd.RunE(runsCmd, nil))
}

func TestKernelCmd_MissingPixelSize(t *testing.T) {
	cfg = &config.Config{}
	require.NoError(t, kernelCmd.Flags().Set("search-distance", "150"))
	require.NoError(t, kernelCmd.Flags().Set("pixel-size", "0"))
	require.NoError(t, kernelCmd.Flags().Set("reference", ""))

	err := kernelCmd.RunE(kernelCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pixel size is required")
}

func TestKernelCmd_BuildsKernel(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "kernel.asc")

	cfg = &config.Config{}
	require.NoError(t, kernelCmd.Flags().Set("out", out))
	require.NoError(t, kernelCmd.Flags().Set("pixel-size", "30"))
	require.NoError(t, kernelCmd.Flags().Set("search-distance", "150"))
	require.NoError(t, kernelCmd.Flags().Set("decay", "binary"))

	require.NoError(t, kernelCmd.RunE(kernelCmd, nil))

	g, err := raster.Read(out)
	require.NoError(t, err)
	assert.Equal(t, 11, g.Rows)
	assert.Equal(t, 11, g.Cols)

	_, err = os.Stat(filepath.Join(dir, "kernel.kernel.yaml"))
	require.NoError(t, err)
}
