package kernel

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/verdantmetrics/greenaccess/internal/raster"
)

// KernelError reports a degenerate kernel request, such as a search radius
// that resolves to fewer than one pixel.
type KernelError struct {
	Reason string
}

func (e *KernelError) Error() string {
	return fmt.Sprintf("kernel: %s", e.Reason)
}

// Spec describes the kernel to synthesize. RadiusPixels is the radius in
// whole pixels; PixelX/PixelY give the ground size of one kernel cell, which
// must match the grid the kernel will be convolved against.
type Spec struct {
	Family       Family
	RadiusPixels int
	PixelX       float64
	PixelY       float64
	SRS          string
	// Normalized divides every weight by the kernel sum so weights total 1.
	// The flag is persisted on the artifact; downstream math must never
	// infer it from the values.
	Normalized bool
}

// Descriptor is the persisted kernel metadata sidecar.
type Descriptor struct {
	Family       string `yaml:"family"`
	RadiusPixels int    `yaml:"radius_pixels"`
	Normalized   bool   `yaml:"normalized"`
}

// Build synthesizes the kernel raster at path, one row at a time. The kernel
// is a square of odd side 2·radius+1 with the unique center cell at distance
// zero; cells beyond the radius are written as 0, keeping the raster
// rectangular. Peak memory is one kernel row regardless of radius.
func Build(path string, spec Spec) (raster.Meta, error) {
	if spec.RadiusPixels < 1 {
		return raster.Meta{}, &KernelError{Reason: fmt.Sprintf(
			"radius resolves to %d pixels, need at least 1", spec.RadiusPixels)}
	}
	fn := spec.Family.Weight()
	if fn == nil {
		return raster.Meta{}, &KernelError{Reason: fmt.Sprintf("family %s has no weight function", spec.Family)}
	}
	if spec.PixelX <= 0 || spec.PixelY >= 0 {
		return raster.Meta{}, &KernelError{Reason: fmt.Sprintf(
			"invalid pixel size (%g, %g)", spec.PixelX, spec.PixelY)}
	}

	side := 2*spec.RadiusPixels + 1
	radius := float64(spec.RadiusPixels) * spec.PixelX

	// Georeference the kernel centered on the origin; only the pixel size
	// carries meaning downstream.
	meta := raster.Meta{
		Rows:    side,
		Cols:    side,
		OriginX: -float64(side) * spec.PixelX / 2,
		OriginY: float64(side) * -spec.PixelY / 2,
		PixelX:  spec.PixelX,
		PixelY:  spec.PixelY,
		SRS:     spec.SRS,
		NoData:  -9999, // kernels have no missing cells; conventional sentinel
	}

	norm := 1.0
	if spec.Normalized {
		sum := kernelSum(spec, fn, radius)
		if sum <= 0 {
			return raster.Meta{}, &KernelError{Reason: "kernel weights sum to zero, cannot normalize"}
		}
		norm = sum
	}

	w, err := raster.NewWriter(path, meta)
	if err != nil {
		return raster.Meta{}, eris.Wrap(err, "kernel: create raster")
	}

	row := make([]float64, side)
	for ky := 0; ky < side; ky++ {
		fillRow(row, ky, spec, fn, radius)
		if spec.Normalized {
			for i := range row {
				row[i] /= norm
			}
		}
		if err := w.WriteRow(row); err != nil {
			w.Close()
			return raster.Meta{}, eris.Wrapf(err, "kernel: write row %d", ky)
		}
	}
	if err := w.Close(); err != nil {
		return raster.Meta{}, eris.Wrap(err, "kernel: close raster")
	}

	desc := Descriptor{
		Family:       spec.Family.String(),
		RadiusPixels: spec.RadiusPixels,
		Normalized:   spec.Normalized,
	}
	if err := writeDescriptor(descriptorPath(path), desc); err != nil {
		return raster.Meta{}, err
	}

	return meta, nil
}

// RadiusFromGroundDistance converts a search distance in ground units to a
// whole-pixel kernel radius for the given pixel size.
func RadiusFromGroundDistance(searchDistance, pixelSize float64) (int, error) {
	if pixelSize <= 0 {
		return 0, &KernelError{Reason: fmt.Sprintf("invalid pixel size %g", pixelSize)}
	}
	r := int(math.Round(searchDistance / pixelSize))
	if r < 1 {
		return 0, &KernelError{Reason: fmt.Sprintf(
			"search distance %g resolves to %d pixels at pixel size %g, need at least 1",
			searchDistance, r, pixelSize)}
	}
	return r, nil
}

// LoadDescriptor reads the kernel metadata sidecar written by Build.
func LoadDescriptor(kernelPath string) (Descriptor, error) {
	var desc Descriptor
	b, err := os.ReadFile(descriptorPath(kernelPath))
	if err != nil {
		return desc, eris.Wrapf(err, "kernel: read descriptor for %s", kernelPath)
	}
	if err := yaml.Unmarshal(b, &desc); err != nil {
		return desc, eris.Wrapf(err, "kernel: parse descriptor for %s", kernelPath)
	}
	return desc, nil
}

func fillRow(row []float64, ky int, spec Spec, fn WeightFunc, radius float64) {
	dy := float64(ky-spec.RadiusPixels) * -spec.PixelY
	for kx := range row {
		dx := float64(kx-spec.RadiusPixels) * spec.PixelX
		dist := math.Hypot(dx, dy)
		if dist > radius {
			row[kx] = 0
			continue
		}
		row[kx] = fn(dist, radius)
	}
}

// kernelSum accumulates the total weight row by row without storing the
// kernel, so normalization keeps the bounded-memory property.
func kernelSum(spec Spec, fn WeightFunc, radius float64) float64 {
	side := 2*spec.RadiusPixels + 1
	row := make([]float64, side)
	var sum float64
	for ky := 0; ky < side; ky++ {
		fillRow(row, ky, spec, fn, radius)
		for _, v := range row {
			sum += v
		}
	}
	return sum
}

func descriptorPath(kernelPath string) string {
	return strings.TrimSuffix(kernelPath, ".asc") + ".kernel.yaml"
}

func writeDescriptor(path string, desc Descriptor) error {
	b, err := yaml.Marshal(desc)
	if err != nil {
		return eris.Wrap(err, "kernel: marshal descriptor")
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return eris.Wrapf(err, "kernel: write descriptor %s", path)
	}
	return nil
}
