// Package convolve applies a decay kernel to a grid via block-wise 2-D
// convolution. Blocks carry a halo of kernel-radius rows so block boundaries
// do not corrupt results; peak memory scales with a block plus one kernel
// row, never with the full grid or kernel.
package convolve

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/verdantmetrics/greenaccess/internal/raster"
)

// Mode names the moving kernel subject. The convolution routine is the same
// either way; the mode distinguishes supply-reaching-demand from
// demand-reaching-supply in logs and artifact naming.
type Mode int

const (
	// DecayedSupply sums supply × weight reaching each demand cell.
	DecayedSupply Mode = iota
	// DecayedDemand sums demand × weight reaching each supply cell.
	DecayedDemand
)

func (m Mode) String() string {
	if m == DecayedDemand {
		return "decayed-demand"
	}
	return "decayed-supply"
}

// ConvolutionError reports a kernel that cannot be applied to the subject
// grid, such as mismatched pixel sizes.
type ConvolutionError struct {
	Reason string
}

func (e *ConvolutionError) Error() string {
	return fmt.Sprintf("convolve: %s", e.Reason)
}

// Options tune the block decomposition. Zero values fall back to defaults:
// 256-row blocks, a single worker, pixel tolerance 1e-6.
type Options struct {
	Mode           Mode
	BlockRows      int
	Workers        int
	PixelTolerance float64
}

func (o Options) withDefaults() Options {
	if o.BlockRows <= 0 {
		o.BlockRows = 256
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.PixelTolerance <= 0 {
		o.PixelTolerance = 1e-6
	}
	return o
}

// Run convolves the subject grid with the kernel and writes the result to
// outPath with the subject's geometry. Nodata neighbors contribute zero to a
// valid cell's sum; a cell that is itself nodata stays nodata in the output.
// Cells near the true grid edge sum only in-bounds kernel contributions, so
// edge results are attenuated rather than padded or wrapped.
func Run(ctx context.Context, subjectPath, kernelPath, outPath string, opts Options) error {
	opts = opts.withDefaults()

	subject, err := raster.OpenReader(subjectPath)
	if err != nil {
		return eris.Wrap(err, "convolve: open subject")
	}
	defer subject.Close()

	kr, err := raster.OpenReader(kernelPath)
	if err != nil {
		return eris.Wrap(err, "convolve: open kernel")
	}
	defer kr.Close()

	sm := subject.Meta()
	km := kr.Meta()
	if err := checkKernel(sm, km, opts.PixelTolerance); err != nil {
		return err
	}
	radius := (km.Rows - 1) / 2

	w, err := raster.NewWriter(outPath, sm)
	if err != nil {
		return eris.Wrap(err, "convolve: create output")
	}

	blocks := raster.Blocks(sm.Rows, opts.BlockRows)
	if opts.Workers == 1 {
		err = runSequential(ctx, subject, kr, w, blocks, radius)
	} else {
		err = runParallel(ctx, subjectPath, kernelPath, w, blocks, radius, opts.Workers)
	}
	if err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return eris.Wrap(err, "convolve: close output")
	}
	return nil
}

func checkKernel(subject, kernel raster.Meta, rtol float64) error {
	if kernel.Rows != kernel.Cols {
		return &ConvolutionError{Reason: fmt.Sprintf(
			"kernel is %dx%d, expected square", kernel.Rows, kernel.Cols)}
	}
	if kernel.Rows%2 == 0 {
		return &ConvolutionError{Reason: fmt.Sprintf(
			"kernel side %d is even, no unique center cell", kernel.Rows)}
	}
	if !subject.PixelSizeCompatible(kernel, rtol) {
		return &ConvolutionError{Reason: fmt.Sprintf(
			"kernel pixel size (%g, %g) does not match grid pixel size (%g, %g)",
			kernel.PixelX, kernel.PixelY, subject.PixelX, subject.PixelY)}
	}
	return nil
}

func runSequential(ctx context.Context, subject, kr *raster.Reader, w *raster.Writer, blocks []raster.Block, radius int) error {
	e := &engine{subject: subject, kernel: kr, radius: radius}
	for _, b := range blocks {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "convolve: canceled")
		}
		rows, err := e.computeBlock(b)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := w.WriteRow(row); err != nil {
				return err
			}
		}
	}
	return nil
}

// runParallel computes blocks on a bounded worker pool and writes them in
// block order. A semaphore caps completed-but-unwritten blocks so peak
// memory stays proportional to the worker count, not the grid.
func runParallel(ctx context.Context, subjectPath, kernelPath string, w *raster.Writer, blocks []raster.Block, radius, workers int) error {
	results := make([]chan [][]float64, len(blocks))
	for i := range results {
		results[i] = make(chan [][]float64, 1)
	}
	sem := make(chan struct{}, workers+1)

	g, gctx := errgroup.WithContext(ctx)

	next := make(chan int)
	g.Go(func() error {
		defer close(next)
		for i := range blocks {
			select {
			case next <- i:
			case <-gctx.Done():
				return eris.Wrap(gctx.Err(), "convolve: canceled")
			}
		}
		return nil
	})

	for wk := 0; wk < workers; wk++ {
		g.Go(func() error {
			// Readers are not safe for concurrent use; each worker
			// opens its own.
			subject, err := raster.OpenReader(subjectPath)
			if err != nil {
				return eris.Wrap(err, "convolve: open subject")
			}
			defer subject.Close()
			kr, err := raster.OpenReader(kernelPath)
			if err != nil {
				return eris.Wrap(err, "convolve: open kernel")
			}
			defer kr.Close()

			e := &engine{subject: subject, kernel: kr, radius: radius}
			for i := range next {
				select {
				case sem <- struct{}{}:
				case <-gctx.Done():
					return eris.Wrap(gctx.Err(), "convolve: canceled")
				}
				rows, err := e.computeBlock(blocks[i])
				if err != nil {
					return err
				}
				results[i] <- rows
			}
			return nil
		})
	}

	g.Go(func() error {
		for i := range blocks {
			var rows [][]float64
			select {
			case rows = <-results[i]:
			case <-gctx.Done():
				return eris.Wrap(gctx.Err(), "convolve: canceled")
			}
			for _, row := range rows {
				if err := w.WriteRow(row); err != nil {
					return err
				}
			}
			<-sem
		}
		return nil
	})

	return g.Wait()
}

type engine struct {
	subject *raster.Reader
	kernel  *raster.Reader
	radius  int

	inRow []float64
	kRow  []float64
}

// computeBlock convolves one block of output rows. Every in-range input row
// is read once and scattered into the output rows it influences; kernel rows
// are streamed on demand.
func (e *engine) computeBlock(b raster.Block) ([][]float64, error) {
	sm := e.subject.Meta()
	cols := sm.Cols
	nodata := sm.NoData

	out := make([][]float64, b.Count)
	for i := range out {
		out[i] = make([]float64, cols)
	}
	// Records which of the block's own cells are nodata in the subject, so
	// they can be reported as nodata in the output.
	noMeasurement := make([][]bool, b.Count)

	if e.inRow == nil {
		e.inRow = make([]float64, cols)
	}
	if e.kRow == nil {
		e.kRow = make([]float64, e.kernel.Meta().Cols)
	}

	first := b.Start - e.radius
	if first < 0 {
		first = 0
	}
	last := b.Start + b.Count - 1 + e.radius
	if last > sm.Rows-1 {
		last = sm.Rows - 1
	}

	for i := first; i <= last; i++ {
		if err := e.subject.ReadRowInto(i, e.inRow); err != nil {
			return nil, err
		}

		if i >= b.Start && i < b.Start+b.Count {
			mask := make([]bool, cols)
			for c, v := range e.inRow {
				if v == nodata {
					mask[c] = true
				}
			}
			noMeasurement[i-b.Start] = mask
		}

		rLo := i - e.radius
		if rLo < b.Start {
			rLo = b.Start
		}
		rHi := i + e.radius
		if rHi > b.Start+b.Count-1 {
			rHi = b.Start + b.Count - 1
		}
		for r := rLo; r <= rHi; r++ {
			ky := i - r + e.radius
			if err := e.kernel.ReadRowInto(ky, e.kRow); err != nil {
				return nil, err
			}
			accumulateRow(out[r-b.Start], e.inRow, e.kRow, e.radius, nodata)
		}
	}

	for r := range out {
		for c := range out[r] {
			if noMeasurement[r][c] {
				out[r][c] = nodata
			}
		}
	}
	return out, nil
}

// accumulateRow adds one input row's weighted contribution to one output
// row. Nodata and zero-valued neighbors contribute nothing; out-of-bounds
// columns are truncated, not zero-padded.
func accumulateRow(out, in, kRow []float64, radius int, nodata float64) {
	cols := len(out)
	for j, v := range in {
		if v == nodata || v == 0 {
			continue
		}
		cLo := j - radius
		if cLo < 0 {
			cLo = 0
		}
		cHi := j + radius
		if cHi > cols-1 {
			cHi = cols - 1
		}
		for c := cLo; c <= cHi; c++ {
			out[c] += v * kRow[j-c+radius]
		}
	}
}
