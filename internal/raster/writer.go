package raster

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
)

// Writer streams a grid to an ESRI ASCII file one row at a time, so a
// producer never needs the full grid in memory. Rows must be written top to
// bottom; Close fails if the row count does not match the declared geometry.
type Writer struct {
	f       *os.File
	bw      *bufio.Writer
	meta    Meta
	written int
	path    string
	buf     []byte
}

// NewWriter creates the target file and writes the header.
func NewWriter(path string, meta Meta) (*Writer, error) {
	if meta.Rows <= 0 || meta.Cols <= 0 {
		return nil, eris.Errorf("raster: degenerate size %dx%d", meta.Rows, meta.Cols)
	}
	if meta.PixelX <= 0 || meta.PixelY >= 0 {
		return nil, eris.Errorf("raster: invalid pixel size (%g, %g)", meta.PixelX, meta.PixelY)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: create %s", path)
	}
	w := &Writer{f: f, bw: bufio.NewWriterSize(f, 1<<16), meta: meta, path: path}
	if err := w.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Meta returns the geometry this writer was created with.
func (w *Writer) Meta() Meta {
	return w.meta
}

// WriteRow appends the next row of values. NaN is rejected; nodata cells are
// written as the sentinel itself.
func (w *Writer) WriteRow(vals []float64) error {
	if len(vals) != w.meta.Cols {
		return eris.Errorf("raster: row holds %d values, grid has %d columns", len(vals), w.meta.Cols)
	}
	if w.written >= w.meta.Rows {
		return eris.Errorf("raster: grid already has %d rows", w.meta.Rows)
	}

	w.buf = w.buf[:0]
	for c, v := range vals {
		if math.IsNaN(v) {
			return eris.Errorf("raster: row %d col %d is NaN; write the nodata sentinel instead", w.written, c)
		}
		if c > 0 {
			w.buf = append(w.buf, ' ')
		}
		w.buf = strconv.AppendFloat(w.buf, v, 'g', -1, 64)
	}
	w.buf = append(w.buf, '\n')

	if _, err := w.bw.Write(w.buf); err != nil {
		return eris.Wrapf(err, "raster: write row %d", w.written)
	}
	w.written++
	return nil
}

// Close flushes the file and writes the .prj sidecar when an SRS is set.
func (w *Writer) Close() error {
	if w.written != w.meta.Rows {
		w.f.Close()
		return eris.Errorf("raster: wrote %d of %d rows to %s", w.written, w.meta.Rows, w.path)
	}
	if err := w.bw.Flush(); err != nil {
		w.f.Close()
		return eris.Wrapf(err, "raster: flush %s", w.path)
	}
	if err := w.f.Close(); err != nil {
		return eris.Wrapf(err, "raster: close %s", w.path)
	}
	if w.meta.SRS != "" {
		if err := os.WriteFile(prjPath(w.path), []byte(w.meta.SRS+"\n"), 0o644); err != nil {
			return eris.Wrapf(err, "raster: write sidecar for %s", w.path)
		}
	}
	return nil
}

func (w *Writer) writeHeader() error {
	m := w.meta
	yll := m.OriginY + float64(m.Rows)*m.PixelY

	var hdr string
	if m.PixelX == -m.PixelY {
		hdr = fmt.Sprintf("ncols %d\nnrows %d\nxllcorner %s\nyllcorner %s\ncellsize %s\nnodata_value %s\n",
			m.Cols, m.Rows, ftoa(m.OriginX), ftoa(yll), ftoa(m.PixelX), ftoa(m.NoData))
	} else {
		hdr = fmt.Sprintf("ncols %d\nnrows %d\nxllcorner %s\nyllcorner %s\ndx %s\ndy %s\nnodata_value %s\n",
			m.Cols, m.Rows, ftoa(m.OriginX), ftoa(yll), ftoa(m.PixelX), ftoa(-m.PixelY), ftoa(m.NoData))
	}
	if _, err := w.bw.WriteString(hdr); err != nil {
		return eris.Wrapf(err, "raster: write header %s", w.path)
	}
	return nil
}

// Rename moves a written grid to its final path together with its .prj
// sidecar, for temp-file-then-rename flows. The sidecar follows the grid
// file's stem, so renaming only the grid would strand it under the temp
// name and strip the SRS from the final artifact.
func Rename(oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		return eris.Wrapf(err, "raster: finalize %s", newPath)
	}
	oldPrj := prjPath(oldPath)
	if _, err := os.Stat(oldPrj); err == nil {
		if err := os.Rename(oldPrj, prjPath(newPath)); err != nil {
			return eris.Wrapf(err, "raster: finalize sidecar for %s", newPath)
		}
	}
	return nil
}

// Write persists an in-memory grid in one call.
func Write(path string, g *Grid) error {
	w, err := NewWriter(path, g.Meta)
	if err != nil {
		return err
	}
	for i := 0; i < g.Rows; i++ {
		if err := w.WriteRow(g.Row(i)); err != nil {
			w.f.Close()
			return err
		}
	}
	return w.Close()
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
