package raster

import (
	"bufio"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// defaultNoData is the conventional ESRI ASCII grid nodata sentinel, used
// when a file omits the nodata_value header.
const defaultNoData = -9999

// Reader streams rows from an ESRI ASCII grid file. On open it parses the
// header and indexes the byte offset of every data row, so any row can be
// read without holding more than one row in memory. One raster row per text
// line, which is what Writer produces.
type Reader struct {
	f       *os.File
	br      *bufio.Reader
	meta    Meta
	offsets []int64
	next    int
}

// OpenReader opens an ESRI ASCII grid for row-random access. A .prj sidecar,
// if present, supplies the spatial-reference identifier.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: open %s", path)
	}

	r := &Reader{f: f, br: bufio.NewReaderSize(f, 1<<16), next: -1}
	if err := r.scan(); err != nil {
		f.Close()
		return nil, eris.Wrapf(err, "raster: parse %s", path)
	}

	if srs, err := readSidecar(prjPath(path)); err != nil {
		f.Close()
		return nil, err
	} else if srs != "" {
		r.meta.SRS = srs
	}

	return r, nil
}

// Meta returns the grid geometry parsed from the header.
func (r *Reader) Meta() Meta {
	return r.meta
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}

// ReadRow returns the values of row i in a freshly allocated slice.
func (r *Reader) ReadRow(i int) ([]float64, error) {
	dst := make([]float64, r.meta.Cols)
	if err := r.ReadRowInto(i, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// ReadRowInto reads row i into dst, which must hold Cols values. Sequential
// reads reuse the buffered position; out-of-order reads seek to the indexed
// row offset.
func (r *Reader) ReadRowInto(i int, dst []float64) error {
	if i < 0 || i >= r.meta.Rows {
		return eris.Errorf("raster: row %d out of range [0,%d)", i, r.meta.Rows)
	}
	if len(dst) != r.meta.Cols {
		return eris.Errorf("raster: destination holds %d values, grid has %d columns", len(dst), r.meta.Cols)
	}

	if i != r.next {
		if _, err := r.f.Seek(r.offsets[i], io.SeekStart); err != nil {
			return eris.Wrapf(err, "raster: seek row %d", i)
		}
		r.br.Reset(r.f)
	}

	line, _, err := readLine(r.br)
	if err != nil && err != io.EOF {
		return eris.Wrapf(err, "raster: read row %d", i)
	}
	r.next = i + 1

	fields := strings.Fields(line)
	if len(fields) != r.meta.Cols {
		return eris.Errorf("raster: row %d has %d values, expected %d", i, len(fields), r.meta.Cols)
	}
	for c, field := range fields {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return eris.Wrapf(err, "raster: row %d col %d", i, c)
		}
		if math.IsNaN(v) {
			return eris.Errorf("raster: row %d col %d is NaN; grids carry nodata sentinels, not NaN", i, c)
		}
		dst[c] = v
	}
	return nil
}

// ReadRows returns rows [start, start+n) as one row-major slice.
func (r *Reader) ReadRows(start, n int) ([]float64, error) {
	out := make([]float64, n*r.meta.Cols)
	for i := 0; i < n; i++ {
		if err := r.ReadRowInto(start+i, out[i*r.meta.Cols:(i+1)*r.meta.Cols]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ReadMeta returns a grid's metadata without reading any data rows.
func ReadMeta(path string) (Meta, error) {
	r, err := OpenReader(path)
	if err != nil {
		return Meta{}, err
	}
	defer r.Close()
	return r.Meta(), nil
}

// Read loads an entire grid into memory. Intended for grids known to be
// small (kernel fixtures, test grids); pipeline stages stream instead.
func Read(path string) (*Grid, error) {
	r, err := OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	g := &Grid{Meta: r.Meta(), Data: make([]float64, r.meta.Rows*r.meta.Cols)}
	for i := 0; i < r.meta.Rows; i++ {
		if err := r.ReadRowInto(i, g.Data[i*r.meta.Cols:(i+1)*r.meta.Cols]); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (r *Reader) scan() error {
	hdr := make(map[string]float64)
	var off int64
	inData := false

	for {
		lineStart := off
		line, n, err := readLine(r.br)
		off += int64(n)
		if err != nil && err != io.EOF {
			return err
		}

		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			if !inData && isHeaderLine(trimmed) {
				key, val, perr := parseHeaderLine(trimmed)
				if perr != nil {
					return perr
				}
				hdr[key] = val
			} else {
				inData = true
				r.offsets = append(r.offsets, lineStart)
			}
		}

		if err == io.EOF {
			break
		}
	}

	meta, err := metaFromHeader(hdr, len(r.offsets))
	if err != nil {
		return err
	}
	r.meta = meta
	return nil
}

func metaFromHeader(hdr map[string]float64, dataRows int) (Meta, error) {
	var meta Meta

	cols, ok := hdr["ncols"]
	if !ok {
		return meta, eris.New("raster: header missing ncols")
	}
	rows, ok := hdr["nrows"]
	if !ok {
		return meta, eris.New("raster: header missing nrows")
	}
	meta.Cols = int(cols)
	meta.Rows = int(rows)
	if meta.Rows <= 0 || meta.Cols <= 0 {
		return meta, eris.Errorf("raster: degenerate size %dx%d", meta.Rows, meta.Cols)
	}
	if dataRows != meta.Rows {
		return meta, eris.Errorf("raster: header declares %d rows, file has %d", meta.Rows, dataRows)
	}

	if dx, ok := hdr["dx"]; ok {
		dy, ok := hdr["dy"]
		if !ok {
			return meta, eris.New("raster: dx without dy")
		}
		meta.PixelX = dx
		meta.PixelY = -dy
	} else if cell, ok := hdr["cellsize"]; ok {
		meta.PixelX = cell
		meta.PixelY = -cell
	} else {
		return meta, eris.New("raster: header missing cellsize (or dx/dy)")
	}
	if meta.PixelX <= 0 || meta.PixelY >= 0 {
		return meta, eris.Errorf("raster: invalid pixel size (%g, %g)", meta.PixelX, meta.PixelY)
	}

	xll, ok := hdr["xllcorner"]
	if !ok {
		return meta, eris.New("raster: header missing xllcorner")
	}
	yll, ok := hdr["yllcorner"]
	if !ok {
		return meta, eris.New("raster: header missing yllcorner")
	}
	meta.OriginX = xll
	meta.OriginY = yll - float64(meta.Rows)*meta.PixelY

	if nd, ok := hdr["nodata_value"]; ok {
		meta.NoData = nd
	} else {
		meta.NoData = defaultNoData
	}

	return meta, nil
}

func parseHeaderLine(line string) (string, float64, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return "", 0, eris.Errorf("raster: malformed header line %q", line)
	}
	key := strings.ToLower(fields[0])
	switch key {
	case "ncols", "nrows", "xllcorner", "yllcorner", "cellsize", "dx", "dy", "nodata_value":
	default:
		return "", 0, eris.Errorf("raster: unsupported header key %q", fields[0])
	}
	val, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return "", 0, eris.Wrapf(err, "raster: header %s", key)
	}
	return key, val, nil
}

func isHeaderLine(trimmed string) bool {
	c := trimmed[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func readLine(br *bufio.Reader) (string, int, error) {
	b, err := br.ReadBytes('\n')
	return strings.TrimRight(string(b), "\r\n"), len(b), err
}

func prjPath(path string) string {
	if i := strings.LastIndex(path, "."); i > strings.LastIndexByte(path, os.PathSeparator) {
		return path[:i] + ".prj"
	}
	return path + ".prj"
}

func readSidecar(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", eris.Wrapf(err, "raster: read sidecar %s", path)
	}
	return strings.TrimSpace(string(b)), nil
}
