package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/verdantmetrics/greenaccess/internal/raster"
)

func writeSummaryGrid(t *testing.T, path string, values []float64) {
	t.Helper()
	m := raster.Meta{
		Rows: 1, Cols: len(values),
		OriginX: 0, OriginY: 30,
		PixelX: 30, PixelY: -30,
		SRS: "EPSG:3116", NoData: -1,
	}
	g := raster.NewGrid(m)
	copy(g.Data, values)
	require.NoError(t, raster.Write(path, g))
}

func TestSummarize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acc.asc")
	writeSummaryGrid(t, path, []float64{4, 2, -1, 8, 6})

	s, err := Summarize("accessibility", path, []float64{0.5})
	require.NoError(t, err)

	assert.Equal(t, "accessibility", s.Name)
	assert.Equal(t, 4, s.ValidCells, "nodata excluded")
	assert.Equal(t, 20.0, s.Sum)
	assert.Equal(t, 5.0, s.Mean)
	assert.Equal(t, 2.0, s.Min)
	assert.Equal(t, 8.0, s.Max)
	assert.Equal(t, 4.0, s.Quantiles[0.5])
}

func TestSummarizeEmptyGrid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.asc")
	writeSummaryGrid(t, path, []float64{-1, -1, -1})

	s, err := Summarize("empty", path, nil)
	require.NoError(t, err)
	assert.Zero(t, s.ValidCells)
	assert.Zero(t, s.Sum)
}

func TestSummarizeAllStableOrder(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.asc")
	b := filepath.Join(dir, "b.asc")
	writeSummaryGrid(t, a, []float64{1, 2})
	writeSummaryGrid(t, b, []float64{3, 4})

	summaries, err := SummarizeAll(map[string]string{
		"supply":        b,
		"accessibility": a,
	}, nil)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "accessibility", summaries[0].Name)
	assert.Equal(t, "supply", summaries[1].Name)
}

func TestWriteWorkbook(t *testing.T) {
	dir := t.TempDir()
	gridPath := filepath.Join(dir, "acc.asc")
	writeSummaryGrid(t, gridPath, []float64{1, 2, 3, 4})

	s, err := Summarize("accessibility", gridPath, nil)
	require.NoError(t, err)

	bookPath := filepath.Join(dir, "summary.xlsx")
	require.NoError(t, WriteWorkbook(bookPath, []*GridSummary{s}))

	info, err := os.Stat(bookPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	file, err := xlsx.OpenFile(bookPath)
	require.NoError(t, err)
	require.Len(t, file.Sheets, 1)
	sheet := file.Sheets[0]
	assert.Equal(t, "artifact", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "accessibility", sheet.Rows[1].Cells[0].String())
}

func TestWriteWorkbookEmpty(t *testing.T) {
	err := WriteWorkbook(filepath.Join(t.TempDir(), "summary.xlsx"), nil)
	assert.Error(t, err)
}
