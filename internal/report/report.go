// Package report summarizes run artifacts into tabular statistics and an
// xlsx workbook for planners. It consumes finished grids only.
package report

import (
	"sort"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"

	"github.com/verdantmetrics/greenaccess/internal/raster"
)

// GridSummary holds descriptive statistics for one grid artifact.
type GridSummary struct {
	Name       string
	Rows       int
	Cols       int
	ValidCells int
	Sum        float64
	Mean       float64
	StdDev     float64
	Min        float64
	Max        float64
	Quantiles  map[float64]float64
}

// DefaultQuantiles are reported when the caller does not configure any.
var DefaultQuantiles = []float64{0.25, 0.5, 0.75, 0.9}

// Summarize computes descriptive statistics for a named grid. Values are
// read row by row; valid cells are retained for the empirical quantiles.
func Summarize(name, path string, quantiles []float64) (*GridSummary, error) {
	if len(quantiles) == 0 {
		quantiles = DefaultQuantiles
	}

	r, err := raster.OpenReader(path)
	if err != nil {
		return nil, eris.Wrapf(err, "report: open %s", path)
	}
	defer r.Close()
	m := r.Meta()

	s := &GridSummary{
		Name:      name,
		Rows:      m.Rows,
		Cols:      m.Cols,
		Quantiles: make(map[float64]float64, len(quantiles)),
	}

	values := make([]float64, 0, m.Cols)
	row := make([]float64, m.Cols)
	for i := 0; i < m.Rows; i++ {
		if err := r.ReadRowInto(i, row); err != nil {
			return nil, err
		}
		for _, v := range row {
			if m.IsNoData(v) {
				continue
			}
			values = append(values, v)
		}
	}

	s.ValidCells = len(values)
	if s.ValidCells == 0 {
		return s, nil
	}

	sort.Float64s(values)
	s.Min = values[0]
	s.Max = values[len(values)-1]
	s.Mean, s.StdDev = stat.MeanStdDev(values, nil)
	if s.ValidCells == 1 {
		s.StdDev = 0
	}
	for _, v := range values {
		s.Sum += v
	}
	for _, q := range quantiles {
		s.Quantiles[q] = stat.Quantile(q, stat.Empirical, values, nil)
	}
	return s, nil
}

// SummarizeAll summarizes a set of named artifacts in a stable order.
func SummarizeAll(artifacts map[string]string, quantiles []float64) ([]*GridSummary, error) {
	names := make([]string, 0, len(artifacts))
	for name := range artifacts {
		names = append(names, name)
	}
	sort.Strings(names)

	summaries := make([]*GridSummary, 0, len(names))
	for _, name := range names {
		s, err := Summarize(name, artifacts[name], quantiles)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}
