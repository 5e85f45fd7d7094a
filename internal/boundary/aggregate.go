package boundary

import (
	"context"
	"encoding/csv"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verdantmetrics/greenaccess/internal/raster"
)

// Stats holds the per-zone aggregation of an accessibility surface.
type Stats struct {
	ZoneID            string
	ZoneName          string
	Cells             int
	Population        float64
	Supply            float64
	MeanAccessibility float64
	// PerCapitaAccessibility is the population-weighted mean: what access
	// the average resident of the zone has, rather than the average cell.
	PerCapitaAccessibility float64
}

// Aggregate scans the co-registered accessibility and population grids row
// by row and accumulates statistics for every zone whose polygon contains a
// cell center. supplyPath is optional; when given it must share the same
// geometry and contributes per-zone supply totals. Nodata cells in a grid
// are excluded from that grid's accumulation.
func Aggregate(ctx context.Context, accessPath, populationPath, supplyPath string, zones []Zone) ([]Stats, error) {
	acc, err := raster.OpenReader(accessPath)
	if err != nil {
		return nil, eris.Wrap(err, "boundary: open accessibility")
	}
	defer acc.Close()
	pop, err := raster.OpenReader(populationPath)
	if err != nil {
		return nil, eris.Wrap(err, "boundary: open population")
	}
	defer pop.Close()

	am := acc.Meta()
	pm := pop.Meta()
	if !am.SameGeometry(pm) {
		return nil, eris.New("boundary: accessibility and population grids are not co-registered")
	}

	var sup *raster.Reader
	if supplyPath != "" {
		sup, err = raster.OpenReader(supplyPath)
		if err != nil {
			return nil, eris.Wrap(err, "boundary: open supply")
		}
		defer sup.Close()
		if !am.SameGeometry(sup.Meta()) {
			return nil, eris.New("boundary: supply grid is not co-registered")
		}
	}

	type accum struct {
		cells   int
		accSum  float64
		popSum  float64
		supSum  float64
		wAccSum float64
		wPopSum float64
	}
	accums := make([]accum, len(zones))

	aRow := make([]float64, am.Cols)
	pRow := make([]float64, am.Cols)
	sRow := make([]float64, am.Cols)
	for r := 0; r < am.Rows; r++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "boundary: canceled")
		}
		if err := acc.ReadRowInto(r, aRow); err != nil {
			return nil, err
		}
		if err := pop.ReadRowInto(r, pRow); err != nil {
			return nil, err
		}
		if sup != nil {
			if err := sup.ReadRowInto(r, sRow); err != nil {
				return nil, err
			}
		}
		for c := 0; c < am.Cols; c++ {
			x, y := am.CellCenter(r, c)
			for zi := range zones {
				if !zones[zi].Contains(x, y) {
					continue
				}
				a := &accums[zi]
				if !pm.IsNoData(pRow[c]) {
					a.popSum += pRow[c]
				}
				if sup != nil && !sup.Meta().IsNoData(sRow[c]) {
					a.supSum += sRow[c]
				}
				if !am.IsNoData(aRow[c]) {
					a.cells++
					a.accSum += aRow[c]
					if !pm.IsNoData(pRow[c]) {
						a.wAccSum += aRow[c] * pRow[c]
						a.wPopSum += pRow[c]
					}
				}
			}
		}
	}

	stats := make([]Stats, len(zones))
	for i, z := range zones {
		a := accums[i]
		s := Stats{
			ZoneID:     z.ID,
			ZoneName:   z.Name,
			Cells:      a.cells,
			Population: a.popSum,
			Supply:     a.supSum,
		}
		if a.cells > 0 {
			s.MeanAccessibility = a.accSum / float64(a.cells)
		}
		if a.wPopSum > 0 {
			s.PerCapitaAccessibility = a.wAccSum / a.wPopSum
		}
		stats[i] = s
	}

	zap.L().Info("boundary: zones aggregated",
		zap.Int("zones", len(zones)),
		zap.Int("grid_rows", am.Rows),
	)
	return stats, nil
}

// WriteCSV persists zone statistics as a CSV table.
func WriteCSV(path string, stats []Stats) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "boundary: create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"zone_id", "zone_name", "cells", "population", "supply",
		"mean_accessibility", "per_capita_accessibility",
	}
	if err := w.Write(header); err != nil {
		return eris.Wrap(err, "boundary: write csv header")
	}
	for _, s := range stats {
		record := []string{
			s.ZoneID,
			s.ZoneName,
			strconv.Itoa(s.Cells),
			strconv.FormatFloat(s.Population, 'f', 2, 64),
			strconv.FormatFloat(s.Supply, 'f', 2, 64),
			strconv.FormatFloat(s.MeanAccessibility, 'f', 6, 64),
			strconv.FormatFloat(s.PerCapitaAccessibility, 'f', 6, 64),
		}
		if err := w.Write(record); err != nil {
			return eris.Wrapf(err, "boundary: write csv row for zone %s", s.ZoneID)
		}
	}
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "boundary: flush csv")
	}
	return nil
}
