package report

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// WriteWorkbook renders grid summaries into one xlsx sheet, one row per
// artifact, with quantile columns in ascending order.
func WriteWorkbook(path string, summaries []*GridSummary) error {
	if len(summaries) == 0 {
		return eris.New("report: nothing to write")
	}

	quantiles := quantileColumns(summaries)
	printer := message.NewPrinter(language.English)

	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "report: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"artifact", "rows", "cols", "valid_cells", "sum", "mean", "std_dev", "min", "max"} {
		header.AddCell().SetString(h)
	}
	for _, q := range quantiles {
		header.AddCell().SetString(printer.Sprintf("q%.0f", q*100))
	}

	for _, s := range summaries {
		row := sheet.AddRow()
		row.AddCell().SetString(s.Name)
		row.AddCell().SetString(printer.Sprintf("%d", s.Rows))
		row.AddCell().SetString(printer.Sprintf("%d", s.Cols))
		row.AddCell().SetString(printer.Sprintf("%d", s.ValidCells))
		row.AddCell().SetFloat(s.Sum)
		row.AddCell().SetFloat(s.Mean)
		row.AddCell().SetFloat(s.StdDev)
		row.AddCell().SetFloat(s.Min)
		row.AddCell().SetFloat(s.Max)
		for _, q := range quantiles {
			row.AddCell().SetFloat(s.Quantiles[q])
		}
	}

	if err := file.Save(path); err != nil {
		return eris.Wrapf(err, "report: save workbook %s", path)
	}
	return nil
}

func quantileColumns(summaries []*GridSummary) []float64 {
	seen := make(map[float64]bool)
	var quantiles []float64
	for _, s := range summaries {
		for q := range s.Quantiles {
			if !seen[q] {
				seen[q] = true
				quantiles = append(quantiles, q)
			}
		}
	}
	sort.Float64s(quantiles)
	return quantiles
}
