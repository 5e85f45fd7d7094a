package raster

// Grid is an in-memory grid: geometry plus row-major cell values. Every cell
// is either a valid number or the nodata sentinel; readers reject NaN.
// Grids are transformed functionally between stages, never mutated in place
// across a package boundary.
type Grid struct {
	Meta
	Data []float64
}

// NewGrid allocates a grid of the given geometry with every cell set to the
// nodata sentinel.
func NewGrid(meta Meta) *Grid {
	data := make([]float64, meta.Rows*meta.Cols)
	if meta.NoData != 0 {
		for i := range data {
			data[i] = meta.NoData
		}
	}
	return &Grid{Meta: meta, Data: data}
}

// At returns the value of cell (row, col).
func (g *Grid) At(row, col int) float64 {
	return g.Data[row*g.Cols+col]
}

// Set assigns the value of cell (row, col).
func (g *Grid) Set(row, col int, v float64) {
	g.Data[row*g.Cols+col] = v
}

// Row returns a view of one row of cells.
func (g *Grid) Row(row int) []float64 {
	return g.Data[row*g.Cols : (row+1)*g.Cols]
}

// Sum returns the sum over all valid (non-nodata) cells.
func (g *Grid) Sum() float64 {
	var total float64
	for _, v := range g.Data {
		if !g.IsNoData(v) {
			total += v
		}
	}
	return total
}

// CountValid returns the number of non-nodata cells.
func (g *Grid) CountValid() int {
	var n int
	for _, v := range g.Data {
		if !g.IsNoData(v) {
			n++
		}
	}
	return n
}
