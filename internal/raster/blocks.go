package raster

// Block is a contiguous span of grid rows processed as one unit. Block-wise
// operations depend only on a block's own rows plus a bounded halo, which is
// what keeps peak memory proportional to a block rather than the full grid.
type Block struct {
	Start int
	Count int
}

// Blocks splits total rows into blocks of at most size rows. A size <= 0
// yields a single block covering the whole grid.
func Blocks(total, size int) []Block {
	if size <= 0 || size > total {
		size = total
	}
	var blocks []Block
	for start := 0; start < total; start += size {
		count := size
		if start+count > total {
			count = total - start
		}
		blocks = append(blocks, Block{Start: start, Count: count})
	}
	return blocks
}
