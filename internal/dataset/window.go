package dataset

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// BuildWindows tiles table (rows = time steps, columns = features) into
// non-overlapping windows of length rows. Window k copies rows
// [k*length, (k+1)*length); a trailing remainder shorter than length is
// dropped. A table shorter than length yields no windows.
func BuildWindows(table *mat.Dense, length int) ([]*mat.Dense, error) {
	if length <= 0 {
		return nil, fmt.Errorf("window length must be positive, got %d", length)
	}
	rows, cols := table.Dims()
	windows := make([]*mat.Dense, 0, rows/length)
	for start := 0; start+length <= rows; start += length {
		view := table.Slice(start, start+length, 0, cols)
		windows = append(windows, mat.DenseCopyOf(view))
	}
	return windows, nil
}

// StackRows concatenates matrices with equal column counts vertically.
func StackRows(parts []*mat.Dense) (*mat.Dense, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("nothing to stack")
	}
	_, cols := parts[0].Dims()
	total := 0
	for i, p := range parts {
		r, c := p.Dims()
		if c != cols {
			return nil, fmt.Errorf("part %d has %d columns, want %d", i, c, cols)
		}
		total += r
	}
	out := mat.NewDense(total, cols, nil)
	row := 0
	for _, p := range parts {
		r, _ := p.Dims()
		for i := 0; i < r; i++ {
			out.SetRow(row, p.RawRowView(i))
			row++
		}
	}
	return out, nil
}
