package dataset

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// LabelMode selects how windows receive their labels.
type LabelMode string

const (
	// LabelFromCategory labels every window with the category it was cut from.
	LabelFromCategory LabelMode = "category"
	// LabelByCount assigns labels positionally from a count table. Kept for
	// reproducing older label sets; reordering categories silently mislabels.
	LabelByCount LabelMode = "counts"
)

// ParseLabelMode validates a label mode name from configuration.
func ParseLabelMode(s string) (LabelMode, error) {
	switch m := LabelMode(s); m {
	case LabelFromCategory, LabelByCount:
		return m, nil
	}
	return "", fmt.Errorf("unknown label mode %q", s)
}

// CategoryBlock is the aligned per-second table of every run of one accident
// category, runs stacked in order.
type CategoryBlock struct {
	Category string
	Rows     *mat.Dense
}

// Assembly is the labelled dataset produced from the category blocks.
type Assembly struct {
	// Table holds the rows of every window, categories in block order.
	// Trailing rows that did not fill a window are not included, so
	// BuildWindows(Table, length) reproduces Windows.
	Table   *mat.Dense
	Windows []*mat.Dense
	Labels  []string
	// PerCategory counts the windows cut from each block, in block order.
	PerCategory []int
}

// Assemble windows every block, concatenates the windows in block order and
// labels them according to mode. counts is only read in LabelByCount mode.
func Assemble(blocks []CategoryBlock, length int, mode LabelMode, counts []LabelCount) (*Assembly, error) {
	if len(blocks) == 0 {
		return nil, fmt.Errorf("no category blocks to assemble")
	}
	a := &Assembly{PerCategory: make([]int, len(blocks))}
	var sourceLabels []string
	for i, b := range blocks {
		windows, err := BuildWindows(b.Rows, length)
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", b.Category, err)
		}
		a.Windows = append(a.Windows, windows...)
		a.PerCategory[i] = len(windows)
		for range windows {
			sourceLabels = append(sourceLabels, b.Category)
		}
	}
	if len(a.Windows) == 0 {
		return nil, fmt.Errorf("no complete windows of length %d in any category", length)
	}

	switch mode {
	case LabelFromCategory:
		a.Labels = sourceLabels
	case LabelByCount:
		labels, err := LabelsByCount(counts, len(a.Windows))
		if err != nil {
			return nil, err
		}
		a.Labels = labels
	default:
		return nil, fmt.Errorf("unknown label mode %q", mode)
	}

	table, err := StackRows(a.Windows)
	if err != nil {
		return nil, err
	}
	a.Table = table
	return a, nil
}

// FromTable rebuilds windows from a flat feature table and pairs them with
// one label per window. A window/label count difference is
// ErrLabelCountMismatch rather than a silent truncation.
func FromTable(table *mat.Dense, labels []string, length int) ([]*mat.Dense, error) {
	windows, err := BuildWindows(table, length)
	if err != nil {
		return nil, err
	}
	rows, _ := table.Dims()
	if len(windows) != len(labels) {
		return nil, fmt.Errorf("%w: %d rows make %d windows of length %d, label file has %d labels",
			ErrLabelCountMismatch, rows, len(windows), length, len(labels))
	}
	return windows, nil
}
