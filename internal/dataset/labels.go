package dataset

import (
	"fmt"
	"slices"
)

// LabelCount is one entry of the ordered label -> window count table used by
// positional labelling.
type LabelCount struct {
	Label string
	Count int
}

// LabelsByCount assigns labels positionally: the first Count windows get the
// first label, the next Count the second, and so on. The counts must sum to
// exactly windows; any other total is ErrLabelCountMismatch.
func LabelsByCount(counts []LabelCount, windows int) ([]string, error) {
	total := 0
	for _, c := range counts {
		if c.Count < 0 {
			return nil, fmt.Errorf("label %q has negative count %d", c.Label, c.Count)
		}
		total += c.Count
	}
	if total != windows {
		return nil, fmt.Errorf("%w: configured counts sum to %d, have %d windows", ErrLabelCountMismatch, total, windows)
	}
	labels := make([]string, 0, total)
	for _, c := range counts {
		for i := 0; i < c.Count; i++ {
			labels = append(labels, c.Label)
		}
	}
	return labels, nil
}

// LabelEncoder maps categorical labels to the dense range [0, len(Classes))
// in sorted label order.
type LabelEncoder struct {
	Classes []string `json:"classes"`
	index   map[string]int
}

// FitLabelEncoder collects the sorted distinct labels.
func FitLabelEncoder(labels []string) *LabelEncoder {
	classes := slices.Clone(labels)
	slices.Sort(classes)
	classes = slices.Compact(classes)
	return NewLabelEncoder(classes)
}

// NewLabelEncoder builds an encoder for an already ordered class list, e.g.
// one restored from a checkpoint.
func NewLabelEncoder(classes []string) *LabelEncoder {
	e := &LabelEncoder{Classes: classes, index: make(map[string]int, len(classes))}
	for i, c := range classes {
		e.index[c] = i
	}
	return e
}

// Encode returns the integer class of every label.
func (e *LabelEncoder) Encode(labels []string) ([]int, error) {
	out := make([]int, len(labels))
	for i, l := range labels {
		idx, ok := e.index[l]
		if !ok {
			return nil, fmt.Errorf("label %q at %d was not seen when fitting", l, i)
		}
		out[i] = idx
	}
	return out, nil
}

// Decode maps class indices back to labels.
func (e *LabelEncoder) Decode(classes []int) []string {
	out := make([]string, len(classes))
	for i, c := range classes {
		if c >= 0 && c < len(e.Classes) {
			out[i] = e.Classes[c]
		} else {
			out[i] = fmt.Sprintf("<%d>", c)
		}
	}
	return out
}
