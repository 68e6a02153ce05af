// Package dataset turns aligned sensor tables into labelled, normalised
// windows ready for sequence classification.
package dataset

import "errors"

var (
	// ErrDataAlignment means a target second has no raw reading and the
	// configured missing-second policy does not allow filling it.
	ErrDataAlignment = errors.New("data alignment")

	// ErrLabelCountMismatch means the number of windows differs from the
	// number of labels configured or supplied for them.
	ErrLabelCountMismatch = errors.New("label count mismatch")

	// ErrStratification means a class is too small to appear in both the
	// train and the test partition.
	ErrStratification = errors.New("stratification")
)
