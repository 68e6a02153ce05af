package dataset

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// MinMaxScaler rescales each feature column to [0, 1] using the column
// minimum and maximum seen during fitting. Values outside the fitted range
// (e.g. test rows when fitted on training rows) map outside [0, 1]; they are
// not clipped.
type MinMaxScaler struct {
	Min []float64 `json:"min"`
	Max []float64 `json:"max"`
}

// FitMinMax computes per-column min and max over every row of every part.
func FitMinMax(parts ...*mat.Dense) (*MinMaxScaler, error) {
	var s *MinMaxScaler
	for _, p := range parts {
		rows, cols := p.Dims()
		if rows == 0 {
			continue
		}
		if s == nil {
			s = &MinMaxScaler{Min: make([]float64, cols), Max: make([]float64, cols)}
			for j := 0; j < cols; j++ {
				s.Min[j] = p.At(0, j)
				s.Max[j] = p.At(0, j)
			}
		}
		if cols != len(s.Min) {
			return nil, fmt.Errorf("inconsistent feature dimensions: %d vs %d", cols, len(s.Min))
		}
		for j := 0; j < cols; j++ {
			column := mat.Col(nil, j, p)
			s.Min[j] = min(s.Min[j], floats.Min(column))
			s.Max[j] = max(s.Max[j], floats.Max(column))
		}
	}
	if s == nil {
		return nil, errors.New("no rows to fit scaler on")
	}
	return s, nil
}

// Features returns the number of fitted columns.
func (s *MinMaxScaler) Features() int { return len(s.Min) }

// Transform returns a rescaled copy of m. Constant columns map to 0.
func (s *MinMaxScaler) Transform(m *mat.Dense) (*mat.Dense, error) {
	rows, cols := m.Dims()
	if cols != len(s.Min) {
		return nil, fmt.Errorf("scaler fitted on %d features, got %d", len(s.Min), cols)
	}
	out := mat.NewDense(rows, cols, nil)
	out.Apply(func(_, j int, v float64) float64 {
		span := s.Max[j] - s.Min[j]
		if span == 0 {
			span = 1
		}
		return (v - s.Min[j]) / span
	}, m)
	return out, nil
}

// TransformAll rescales every window.
func (s *MinMaxScaler) TransformAll(windows []*mat.Dense) ([]*mat.Dense, error) {
	out := make([]*mat.Dense, len(windows))
	for i, w := range windows {
		t, err := s.Transform(w)
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", i, err)
		}
		out[i] = t
	}
	return out, nil
}
