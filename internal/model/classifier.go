// Package model implements the sequence classifier: a single-layer LSTM over
// the time steps of a window followed by a linear projection of the final
// hidden state to class scores.
package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrShapeMismatch means input data does not have the width the classifier
// was constructed for.
var ErrShapeMismatch = errors.New("shape mismatch")

// Parameter names, in the fixed order returned by Params.Named.
const (
	ParamWeightIH = "lstm.weight_ih"
	ParamWeightHH = "lstm.weight_hh"
	ParamBiasIH   = "lstm.bias_ih"
	ParamBiasHH   = "lstm.bias_hh"
	ParamOutW     = "out.weight"
	ParamOutB     = "out.bias"
)

// Params holds every trainable tensor. Gate rows are stacked in the order
// input, forget, cell candidate, output, each HiddenSize rows tall.
// The same layout is used for gradients.
type Params struct {
	WeightIH *mat.Dense    // 4H x F
	WeightHH *mat.Dense    // 4H x H
	BiasIH   *mat.VecDense // 4H
	BiasHH   *mat.VecDense // 4H
	OutW     *mat.Dense    // C x H
	OutB     *mat.VecDense // C
}

// NamedSlice is one parameter tensor exposed as its backing storage.
type NamedSlice struct {
	Name string
	Data []float64
}

func newParams(features, hidden, classes int) *Params {
	return &Params{
		WeightIH: mat.NewDense(4*hidden, features, nil),
		WeightHH: mat.NewDense(4*hidden, hidden, nil),
		BiasIH:   mat.NewVecDense(4*hidden, nil),
		BiasHH:   mat.NewVecDense(4*hidden, nil),
		OutW:     mat.NewDense(classes, hidden, nil),
		OutB:     mat.NewVecDense(classes, nil),
	}
}

// Named returns the backing slices of every tensor in a fixed order. Writing
// to a returned slice updates the parameter in place.
func (p *Params) Named() []NamedSlice {
	return []NamedSlice{
		{ParamWeightIH, p.WeightIH.RawMatrix().Data},
		{ParamWeightHH, p.WeightHH.RawMatrix().Data},
		{ParamBiasIH, p.BiasIH.RawVector().Data},
		{ParamBiasHH, p.BiasHH.RawVector().Data},
		{ParamOutW, p.OutW.RawMatrix().Data},
		{ParamOutB, p.OutB.RawVector().Data},
	}
}

// Zero resets every tensor to 0.
func (p *Params) Zero() {
	for _, n := range p.Named() {
		for i := range n.Data {
			n.Data[i] = 0
		}
	}
}

// Finite reports whether every value is a finite number.
func (p *Params) Finite() bool {
	for _, n := range p.Named() {
		if floats.HasNaN(n.Data) {
			return false
		}
		for _, v := range n.Data {
			if math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// Classifier is the LSTM sequence classifier. Its input width is fixed at
// construction; windows of any other width fail with ErrShapeMismatch.
type Classifier struct {
	InputSize  int
	HiddenSize int
	NumClasses int

	params *Params
}

// NewClassifier builds a classifier with uniformly initialised weights:
// LSTM tensors in ±1/sqrt(hidden), the projection in ±1/sqrt(hidden).
// The same seed always yields the same weights.
func NewClassifier(inputSize, hiddenSize, numClasses int, seed uint64) (*Classifier, error) {
	if inputSize <= 0 || hiddenSize <= 0 {
		return nil, fmt.Errorf("input size and hidden size must be positive, got %d and %d", inputSize, hiddenSize)
	}
	if numClasses < 2 {
		return nil, fmt.Errorf("need at least 2 classes, got %d", numClasses)
	}
	c := &Classifier{
		InputSize:  inputSize,
		HiddenSize: hiddenSize,
		NumClasses: numClasses,
		params:     newParams(inputSize, hiddenSize, numClasses),
	}

	k := 1 / math.Sqrt(float64(hiddenSize))
	dist := distuv.Uniform{Min: -k, Max: k, Src: rand.NewPCG(seed, 0x5eed)}
	for _, n := range c.params.Named() {
		for i := range n.Data {
			n.Data[i] = dist.Rand()
		}
	}
	return c, nil
}

// Params exposes the trainable tensors for the optimizer.
func (c *Classifier) Params() *Params { return c.params }

// NewGrads returns zeroed tensors shaped like the classifier parameters.
func (c *Classifier) NewGrads() *Params {
	return newParams(c.InputSize, c.HiddenSize, c.NumClasses)
}

// CheckWindow fails with ErrShapeMismatch unless w has InputSize columns
// and at least one row.
func (c *Classifier) CheckWindow(w mat.Matrix) error {
	rows, cols := w.Dims()
	if cols != c.InputSize {
		return fmt.Errorf("%w: classifier expects %d features per step, window has %d", ErrShapeMismatch, c.InputSize, cols)
	}
	if rows == 0 {
		return fmt.Errorf("%w: window has no time steps", ErrShapeMismatch)
	}
	return nil
}

// Logits runs the classifier over every window and returns one row of class
// scores per window. It does not modify the classifier.
func (c *Classifier) Logits(windows []*mat.Dense) (*mat.Dense, error) {
	if len(windows) == 0 {
		return nil, fmt.Errorf("no windows to classify")
	}
	out := mat.NewDense(len(windows), c.NumClasses, nil)
	for i, w := range windows {
		logits, err := c.Forward(w)
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", i, err)
		}
		out.SetRow(i, logits.RawVector().Data)
	}
	return out, nil
}

// Predict returns the argmax class of every window.
func (c *Classifier) Predict(windows []*mat.Dense) ([]int, error) {
	logits, err := c.Logits(windows)
	if err != nil {
		return nil, err
	}
	pred := make([]int, len(windows))
	for i := range pred {
		pred[i] = floats.MaxIdx(logits.RawRowView(i))
	}
	return pred, nil
}
