package model

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// step holds the activations of one time step needed for backpropagation.
type step struct {
	x       mat.Vector
	hPrev   *mat.VecDense
	cPrev   []float64
	i, f, g []float64
	o       []float64
	tanhC   []float64
}

// Trace records a forward pass over one window so Backward can compute
// gradients without re-running it.
type Trace struct {
	steps  []step
	hidden *mat.VecDense
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// Forward returns the class scores for one window. Hidden and cell state
// start at zero for every window.
func (c *Classifier) Forward(w *mat.Dense) (*mat.VecDense, error) {
	logits, _, err := c.ForwardTrace(w)
	return logits, err
}

// ForwardTrace is Forward that also returns the activations of every step.
func (c *Classifier) ForwardTrace(w *mat.Dense) (*mat.VecDense, *Trace, error) {
	if err := c.CheckWindow(w); err != nil {
		return nil, nil, err
	}
	p := c.params
	H := c.HiddenSize
	steps, _ := w.Dims()

	tr := &Trace{steps: make([]step, steps)}
	h := mat.NewVecDense(H, nil)
	cell := make([]float64, H)
	z := mat.NewVecDense(4*H, nil)
	rec := mat.NewVecDense(4*H, nil)

	for t := 0; t < steps; t++ {
		x := w.RowView(t)
		z.MulVec(p.WeightIH, x)
		rec.MulVec(p.WeightHH, h)
		z.AddVec(z, rec)
		z.AddVec(z, p.BiasIH)
		z.AddVec(z, p.BiasHH)
		zr := z.RawVector().Data

		st := step{
			x:     x,
			hPrev: mat.VecDenseCopyOf(h),
			cPrev: append([]float64(nil), cell...),
			i:     make([]float64, H),
			f:     make([]float64, H),
			g:     make([]float64, H),
			o:     make([]float64, H),
			tanhC: make([]float64, H),
		}
		next := make([]float64, H)
		for k := 0; k < H; k++ {
			st.i[k] = sigmoid(zr[k])
			st.f[k] = sigmoid(zr[H+k])
			st.g[k] = math.Tanh(zr[2*H+k])
			st.o[k] = sigmoid(zr[3*H+k])
			cell[k] = st.f[k]*cell[k] + st.i[k]*st.g[k]
			st.tanhC[k] = math.Tanh(cell[k])
			next[k] = st.o[k] * st.tanhC[k]
		}
		h = mat.NewVecDense(H, next)
		tr.steps[t] = st
	}
	tr.hidden = h

	logits := mat.NewVecDense(c.NumClasses, nil)
	logits.MulVec(p.OutW, h)
	logits.AddVec(logits, p.OutB)
	return logits, tr, nil
}

// Backward accumulates into g the gradient of a loss with respect to every
// parameter, given the gradient dLogits of that loss with respect to the
// scores produced by the traced forward pass.
func (c *Classifier) Backward(tr *Trace, dLogits *mat.VecDense, g *Params) {
	p := c.params
	H := c.HiddenSize

	g.OutW.RankOne(g.OutW, 1, dLogits, tr.hidden)
	g.OutB.AddVec(g.OutB, dLogits)

	dh := mat.NewVecDense(H, nil)
	dh.MulVec(p.OutW.T(), dLogits)
	dc := make([]float64, H)
	dz := mat.NewVecDense(4*H, nil)

	for t := len(tr.steps) - 1; t >= 0; t-- {
		st := tr.steps[t]
		dhr := dh.RawVector().Data
		dzr := dz.RawVector().Data
		for k := 0; k < H; k++ {
			tc := st.tanhC[k]
			dO := dhr[k] * tc
			dC := dc[k] + dhr[k]*st.o[k]*(1-tc*tc)
			dI := dC * st.g[k]
			dF := dC * st.cPrev[k]
			dG := dC * st.i[k]
			dc[k] = dC * st.f[k]

			dzr[k] = dI * st.i[k] * (1 - st.i[k])
			dzr[H+k] = dF * st.f[k] * (1 - st.f[k])
			dzr[2*H+k] = dG * (1 - st.g[k]*st.g[k])
			dzr[3*H+k] = dO * st.o[k] * (1 - st.o[k])
		}
		g.WeightIH.RankOne(g.WeightIH, 1, dz, st.x)
		g.WeightHH.RankOne(g.WeightHH, 1, dz, st.hPrev)
		g.BiasIH.AddVec(g.BiasIH, dz)
		g.BiasHH.AddVec(g.BiasHH, dz)
		dh.MulVec(p.WeightHH.T(), dz)
	}
}
