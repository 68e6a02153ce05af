package train

import (
	"fmt"
	"math"

	"github.com/banshee-data/accident.classifier/internal/model"
)

// Adam defaults.
const (
	DefaultBeta1   = 0.9
	DefaultBeta2   = 0.999
	DefaultEpsilon = 1e-8
)

// Adam is the bias-corrected adaptive moment optimizer.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	t int
	m [][]float64
	v [][]float64
}

// NewAdam creates an optimizer with the default moment decay rates.
func NewAdam(learningRate float64) *Adam {
	return &Adam{
		LearningRate: learningRate,
		Beta1:        DefaultBeta1,
		Beta2:        DefaultBeta2,
		Epsilon:      DefaultEpsilon,
	}
}

// Steps returns how many updates have been applied.
func (a *Adam) Steps() int { return a.t }

// Step applies one update to params using grads. Moment buffers are
// allocated on the first call and shapes must not change afterwards.
func (a *Adam) Step(params, grads *model.Params) error {
	ps, gs := params.Named(), grads.Named()
	if len(ps) != len(gs) {
		return fmt.Errorf("have %d parameter tensors and %d gradients", len(ps), len(gs))
	}
	if a.m == nil {
		a.m = make([][]float64, len(ps))
		a.v = make([][]float64, len(ps))
		for i, p := range ps {
			a.m[i] = make([]float64, len(p.Data))
			a.v[i] = make([]float64, len(p.Data))
		}
	}
	for i := range ps {
		if len(ps[i].Data) != len(gs[i].Data) || len(ps[i].Data) != len(a.m[i]) {
			return fmt.Errorf("%w: %s changed size", model.ErrShapeMismatch, ps[i].Name)
		}
	}

	a.t++
	c1 := 1 - math.Pow(a.Beta1, float64(a.t))
	c2 := 1 - math.Pow(a.Beta2, float64(a.t))
	for i := range ps {
		p, g, m, v := ps[i].Data, gs[i].Data, a.m[i], a.v[i]
		for j := range p {
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*g[j]
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*g[j]*g[j]
			p[j] -= a.LearningRate * (m[j] / c1) / (math.Sqrt(v[j]/c2) + a.Epsilon)
		}
	}
	return nil
}
